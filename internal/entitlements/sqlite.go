package entitlements

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/eternisai/purchases-bridge/models"
	_ "modernc.org/sqlite"
)

const sqliteFileName = "entitlements.db"

// SQLiteStore keeps the receipts in a key/value table of an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the entitlement database in dir.
func NewSQLiteStore(ctx context.Context, dir string) (*SQLiteStore, error) {
	dir = filepath.Clean(dir)
	if strings.TrimSpace(dir) == "" || dir == "." {
		return nil, fmt.Errorf("entitlement dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create entitlement dir: %w", err)
	}

	dsn := filepath.Join(dir, sqliteFileName) + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open entitlement db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	const schema = `
		CREATE TABLE IF NOT EXISTS entitlement_cache (
			cache_key  TEXT PRIMARY KEY,
			receipts   TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(err, fmt.Errorf("close entitlement db after schema init failure: %w", closeErr))
		}
		return nil, fmt.Errorf("init entitlement schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context) ([]models.Receipt, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT receipts FROM entitlement_cache WHERE cache_key = ?`, CacheKey,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached receipts: %w", err)
	}

	receipts, err := decodeReceipts([]byte(raw))
	if err != nil {
		return nil, false, err
	}
	return receipts, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, receipts []models.Receipt) error {
	if receipts == nil {
		_, err := s.db.ExecContext(ctx, `DELETE FROM entitlement_cache WHERE cache_key = ?`, CacheKey)
		if err != nil {
			return fmt.Errorf("clear cached receipts: %w", err)
		}
		return nil
	}

	data, err := encodeReceipts(receipts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entitlement_cache (cache_key, receipts, updated_at)
		VALUES (?, ?, strftime('%s','now'))
		ON CONFLICT(cache_key) DO UPDATE SET receipts = excluded.receipts, updated_at = excluded.updated_at`,
		CacheKey, string(data),
	)
	if err != nil {
		return fmt.Errorf("write cached receipts: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
