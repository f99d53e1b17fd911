package entitlements

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eternisai/purchases-bridge/models"
)

// PostgresStore keeps the receipts in the entitlement_cache table created by
// the pg migrations.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context) ([]models.Receipt, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT receipts FROM entitlement_cache WHERE cache_key = $1`, CacheKey,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached receipts: %w", err)
	}

	receipts, err := decodeReceipts(raw)
	if err != nil {
		return nil, false, err
	}
	return receipts, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, receipts []models.Receipt) error {
	if receipts == nil {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM entitlement_cache WHERE cache_key = $1`, CacheKey); err != nil {
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
		VALUES ($1, $2, NOW())
		ON CONFLICT (cache_key) DO UPDATE SET receipts = EXCLUDED.receipts, updated_at = EXCLUDED.updated_at`,
		CacheKey, string(data),
	)
	if err != nil {
		return fmt.Errorf("write cached receipts: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
