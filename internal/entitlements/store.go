// Package entitlements persists the last verified receipt set.
//
// Every backend holds a single slot under CacheKey. Set replaces the slot
// wholesale; receipts are never merged.
package entitlements

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eternisai/purchases-bridge/internal/errors"
	"github.com/eternisai/purchases-bridge/internal/storage/pg"
	"github.com/eternisai/purchases-bridge/models"
)

// CacheKey is the fixed key the receipt set is stored under.
const CacheKey = "linkFive.userdefaults.receiptInfo"

// Store is a single-slot receipt cache.
type Store interface {
	// Get returns the cached receipts and whether the slot is populated.
	Get(ctx context.Context) ([]models.Receipt, bool, error)
	// Set replaces the slot. A nil slice clears it.
	Set(ctx context.Context, receipts []models.Receipt) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	// FilePath is the JSON document used by the file backend.
	FilePath string
	// Dir holds the SQLite database file.
	Dir string

	DatabaseURL string
	Pool        pg.PoolConfig
}

// Open returns the configured store.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(opts.FilePath)
	case BackendSQLite:
		return NewSQLiteStore(ctx, opts.Dir)
	case BackendPostgres:
		db, err := pg.InitDatabase(opts.DatabaseURL, opts.Pool)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(db), nil
	}
	return nil, fmt.Errorf("unknown entitlement store backend %q", opts.Backend)
}

func encodeReceipts(receipts []models.Receipt) ([]byte, error) {
	data, err := json.Marshal(receipts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipts: %w", err)
	}
	return data, nil
}

func decodeReceipts(data []byte) ([]models.Receipt, error) {
	var receipts []models.Receipt
	if err := json.Unmarshal(data, &receipts); err != nil {
		return nil, fmt.Errorf("%w: cached receipts: %v", errors.ErrDecoding, err)
	}
	if receipts == nil {
		receipts = []models.Receipt{}
	}
	return receipts, nil
}

func cloneReceipts(receipts []models.Receipt) []models.Receipt {
	if receipts == nil {
		return nil
	}
	out := make([]models.Receipt, len(receipts))
	copy(out, receipts)
	return out
}
