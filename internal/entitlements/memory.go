package entitlements

import (
	"context"
	"sync"

	"github.com/eternisai/purchases-bridge/models"
)

// MemoryStore keeps the receipts in process memory only.
type MemoryStore struct {
	mu       sync.RWMutex
	receipts []models.Receipt
	set      bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(_ context.Context) ([]models.Receipt, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.set {
		return nil, false, nil
	}
	return cloneReceipts(s.receipts), true, nil
}

func (s *MemoryStore) Set(_ context.Context, receipts []models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receipts = cloneReceipts(receipts)
	s.set = receipts != nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }
