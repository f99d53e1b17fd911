// Package billing defines the contract between the purchase orchestrator and a
// native billing system (Google Play Billing, StoreKit, or the sandbox store).
package billing

import (
	"context"
	"sync"

	"github.com/eternisai/purchases-bridge/models"
)

// Adapter wraps a native billing SDK. Purchase and restore results are
// delivered asynchronously to the registered Observer.
type Adapter interface {
	Platform() models.Platform
	SetObserver(Observer)

	CanMakePayments() bool
	QueryProducts(ctx context.Context, skus []string) ([]models.Product, error)

	// LaunchPurchase starts the native purchase UI and returns once it is shown.
	LaunchPurchase(ctx context.Context, product models.Product) error

	// Acknowledge must be a no-op for an already acknowledged transaction.
	Acknowledge(ctx context.Context, tx models.Transaction) error
	Finish(ctx context.Context, tx models.Transaction) error

	// RestorePurchases replays owned purchases as restored transactions,
	// followed by OnRestoreFinished or OnRestoreFailed.
	RestorePurchases(ctx context.Context) error

	// Proof returns the device-held proof of purchase, or nil when none exists.
	// Adapters that query the device may report ErrNoPurchaseFound instead.
	Proof(ctx context.Context) (*models.PurchaseProof, error)
}

// Observer receives every state change of every transaction in the platform
// queue. The same transaction may be delivered more than once.
type Observer interface {
	OnTransactionsUpdated(txs []models.Transaction)
	OnRestoreFinished()
	OnRestoreFailed(err error)
}

// ObserverSlot stores the observer registered with an adapter and forwards
// events to it. Events raised before registration are dropped.
type ObserverSlot struct {
	mu       sync.RWMutex
	observer Observer
}

func (s *ObserverSlot) Set(o Observer) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

func (s *ObserverSlot) get() Observer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observer
}

func (s *ObserverSlot) Transactions(txs ...models.Transaction) {
	if o := s.get(); o != nil && len(txs) > 0 {
		o.OnTransactionsUpdated(txs)
	}
}

func (s *ObserverSlot) RestoreFinished() {
	if o := s.get(); o != nil {
		o.OnRestoreFinished()
	}
}

func (s *ObserverSlot) RestoreFailed(err error) {
	if o := s.get(); o != nil {
		o.OnRestoreFailed(err)
	}
}
