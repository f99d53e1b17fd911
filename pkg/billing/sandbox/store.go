package sandbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/eternisai/purchases-bridge/internal/errors"
	"github.com/eternisai/purchases-bridge/models"
	"github.com/eternisai/purchases-bridge/pkg/billing"
	"github.com/eternisai/purchases-bridge/pkg/billing/apple"
	"github.com/eternisai/purchases-bridge/pkg/billing/google"
	"github.com/google/uuid"
)

const defaultPackageName = "io.purchases.sandbox"

// Store implements billing.Adapter. Events are delivered in order on a
// dedicated goroutine, like a platform callback thread.
type Store struct {
	catalog  Catalog
	observer billing.ObserverSlot
	now      func() time.Time

	mu           sync.Mutex
	owned        map[string]models.Transaction
	finished     []string
	acknowledged []string

	sendMu  sync.RWMutex
	closed  bool
	events  chan func()
	stopped chan struct{}
}

var errClosed = errors.New("sandbox store closed")

var _ billing.Adapter = (*Store)(nil)

func New(catalog Catalog) *Store {
	if catalog.Platform == "" {
		catalog.Platform = models.PlatformGoogle
	}
	if catalog.PackageName == "" {
		catalog.PackageName = defaultPackageName
	}
	s := &Store{
		catalog: catalog,
		now:     time.Now,
		owned:   make(map[string]models.Transaction),
		events:  make(chan func(), 64),
		stopped: make(chan struct{}),
	}
	for _, it := range catalog.Items {
		if it.Owned {
			tx := s.newTransaction(it.SKU, models.TransactionPurchased)
			tx.Acknowledged = true
			s.owned[it.SKU] = tx
		}
	}
	go s.run()
	return s
}

func (s *Store) run() {
	defer close(s.stopped)
	for fn := range s.events {
		fn()
	}
}

// Close stops event delivery after draining queued events.
func (s *Store) Close() error {
	s.sendMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.sendMu.Unlock()
	<-s.stopped
	return nil
}

func (s *Store) deliver(fn func()) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return errClosed
	}
	s.events <- fn
	return nil
}

func (s *Store) Platform() models.Platform { return s.catalog.Platform }

func (s *Store) SetObserver(o billing.Observer) { s.observer.Set(o) }

func (s *Store) CanMakePayments() bool { return !s.catalog.PaymentsDisabled }

func (s *Store) QueryProducts(_ context.Context, skus []string) ([]models.Product, error) {
	products := make([]models.Product, 0, len(skus))
	for _, sku := range skus {
		it, ok := s.catalog.item(sku)
		if !ok {
			continue
		}
		products = append(products, models.Product{
			ProductID:          it.SKU,
			Price:              it.Price,
			Currency:           it.Currency,
			LocalizedPrice:     fmt.Sprintf("%.2f %s", it.Price, it.Currency),
			Title:              it.Title,
			Description:        it.Description,
			SubscriptionPeriod: it.Period,
			CountryCode:        it.Region,
		})
	}
	return products, nil
}

func (s *Store) LaunchPurchase(_ context.Context, product models.Product) error {
	it, ok := s.catalog.item(product.ProductID)
	if !ok {
		return apperrors.ErrNoProductFound
	}

	return s.deliver(func() {
		s.observer.Transactions(s.newTransaction(it.SKU, models.TransactionPurchasing))

		var tx models.Transaction
		switch it.Outcome {
		case OutcomeDefer:
			s.observer.Transactions(s.newTransaction(it.SKU, models.TransactionDeferred))
			return
		case OutcomeCancel:
			tx = s.newTransaction(it.SKU, models.TransactionFailed)
			tx.Err = s.billingError(true, "user cancelled")
		case OutcomeFail:
			tx = s.newTransaction(it.SKU, models.TransactionFailed)
			tx.Err = s.billingError(false, "purchase failed")
		default:
			tx = s.newTransaction(it.SKU, models.TransactionPurchased)
			s.mu.Lock()
			s.owned[it.SKU] = tx
			s.mu.Unlock()
		}

		s.observer.Transactions(tx)
		if s.catalog.Redeliver {
			s.observer.Transactions(tx)
		}
	})
}

// Deliver queues a transaction observed outside the store, such as a signed
// App Store transaction posted to the bridge. Purchased transactions become owned.
func (s *Store) Deliver(tx models.Transaction) error {
	if tx.ProductID == "" {
		return fmt.Errorf("transaction %q has no product id", tx.ID)
	}
	return s.deliver(func() {
		if tx.State == models.TransactionPurchased {
			s.mu.Lock()
			s.owned[tx.ProductID] = tx
			s.mu.Unlock()
		}
		s.observer.Transactions(tx)
	})
}

func (s *Store) Acknowledge(_ context.Context, tx models.Transaction) error {
	if tx.Acknowledged {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acknowledged = append(s.acknowledged, tx.ID)
	if owned, ok := s.owned[tx.ProductID]; ok && owned.ID == tx.ID {
		owned.Acknowledged = true
		s.owned[tx.ProductID] = owned
	}
	return nil
}

func (s *Store) Finish(_ context.Context, tx models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, tx.ID)
	return nil
}

func (s *Store) RestorePurchases(context.Context) error {
	return s.deliver(func() {
		if s.catalog.RestoreError != "" {
			s.observer.RestoreFailed(s.billingError(false, s.catalog.RestoreError))
			return
		}

		owned := s.ownedTransactions()
		txs := make([]models.Transaction, 0, len(owned))
		for _, o := range owned {
			tx := o
			tx.State = models.TransactionRestored
			if s.catalog.Platform == models.PlatformIOS {
				tx.ID = uuid.NewString()
				tx.OriginalTransactionID = o.OriginalID()
			}
			txs = append(txs, tx)
		}
		s.observer.Transactions(txs...)
		s.observer.RestoreFinished()
	})
}

// Proof is shaped like the proof of the catalog platform: purchase tokens for
// Google, a base64 receipt document for iOS.
func (s *Store) Proof(context.Context) (*models.PurchaseProof, error) {
	owned := s.ownedTransactions()
	if len(owned) == 0 {
		return nil, nil
	}

	if s.catalog.Platform == models.PlatformIOS {
		data, err := json.Marshal(owned)
		if err != nil {
			return nil, err
		}
		return &models.PurchaseProof{
			Platform: models.PlatformIOS,
			Receipt:  base64.StdEncoding.EncodeToString(data),
		}, nil
	}

	purchases := make([]models.GooglePurchase, 0, len(owned))
	for _, tx := range owned {
		purchases = append(purchases, models.GooglePurchase{
			PackageName:   tx.PackageName,
			PurchaseToken: tx.PurchaseToken,
			OrderID:       tx.OrderID,
			PurchaseTime:  tx.PurchaseTime.UnixMilli(),
			SKU:           tx.ProductID,
		})
	}
	return &models.PurchaseProof{Platform: models.PlatformGoogle, Purchases: purchases}, nil
}

// Finished returns the ids of finished transactions in call order.
func (s *Store) Finished() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.finished...)
}

// Acknowledged returns the ids of acknowledged transactions in call order.
func (s *Store) Acknowledged() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acknowledged...)
}

func (s *Store) ownedTransactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Transaction, 0, len(s.owned))
	for _, tx := range s.owned {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (s *Store) newTransaction(sku string, state models.TransactionState) models.Transaction {
	tx := models.Transaction{
		ID:           uuid.NewString(),
		ProductID:    sku,
		PurchaseTime: s.now().UTC(),
		State:        state,
	}
	if s.catalog.Platform == models.PlatformGoogle {
		tx.PurchaseToken = tx.ID
		tx.OrderID = "GPA." + tx.ID[:8]
		tx.PackageName = s.catalog.PackageName
	}
	return tx
}

func (s *Store) billingError(cancelled bool, message string) *models.BillingError {
	code := int(google.Error)
	if cancelled {
		code = int(google.UserCanceled)
	}
	if s.catalog.Platform == models.PlatformIOS {
		code = 0
		if cancelled {
			code = apple.SKErrorPaymentCancelled
		}
	}
	return &models.BillingError{
		Platform:  s.catalog.Platform,
		Code:      code,
		Message:   message,
		Cancelled: cancelled,
	}
}
