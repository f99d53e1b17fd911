package google

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eternisai/purchases-bridge/internal/errors"
	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/eternisai/purchases-bridge/models"
	"github.com/eternisai/purchases-bridge/pkg/billing"
	"github.com/google/uuid"
)

// Acknowledger acknowledges a subscription purchase outside of the device
// client, e.g. through the Play Developer API.
type Acknowledger interface {
	Acknowledge(ctx context.Context, productID, purchaseToken string) error
}

type Option func(*Adapter)

// WithAcknowledger acknowledges through a instead of the device client.
func WithAcknowledger(a Acknowledger) Option {
	return func(ad *Adapter) { ad.acknowledger = a }
}

func WithLogger(log *logger.Logger) Option {
	return func(ad *Adapter) {
		if log != nil {
			ad.logger = log
		}
	}
}

// Adapter implements billing.Adapter on top of a host BillingClient.
type Adapter struct {
	client       BillingClient
	acknowledger Acknowledger
	logger       *logger.Logger
	observer     billing.ObserverSlot

	mu       sync.Mutex
	details  map[string]ProductDetails
	launched string
	observed map[string]Purchase
}

var _ billing.Adapter = (*Adapter)(nil)

func New(client BillingClient, opts ...Option) *Adapter {
	a := &Adapter{
		client:   client,
		logger:   logger.Nop(),
		details:  make(map[string]ProductDetails),
		observed: make(map[string]Purchase),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithComponent("billing.google")
	return a
}

func (a *Adapter) Platform() models.Platform { return models.PlatformGoogle }

func (a *Adapter) SetObserver(o billing.Observer) { a.observer.Set(o) }

func (a *Adapter) CanMakePayments() bool {
	return a.client != nil && a.client.IsReady()
}

func (a *Adapter) ready() error {
	if a.client == nil {
		return errors.ErrNoActivityFound
	}
	if !a.client.IsReady() {
		return errors.ErrDeviceNotSupported
	}
	return nil
}

func (a *Adapter) QueryProducts(ctx context.Context, skus []string) ([]models.Product, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	result, details := a.client.QueryProductDetails(ctx, skus)
	if result.ResponseCode != OK {
		return nil, billingError(result)
	}

	products := make([]models.Product, 0, len(details))
	a.mu.Lock()
	for _, d := range details {
		a.details[d.ProductID] = d
		products = append(products, productFromDetails(d))
	}
	a.mu.Unlock()
	return products, nil
}

func productFromDetails(d ProductDetails) models.Product {
	return models.Product{
		ProductID:          d.ProductID,
		Price:              float64(d.PriceAmountMicros) / 1_000_000,
		Currency:           d.PriceCurrencyCode,
		LocalizedPrice:     d.FormattedPrice,
		Title:              d.Title,
		Description:        d.Description,
		SubscriptionPeriod: d.BillingPeriod,
	}
}

func (a *Adapter) LaunchPurchase(ctx context.Context, product models.Product) error {
	if err := a.ready(); err != nil {
		return err
	}
	// PurchasesUpdatedListener failures carry no product, so only one billing
	// flow may be open at a time.
	a.mu.Lock()
	if a.launched != "" {
		a.mu.Unlock()
		return errors.ErrPurchaseInProgress
	}
	details, ok := a.details[product.ProductID]
	if ok {
		a.launched = product.ProductID
	}
	a.mu.Unlock()
	if !ok {
		return errors.ErrNoProductFound
	}

	if result := a.client.LaunchBillingFlow(ctx, details); result.ResponseCode != OK {
		a.mu.Lock()
		a.launched = ""
		a.mu.Unlock()
		return billingError(result)
	}
	return nil
}

// OnPurchasesUpdated is called by the host from its PurchasesUpdatedListener.
func (a *Adapter) OnPurchasesUpdated(result BillingResult, purchases []Purchase) {
	a.mu.Lock()
	launched := a.launched
	a.launched = ""
	if result.ResponseCode == OK {
		for _, p := range purchases {
			a.observed[p.PurchaseToken] = p
		}
	}
	a.mu.Unlock()

	if result.ResponseCode != OK {
		a.logger.Info("purchase update failed", "code", result.ResponseCode.String(), "message", result.DebugMessage)
		a.observer.Transactions(models.Transaction{
			ID:        uuid.NewString(),
			ProductID: launched,
			State:     models.TransactionFailed,
			Err:       billingError(result),
		})
		return
	}

	txs := make([]models.Transaction, 0, len(purchases))
	for _, p := range purchases {
		txs = append(txs, transactionFromPurchase(p, stateOf(p)))
	}
	a.observer.Transactions(txs...)
}

func stateOf(p Purchase) models.TransactionState {
	switch p.PurchaseState {
	case PurchaseStatePurchased:
		return models.TransactionPurchased
	case PurchaseStatePending:
		return models.TransactionDeferred
	}
	return models.TransactionPurchasing
}

// transactionFromPurchase keys the transaction by purchase token, which stays
// stable across redeliveries of the same purchase.
func transactionFromPurchase(p Purchase, state models.TransactionState) models.Transaction {
	var purchaseTime time.Time
	if p.PurchaseTime > 0 {
		purchaseTime = time.UnixMilli(p.PurchaseTime).UTC()
	}
	return models.Transaction{
		ID:            p.PurchaseToken,
		ProductID:     p.SKU(),
		PurchaseTime:  purchaseTime,
		State:         state,
		PurchaseToken: p.PurchaseToken,
		OrderID:       p.OrderID,
		PackageName:   p.PackageName,
		Acknowledged:  p.Acknowledged,
	}
}

func (a *Adapter) Acknowledge(ctx context.Context, tx models.Transaction) error {
	if tx.Acknowledged || a.acknowledged(tx.PurchaseToken) {
		return nil
	}

	switch {
	case a.acknowledger != nil:
		if err := a.acknowledger.Acknowledge(ctx, tx.ProductID, tx.PurchaseToken); err != nil {
			return err
		}
	case a.client != nil:
		if result := a.client.AcknowledgePurchase(ctx, tx.PurchaseToken); result.ResponseCode != OK {
			return billingError(result)
		}
	default:
		return errors.ErrNoActivityFound
	}

	a.mu.Lock()
	if p, ok := a.observed[tx.PurchaseToken]; ok {
		p.Acknowledged = true
		a.observed[tx.PurchaseToken] = p
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) acknowledged(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.observed[token]
	return ok && p.Acknowledged
}

// Finish is a no-op: Play Billing subscriptions are settled by acknowledgement.
func (a *Adapter) Finish(context.Context, models.Transaction) error { return nil }

// RestorePurchases queries the owned subscriptions on a separate goroutine and
// replays them as restored transactions.
func (a *Adapter) RestorePurchases(ctx context.Context) error {
	if err := a.ready(); err != nil {
		return err
	}
	go a.restore(context.WithoutCancel(ctx))
	return nil
}

func (a *Adapter) restore(ctx context.Context) {
	result, purchases := a.client.QueryPurchases(ctx)
	if result.ResponseCode != OK {
		a.observer.RestoreFailed(billingError(result))
		return
	}

	txs := make([]models.Transaction, 0, len(purchases))
	a.mu.Lock()
	for _, p := range purchases {
		a.observed[p.PurchaseToken] = p
		if p.PurchaseState == PurchaseStatePurchased {
			txs = append(txs, transactionFromPurchase(p, models.TransactionRestored))
		}
	}
	a.mu.Unlock()

	a.observer.Transactions(txs...)
	a.observer.RestoreFinished()
}

// Proof lists every purchase observed so far, oldest first. Before any
// purchase was observed it asks the device for its owned purchases and fails
// with ErrNoPurchaseFound when there are none.
func (a *Adapter) Proof(ctx context.Context) (*models.PurchaseProof, error) {
	a.mu.Lock()
	empty := len(a.observed) == 0
	a.mu.Unlock()

	if empty {
		if a.ready() != nil {
			return nil, nil
		}
		result, owned := a.client.QueryPurchases(ctx)
		if result.ResponseCode != OK {
			return nil, billingError(result)
		}
		if len(owned) == 0 {
			return nil, errors.ErrNoPurchaseFound
		}
		a.mu.Lock()
		for _, p := range owned {
			if _, seen := a.observed[p.PurchaseToken]; !seen {
				a.observed[p.PurchaseToken] = p
			}
		}
		a.mu.Unlock()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	purchases := make([]models.GooglePurchase, 0, len(a.observed))
	for _, p := range a.observed {
		purchases = append(purchases, models.GooglePurchase{
			PackageName:   p.PackageName,
			PurchaseToken: p.PurchaseToken,
			OrderID:       p.OrderID,
			PurchaseTime:  p.PurchaseTime,
			SKU:           p.SKU(),
		})
	}
	sort.Slice(purchases, func(i, j int) bool {
		if purchases[i].PurchaseTime != purchases[j].PurchaseTime {
			return purchases[i].PurchaseTime < purchases[j].PurchaseTime
		}
		return purchases[i].PurchaseToken < purchases[j].PurchaseToken
	})
	return &models.PurchaseProof{Platform: models.PlatformGoogle, Purchases: purchases}, nil
}

func billingError(result BillingResult) *models.BillingError {
	message := result.DebugMessage
	if message == "" {
		message = result.ResponseCode.String()
	}
	return &models.BillingError{
		Platform:  models.PlatformGoogle,
		Code:      int(result.ResponseCode),
		Message:   message,
		Cancelled: result.ResponseCode == UserCanceled,
	}
}
