// Package purchases orchestrates subscription purchases across Google Play and
// the App Store: it fetches the backend catalog, drives the native billing
// adapter, correlates asynchronous transaction updates with callers and keeps
// the verified receipts in the entitlement cache.
package purchases

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/eternisai/purchases-bridge/internal/backend"
	"github.com/eternisai/purchases-bridge/internal/entitlements"
	"github.com/eternisai/purchases-bridge/internal/environment"
	"github.com/eternisai/purchases-bridge/internal/errors"
	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/eternisai/purchases-bridge/internal/metrics"
	"github.com/eternisai/purchases-bridge/models"
	"github.com/eternisai/purchases-bridge/pkg/billing"
)

type (
	BillingAdapter      = billing.Adapter
	TransactionObserver = billing.Observer
)

// Purchases is safe for concurrent use. It is Uninitialized until Launch
// succeeds; every remote operation before that fails with ErrLaunchSdkNeeded.
type Purchases struct {
	adapter billing.Adapter
	store   entitlements.Store

	logger     *logger.Logger
	metrics    *metrics.Metrics
	httpClient *http.Client
	country    string
	appVersion string
	baseURL    string
	listeners  []ReceiptListener

	mu       sync.Mutex
	client   *backend.Client
	products []models.Product
	pending  map[string]*PendingPurchase
	settled  map[string]struct{}
	order    []string
	restore  *restoreRun
	closed   bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// New creates an orchestrator for adapter. A nil store keeps receipts in memory.
func New(adapter billing.Adapter, store entitlements.Store, opts ...Option) *Purchases {
	if store == nil {
		store = entitlements.NewMemoryStore()
	}
	p := &Purchases{
		adapter: adapter,
		store:   store,
		logger:  logger.Nop(),
		pending: make(map[string]*PendingPurchase),
		settled: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("purchases")
	p.bgCtx, p.bgCancel = context.WithCancel(context.Background())
	return p
}

// Launch configures the backend client for apiKey and environment and starts
// observing the billing queue. Calling it again replaces the client.
// It returns "<apiKey> <environment>".
func (p *Purchases) Launch(ctx context.Context, apiKey, environmentName string) (string, error) {
	env, err := environment.Parse(environmentName)
	if err != nil {
		return "", err
	}
	if p.adapter == nil {
		return "", ErrNoActivityFound
	}

	baseURL := env.BaseURL()
	if p.baseURL != "" {
		baseURL = p.baseURL
	}
	client := backend.New(backend.Options{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Platform:   p.adapter.Platform(),
		Country:    p.country,
		AppVersion: p.appVersion,
		HTTPClient: p.httpClient,
		Logger:     p.logger,
	})

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	p.adapter.SetObserver((*transactionObserver)(p))

	p.logger.WithContext(ctx).Info("purchases launched",
		slog.String("environment", env.String()),
		slog.String("platform", string(p.adapter.Platform())),
	)

	// Refresh entitlements eagerly when the device already holds a proof.
	proof, err := p.adapter.Proof(ctx)
	switch {
	case errors.Is(err, ErrNoPurchaseFound):
		// Nothing owned yet.
	case err != nil:
		p.logger.WithContext(ctx).Warn("reading purchase proof failed", slog.String("error", err.Error()))
	case !proof.Empty():
		p.verifyInBackground("launch")
	}

	return fmt.Sprintf("%s %s", apiKey, env), nil
}

// Ready reports whether Launch has succeeded.
func (p *Purchases) Ready() bool {
	return p.currentClient() != nil
}

func (p *Purchases) currentClient() *backend.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// Platform returns the platform of the billing adapter.
func (p *Purchases) Platform() models.Platform {
	if p.adapter == nil {
		return ""
	}
	return p.adapter.Platform()
}

// FetchSubscriptions loads the catalog from the backend, queries the store for
// its SKUs and replaces the product snapshot used by StartPurchase.
func (p *Purchases) FetchSubscriptions(ctx context.Context) ([]models.Product, error) {
	client := p.currentClient()
	if client == nil {
		return nil, ErrLaunchSdkNeeded
	}

	catalog, err := client.FetchSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	skus := catalog.SKUs()
	if len(skus) == 0 {
		return nil, ErrNoProductIdsFound
	}

	found, err := p.adapter.QueryProducts(ctx, skus)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}

	products := make([]models.Product, 0, len(found))
	for _, product := range found {
		entry, ok := catalog.Lookup(product.ProductID)
		if !ok {
			continue
		}
		product.FamilyName = entry.FamilyName
		product.Attributes = entry.Attributes
		products = append(products, product)
	}
	if len(products) == 0 {
		return nil, ErrNoProductsFound
	}

	p.mu.Lock()
	p.products = products
	p.mu.Unlock()

	p.logger.WithContext(ctx).Debug("subscriptions fetched",
		slog.Int("skus", len(skus)),
		slog.Int("products", len(products)),
	)
	return cloneProducts(products), nil
}

// Products returns the snapshot of the last FetchSubscriptions call.
func (p *Purchases) Products() []models.Product {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneProducts(p.products)
}

func (p *Purchases) lookupProduct(productID string) (models.Product, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.FindProduct(p.products, productID)
}

// FetchReceiptInfo returns the verified receipts. With fromCache set and a
// cached value present no network call is made.
func (p *Purchases) FetchReceiptInfo(ctx context.Context, fromCache bool) ([]models.Receipt, error) {
	if fromCache {
		receipts, ok, err := p.store.Get(ctx)
		if err != nil {
			p.logger.LogError(ctx, err, "reading entitlement cache failed")
		} else if ok {
			return receipts, nil
		}
	}
	return p.verifyReceipts(ctx, "fetch")
}

// CanMakePayments reports whether the platform allows purchases right now.
func (p *Purchases) CanMakePayments() bool {
	return p.Ready() && p.adapter.CanMakePayments()
}

// Close stops background verifications and fails every pending purchase with
// context.Canceled. The store is owned by the caller and left open.
func (p *Purchases) Close() error {
	p.bgCancel()

	p.mu.Lock()
	p.closed = true
	pending := make([]*PendingPurchase, 0, len(p.pending))
	for id, pp := range p.pending {
		pending = append(pending, pp)
		delete(p.pending, id)
	}
	p.mu.Unlock()

	for _, pp := range pending {
		pp.resolve(false, context.Canceled)
	}
	p.bg.Wait()
	return nil
}

// goBackground runs fn on a tracked goroutine bound to the orchestrator
// lifetime. It returns false without running fn once Close was called.
func (p *Purchases) goBackground(fn func(ctx context.Context)) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.bg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.bg.Done()
		fn(p.bgCtx)
	}()
	return true
}

func cloneProducts(products []models.Product) []models.Product {
	if products == nil {
		return nil
	}
	out := make([]models.Product, len(products))
	copy(out, products)
	return out
}
