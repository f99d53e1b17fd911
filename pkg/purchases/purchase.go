package purchases

import (
	"context"
	"log/slog"
	"sync"

	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/eternisai/purchases-bridge/models"
)

// PendingPurchase is the completion of one purchase started with StartPurchase.
// It resolves once, when the billing queue reports the product as purchased or
// failed.
type PendingPurchase struct {
	product models.Product
	owner   *Purchases

	once    sync.Once
	done    chan struct{}
	success bool
	err     error
}

func newPendingPurchase(owner *Purchases, product models.Product) *PendingPurchase {
	return &PendingPurchase{
		product: product,
		owner:   owner,
		done:    make(chan struct{}),
	}
}

func (pp *PendingPurchase) Product() models.Product { return pp.product }

// Done is closed when the purchase resolves.
func (pp *PendingPurchase) Done() <-chan struct{} { return pp.done }

// Result returns the outcome. Only meaningful after Done is closed.
func (pp *PendingPurchase) Result() (bool, error) {
	select {
	case <-pp.done:
		return pp.success, pp.err
	default:
		return false, nil
	}
}

// Wait blocks until the purchase resolves or ctx ends. When ctx ends first the
// pending entry is dropped and a later update for the product resolves nothing.
func (pp *PendingPurchase) Wait(ctx context.Context) (bool, error) {
	select {
	case <-pp.done:
		return pp.success, pp.err
	case <-ctx.Done():
		pp.owner.dropPending(pp)
		pp.resolve(false, ctx.Err())
		return pp.Result()
	}
}

func (pp *PendingPurchase) resolve(success bool, err error) {
	pp.once.Do(func() {
		pp.success = success
		pp.err = err
		close(pp.done)
	})
}

// StartPurchase launches the native purchase UI for a product of the last
// fetched snapshot.
func (p *Purchases) StartPurchase(ctx context.Context, productID string) (*PendingPurchase, error) {
	if !p.Ready() {
		return nil, ErrLaunchSdkNeeded
	}
	if !p.adapter.CanMakePayments() {
		return nil, ErrCantMakePayments
	}
	product, ok := p.lookupProduct(productID)
	if !ok {
		return nil, ErrNoProductFound
	}
	return p.startPurchase(ctx, product)
}

// StartPurchaseProduct launches the native purchase UI for product as given.
func (p *Purchases) StartPurchaseProduct(ctx context.Context, product models.Product) (*PendingPurchase, error) {
	if !p.Ready() {
		return nil, ErrLaunchSdkNeeded
	}
	if !p.adapter.CanMakePayments() {
		return nil, ErrCantMakePayments
	}
	if product.ProductID == "" {
		return nil, ErrNoProductFound
	}
	return p.startPurchase(ctx, product)
}

// Purchase is StartPurchase followed by Wait.
func (p *Purchases) Purchase(ctx context.Context, productID string) (bool, error) {
	pp, err := p.StartPurchase(ctx, productID)
	if err != nil {
		return false, err
	}
	return pp.Wait(ctx)
}

func (p *Purchases) startPurchase(ctx context.Context, product models.Product) (*PendingPurchase, error) {
	ctx = logger.WithProductID(ctx, product.ProductID)

	p.mu.Lock()
	if _, busy := p.pending[product.ProductID]; busy {
		p.mu.Unlock()
		return nil, ErrPurchaseInProgress
	}
	pp := newPendingPurchase(p, product)
	p.pending[product.ProductID] = pp
	n := len(p.pending)
	p.mu.Unlock()
	p.metrics.PendingPurchases(n)

	if err := p.adapter.LaunchPurchase(ctx, product); err != nil {
		p.dropPending(pp)
		p.logger.LogError(ctx, err, "launching purchase failed")
		return nil, err
	}

	p.logger.WithContext(ctx).Info("purchase launched", slog.Float64("price", product.Price), slog.String("currency", product.Currency))
	return pp, nil
}

// dropPending removes pp if it is still the pending entry of its product.
func (p *Purchases) dropPending(pp *PendingPurchase) {
	p.mu.Lock()
	if cur, ok := p.pending[pp.product.ProductID]; ok && cur == pp {
		delete(p.pending, pp.product.ProductID)
	}
	n := len(p.pending)
	p.mu.Unlock()
	p.metrics.PendingPurchases(n)
}

// takePending removes and returns the pending purchase of productID.
func (p *Purchases) takePending(productID string) (*PendingPurchase, bool) {
	p.mu.Lock()
	pp, ok := p.pending[productID]
	if ok {
		delete(p.pending, productID)
	}
	n := len(p.pending)
	p.mu.Unlock()
	if ok {
		p.metrics.PendingPurchases(n)
	}
	return pp, ok
}

// peekPending returns the product of the pending purchase of productID.
func (p *Purchases) peekPending(productID string) (models.Product, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pp, ok := p.pending[productID]; ok {
		return pp.product, true
	}
	return models.Product{}, false
}

// resolvePending completes the pending purchase of productID, if any.
func (p *Purchases) resolvePending(productID string, success bool, err error) {
	pp, ok := p.takePending(productID)
	if !ok {
		return
	}
	pp.resolve(success, err)

	switch {
	case success:
		p.metrics.PurchaseCompleted("success")
	case isCancellation(err):
		p.metrics.PurchaseCompleted("cancelled")
	default:
		p.metrics.PurchaseCompleted("failed")
	}
}
