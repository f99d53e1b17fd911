package purchases

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/eternisai/purchases-bridge/models"
)

// transactionObserver is the billing.Observer view of Purchases. Bookkeeping
// happens on the caller's goroutine; network work for purchased transactions
// runs in the background so the platform callback returns quickly.
type transactionObserver Purchases

func (o *transactionObserver) OnTransactionsUpdated(txs []models.Transaction) {
	p := (*Purchases)(o)
	for _, tx := range txs {
		p.handleTransaction(tx)
	}
}

func (o *transactionObserver) OnRestoreFinished() {
	p := (*Purchases)(o)
	if run := p.currentRestore(); run != nil {
		p.completeRestore(run, nil)
	}
}

func (o *transactionObserver) OnRestoreFailed(err error) {
	p := (*Purchases)(o)
	if err == nil {
		err = fmt.Errorf("restore failed")
	}
	if run := p.currentRestore(); run != nil {
		p.completeRestore(run, cancellationOrRaw(err))
	}
}

// maxSettled bounds the remembered transaction ids. The oldest id is
// forgotten first.
const maxSettled = 1024

// claim marks a terminal transaction as handled. It returns false when the
// transaction id was already claimed.
func (p *Purchases) claim(tx models.Transaction) bool {
	if tx.ID == "" {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, seen := p.settled[tx.ID]; seen {
		return false
	}
	p.settled[tx.ID] = struct{}{}
	p.order = append(p.order, tx.ID)
	if len(p.order) > maxSettled {
		delete(p.settled, p.order[0])
		p.order = p.order[1:]
	}
	return true
}

func (p *Purchases) handleTransaction(tx models.Transaction) {
	p.metrics.TransactionObserved(string(tx.State))
	if !tx.State.Terminal() {
		return
	}

	ctx := logger.WithProductID(logger.WithTransactionID(p.bgCtx, tx.ID), tx.ProductID)

	// Restores replay the same purchases every time, so restored transactions
	// are deduplicated per restore run.
	if tx.State == models.TransactionRestored {
		if !p.countRestored(tx) {
			p.metrics.TransactionRedelivered()
			return
		}
		p.finish(ctx, tx)
		return
	}

	if !p.claim(tx) {
		p.metrics.TransactionRedelivered()
		p.logger.WithContext(ctx).Debug("ignoring redelivered transaction", slog.String("state", string(tx.State)))
		return
	}

	switch tx.State {
	case models.TransactionPurchased:
		flow := flowFor(p.adapter.Platform())
		started := p.goBackground(func(context.Context) {
			flow.purchased(ctx, p, tx)
		})
		if !started {
			p.logger.WithContext(ctx).Warn("purchase delivered after close, finishing without verification")
			p.finish(context.WithoutCancel(ctx), tx)
		}
	case models.TransactionFailed:
		defer p.finish(ctx, tx)
		err := tx.Err
		if err == nil {
			err = fmt.Errorf("transaction %s failed", tx.ID)
		}
		p.logger.WithContext(ctx).Info("purchase failed", slog.String("error", err.Error()))
		p.resolvePending(tx.ProductID, false, cancellationOrRaw(err))
	}
}

func (p *Purchases) finish(ctx context.Context, tx models.Transaction) {
	if err := p.adapter.Finish(ctx, tx); err != nil {
		p.metrics.AcknowledgeFailed()
		p.logger.LogError(ctx, err, "finishing transaction failed")
	}
}

// purchaseFlow is the platform specific handling of a purchased transaction.
type purchaseFlow interface {
	purchased(ctx context.Context, p *Purchases, tx models.Transaction)
}

func flowFor(platform models.Platform) purchaseFlow {
	if platform == models.PlatformIOS {
		return logPurchaseFlow{}
	}
	return acknowledgeFlow{}
}

// acknowledgeFlow acknowledges the purchase, refreshes entitlements and only
// then reports success. A failed verification does not fail the purchase.
type acknowledgeFlow struct{}

func (acknowledgeFlow) purchased(ctx context.Context, p *Purchases, tx models.Transaction) {
	defer p.finish(ctx, tx)

	if !tx.Acknowledged {
		if err := p.adapter.Acknowledge(ctx, tx); err != nil {
			p.metrics.AcknowledgeFailed()
			p.logger.LogError(ctx, err, "acknowledging purchase failed")
		}
	}
	if _, err := p.verifyReceipts(ctx, "purchase"); err != nil {
		p.logger.LogError(ctx, err, "verifying purchase failed")
	}
	p.resolvePending(tx.ProductID, true, nil)
}

// logPurchaseFlow reports the sale to the backend, reports success, finishes
// the transaction and refreshes entitlements afterwards.
type logPurchaseFlow struct{}

func (logPurchaseFlow) purchased(ctx context.Context, p *Purchases, tx models.Transaction) {
	func() {
		defer p.finish(ctx, tx)
		p.logPurchase(ctx, tx)
		p.resolvePending(tx.ProductID, true, nil)
	}()
	if _, err := p.verifyReceipts(ctx, "purchase"); err != nil {
		p.logger.WithContext(ctx).Warn("background verification failed", slog.String("error", err.Error()))
	}
}

func (p *Purchases) logPurchase(ctx context.Context, tx models.Transaction) {
	client := p.currentClient()
	if client == nil {
		return
	}
	product, ok := p.peekPending(tx.ProductID)
	if !ok {
		product, ok = p.lookupProduct(tx.ProductID)
	}
	if !ok {
		p.logger.WithContext(ctx).Warn("purchased product unknown, not logging purchase")
		return
	}
	if err := client.LogPurchase(ctx, models.NewPurchaseLog(product, tx, client.Country())); err != nil {
		p.logger.LogError(ctx, err, "logging purchase failed")
	}
}
