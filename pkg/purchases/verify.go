package purchases

import (
	"context"
	"log/slog"
	"time"

	"github.com/eternisai/purchases-bridge/models"
)

// verifyReceipts sends the device proof to the backend, replaces the cache with
// the result and notifies the listeners.
func (p *Purchases) verifyReceipts(ctx context.Context, trigger string) ([]models.Receipt, error) {
	client := p.currentClient()
	if client == nil {
		return nil, ErrLaunchSdkNeeded
	}

	proof, err := p.adapter.Proof(ctx)
	if err != nil {
		return nil, err
	}
	if proof.Empty() {
		return nil, ErrNoReceiptInfo
	}

	start := time.Now()
	receipts, err := client.Verify(ctx, proof)
	p.metrics.Verified(trigger, err, time.Since(start))
	if err != nil {
		return nil, err
	}

	if err := p.store.Set(ctx, receipts); err != nil {
		p.logger.LogError(ctx, err, "writing entitlement cache failed")
	}

	for _, l := range p.listeners {
		l(ctx, receipts)
	}

	p.logger.WithContext(ctx).Debug("receipts verified",
		slog.String("trigger", trigger),
		slog.Int("receipts", len(receipts)),
	)
	return receipts, nil
}

// verifyInBackground runs a verification whose only observable effect is the
// cache update. Failures are logged.
func (p *Purchases) verifyInBackground(trigger string) {
	p.goBackground(func(ctx context.Context) {
		if _, err := p.verifyReceipts(ctx, trigger); err != nil {
			p.logger.Warn("background verification failed",
				slog.String("trigger", trigger),
				slog.String("error", err.Error()),
			)
		}
	})
}
