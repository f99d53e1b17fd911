// Package refresh re-verifies entitlements on a cron schedule so the cache
// follows renewals and expirations without a client request.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/eternisai/purchases-bridge/models"
	"github.com/eternisai/purchases-bridge/pkg/purchases"
	"github.com/robfig/cron/v3"
)

// Refresher is implemented by *purchases.Purchases.
type Refresher interface {
	Ready() bool
	FetchReceiptInfo(ctx context.Context, fromCache bool) ([]models.Receipt, error)
}

// Worker runs a receipt verification on every tick of its schedule.
type Worker struct {
	refresher Refresher
	schedule  string
	logger    *logger.Logger
}

// NewWorker validates schedule, a standard 5-field cron spec or a descriptor
// such as "@every 15m".
func NewWorker(refresher Refresher, schedule string, log *logger.Logger) (*Worker, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Worker{
		refresher: refresher,
		schedule:  schedule,
		logger:    log.WithComponent("refresh"),
	}, nil
}

// Run blocks until ctx is done. A tick is skipped while the previous one is
// still running.
func (w *Worker) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.schedule, func() { w.refresh(ctx) }); err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}

	w.logger.Info("starting receipt refresh worker", slog.String("schedule", w.schedule))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	w.logger.Info("receipt refresh worker stopped")
	return nil
}

func (w *Worker) refresh(ctx context.Context) {
	if !w.refresher.Ready() {
		w.logger.Debug("skipping refresh, purchases not launched")
		return
	}

	ctx = logger.WithOperation(ctx, "scheduled_refresh")
	receipts, err := w.refresher.FetchReceiptInfo(ctx, false)
	switch {
	case errors.Is(err, purchases.ErrNoReceiptInfo), errors.Is(err, purchases.ErrNoPurchaseFound):
		w.logger.Debug("skipping refresh, no purchase proof on device")
	case err != nil:
		w.logger.LogError(ctx, err, "scheduled receipt refresh failed")
	default:
		w.logger.WithContext(ctx).Info("receipts refreshed", slog.Int("receipts", len(receipts)))
	}
}
