package purchases

import (
	"context"
	"log/slog"

	"github.com/eternisai/purchases-bridge/models"
)

// restoreRun is one in-flight restore shared by every caller that joins it.
type restoreRun struct {
	done     chan struct{}
	seen     map[string]struct{}
	count    int
	waiters  int
	restored bool
	err      error
}

// Restore asks the store to replay the user's purchases. It returns true when
// at least one purchase was restored. Callers arriving while a restore is in
// flight join it instead of starting another one.
func (p *Purchases) Restore(ctx context.Context) (bool, error) {
	if !p.Ready() {
		return false, ErrLaunchSdkNeeded
	}

	p.mu.Lock()
	run := p.restore
	started := run == nil
	if started {
		run = &restoreRun{done: make(chan struct{}), seen: make(map[string]struct{})}
		p.restore = run
	}
	run.waiters++
	p.mu.Unlock()

	if started {
		p.logger.WithContext(ctx).Info("restore started")
		if err := p.adapter.RestorePurchases(ctx); err != nil {
			p.completeRestore(run, cancellationOrRaw(err))
		}
	}

	select {
	case <-run.done:
		return run.restored, run.err
	case <-ctx.Done():
		p.leaveRestore(run)
		return false, ctx.Err()
	}
}

// leaveRestore drops a waiter. The last waiter to leave forgets the run so a
// store that never answers does not block later restores.
func (p *Purchases) leaveRestore(run *restoreRun) {
	p.mu.Lock()
	defer p.mu.Unlock()
	run.waiters--
	if run.waiters == 0 && p.restore == run {
		p.restore = nil
	}
}

// completeRestore resolves run with err, or with the restored count when err is nil.
func (p *Purchases) completeRestore(run *restoreRun, err error) {
	p.mu.Lock()
	if p.restore == run {
		p.restore = nil
	}
	select {
	case <-run.done:
		p.mu.Unlock()
		return
	default:
	}
	run.err = err
	run.restored = err == nil && run.count > 0
	count := run.count
	close(run.done)
	p.mu.Unlock()

	switch {
	case err != nil:
		p.metrics.RestoreCompleted("failed")
		p.logger.Warn("restore failed", slog.String("error", err.Error()))
	case run.restored:
		p.metrics.RestoreCompleted("restored")
		p.logger.Info("restore finished", slog.Int("transactions", count))
		p.verifyInBackground("restore")
	default:
		p.metrics.RestoreCompleted("empty")
		p.logger.Info("restore finished without purchases")
	}
}

// countRestored adds tx to the in-flight restore. It returns false when the
// run already counted the transaction.
func (p *Purchases) countRestored(tx models.Transaction) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	run := p.restore
	if run == nil {
		return true
	}
	if tx.ID != "" {
		if _, dup := run.seen[tx.ID]; dup {
			return false
		}
		run.seen[tx.ID] = struct{}{}
	}
	run.count++
	return true
}

func (p *Purchases) currentRestore() *restoreRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restore
}
