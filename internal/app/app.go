// Package app assembles the orchestrator and its collaborators from config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/eternisai/purchases-bridge/internal/config"
	"github.com/eternisai/purchases-bridge/internal/entitlements"
	"github.com/eternisai/purchases-bridge/internal/events"
	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/eternisai/purchases-bridge/internal/metrics"
	"github.com/eternisai/purchases-bridge/internal/storage/pg"
	"github.com/eternisai/purchases-bridge/models"
	"github.com/eternisai/purchases-bridge/pkg/billing/apple"
	"github.com/eternisai/purchases-bridge/pkg/billing/sandbox"
	"github.com/eternisai/purchases-bridge/pkg/purchases"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
)

// App owns everything a bridge process needs.
type App struct {
	Purchases *purchases.Purchases
	Store     *sandbox.Store
	Cache     entitlements.Store
	Metrics   *metrics.Metrics

	// Signed is nil unless App Store credentials are configured.
	Signed *SignedTransactions

	nc     *nats.Conn
	logger *logger.Logger
}

// Options tweak New for tests and the CLI.
type Options struct {
	// Registerer receives the metrics. Nil uses the default registerer.
	Registerer prometheus.Registerer
	// SkipEvents disables the NATS publisher even when NATS_URL is set.
	SkipEvents bool
	// BaseURL overrides the environment's backend URL.
	BaseURL string
}

// New wires the sandbox store, entitlement cache, metrics and optional NATS
// publisher into an orchestrator. Launch is left to the caller.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	a := &App{logger: log.WithComponent("app")}

	cache, err := entitlements.Open(ctx, entitlements.Options{
		Backend:     cfg.EntitlementStore,
		FilePath:    cfg.EntitlementFile,
		Dir:         cfg.EntitlementDir,
		DatabaseURL: cfg.DatabaseURL,
		Pool: pg.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Minute,
			ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Minute,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open entitlement store: %w", err)
	}
	a.Cache = cache

	catalog := sandbox.Catalog{Platform: models.Platform(cfg.Platform)}
	if cfg.Sandbox != nil {
		catalog = *cfg.Sandbox
	} else {
		a.logger.Warn("no sandbox catalog configured, the store has no products")
	}
	a.Store = sandbox.New(catalog)

	a.Metrics = metrics.New(opts.Registerer)

	popts := []purchases.Option{
		purchases.WithLogger(log),
		purchases.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		purchases.WithCountry(cfg.Country),
		purchases.WithAppVersion(cfg.AppVersion),
		purchases.WithMetrics(a.Metrics),
	}
	if opts.BaseURL != "" {
		popts = append(popts, purchases.WithBaseURL(opts.BaseURL))
	}

	if cfg.NatsURL != "" && !opts.SkipEvents {
		nc, err := events.Connect(cfg.NatsURL, "purchases-bridge")
		if err != nil {
			a.Close()
			return nil, err
		}
		a.nc = nc
		publisher := events.NewPublisher(nc, cfg.NatsSubject, a.Store.Platform(), log)
		popts = append(popts, purchases.WithReceiptListener(publisher.OnReceipts))
		a.logger.Info("publishing receipt updates", slog.String("subject", cfg.NatsSubject))
	}

	a.Purchases = purchases.New(a.Store, cache, popts...)

	if cfg.AppStoreConfigured() {
		a.Signed = &SignedTransactions{
			Decoder: apple.NewStoreDecoder(apple.SignedConfig{
				KeyP8:    cfg.AppStoreAPIKeyP8,
				KeyID:    cfg.AppStoreAPIKeyID,
				BundleID: cfg.AppStoreBundleID,
				IssuerID: cfg.AppStoreIssuerID,
			}),
			Store: a.Store,
		}
	}
	return a, nil
}

// Close stops the orchestrator and releases its resources in reverse order.
func (a *App) Close() {
	if a.Purchases != nil {
		a.Purchases.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn("failed to drain nats connection", slog.String("error", err.Error()))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.logger.Warn("failed to close entitlement store", slog.String("error", err.Error()))
		}
	}
}

// SignedTransactions feeds verified StoreKit 2 transactions into the sandbox
// store so they flow through the regular purchase path.
type SignedTransactions struct {
	Decoder apple.TransactionDecoder
	Store   *sandbox.Store
}

func (s *SignedTransactions) UpdatedSignedTransaction(jws string) error {
	tx, err := apple.DecodeSigned(s.Decoder, jws)
	if err != nil {
		return err
	}
	return s.Store.Deliver(tx)
}
