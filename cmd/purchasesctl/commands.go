package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/eternisai/purchases-bridge/internal/app"
	"github.com/eternisai/purchases-bridge/internal/config"
	"github.com/eternisai/purchases-bridge/internal/events"
	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/eternisai/purchases-bridge/pkg/billing/apple"
	"github.com/eternisai/purchases-bridge/pkg/billing/google"
	"github.com/eternisai/purchases-bridge/pkg/billing/sandbox"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	catalog     string
	baseURL     string
	apiKey      string
	environment string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "purchasesctl",
		Short:         "Drive the purchases bridge against the sandbox store",
		Long:          `purchasesctl launches the purchase orchestrator against the sandbox store and runs a single bridge operation.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.catalog, "catalog", "", "sandbox catalog YAML (overrides the config file)")
	pf.StringVar(&flags.baseURL, "base-url", "", "override the backend URL of the environment")
	pf.StringVar(&flags.apiKey, "api-key", "", "backend API key (default $LINKFIVE_API_KEY)")
	pf.StringVar(&flags.environment, "environment", "", "PRODUCTION or STAGING (default $LINKFIVE_ENVIRONMENT)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log orchestrator activity to stderr")

	root.AddCommand(
		newSubscriptionsCmd(flags),
		newPurchaseCmd(flags),
		newRestoreCmd(flags),
		newReceiptsCmd(flags),
		newWatchCmd(),
		newAcknowledgeCmd(),
		newDecodeSignedCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "purchasesctl %s\n", Version)
			if GitCommit != "unknown" {
				fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", GitCommit)
			}
		},
	}
}

func newSubscriptionsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "subscriptions",
		Short: "Fetch the subscriptions offered by the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLaunched(cmd, flags, func(ctx context.Context, a *app.App) error {
				products, err := a.Purchases.FetchSubscriptions(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), products)
			})
		},
	}
}

func newPurchaseCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "purchase <productId>",
		Short: "Purchase a subscription and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLaunched(cmd, flags, func(ctx context.Context, a *app.App) error {
				if _, err := a.Purchases.FetchSubscriptions(ctx); err != nil {
					return err
				}
				ok, err := a.Purchases.Purchase(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]bool{"success": ok})
			})
		},
	}
}

func newRestoreCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore previous purchases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLaunched(cmd, flags, func(ctx context.Context, a *app.App) error {
				ok, err := a.Purchases.Restore(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]bool{"restored": ok})
			})
		},
	}
}

func newReceiptsCmd(flags *rootFlags) *cobra.Command {
	var fromCache bool
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Verify the purchase proof and print the receipts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLaunched(cmd, flags, func(ctx context.Context, a *app.App) error {
				receipts, err := a.Purchases.FetchReceiptInfo(ctx, fromCache)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), receipts)
			})
		},
	}
	cmd.Flags().BoolVar(&fromCache, "from-cache", false, "serve the cached receipts when present")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print receipt updates published on NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			if cfg.NatsURL == "" {
				return fmt.Errorf("NATS_URL is not set")
			}
			if subject == "" {
				subject = cfg.NatsSubject
			}

			nc, err := events.Connect(cfg.NatsURL, "purchasesctl")
			if err != nil {
				return err
			}
			defer nc.Close()

			out := cmd.OutOrStdout()
			sub, err := events.Subscribe(nc, subject, func(event events.ReceiptsUpdated) {
				_ = printJSON(out, event)
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject to watch (default $NATS_SUBJECT)")
	return cmd
}

func newAcknowledgeCmd() *cobra.Command {
	var sku, token string
	cmd := &cobra.Command{
		Use:   "acknowledge",
		Short: "Acknowledge a Google Play subscription purchase server side",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			if cfg.GooglePlayServiceAccountJSON == "" || cfg.GooglePlayPackageName == "" {
				return fmt.Errorf("GOOGLE_PLAY_SERVICE_ACCOUNT_JSON and GOOGLE_PLAY_PACKAGE_NAME are required")
			}

			ctx := cmd.Context()
			ack, err := google.NewPlayAcknowledger(ctx, cfg.GooglePlayPackageName, []byte(cfg.GooglePlayServiceAccountJSON))
			if err != nil {
				return err
			}
			if err := ack.Acknowledge(ctx, sku, token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "acknowledged %s\n", sku)
			return nil
		},
	}
	cmd.Flags().StringVar(&sku, "sku", "", "subscription id")
	cmd.Flags().StringVar(&token, "token", "", "purchase token")
	_ = cmd.MarkFlagRequired("sku")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newDecodeSignedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode-signed <jws>",
		Short: "Verify a StoreKit 2 signed transaction and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			if !cfg.AppStoreConfigured() {
				return fmt.Errorf("App Store credentials are not configured")
			}
			decoder := apple.NewStoreDecoder(apple.SignedConfig{
				KeyP8:    cfg.AppStoreAPIKeyP8,
				KeyID:    cfg.AppStoreAPIKeyID,
				BundleID: cfg.AppStoreBundleID,
				IssuerID: cfg.AppStoreIssuerID,
			})
			tx, err := apple.DecodeSigned(decoder, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tx)
		},
	}
}

// loadConfig reads .env and the environment, then applies the CLI overrides.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags == nil {
		return cfg, nil
	}
	if flags.catalog != "" {
		catalog, err := sandbox.LoadCatalog(flags.catalog)
		if err != nil {
			return nil, err
		}
		cfg.Sandbox = &catalog
	}
	if flags.apiKey != "" {
		cfg.APIKey = flags.apiKey
	}
	if flags.environment != "" {
		cfg.Environment = flags.environment
	}
	return cfg, nil
}

// withLaunched builds the orchestrator, launches it and runs fn. Everything
// is torn down before returning.
func withLaunched(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("an API key is required, set LINKFIVE_API_KEY or --api-key")
	}

	log := logger.Nop()
	if flags.verbose {
		lc := logger.FromConfig(cfg.LogLevel, cfg.LogFormat)
		lc.Output = os.Stderr
		log = logger.New(lc)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, log, app.Options{
		Registerer: prometheus.NewRegistry(),
		SkipEvents: cfg.NatsURL == "",
		BaseURL:    flags.baseURL,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Purchases.Launch(ctx, cfg.APIKey, cfg.Environment)
	if err != nil {
		return err
	}
	log.Debug("purchases launched", slog.String("result", result))
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
