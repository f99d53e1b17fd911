package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eternisai/purchases-bridge/internal/app"
	"github.com/eternisai/purchases-bridge/internal/bridge"
	"github.com/eternisai/purchases-bridge/internal/config"
	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/eternisai/purchases-bridge/internal/refresh"
	"github.com/gin-gonic/gin"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	// Set Gin mode
	log.Info("Setting Gin mode", slog.String("mode", cfg.GinMode))
	gin.SetMode(cfg.GinMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		fatal(log, "Failed to initialize purchases", err)
	}

	if cfg.APIKey != "" {
		result, err := a.Purchases.Launch(ctx, cfg.APIKey, cfg.Environment)
		if err != nil {
			fatal(log, "Failed to launch purchases", err)
		}
		log.Info("🚀 purchases launched", slog.String("result", result))
		if _, err := a.Purchases.FetchSubscriptions(ctx); err != nil {
			log.Warn("⚠️  initial subscription fetch failed", slog.String("error", err.Error()))
		}
	}

	if cfg.RefreshSchedule != "" {
		worker, err := refresh.NewWorker(a.Purchases, cfg.RefreshSchedule, log)
		if err != nil {
			fatal(log, "Invalid refresh schedule", err)
		}
		go func() {
			if err := worker.Run(ctx); err != nil {
				log.Error("refresh worker stopped", slog.String("error", err.Error()))
			}
		}()
		log.Info("🔁 receipt refresh scheduled", slog.String("schedule", cfg.RefreshSchedule))
	}

	var signed bridge.SignedTransactionSink
	if a.Signed != nil {
		signed = a.Signed
		log.Info("✅ signed App Store transactions enabled", slog.String("bundle_id", cfg.AppStoreBundleID))
	}

	handler := bridge.NewHandler(a.Purchases, signed, log)
	router := bridge.NewRouter(handler, log, bridge.RouterConfig{AllowedOrigins: cfg.CORSAllowedOrigins})

	port := ":" + cfg.Port
	log.Info("🔁 purchases bridge listening on "+port,
		slog.String("platform", string(a.Purchases.Platform())),
		slog.String("entitlement_store", cfg.EntitlementStore))

	srv := &http.Server{
		Addr:    port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(log, "Failed to start server", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("🛑 Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", slog.String("error", err.Error()))
	}

	// Stops the refresh worker before the orchestrator goes away.
	cancel()
	a.Close()
	log.Info("✅ Purchases shutdown complete")

	log.Info("✅ Server exited")
}

func fatal(log *logger.Logger, msg string, err error) {
	log.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}
