// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"license-activation-server/internal/config"
	"license-activation-server/internal/domain/policy"
	"license-activation-server/internal/infra/api"
	"license-activation-server/internal/infra/db/sqlite"
	"license-activation-server/internal/infra/importer"
	"license-activation-server/internal/infra/lock"
	"license-activation-server/internal/infra/logging"
	"license-activation-server/internal/infra/metrics"
	"license-activation-server/internal/infra/sched"
	"license-activation-server/internal/infra/worker"
	"license-activation-server/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, redaction off)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()

	// ---- Store ----
	store, err := sqlite.Open(cfg.Store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()

	codeRepo := sqlite.NewActivationCodeRepo(store)
	deviceRepo := sqlite.NewDeviceRepo(store)
	tm := sqlite.NewTxManager(store)

	// ---- Legacy flat-file import ----
	if cfg.Legacy.AutoImport {
		imp := importer.New(codeRepo, deviceRepo, tm, logger)
		res, err := imp.Run(ctx, cfg.Legacy.CodesFile, cfg.Legacy.DevicesFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("legacy import")
		}
		if res.Codes > 0 || res.Devices > 0 {
			logger.Info().Int("codes", res.Codes).Int("devices", res.Devices).Msg("legacy records migrated")
		}
	}

	// ---- Engine ----
	expiry, err := policy.NewExpiryTable(cfg.Tiers)
	if err != nil {
		logger.Fatal().Err(err).Msg("tier table")
	}
	locks := lock.NewKeyed()

	pool := worker.NewPool(4, logger)
	pool.Start(ctx)
	defer pool.Stop()

	authzUC := usecase.NewAuthorizationUseCase(codeRepo, deviceRepo, tm, locks, expiry, pool, cfg.Store.LockWait, logger)
	adminUC := usecase.NewAdminUseCase(codeRepo, deviceRepo, tm, locks, expiry, cfg.Codes.GenerateLimit, cfg.Store.LockWait, logger)

	// ---- Expiry worker (hourly) ----
	expiryWorker := sched.NewExpiryWorker(1*time.Hour, codeRepo, tm, logger)
	go func() { _ = expiryWorker.Run(ctx) }()

	// ---- HTTP ----
	auth := api.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.SessionTTL)
	srv := api.NewServer(authzUC, adminUC, auth, cfg.Admin.PasswordHash, cfg.Server.RequestTimeout, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := server.Shutdown(shutCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
