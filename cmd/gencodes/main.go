// File: cmd/gencodes/main.go
//
// Batch code generation from the command line, for operators who want fresh
// codes without going through the admin API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"license-activation-server/internal/config"
	"license-activation-server/internal/domain/model"
	"license-activation-server/internal/domain/policy"
	"license-activation-server/internal/infra/db/sqlite"
	"license-activation-server/internal/infra/lock"
	"license-activation-server/internal/infra/logging"
	"license-activation-server/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	tier := flag.String("tier", string(model.TierMonthly), "tier for the new codes")
	count := flag.Int("count", 1, "how many codes to generate")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := sqlite.Open(cfg.Store, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	expiry, err := policy.NewExpiryTable(cfg.Tiers)
	if err != nil {
		log.Fatalf("tier table: %v", err)
	}

	adminUC := usecase.NewAdminUseCase(
		sqlite.NewActivationCodeRepo(store),
		sqlite.NewDeviceRepo(store),
		sqlite.NewTxManager(store),
		lock.NewKeyed(),
		expiry,
		cfg.Codes.GenerateLimit,
		cfg.Store.LockWait,
		logger,
	)

	codes, err := adminUC.GenerateCodes(ctx, model.Tier(*tier), *count)
	if err != nil {
		log.Fatalf("generate: %v", err)
	}
	for _, c := range codes {
		fmt.Println(c)
	}
}
