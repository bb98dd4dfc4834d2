// File: cmd/import/main.go
//
// One-shot migration of the legacy flat files into the store. Safe to run
// repeatedly: records already present are skipped.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"license-activation-server/internal/config"
	"license-activation-server/internal/infra/db/sqlite"
	"license-activation-server/internal/infra/importer"
	"license-activation-server/internal/infra/logging"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	codesFile := flag.String("codes", "", "legacy codes JSON (overrides config)")
	devicesFile := flag.String("devices", "", "legacy devices JSON (overrides config)")
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

	codes := *codesFile
	if codes == "" {
		codes = cfg.Legacy.CodesFile
	}
	devices := *devicesFile
	if devices == "" {
		devices = cfg.Legacy.DevicesFile
	}
	if codes == "" && devices == "" {
		log.Fatal("nothing to import: pass -codes/-devices or set legacy.codes_file/legacy.devices_file")
	}

	imp := importer.New(
		sqlite.NewActivationCodeRepo(store),
		sqlite.NewDeviceRepo(store),
		sqlite.NewTxManager(store),
		logger,
	)
	res, err := imp.Run(ctx, codes, devices)
	if err != nil {
		log.Fatalf("import: %v", err)
	}
	fmt.Printf("imported %d codes, %d devices (%d already present)\n", res.Codes, res.Devices, res.Skipped)
}
