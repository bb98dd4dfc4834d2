// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type StoreConfig struct {
	Path        string        `yaml:"path"`
	PoolSize    int           `yaml:"pool_size"`    // concurrent reader connections
	BusyTimeout time.Duration `yaml:"busy_timeout"` // SQLite writer-slot wait
	LockWait    time.Duration `yaml:"lock_wait"`    // per-key queue wait before Busy
}

type CodesConfig struct {
	GenerateLimit int `yaml:"generate_limit"` // max codes per generate command
}

type AdminConfig struct {
	PasswordHash string        `yaml:"password_hash"` // pbkdf2: saltHex$keyHex
	JWTSecret    string        `yaml:"jwt_secret"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
}

type LegacyConfig struct {
	CodesFile   string `yaml:"codes_file"`
	DevicesFile string `yaml:"devices_file"`
	AutoImport  bool   `yaml:"auto_import"` // run the one-shot import before serving
}

type Config struct {
	Log    LogConfig      `yaml:"log"`
	Server ServerConfig   `yaml:"server"`
	Store  StoreConfig    `yaml:"store"`
	Tiers  map[string]int `yaml:"tiers"` // tier name -> validity in days
	Codes  CodesConfig    `yaml:"codes"`
	Admin  AdminConfig    `yaml:"admin"`
	Legacy LegacyConfig   `yaml:"legacy"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads and validates the YAML config. The returned config is
// immutable for the lifetime of the process.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 10 * time.Second
	}
	if cfg.Store.PoolSize <= 0 {
		cfg.Store.PoolSize = 8
	}
	if cfg.Store.BusyTimeout <= 0 {
		cfg.Store.BusyTimeout = 5 * time.Second
	}
	if cfg.Store.LockWait <= 0 {
		cfg.Store.LockWait = 3 * time.Second
	}
	if cfg.Codes.GenerateLimit <= 0 {
		cfg.Codes.GenerateLimit = 5000
	}
	if cfg.Admin.SessionTTL <= 0 {
		cfg.Admin.SessionTTL = 30 * time.Minute
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = map[string]int{
			"monthly":   30,
			"quarterly": 90,
			"yearly":    365,
			"trial":     7,
		}
	}

	// Minimal validation
	if cfg.Store.Path == "" {
		return nil, errors.New("store.path is required")
	}
	for name, days := range cfg.Tiers {
		if days <= 0 {
			return nil, fmt.Errorf("tiers.%s: duration must be positive, got %d", name, days)
		}
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
