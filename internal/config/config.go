// Package config defines the top-level configuration for the wager ledger
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WAGERLEDGER_* environment variables.
type Config struct {
	Operator OperatorConfig `toml:"operator"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Rollup   RollupConfig   `toml:"rollup"`
	Sweeper  SweeperConfig  `toml:"sweeper"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// OperatorConfig holds the service operator's signing key. The operator signs
// requests to the execution layer and acts as the sweeper's caller.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// HasKey reports whether any key source is configured.
func (o OperatorConfig) HasKey() bool {
	return o.PrivateKey != "" || o.EncryptedKeyPath != ""
}

// StorageConfig selects the primary ledger store.
type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `toml:"driver"`
	// Grants credit wallets at startup. Memory driver only.
	Grants []GrantConfig `toml:"grants"`
}

// GrantConfig is a starting wallet balance.
type GrantConfig struct {
	Asset  string `toml:"asset"`
	Owner  string `toml:"owner"`
	Amount uint64 `toml:"amount"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Without Redis the service
// falls back to in-process locks and event fan-out and runs uncached.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	PoolCacheTTL duration `toml:"pool_cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// reports.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// RollupConfig points at the secondary execution layer. An empty endpoint
// runs against an in-process loopback layer.
type RollupConfig struct {
	Endpoint         string   `toml:"endpoint"`
	DefaultValidator string   `toml:"default_validator"`
	Timeout          duration `toml:"timeout"`
}

// SweeperConfig controls the settlement sweeper.
type SweeperConfig struct {
	Interval  duration `toml:"interval"`
	LockTTL   duration `toml:"lock_ttl"`
	BatchSize int      `toml:"batch_size"`
	Archive   bool     `toml:"archive"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port             int      `toml:"port"`
	CORSOrigins      []string `toml:"cors_origins"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
	MaxSignatureSkew duration `toml:"max_signature_skew"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values. The
// defaults run a self-contained instance: in-memory storage, loopback
// execution layer, no Redis and no S3.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Driver: "memory"},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "wagerledger",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "wagerledger",
			PoolCacheTTL: duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wagerledger-settlements",
			ForcePathStyle: true,
		},
		Rollup: RollupConfig{
			Timeout: duration{15 * time.Second},
		},
		Sweeper: SweeperConfig{
			Interval:  duration{30 * time.Second},
			LockTTL:   duration{2 * time.Minute},
			BatchSize: 32,
			Archive:   true,
		},
		Server: ServerConfig{
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:        60,
			RateWindow:       duration{time.Minute},
			MaxSignatureSkew: duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"pool_resolved", "weights_finalized", "pause_changed", "admin_transferred"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"sweeper": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validDrivers = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// NeedsOperator reports whether the configured mode or execution layer
// requires the operator key.
func (c *Config) NeedsOperator() bool {
	mode := strings.ToLower(c.Mode)
	return mode == "sweeper" || mode == "full" || c.Rollup.Endpoint != ""
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, sweeper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Operator
	if c.NeedsOperator() && !c.Operator.HasKey() {
		errs = append(errs, "operator: either private_key or encrypted_key_path must be set for mode "+c.Mode)
	}
	if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
		errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
	}

	// Storage
	driver := strings.ToLower(c.Storage.Driver)
	if !validDrivers[driver] {
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, memory)", c.Storage.Driver))
	}
	if driver == "memory" && strings.ToLower(c.Mode) == "sweeper" {
		errs = append(errs, "storage: sweeper mode needs a shared store, driver memory only supports server or full")
	}
	if len(c.Storage.Grants) > 0 && driver != "memory" {
		errs = append(errs, "storage: grants are only supported with driver memory")
	}
	for i, g := range c.Storage.Grants {
		if !common.IsHexAddress(g.Asset) || !common.IsHexAddress(g.Owner) {
			errs = append(errs, fmt.Sprintf("storage: grants[%d]: asset and owner must be hex addresses", i))
		}
	}
	if driver == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.PoolCacheTTL.Duration < 0 {
			errs = append(errs, "redis: pool_cache_ttl must not be negative")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Rollup
	if v := c.Rollup.DefaultValidator; v != "" && !common.IsHexAddress(v) {
		errs = append(errs, fmt.Sprintf("rollup: default_validator %q is not a hex address", v))
	}
	if c.Rollup.Endpoint != "" && !strings.HasPrefix(c.Rollup.Endpoint, "http://") && !strings.HasPrefix(c.Rollup.Endpoint, "https://") {
		errs = append(errs, "rollup: endpoint must be an http(s) URL")
	}
	if c.Rollup.Timeout.Duration <= 0 {
		errs = append(errs, "rollup: timeout must be > 0")
	}

	// Sweeper
	if c.Sweeper.Interval.Duration <= 0 {
		errs = append(errs, "sweeper: interval must be > 0")
	}
	if c.Sweeper.LockTTL.Duration < c.Sweeper.Interval.Duration {
		errs = append(errs, "sweeper: lock_ttl must be at least interval")
	}
	if c.Sweeper.BatchSize < 1 {
		errs = append(errs, "sweeper: batch_size must be >= 1")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}
	if c.Server.MaxSignatureSkew.Duration <= 0 {
		errs = append(errs, "server: max_signature_skew must be > 0")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
