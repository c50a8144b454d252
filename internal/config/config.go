// Package config defines the round engine configuration and its defaults.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the top-level configuration, decoded from TOML.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Auth     AuthConfig     `toml:"auth"`
	Archive  ArchiveConfig  `toml:"archive"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	IdleTimeout     duration `toml:"idle_timeout"`
	RequestTimeout  duration `toml:"request_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	CORSOrigins     []string `toml:"cors_origins"`
}

// PostgresConfig selects the durable store. An empty DSN means the
// in-memory store is used and nothing survives a restart.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	RunMigrations bool   `toml:"run_migrations"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
}

// RedisConfig enables the read-through cache and the shared nonce guard.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL duration `toml:"cache_ttl"`
}

// LedgerConfig parameterizes the wall-clock ledger sequence.
type LedgerConfig struct {
	Genesis  time.Time `toml:"genesis"`
	Interval duration  `toml:"interval"`
}

// AuthConfig controls request authentication.
type AuthConfig struct {
	// Mode is "signature" (secp256k1 signed requests) or "insecure", which
	// trusts the address header and is meant for local development only.
	Mode        string   `toml:"mode"`
	NonceWindow duration `toml:"nonce_window"`
}

// ArchiveConfig points at an S3-compatible bucket for settlement receipts.
// Archiving is disabled while Bucket is empty.
type ArchiveConfig struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// Enabled reports whether receipts should be archived.
func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

// duration wraps time.Duration so TOML strings like "30s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

const (
	AuthModeSignature = "signature"
	AuthModeInsecure  = "insecure"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns a Config that runs a single in-memory node on :8080.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{10 * time.Second},
			IdleTimeout:     duration{60 * time.Second},
			RequestTimeout:  duration{30 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
			CORSOrigins:     []string{"*"},
		},
		Postgres: PostgresConfig{
			RunMigrations: true,
			PoolMaxConns:  10,
			PoolMinConns:  1,
		},
		Redis: RedisConfig{
			CacheTTL: duration{30 * time.Second},
		},
		Ledger: LedgerConfig{
			Genesis:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Interval: duration{5 * time.Second},
		},
		Auth: AuthConfig{
			Mode:        AuthModeSignature,
			NonceWindow: duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			Prefix: "settlements",
		},
		LogLevel: "info",
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout.Duration <= 0 || c.Server.WriteTimeout.Duration <= 0 {
		errs = append(errs, "server: read_timeout and write_timeout must be positive")
	}

	if c.Postgres.DSN != "" {
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.URL != "" && c.Redis.CacheTTL.Duration <= 0 {
		errs = append(errs, "redis: cache_ttl must be positive")
	}

	if c.Ledger.Interval.Duration <= 0 {
		errs = append(errs, "ledger: interval must be positive")
	}

	switch c.Auth.Mode {
	case AuthModeSignature, AuthModeInsecure:
	default:
		errs = append(errs, fmt.Sprintf("auth: unknown mode %q (valid: signature, insecure)", c.Auth.Mode))
	}
	if c.Auth.NonceWindow.Duration <= 0 {
		errs = append(errs, "auth: nonce_window must be positive")
	}

	if c.Archive.Enabled() && c.Archive.Region == "" {
		errs = append(errs, "archive: region is required when bucket is set")
	}
	if (c.Archive.AccessKey == "") != (c.Archive.SecretKey == "") {
		errs = append(errs, "archive: access_key and secret_key must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
