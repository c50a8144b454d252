package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults and then applies XELMA_*
// environment overrides. A missing file is not an error, so a node can be
// configured from the environment alone. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "XELMA_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT")
	setDuration(&cfg.Server.ReadTimeout, "XELMA_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "XELMA_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.RequestTimeout, "XELMA_SERVER_REQUEST_TIMEOUT")
	setStringSlice(&cfg.Server.CORSOrigins, "XELMA_SERVER_CORS_ORIGINS")

	setStr(&cfg.Postgres.DSN, "XELMA_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setBool(&cfg.Postgres.RunMigrations, "XELMA_POSTGRES_RUN_MIGRATIONS")
	setInt(&cfg.Postgres.PoolMaxConns, "XELMA_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "XELMA_POSTGRES_POOL_MIN_CONNS")

	setStr(&cfg.Redis.URL, "XELMA_REDIS_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "XELMA_REDIS_CACHE_TTL")

	setTime(&cfg.Ledger.Genesis, "XELMA_LEDGER_GENESIS")
	setDuration(&cfg.Ledger.Interval, "XELMA_LEDGER_INTERVAL")

	setStr(&cfg.Auth.Mode, "XELMA_AUTH_MODE")
	setDuration(&cfg.Auth.NonceWindow, "XELMA_AUTH_NONCE_WINDOW")

	setStr(&cfg.Archive.Endpoint, "XELMA_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "XELMA_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "XELMA_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "XELMA_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "XELMA_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.ForcePathStyle, "XELMA_ARCHIVE_FORCE_PATH_STYLE")
	setStr(&cfg.Archive.Prefix, "XELMA_ARCHIVE_PREFIX")

	setStr(&cfg.LogLevel, "XELMA_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setTime(dst *time.Time, key string) {
	if v := os.Getenv(key); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			*dst = t
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
