// Command server runs the Xelma round engine: it loads configuration, opens
// the contract store, and serves the HTTP API and websocket hub until it
// receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/xelma/round-engine/internal/api"
	"github.com/xelma/round-engine/internal/archive"
	"github.com/xelma/round-engine/internal/auth"
	"github.com/xelma/round-engine/internal/config"
	"github.com/xelma/round-engine/internal/contract"
	"github.com/xelma/round-engine/internal/ledger"
	"github.com/xelma/round-engine/internal/metrics"
	"github.com/xelma/round-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "xelma.toml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("round-engine exited with error", "err", err)
		os.Exit(1)
	}
	fmt.Println("round-engine stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- Store and nonce guard ---
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	var st store.Store
	var guard auth.NonceGuard = auth.NewMemoryNonceGuard()

	if cfg.Postgres.DSN != "" {
		if cfg.Postgres.RunMigrations {
			if err := store.Migrate(cfg.Postgres.DSN); err != nil {
				return err
			}
			slog.Info("migrations applied")
		}
		pool, err := openPool(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("postgres dsn not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		guard = auth.NewRedisNonceGuard(rdb)
		if cfg.Postgres.DSN != "" {
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL.Duration)
		}
	}

	// --- Contract ---
	clock := ledger.NewWallClock(cfg.Ledger.Genesis, cfg.Ledger.Interval.Duration)
	c := contract.New(st, auth.ContextAuthorizer{}, clock)

	// --- Archive ---
	var arch archive.Archiver = archive.Nop{}
	if cfg.Archive.Enabled() {
		s3a, err := archive.NewS3Archiver(ctx, archive.Options{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
			Prefix:         cfg.Archive.Prefix,
		})
		if err != nil {
			return err
		}
		arch = s3a
		slog.Info("settlement archive enabled", "bucket", cfg.Archive.Bucket)
	}

	// --- Auth ---
	var requireAuth func(http.Handler) http.Handler
	switch cfg.Auth.Mode {
	case config.AuthModeInsecure:
		slog.Warn("auth mode insecure: caller addresses are not verified")
		requireAuth = auth.InsecureMiddleware()
	default:
		requireAuth = auth.Middleware(auth.NewVerifier(cfg.Auth.NonceWindow.Duration, guard))
	}

	hub := api.NewWSHub()
	svc := api.NewService(c, hub, arch)
	if err := metrics.RegisterActiveRound(svc.ActiveRoundValue); err != nil {
		return fmt.Errorf("register active round gauge: %w", err)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.Server.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"round-engine","ws_clients":%d}`, hub.Clients())
	})
	r.Handle("/metrics", metrics.Handler())

	// The websocket route must not sit behind the request timeout.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(skipTimeout("/api/v1/ws", cfg.Server.RequestTimeout.Duration))
		r.Mount("/", svc.Routes(requireAuth))
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("round-engine listening", "port", cfg.Server.Port, "auth", cfg.Auth.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down round-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openPool(ctx context.Context, pg config.PostgresConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(pg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pcfg.MaxConns = int32(pg.PoolMaxConns)
	pcfg.MinConns = int32(pg.PoolMinConns)

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// cors allows the configured origins; "*" allows any.
func cors(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowed["*"]:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
				"Content-Type", auth.HeaderAddress, auth.HeaderNonce, auth.HeaderSignature,
			}, ", "))
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func skipTimeout(path string, d time.Duration) func(http.Handler) http.Handler {
	timeout := middleware.Timeout(d)
	return func(next http.Handler) http.Handler {
		limited := timeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == path {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}
