// Package app wires the Parley server runtime: config, logging, storage,
// the auth API, the websocket gateway, metrics and the janitor.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"parley/cmd/identity"
	authapi "parley/cmd/internal/auth/api"
	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/pg"
	"parley/cmd/internal/realtime"
	"parley/cmd/security/password"
)

// App owns the HTTP server wiring and the lifecycle of its resources.
type App struct {
	cfg Config
	log Logger

	pool      *pgxpool.Pool
	rdb       *redis.Client
	dbEnabled bool

	sessions *session.Service
	chats    realtime.ChatStore
	gateway  *realtime.Gateway
	auth     *authapi.Handler
	metrics  *Metrics
	janitor  *Janitor
}

// New constructs a fully wired App instance from config and logger.
// Without PARLEY_DATABASE_URL the app runs on in-memory stores; without
// PARLEY_REDIS_ADDR socket session snapshots live in process memory.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{cfg: cfg, log: log}

	var (
		users     identity.Store
		sessStore session.Store
	)

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.dbEnabled = true

		db, err := pg.New(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}

		users, err = identity.NewPostgresStore(db)
		if err != nil {
			pool.Close()
			return nil, err
		}
		sessStore, err = session.NewPostgresStore(db)
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.chats, err = realtime.NewPostgresStore(db)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("db.enabled.postgres_store")
	} else {
		users = identity.NewMemoryStore()
		sessStore = session.NewMemoryStore()
		a.chats = realtime.NewInMemoryStore()
		log.Info("db.disabled.inmemory_store")
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		a.closeResources()
		return nil, err
	}
	codec, err := session.NewJWTCodec(sessCfg)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	pw, err := password.FromEnv()
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.sessions, err = session.NewService(sessCfg, sessStore, users, codec, pw)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	var cache realtime.SnapshotCache
	if cfg.RedisAddr != "" {
		rdb, err := NewRedisClient(ctx, cfg)
		if err != nil {
			a.closeResources()
			return nil, err
		}
		a.rdb = rdb
		cache, err = realtime.NewRedisSnapshotCache(rdb)
		if err != nil {
			a.closeResources()
			return nil, err
		}
		log.Info("redis.enabled.snapshot_cache", "addr", cfg.RedisAddr)
	} else {
		cache = realtime.NewMemorySnapshotCache()
		log.Info("redis.disabled.inmemory_snapshot_cache")
	}

	bridge, err := realtime.NewBridge(log, cache, a.sessions, cfg.SocketSessionTTL)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.gateway, err = realtime.NewGateway(log, realtime.NewHub(log), a.chats, bridge, a.sessions)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	a.auth, err = authapi.NewHandler(log, authapi.LoadConfigFromEnv(), a.sessions, users, a.chats)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	if cfg.MetricsEnabled {
		a.metrics = NewMetrics()
	}
	a.janitor = NewJanitor(log, a.sessions, a.chats, cfg.JanitorInterval, cfg.MessageTTL)

	return a, nil
}

// Run starts the HTTP server and janitor, blocking until ctx cancellation
// or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.pool, a.dbEnabled, a.rdb, a.gateway, a.auth, a.metrics)

	var handler http.Handler = mux
	if a.metrics != nil {
		handler = a.metrics.WithHTTP(handler)
	}
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	go a.janitor.Run(janitorCtx)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}
	stopJanitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	a.closeResources()
	a.log.Info("server.stopped")
	return runErr
}

func (a *App) closeResources() {
	if a.chats != nil {
		_ = a.chats.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
