/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.toml, .env, LEDGER_* variables)
  2. Build the logger
  3. Initialize SQLite store
  4. Pick the product locker (in-process or Redis)
  5. Create API handler and router
  6. Start the replay scheduler when enabled
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Directory searched for config.toml (default: .)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the replay scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (HTTP.ShutdownTimeout)
  4. Close database and Redis connections

EXAMPLES:
  # Defaults: ./data/ledger.db, in-process locks
  ./server

  # In-memory database with debug logs
  LEDGER_DATABASE_PATH=":memory:" LEDGER_LOG_LEVEL=debug ./server

  # Several replicas sharing Redis locks
  LEDGER_LOCK_BACKEND=redis LEDGER_REDIS_HOST=redis ./server

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/stock-ledger/api"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/locking"
	"github.com/warp/stock-ledger/logger"
	"github.com/warp/stock-ledger/metrics"
	"github.com/warp/stock-ledger/replay"
	"github.com/warp/stock-ledger/stock"
	"github.com/warp/stock-ledger/store/sqlite"
)

func main() {
	configDir := flag.String("config", ".", "Directory searched for config.toml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()
	zl = zl.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	// Initialize store
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			zl.Fatal("failed to create database directory", zap.Error(err))
		}
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		zl.Fatal("failed to initialize database", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer store.Close()

	locker, closeLocker := newLocker(cfg, zl)
	defer closeLocker()

	m := metrics.New(true)
	handler := api.NewHandler(store, locker, m, zl)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.HTTP.CORSAllowOrigins,
		Metrics:        m.Handler(),
	})

	var scheduler *replay.Scheduler
	if cfg.Replay.ScheduleEnabled {
		scheduler = replay.NewScheduler(handler.Replay, cfg.Replay.Interval, zl)
		scheduler.Start()
	}

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  2 * cfg.HTTP.ReadTimeout,
	}

	go func() {
		zl.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("database", cfg.Database.Path),
			zap.String("lock_backend", cfg.Lock.Backend),
			zap.Bool("replay_schedule", cfg.Replay.ScheduleEnabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down server")
	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
		return
	}
	zl.Info("server stopped")
}

// newLocker returns the configured product locker and its cleanup.
func newLocker(cfg *config.Config, zl *zap.Logger) (stock.Locker, func()) {
	if cfg.Lock.Backend != config.LockBackendRedis {
		return locking.NewKeyedMutex(), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Lock.WaitTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		zl.Fatal("failed to connect to redis", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
	}

	locker := locking.NewRedisLocker(rdb, locking.RedisOptions{
		TTL:         cfg.Lock.TTL,
		WaitTimeout: cfg.Lock.WaitTimeout,
	}, zl)
	return locker, func() { rdb.Close() }
}
