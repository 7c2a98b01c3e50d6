package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"github.com/exchange/brokerage/internal/config"
	"github.com/exchange/brokerage/internal/handler"
	"github.com/exchange/brokerage/internal/metrics"
	"github.com/exchange/brokerage/internal/repository"
	"github.com/exchange/brokerage/internal/service"
	"github.com/exchange/brokerage/internal/ws"
	"github.com/exchange/brokerage/pkg/health"
	"github.com/exchange/brokerage/pkg/logger"
	"github.com/exchange/brokerage/pkg/redis"
	"github.com/exchange/brokerage/pkg/response"
	"github.com/exchange/brokerage/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.ServiceName, os.Stdout).Level(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("service stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Infof("starting service", logger.Fields{"store": cfg.StoreDriver, "matchLock": cfg.MatchLock})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.TracingEndpoint,
		Enabled:     cfg.TracingEnabled,
		SampleRate:  cfg.TracingSampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	checks := health.New()

	store, closeStore, err := openStore(ctx, cfg, log, checks)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient goredis.UniversalClient
	if cfg.RedisEnabled {
		client, err := redis.NewClient(ctx, &redis.Config{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			PoolSize:     redis.DefaultConfig.PoolSize,
			DialTimeout:  redis.DefaultConfig.DialTimeout,
			ReadTimeout:  redis.DefaultConfig.ReadTimeout,
			WriteTimeout: redis.DefaultConfig.WriteTimeout,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		redisClient = client
		checks.Register(health.NewRedisChecker(client))
		log.Info("connected to redis")
	}

	m := metrics.New()
	orders := service.NewOrderService(store, cfg.CashAsset, log, m)
	orders.SetMaxNotional(cfg.MaxOrderNotional)
	engine := service.NewMatchingEngine(store, cfg.CashAsset, newLocker(cfg, redisClient, log), log, m)
	if redisClient != nil {
		publisher := ws.NewPublisher(redisClient, cfg.OrderEventChannel)
		orders.SetPublisher(publisher)
		engine.SetPublisher(publisher)
	}

	mux := http.NewServeMux()
	handler.New(orders, engine, service.NewAssetService(store), cfg.AdminToken).Register(mux)
	mux.Handle("/health", checks.LiveHandler())
	mux.Handle("/ready", checks.ReadyHandler())
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           response.RecoveryMiddleware(log)(response.RequestIDMiddleware(tracing.HTTPMiddleware(mux))),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("http server listening", logger.Fields{"port": cfg.HTTPPort})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	checks.SetReady(true)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("shutting down")
	checks.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger, checks *health.Health) (repository.Store, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("using in-memory store, data is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	if cfg.DBAutoMigrate {
		if err := repository.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	checks.Register(health.NewPostgresChecker(db))
	log.Info("connected to postgres")
	return repository.NewPostgresStore(db), func() { db.Close() }, nil
}

func newLocker(cfg *config.Config, client goredis.UniversalClient, log *logger.Logger) service.Locker {
	if cfg.MatchLock == config.MatchLockRedis && client != nil {
		return service.NewRedisLocker(client, cfg.MatchLockTTL, log)
	}
	return service.NewLocalLocker()
}
