package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/seckill/internal/adapter/memory"
	"github.com/rl1809/seckill/internal/adapter/storage"
	"github.com/rl1809/seckill/internal/config"
	"github.com/rl1809/seckill/internal/core/service"
	"github.com/rl1809/seckill/internal/port"
	"github.com/rl1809/seckill/internal/telemetry"
)

// app holds the connections a command needs. close releases them in reverse order.
type app struct {
	cfg      *config.Config
	repo     storage.SchemaRepository
	counters port.CounterStore
	queue    port.IntentQueue
	metrics  *telemetry.Metrics
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	log.Println("connections closed")
}

func (a *app) deps() service.Dependencies {
	return service.Dependencies{
		Catalog:  a.repo,
		Orders:   a.repo,
		Counters: a.counters,
		Queue:    a.queue,
		Metrics:  a.metrics,
	}
}

func (a *app) materializer() *service.Materializer {
	return service.NewMaterializer(a.deps(), service.MaterializerConfig{
		PopTimeout:    a.cfg.Workers.PopTimeout,
		IntentTimeout: a.cfg.Workers.IntentTimeout,
	})
}

// warmOpen primes the counters of every open activity from the catalog.
func (a *app) warmOpen(ctx context.Context, now time.Time) error {
	n, err := service.NewStockWarmer(a.repo, a.counters).WarmupOpen(ctx, now)
	if err != nil {
		return fmt.Errorf("warm open activities: %w", err)
	}
	if n == 0 {
		log.Println("WARN: no open activity to warm, every purchase will be rejected as sold out")
	}
	return nil
}

// openApp connects the durable store and the counter store named in cfg.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: telemetry.NewMetrics()}

	repo, err := storage.OpenRepository(ctx, storage.DatabaseOptions{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.repo = repo
	a.closers = append(a.closers, func() { repo.Close() })
	log.Printf("connected to %s", cfg.Database.Driver)

	switch cfg.CounterStore {
	case config.CounterStoreMemory:
		counters := memory.NewCounterStore()
		a.counters = counters
		a.queue = memory.NewIntentQueue(cfg.Workers.QueueSize, cfg.Seckill.MarkerTTL)
		a.closers = append(a.closers, counters.Close)
		log.Println("using in-process counter store")

	default:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			a.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.counters = storage.NewRedisAdapter(rdb)
		a.queue = storage.NewRedisQueue(rdb, cfg.Seckill.MarkerTTL,
			storage.WithQueueKeys(cfg.Redis.QueueKey, cfg.Redis.DeadLetterKey))
		a.closers = append(a.closers, func() { rdb.Close() })
		log.Println("connected to redis")
	}

	return a, nil
}

// errSharedStoreRequired is returned by commands that run in a separate process
// from the admission gate and so cannot see in-process counters.
var errSharedStoreRequired = errors.New("command requires counter_store=redis")
