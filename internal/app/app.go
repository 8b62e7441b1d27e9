// Package app wires one instance of every service per process.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"model_registry/internal/askai"
	"model_registry/internal/billing"
	"model_registry/internal/catalog"
	"model_registry/internal/config"
	"model_registry/internal/metrics"
	"model_registry/internal/queue"
	"model_registry/internal/registry"
	"model_registry/internal/storage"
	"model_registry/internal/usage"
	"model_registry/internal/utils"
)

var logger = utils.NewLogger("app")

// App holds the process-wide services
type App struct {
	Config      *config.Config
	DB          *storage.DB
	Redis       *redis.Client
	Prometheus  *prometheus.Registry
	Metrics     *metrics.Metrics
	Catalog     *catalog.Client
	Registry    *registry.Registry
	Spend       billing.Service
	ModelRepo   *storage.ModelRepository
	UsageRepo   *storage.UsageRepository
	UsageWorker *storage.UsageQueueWorker
	Recorder    *usage.Recorder
	Completions *askai.Service

	usageQueue queue.Queue
	usageDLQ   queue.DeadLetterQueue
}

// OpenDB opens the backing store described by cfg
func OpenDB(ctx context.Context, cfg *config.Config) (*storage.DB, error) {
	dbConfig := storage.DBConfig{
		Driver:          cfg.Database.Driver,
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := storage.NewDB(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// New builds every service. Nothing runs in the background until Start.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	client, err := catalog.NewClient(catalog.Config{
		APIKey:   cfg.OpenRouter.APIKey,
		BaseURL:  cfg.OpenRouter.BaseURL,
		SiteURL:  cfg.OpenRouter.SiteURL,
		SiteName: cfg.OpenRouter.SiteName,
		Timeout:  cfg.OpenRouter.Timeout,
	})
	if err != nil {
		return nil, err
	}

	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:     cfg,
		DB:         db,
		Prometheus: prometheus.NewRegistry(),
		Catalog:    client,
		Spend:      billing.NewNoopService(),
		ModelRepo:  db.NewModelRepository(),
		UsageRepo:  db.NewUsageRepository(),
	}
	a.Prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Prometheus)

	if err := a.initUsagePipeline(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.Registry = registry.New(a.ModelRepo, client, registry.Config{
		MemoryTTL:     cfg.Registry.MemoryTTL,
		StoreTTL:      cfg.Registry.StoreTTL,
		SyncBatchSize: cfg.Registry.SyncBatchSize,
	}, a.Metrics)
	a.Recorder = usage.NewRecorder(a.UsageWorker, a.UsageRepo, a.Metrics)
	a.Completions = askai.NewService(a.Registry, client, a.Recorder, a.Metrics)

	return a, nil
}

// initUsagePipeline picks Redis or in-memory queues and builds the worker.
func (a *App) initUsagePipeline(ctx context.Context) error {
	qcfg := queue.DefaultConfig(a.Config.UsageQueue.Name)
	qcfg.BatchSize = a.Config.UsageQueue.BatchSize
	qcfg.BatchTimeout = a.Config.UsageQueue.BatchTimeout
	qcfg.MaxRetries = a.Config.UsageQueue.MaxRetries
	qcfg.RetryBackoff = a.Config.UsageQueue.RetryBackoff

	if a.Config.Redis.Enabled() {
		rc := a.Config.Redis
		client, err := storage.NewRedisClient(ctx, storage.RedisConfig{
			Address:      rc.Address,
			Password:     rc.Password,
			DB:           rc.DB,
			PoolSize:     rc.PoolSize,
			MinIdleConns: rc.MinIdleConns,
			DialTimeout:  rc.DialTimeout,
			ReadTimeout:  rc.ReadTimeout,
			WriteTimeout: rc.WriteTimeout,
		})
		if err != nil {
			return err
		}
		a.Redis = client

		if a.usageQueue, err = queue.NewRedisQueue(ctx, client, qcfg); err != nil {
			return fmt.Errorf("failed to create usage queue: %w", err)
		}
		if a.usageDLQ, err = queue.NewRedisDeadLetterQueue(client, qcfg); err != nil {
			return fmt.Errorf("failed to create usage DLQ: %w", err)
		}
		a.Spend = billing.NewRedisService(client)
		logger.Info("Usage pipeline uses Redis", "queue", qcfg.QueueName)
	} else {
		a.usageQueue = queue.NewMemoryQueue(qcfg)
		a.usageDLQ = queue.NewMemoryDeadLetterQueue()
		logger.Info("Usage pipeline uses in-memory queue", "queue", qcfg.QueueName)
	}

	a.UsageWorker = storage.NewUsageQueueWorker(a.usageQueue, a.usageDLQ, a.UsageRepo, a.Spend, qcfg)
	return nil
}

// Start launches background workers
func (a *App) Start(ctx context.Context) {
	a.UsageWorker.Start(ctx)
}

// Shutdown drains the facade, persists pending usage and releases every
// connection.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Completions.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("draining completions: %w", err))
	}
	if err := a.Recorder.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing usage: %w", err))
	}
	if err := a.UsageWorker.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping usage worker: %w", err))
	}
	a.Registry.Wait()

	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) close() error {
	var errs []error
	if a.usageQueue != nil {
		errs = append(errs, a.usageQueue.Close())
	}
	if a.usageDLQ != nil {
		errs = append(errs, a.usageDLQ.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
