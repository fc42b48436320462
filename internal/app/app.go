// Package app собирает зависимости сервиса выгрузки из конфигурации.
// Используется API, воркером и feedctl.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/athebyme/gomarket-platform/marketplace-service/config"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/cache"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/rules"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/storage"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/services"
	infra "github.com/athebyme/gomarket-platform/marketplace-service/internal/infrastructure/postgres"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/metrics"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/tx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App - собранный граф зависимостей
type App struct {
	Config   *config.Config
	Logger   interfaces.LoggerPort
	Registry *prometheus.Registry
	Metrics  *metrics.Collector

	Pool    *pgxpool.Pool
	Storage *storage.FeedStorage
	Cache   *cache.RedisCache
	Rules   *rules.FileRules

	// Bus, Commands равны nil, если Kafka выключена
	Bus      *messaging.KafkaMessaging
	Commands *messaging.CommandPublisher

	Feed *services.FeedService
}

// New подключается к PostgreSQL, Redis и (опционально) Kafka и собирает сервис выгрузки
func New(ctx context.Context, cfg *config.Config, logger interfaces.LoggerPort) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewCollector(a.Registry)

	if err := a.connectStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("Хранилище инициализировано")

	redisCache, err := cache.NewRedisCache(ctx, cache.Options{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		Prefix:       cfg.Redis.Prefix,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init redis cache: %w", err)
	}
	a.Cache = redisCache
	logger.Info("Кэш инициализирован")

	fileRules, err := rules.LoadFile(cfg.Feed.RulesPath, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load mapping rules: %w", err)
	}
	a.Rules = fileRules
	logger.Info("Правила сопоставления загружены",
		interfaces.LogField{Key: "categories", Value: len(fileRules.Categories())})

	var events services.EventPublisher
	if cfg.Kafka.Enabled {
		bus, err := messaging.NewKafkaMessaging(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.ClientID, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to init kafka: %w", err)
		}
		a.Bus = bus
		a.Commands = messaging.NewCommandPublisher(bus)
		events = messaging.NewEventPublisher(bus)
		logger.Info("Система обмена сообщениями инициализирована")
	}

	client := marketplace.NewClient(cfg.MarketplaceClientConfig(), logger)
	specClient := marketplace.NewSpecClient(cfg.SpecClientConfig(), logger)

	allocator := services.NewAllocator(a.Storage, logger, a.Metrics)
	specs := services.NewSpecProvider(specClient, a.Cache, cfg.SpecProviderConfig(), logger, a.Metrics)
	builder := services.NewFeedBuilder(services.FeedBuilderDeps{
		Products:  a.Storage,
		Rules:     a.Rules,
		Specs:     specs,
		Allocator: allocator,
		Store:     a.Storage,
		Events:    events,
		Logger:    logger,
		Metrics:   a.Metrics,
	}, cfg.MappingConfig(), cfg.BuilderConfig())
	submitter := services.NewSubmitter(a.Storage, client, events, cfg.SubmitConfig(), logger, a.Metrics)
	reconciler := services.NewReconciler(a.Storage, client, a.Cache, events, cfg.PollingConfig(), logger, a.Metrics)

	a.Feed = services.NewFeedService(builder, submitter, reconciler, allocator, specs, a.Storage, logger)
	logger.Info("Сервис выгрузки инициализирован")

	return a, nil
}

// NewStorageOnly подключает только PostgreSQL: этого достаточно для диагностики и наполнения пула
func NewStorageOnly(ctx context.Context, cfg *config.Config, logger interfaces.LoggerPort) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.connectStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connectStorage(ctx context.Context) error {
	cfg := a.Config
	pool, err := infra.Connect(ctx, infra.Options{
		Host:       cfg.Postgres.Host,
		Port:       cfg.Postgres.Port,
		User:       cfg.Postgres.User,
		Password:   cfg.Postgres.Password,
		DBName:     cfg.Postgres.DBName,
		SSLMode:    cfg.Postgres.SSLMode,
		PoolSize:   cfg.Postgres.PoolSize,
		Timeout:    cfg.Postgres.Timeout,
		ViaBouncer: cfg.Postgres.ViaBouncer,
		AppName:    cfg.AppName,
	})
	if err != nil {
		return err
	}
	a.Pool = pool

	if cfg.Postgres.AutoMigrate {
		if err := infra.Migrate(ctx, pool); err != nil {
			return err
		}
		a.Logger.Info("Схема БД применена")
	}

	feedStorage, err := storage.NewFeedStorage(ctx, pool, tx.NewTxManager(pool, a.Logger))
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	a.Storage = feedStorage
	return nil
}

// Close закрывает соединения с зависимостями
func (a *App) Close() error {
	var errs []error
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.Storage != nil {
		_ = a.Storage.Close()
	} else if a.Pool != nil {
		a.Pool.Close()
	}
	return errors.Join(errs...)
}
