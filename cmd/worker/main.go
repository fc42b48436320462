package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/config"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/app"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/metrics"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "путь к файлу конфигурации")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Инициализация воркера",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName + "-worker"},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feedApp, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Ошибка инициализации сервиса выгрузки", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer func() {
		if err := feedApp.Close(); err != nil {
			log.Error("Ошибка при закрытии соединений", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Port, feedApp, log)
		})
	}

	if feedApp.Bus != nil {
		if err := feedApp.Bus.EnsureTopics(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor,
			messaging.CommandsTopic, messaging.EventsTopic); err != nil {
			log.Warn("Не удалось создать темы Kafka", interfaces.LogField{Key: "error", Value: err.Error()})
		}

		g.Go(func() error {
			return consumeCommands(gctx, feedApp, log)
		})
	} else {
		log.Warn("Kafka выключена: воркер только опрашивает статусы")
	}

	g.Go(func() error {
		pollLoop(gctx, feedApp, cfg.Polling.Interval, log)
		return nil
	})

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-reload:
				if err := feedApp.Rules.Reload(); err != nil {
					log.Error("Ошибка перезагрузки правил", interfaces.LogField{Key: "error", Value: err.Error()})
					continue
				}
				log.Info("Правила сопоставления перезагружены")
			}
		}
	})

	log.Info("Воркер запущен")
	if err := g.Wait(); err != nil {
		log.Error("Воркер остановлен с ошибкой", interfaces.LogField{Key: "error", Value: err.Error()})
		return
	}
	log.Info("Воркер корректно завершил работу")
}

// pollLoop периодически сверяет отправленные пакеты с маркетплейсом
func pollLoop(ctx context.Context, feedApp *app.App, interval time.Duration, log interfaces.LoggerPort) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		polled, err := feedApp.Feed.PollDue(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Ошибка цикла опроса", interfaces.LogField{Key: "error", Value: err.Error()})
		} else if polled > 0 {
			log.Info("Цикл опроса завершен", interfaces.LogField{Key: "polled", Value: polled})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// consumeCommands обрабатывает команды из Kafka до отмены контекста
func consumeCommands(ctx context.Context, feedApp *app.App, log interfaces.LoggerPort) error {
	handler := instrument(messaging.CommandHandler(feedApp.Feed, log), feedApp.Metrics, log)

	unsubscribe, err := feedApp.Bus.Subscribe(ctx, messaging.CommandsTopic, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", messaging.CommandsTopic, err)
	}
	log.Info("Подписка на команды установлена", interfaces.LogField{Key: "topic", Value: messaging.CommandsTopic})

	<-ctx.Done()
	log.Info("Отмена подписки на команды")
	return unsubscribe()
}

// instrument добавляет к обработчику команд метрики и логирование
func instrument(next interfaces.MessageHandler, m *metrics.Collector, log interfaces.LoggerPort) interfaces.MessageHandler {
	return func(ctx context.Context, msg *interfaces.Message) error {
		start := time.Now()
		err := next(ctx, msg)
		seconds := time.Since(start).Seconds()

		switch {
		case errors.Is(err, messaging.ErrUnknownCommand):
			m.CommandProcessed("unknown", seconds)
		case err != nil:
			m.CommandProcessed("error", seconds)
		default:
			m.CommandProcessed("success", seconds)
			log.InfoWithContext(ctx, "Команда успешно обработана",
				interfaces.LogField{Key: "message_id", Value: msg.ID},
				interfaces.LogField{Key: "duration", Value: seconds},
			)
		}
		return err
	}
}

// serveMetrics отдает /metrics и /health воркера
func serveMetrics(ctx context.Context, port int, feedApp *app.App, log interfaces.LoggerPort) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(feedApp.Registry))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("Запуск HTTP сервера для метрик", interfaces.LogField{Key: "addr", Value: server.Addr})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
