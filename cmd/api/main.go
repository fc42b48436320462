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
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/api"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/api/handlers"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/app"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/metrics"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/auth"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
)

// @title Marketplace Feed API
// @version 1.0
// @description Сборка, отправка и сверка пакетов выгрузки товаров на маркетплейс.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	configPath := flag.String("config", "", "путь к файлу конфигурации")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.New(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Инициализация сервиса",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	feedApp, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Ошибка инициализации сервиса выгрузки", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	var verifier auth.TokenVerifier
	if cfg.Keycloak.Enabled {
		keycloakClient, err := auth.NewKeycloakClient(ctx, cfg.Keycloak.GetKeycloakConfig())
		if err != nil {
			log.Fatal("Ошибка инициализации Keycloak", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		verifier = keycloakClient
		log.Info("Авторизация Keycloak включена", interfaces.LogField{Key: "realm", Value: cfg.Keycloak.Realm})
	} else {
		log.Warn("Авторизация выключена: API доступно без токена")
	}

	var queue handlers.BuildQueue
	if feedApp.Commands != nil {
		queue = feedApp.Commands
	}

	opts := api.RouterOptions{
		CORSAllowedOrigins: cfg.Security.CORSAllowOrigins,
		RequestTimeout:     cfg.Server.RequestTimeout,
		RateLimit:          cfg.Server.RateLimit,
		RateBurst:          cfg.Server.RateBurst,
		Verifier:           verifier,
		ReadRoles:          cfg.Security.ReadRoles,
		WriteRoles:         cfg.Security.WriteRoles,
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = metrics.Handler(feedApp.Registry)
	}
	router := api.SetupRouter(feedApp.Feed, queue, log, opts)
	log.Info("Маршрутизатор настроен")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)

	go func() {
		for range reload {
			if err := feedApp.Rules.Reload(); err != nil {
				log.Error("Ошибка перезагрузки правил", interfaces.LogField{Key: "error", Value: err.Error()})
				continue
			}
			log.Info("Правила сопоставления перезагружены")
		}
	}()

	go func() {
		log.Info("Сервер запущен", interfaces.LogField{Key: "address", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Ошибка запуска сервера", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Ошибка при graceful shutdown", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		log.Info("HTTP сервер остановлен")

		cancel()
		if err := feedApp.Close(); err != nil {
			log.Error("Ошибка при закрытии соединений", interfaces.LogField{Key: "error", Value: err.Error()})
		}

		close(done)
	}()

	<-done
	log.Info("Сервер корректно завершил работу")
}
