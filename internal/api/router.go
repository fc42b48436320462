package api

import (
	"net/http"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/api/handlers"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/api/middleware"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/auth"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/athebyme/gomarket-platform/marketplace-service/docs"
)

// RouterOptions параметры HTTP-слоя
type RouterOptions struct {
	CORSAllowedOrigins []string
	RequestTimeout     time.Duration
	RateLimit          float64
	RateBurst          int
	// Verifier проверяет токены Keycloak; nil отключает авторизацию
	Verifier   auth.TokenVerifier
	ReadRoles  []string
	WriteRoles []string
	// Metrics отдает метрики Prometheus на /metrics, если задан
	Metrics http.Handler
}

// SetupRouter настраивает маршрутизатор
func SetupRouter(
	feed handlers.FeedService,
	queue handlers.BuildQueue,
	logger interfaces.LoggerPort,
	opts RouterOptions,
) *chi.Mux {
	r := chi.NewRouter()

	// Глобальные middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.CORS(opts.CORSAllowedOrigins))
	r.Use(middleware.Tracing)
	r.Use(middleware.SecurityHeaders)

	r.Method(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))
	r.Method(http.MethodHead, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimiter(opts.RateLimit, opts.RateBurst))
		r.Use(middleware.KeycloakAuth(opts.Verifier, logger))

		batchHandler := handlers.NewBatchHandler(feed, queue, logger)
		readers := append(append([]string{}, opts.ReadRoles...), opts.WriteRoles...)
		canRead := middleware.RequireRoles(opts.Verifier, readers...)
		canWrite := middleware.RequireRoles(opts.Verifier, opts.WriteRoles...)

		// Маршруты для пакетов выгрузки
		r.Route("/batches", func(r chi.Router) {
			r.With(canRead).Get("/", batchHandler.ListBatches)
			r.With(canWrite).Post("/", batchHandler.BuildBatch)

			r.Route("/{id}", func(r chi.Router) {
				r.With(canRead).Get("/", batchHandler.GetBatch)
				r.With(canRead).Get("/items", batchHandler.ListItems)
				r.With(canWrite).Post("/submit", batchHandler.SubmitBatch)
				r.With(canWrite).Post("/poll", batchHandler.PollBatch)
				r.With(canWrite).Post("/abandon", batchHandler.AbandonBatch)
			})
		})

		r.With(canRead).Get("/identifiers/stats", batchHandler.IdentifierStats)
		r.With(canWrite).Post("/specs/refresh", batchHandler.RefreshSpecs)
	})

	return r
}
