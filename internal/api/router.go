// Package api provides the HTTP API for the application.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"norelock.dev/listenify/providerhost/internal/aggregate"
	"norelock.dev/listenify/providerhost/internal/api/handlers"
	appMiddleware "norelock.dev/listenify/providerhost/internal/api/middleware"
	"norelock.dev/listenify/providerhost/internal/auth"
	"norelock.dev/listenify/providerhost/internal/host"
	"norelock.dev/listenify/providerhost/internal/registry"
	"norelock.dev/listenify/providerhost/internal/services/system"
	"norelock.dev/listenify/providerhost/internal/utils"
	"norelock.dev/listenify/providerhost/pkg/websocket"
)

// Dependencies are the services the router exposes.
type Dependencies struct {
	Registry   *registry.Registry
	Host       *host.Manager
	Aggregator *aggregate.Aggregator
	Health     *system.HealthService
	// Metrics is optional; without it /metrics is not mounted.
	Metrics *system.MetricsService
	// Tokens is optional; without it admin routes answer 503.
	Tokens appMiddleware.TokenValidator

	AllowedOrigins []string
	MetricsPath    string
	WebSocket      websocket.Config
}

// Router is the main HTTP router for the API.
type Router struct {
	*chi.Mux
	logger *utils.Logger
}

// NewRouter creates a new API router.
func NewRouter(deps Dependencies, logger *utils.Logger) *Router {
	r := chi.NewRouter()
	apiLogger := logger.Named("api")

	var observer appMiddleware.RequestObserver
	var streamMetrics handlers.StreamMetrics
	if deps.Metrics != nil {
		observer = deps.Metrics
		streamMetrics = deps.Metrics
	}

	// Create middleware
	recoveryMiddleware := appMiddleware.NewRecoveryMiddleware(apiLogger)
	loggerMiddleware := appMiddleware.NewLoggerMiddleware(apiLogger, observer)
	authMiddleware := appMiddleware.NewAuthMiddleware(deps.Tokens, apiLogger)

	// Create handlers
	providerHandler := handlers.NewProviderHandler(deps.Registry, apiLogger)
	searchHandler := handlers.NewSearchHandler(deps.Aggregator, apiLogger)
	catalogueHandler := handlers.NewCatalogueHandler(deps.Host, deps.Aggregator, apiLogger)
	eventsHandler := handlers.NewEventsHandler(deps.Registry, deps.WebSocket, deps.AllowedOrigins, streamMetrics, apiLogger)
	healthHandler := handlers.NewHealthHandler(deps.Health, apiLogger)

	// Apply global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoveryMiddleware.Recovery)
	r.Use(loggerMiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Heartbeat("/ping"))

	r.Get("/health", healthHandler.Check)
	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", eventsHandler.Stream)

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", providerHandler.List)
			r.Get("/{platform}", providerHandler.Get)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireRole(auth.RoleAdmin))
				r.Post("/", providerHandler.Install)
				r.Delete("/{platform}", providerHandler.Remove)
				r.Put("/{platform}/enabled", providerHandler.SetEnabled)
				r.Put("/{platform}/variables", providerHandler.SetVariables)
			})
		})

		// Provider calls may be slow; bound them below the server write timeout.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(55 * time.Second))

			r.Get("/search", searchHandler.Search)
			r.Route("/search/sessions", func(r chi.Router) {
				r.Post("/", searchHandler.StartSession)
				r.Get("/{id}/next", searchHandler.NextPage)
				r.Delete("/{id}", searchHandler.EndSession)
			})

			r.Post("/media/source", catalogueHandler.MediaSource)
			r.Post("/media/info", catalogueHandler.MusicInfo)
			r.Post("/media/lyric", catalogueHandler.Lyric)
			r.Post("/albums/info", catalogueHandler.AlbumInfo)
			r.Post("/sheets/info", catalogueHandler.SheetInfo)
			r.Post("/artists/works", catalogueHandler.ArtistWorks)
			r.Get("/toplists", catalogueHandler.TopLists)
			r.Post("/toplists/detail", catalogueHandler.TopListDetail)
			r.Get("/tags", catalogueHandler.RecommendTags)
			r.Post("/tags/sheets", catalogueHandler.SheetsByTag)
			r.Post("/import/item", catalogueHandler.ImportItem)
			r.Post("/import/sheet", catalogueHandler.ImportSheet)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithError(w, http.StatusNotFound, "Route not found")
	})

	return &Router{
		Mux:    r,
		logger: apiLogger,
	}
}
