package decideapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/verdandi/internal/datafile"
	"github.com/rafaeljc/verdandi/internal/decision"
	"github.com/rafaeljc/verdandi/internal/event"
)

// ConfigSource resolves an SDK key to a parsed project snapshot.
// We use the interface type to allow for mocking in unit tests.
type ConfigSource interface {
	GetConfig(ctx context.Context, sdkKey string) (*datafile.Config, error)
	Invalidate(sdkKey string)
}

// API is the main struct that holds dependencies and the router for the decide service.
// It follows the Dependency Injection pattern to facilitate testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// configs resolves SDK keys to project snapshots.
	configs ConfigSource

	// decisions runs the variation state machine.
	decisions *decision.Service

	// events receives one impression per delivered decision.
	events event.Processor

	// maxBodyBytes caps the request body size accepted by decode.
	maxBodyBytes int64
}

// NewAPI creates a new API instance.
//
// Panics if configs, decisionSvc or events are nil. maxBodyBytes <= 0
// disables the body cap.
func NewAPI(configs ConfigSource, decisionSvc *decision.Service, events event.Processor, maxBodyBytes int64) *API {
	// We check the interfaces explicitly.
	// An interface is only nil if it has no underlying type and no value.
	if configs == nil {
		panic("decideapi: config source cannot be nil")
	}
	if decisionSvc == nil {
		panic("decideapi: decision service cannot be nil")
	}
	if events == nil {
		panic("decideapi: event processor cannot be nil")
	}

	api := &API{
		Router:       chi.NewRouter(),
		configs:      configs,
		decisions:    decisionSvc,
		events:       events,
		maxBodyBytes: maxBodyBytes,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// 1. Global Middleware Stack
	// RequestID: Adds a unique ID to each request context (essential for tracing).
	a.Router.Use(middleware.RequestID)
	// RealIP: correctly sets the IP if behind a proxy/LB.
	a.Router.Use(middleware.RealIP)
	// Logger: Logs request method, path, status, and duration.
	a.Router.Use(RequestLogger)
	// Metrics: Records latency and status counters per route.
	a.Router.Use(Metrics)
	// Recoverer: Prevents the server from crashing on panics, returning 500 instead.
	a.Router.Use(middleware.Recoverer)
	// Content-Type: Forces JSON content type for API responses.
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	// 2. Public Routes
	a.Router.Get("/health", a.handleHealthCheck)

	// 3. API V1 Routes
	a.Router.Route("/v1", func(r chi.Router) {
		r.Post("/decide", a.handleDecide)

		// Drops the cached snapshot so the next decide reloads the datafile.
		r.Post("/config/{sdkKey}/invalidate", a.handleInvalidateConfig)
	})
}

// handleHealthCheck verifies the service is serving HTTP.
// Deep dependency checks live on the observability server's readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
