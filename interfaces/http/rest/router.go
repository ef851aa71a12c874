// Package rest wires the HTTP surface: health probes, prometheus
// metrics, the websocket upgrade route and the authenticated admin
// API.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"boardsync/interfaces/http/rest/handlers"
	"boardsync/interfaces/http/rest/middleware"
	"boardsync/pkg/auth"
	"boardsync/pkg/observability"
)

// Router assembles the HTTP handler tree.
type Router struct {
	validator    *auth.Validator
	adminHandler *handlers.AdminHandler
	docHandler   *handlers.DocHandler
	wsHandler    http.HandlerFunc
	enableCORS   bool
	logger       *zap.Logger
}

// NewRouter creates a router instance.
func NewRouter(
	validator *auth.Validator,
	adminHandler *handlers.AdminHandler,
	docHandler *handlers.DocHandler,
	wsHandler http.HandlerFunc,
	enableCORS bool,
	logger *zap.Logger,
) *Router {
	return &Router{
		validator:    validator,
		adminHandler: adminHandler,
		docHandler:   docHandler,
		wsHandler:    wsHandler,
		enableCORS:   enableCORS,
		logger:       logger,
	}
}

// Setup configures all routes and middleware.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	router.Use(observability.Middleware)

	if rt.enableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"http://localhost:3000", "https://*.boardsync.app"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// The upgrade handler authenticates on its own; websocket clients
	// cannot send headers through the browser API.
	router.Get("/ws/{docID}", rt.wsHandler)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.validator, rt.logger))

		r.Route("/docs", func(r chi.Router) {
			r.Get("/", rt.docHandler.ListDocuments)
			r.Get("/{docID}", rt.docHandler.GetDocument)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/compaction", rt.adminHandler.TriggerCompaction)
		})
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
