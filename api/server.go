/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/products/*          Catalog, summaries, trash, manual adjustments
  /api/orders/*            Order fulfillment
  /api/purchase-orders/*   Purchase approval
  /api/admin/*             Replay
  /api/reports/*           Workbook export
  /api/scenarios/*         Demo scenarios
  /metrics                 Prometheus
  /healthz                 Liveness + store ping

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig carries the optional parts of the router.
type RouterConfig struct {
	AllowedOrigins []string
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Post("/", h.CreateProduct)
			r.Get("/{id}", h.GetProduct)
			r.Get("/{id}/summary", h.GetSummary)
			r.Post("/{id}/trash", h.RecordTrash)
			r.Put("/{id}/manual-adjustment", h.SetManualAdjustment)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Put("/{id}", h.UpdateOrder)
			r.Post("/{id}/delete", h.ReverseOrder)
			r.Delete("/{id}", h.PurgeOrder)
		})

		r.Route("/purchase-orders", func(r chi.Router) {
			r.Post("/", h.CreatePurchaseOrder)
			r.Get("/{id}", h.GetPurchaseOrder)
			r.Put("/{id}", h.UpdatePurchaseOrder)
			r.Post("/{id}/lines/{lineID}/status", h.SetLineStatus)
			r.Delete("/{id}", h.DeletePurchaseOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/rebuild", h.RebuildAll)
			r.Post("/rebuild/{productID}", h.RebuildProduct)
			r.Get("/replay-runs", h.ListReplayRuns)
		})

		r.Get("/reports/inventory.xlsx", h.InventoryReport)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// Health pings the store when it supports it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs one line per request with zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				}
				switch {
				case ww.Status() >= 500:
					log.Error("request", fields...)
				case ww.Status() >= 400:
					log.Warn("request", fields...)
				default:
					log.Debug("request", fields...)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
