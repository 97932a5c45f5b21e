package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-usage/internal/middleware"
)

// RouterConfig tunes the middleware stack.
type RouterConfig struct {
	AllowedOrigins    []string
	RequestsPerMinute int
	RequestTimeout    time.Duration
}

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, authHandler *AuthHandler, authMW *middleware.AuthMiddleware, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	limiter := middleware.NewRateLimitMiddleware()
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 120
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(authMW.Authenticate)
		r.Use(limiter.RateLimit(perMinute, 60))

		r.Post("/auth/login", authHandler.Login)
		r.Get("/me", h.Me)

		r.Route("/assets", func(r chi.Router) {
			r.Get("/", h.ListAssets)
			r.With(authMW.RequireManagerTier).Post("/", h.CreateAsset)
			r.Get("/last-use", h.LastUse)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetAsset)
				r.With(authMW.RequireManagerTier).Put("/", h.UpdateAsset)

				r.Get("/session", h.GetOpenSession)
				r.Get("/meter", h.CurrentMeter)
				r.Post("/departure", h.OpenSession)
				r.Post("/return", h.CloseSession)

				r.Get("/plan", h.GetPlan)
				r.With(authMW.RequireManagerTier).Put("/plan", h.UpsertPlan)
				r.Get("/services", h.ListServices)
				r.With(authMW.RequireManagerTier).Post("/services", h.RecordService)
				r.Get("/maintenance", h.MaintenanceStatus)
			})
		})

		r.Route("/services", func(r chi.Router) {
			r.Use(authMW.RequireManagerTier)
			r.Put("/{id}", h.UpdateService)
			r.Delete("/{id}", h.DeleteService)
		})

		r.Get("/fleet/status", h.FleetStatus)
		r.Get("/maintenance/alerts", h.MaintenanceAlerts)

		r.Route("/fuel", func(r chi.Router) {
			r.Get("/", h.ListFuel)
			r.Post("/", h.LogFuel)
			r.Get("/totals", h.FuelTotals)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Use(authMW.RequireManagerTier)
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Put("/{id}", h.UpdateAccount)
		})
	})

	return r
}

// requestLogger logs one line per request through logrus.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		entry := log.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  chimw.GetReqID(r.Context()),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("Request completed")
			return
		}
		entry.Debug("Request completed")
	})
}
