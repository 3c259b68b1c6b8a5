package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes wires the handler set onto a router with the standard
// middleware stack.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Server identity header distinguishes the real process from the stub.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Server-Identity", "prospectai")
			next.ServeHTTP(w, req)
		})
	})

	// The API binds to localhost; CORS exists for local dashboards only.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8090"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/{id}", h.GetCampaign)
			r.Post("/{id}/control", h.PostControl)
		})
		r.Get("/system/status", h.GetSystemStatus)
		r.Get("/cache/stats", h.GetCacheStats)
		r.Get("/limits", h.GetLimits)
	})

	return r
}
