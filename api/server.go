/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. Session:    Bearer token check on mutating routes (when configured)

ROUTE GROUPS:
  /api/health           Health check (public)
  /api/login            Session login (public)
  /api/records/*        Record CRUD (reads public, writes gated)
  /api/stats            Lease statistics (public)
  /api/fetch-mileage    Manual telemetry trigger (gated)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/login", h.Login)
		r.Get("/stats", h.GetStats)

		r.Route("/records", func(r chi.Router) {
			r.Get("/", h.ListRecords)
			r.Group(func(r chi.Router) {
				r.Use(h.requireSession)
				r.Post("/", h.CreateRecord)
				r.Put("/{id}", h.UpdateRecord)
				r.Delete("/{id}", h.DeleteRecord)
			})
		})

		r.With(h.requireSession).Post("/fetch-mileage", h.FetchMileage)
	})

	return r
}

// requireSession rejects requests without a valid session token. When no
// session service is configured the server runs open, for local use.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Sessions == nil || !h.Sessions.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if err := h.Sessions.Validate(r.Header.Get("Authorization")); err != nil {
			writeError(w, http.StatusUnauthorized, "Session required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
