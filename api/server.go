/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     zerolog access log (method, path, status, duration)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /health               Liveness + store reachability
  /metrics              Prometheus exposition (when configured)
  /api/leave-requests/* Leave submission and edits
  /api/overtimes/*      Overtime submission
  /api/employee-histories/*
  /api/approvables/*    Chain reads
  /api/approvals/*      Inbox and decisions
  /api/employees/*      Entitlements and attendance
  /api/admin/*          Bulk recalculation
  /api/scenarios/*      Demo data (when a seeder is configured)

SECURITY NOTE:
  No authentication middleware. The acting user is trusted from the
  X-User-ID header set by the gateway in front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter creates a new router with all routes configured. An empty
// origins list allows any origin.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
	}))

	r.Get("/health", h.Health)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/leave-requests", func(r chi.Router) {
			r.Post("/", h.SubmitLeave)
			r.Get("/{id}", h.GetLeave)
			r.Put("/{id}", h.UpdateLeave)
			r.Delete("/{id}", h.DeleteLeave)
		})

		r.Route("/overtimes", func(r chi.Router) {
			r.Post("/", h.SubmitOvertime)
			r.Delete("/{id}", h.DeleteOvertime)
		})

		r.Route("/employee-histories", func(r chi.Router) {
			r.Post("/", h.SubmitHistory)
			r.Delete("/{id}", h.DeleteHistory)
		})

		r.Get("/approvables/{kind}/{id}", h.GetChain)

		r.Route("/approvals", func(r chi.Router) {
			r.Get("/pending", h.PendingApprovals)
			r.Post("/{id}/approve", h.Approve)
			r.Post("/{id}/reject", h.Reject)
		})

		r.Route("/employees/{id}", func(r chi.Router) {
			r.Get("/entitlements/{categoryID}", h.GetEntitlement)
			r.Get("/attendance", h.ListAttendance)
			r.Post("/attendance/check-in", h.CheckIn)
			r.Post("/attendance/check-out", h.CheckOut)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/recalc", h.Recalc)
		})

		if h.Seeder != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}

// requestLogger writes one zerolog line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				ev := log.Info()
				if status >= http.StatusInternalServerError {
					ev = log.Error()
				}
				ev.Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("took", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("user_id", r.Header.Get(UserHeader)).
					Msg("HTTP request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
