/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. AccessLog:  One zap line per request
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the frontend
  Inside /api (except /api/health):
  6. Authenticate:    Bearer token to Session
  7. RateLimitByUser: Token bucket per user
  Per route group: RequireRole. On apply routes: Idempotency.

ROUTE GROUPS:
  /api/health       Liveness, no session
  /api/employee/*   Any authenticated user, acting for themselves
  /api/manager/*    Managers and admins
  /api/admin/*      Admins only (plus /scenarios when EnableScenarios)

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Session, rate limit, idempotency
  - cmd/server/main.go: Server startup
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/warp/leave-engine/timeoff"
	"go.uber.org/zap"
)

// Options configures the router around the handler.
type Options struct {
	SessionSecret  []byte
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	Redis          *redis.Client // nil disables idempotency
	IdempotencyTTL time.Duration
	Logger         *zap.Logger

	// EnableScenarios mounts the demo scenario loader. Development only.
	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts Options) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	ttl := opts.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Idempotent-Replayed"},
		AllowCredentials: true,
	}))

	idempotent := Idempotency(opts.Redis, ttl, logger.Named("idempotency"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(opts.SessionSecret))
			r.Use(RateLimitByUser(opts.RateLimitRPS, opts.RateLimitBurst))

			// Employee routes
			r.Route("/employee", func(r chi.Router) {
				r.Get("/balance", h.GetBalance)
				r.With(idempotent).Post("/leave", h.ApplyLeave)
				r.Get("/leave", h.ListMyLeave)
				r.Get("/leave/{id}", h.GetLeave)
				r.Delete("/leave/{id}", h.CancelLeave)
				r.Get("/holidays", h.GetHolidays)
				r.Get("/working-days", h.GetWorkingDays)
				r.Get("/leave-types", h.ListLeaveTypes)
				r.Post("/attendance/check-in", h.CheckIn)
				r.Post("/attendance/check-out", h.CheckOut)
				r.Get("/attendance", h.GetAttendance)
			})

			// Manager routes
			r.Route("/manager", func(r chi.Router) {
				r.Use(RequireRole(timeoff.RoleManager, timeoff.RoleAdmin))
				r.Get("/team", h.GetTeam)
				r.Get("/team/{id}/balance", h.GetMemberBalance)
				r.Get("/team/attendance", h.GetTeamAttendance)
				r.Get("/leave/pending", h.ListPendingLeave)
				r.Get("/leave/history", h.ListTeamLeave)
				r.Put("/leave/{id}/approve", h.ApproveLeave)
				r.Put("/leave/{id}/reject", h.RejectLeave)
				r.With(idempotent).Post("/leave/apply", h.ApplyOnBehalf)
			})

			// Admin routes
			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireRole(timeoff.RoleAdmin))
				r.Get("/users", h.ListUsers)
				r.Post("/users", h.CreateUser)
				r.Put("/users/{id}", h.UpdateUser)
				r.Delete("/users/{id}", h.DeactivateUser)
				r.Get("/locations", h.ListLocations)
				r.Post("/locations", h.CreateLocation)
				r.Post("/locations/{id}/holidays", h.AssignHolidays)
				r.Get("/leave-types", h.ListLeaveTypes)
				r.Post("/leave-types", h.CreateLeaveType)
				r.Get("/holidays", h.ListHolidays)
				r.Post("/holidays", h.CreateHoliday)
				r.Put("/holidays/{id}", h.UpdateHoliday)
				r.Delete("/holidays/{id}", h.DeleteHoliday)
				r.Post("/leave-balances/allocate", h.AllocateBalance)
				if opts.EnableScenarios {
					r.Get("/scenarios", h.ListScenarios)
					r.Post("/scenarios/load", h.LoadScenario)
				}
			})
		})
	})

	return r
}
