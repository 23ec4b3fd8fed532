package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/yuv-man/asd-server/internal/handlers"
	"github.com/yuv-man/asd-server/internal/middleware"
	"github.com/yuv-man/asd-server/internal/websocket"
)

// HealthCheck reports whether a backing store is reachable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	JWTAuth     *middleware.JWTAuth
	AuthLimiter *middleware.RateLimiter
	Auth        *handlers.AuthHandler
	Users       *handlers.UserHandler
	Attempts    *handlers.AttemptHandler
	Exercises   *handlers.ExerciseHandler
	Dashboard   *handlers.DashboardHandler
	Hub         *websocket.Hub
	Health      HealthCheck
	FrontendURL string
}

func New(d Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(strings.Split(d.FrontendURL, ",")...))

	// Auth rate limiter (10 req/min per IP)
	authLimiter := d.AuthLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(10, time.Minute)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Users (register/login are public) ────
		r.Route("/users", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authLimiter.Middleware)
				r.Post("/", d.Auth.Register)
				r.Post("/login", d.Auth.Login)
			})

			r.Group(func(r chi.Router) {
				r.Use(d.JWTAuth.Middleware)
				r.Get("/me", d.Users.GetMe)
				r.Put("/me/areas/{area}", d.Users.UpdateArea)
			})
		})

		// ──── Exercises ────
		r.Route("/exercises", func(r chi.Router) {
			r.Use(d.JWTAuth.Middleware)
			r.Get("/", d.Exercises.List)
			r.Post("/", d.Exercises.Save)
			r.Get("/session", d.Exercises.Session)
			r.Get("/{id}", d.Exercises.Get)
			r.Get("/{id}/history", d.Exercises.History)
		})

		// ──── Attempts ────
		r.Route("/attempts", func(r chi.Router) {
			r.Use(d.JWTAuth.Middleware)
			r.Post("/", d.Attempts.Create)
			r.Get("/{id}", d.Attempts.Get)
			r.Post("/{id}/reprocess", d.Attempts.Reprocess)
		})

		// ──── Dashboard ────
		r.Route("/dashboard", func(r chi.Router) {
			r.Use(d.JWTAuth.Middleware)
			r.Get("/daily-summaries", d.Dashboard.DailySummaries)
			r.Get("/weekly-summaries", d.Dashboard.WeeklySummaries)
			r.Get("/weekly-summaries/latest", d.Dashboard.LatestWeekly)
			r.Get("/area-progress", d.Dashboard.AreaProgress)
			r.Get("/improvement/{area}", d.Dashboard.Improvement)
			r.Get("/recent-activity", d.Dashboard.RecentActivity)
			r.Get("/usage", d.Dashboard.Usage)
		})

		// ──── WebSocket ────
		if d.Hub != nil {
			r.Get("/ws", d.Hub.HandleWebSocket)
		}
	})

	return r
}
