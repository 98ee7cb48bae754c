package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/equipment-reservations/internal/idempotency"
	"github.com/robertarktes/equipment-reservations/internal/observability"
	"github.com/robertarktes/equipment-reservations/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, ratePerMinute int, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(RateLimitMiddleware(rl, ratePerMinute))

	r.Route("/v1/reservations", func(r chi.Router) {
		r.With(IdempotencyMiddleware(idemp)).Post("/", h.CreateReservation)
		r.Get("/", h.ListReservations)
		r.Get("/user/{email}", h.ListUserReservations)
		r.Get("/{id}", h.GetReservation)
		r.Put("/{id}", h.UpdateReservation)
		r.Delete("/{id}", h.DeleteReservation)
		r.Post("/{id}/return", h.ReturnReservation)
		r.Post("/{id}/history", h.CreateHistory)
	})
	r.Get("/v1/history", h.ListHistory)

	r.Route("/v1/equipment", func(r chi.Router) {
		r.With(IdempotencyMiddleware(idemp)).Post("/", h.CreateEquipment)
		r.Get("/", h.ListEquipment)
		r.Get("/{id}", h.GetEquipment)
		r.Put("/{id}", h.UpdateEquipment)
		r.Delete("/{id}", h.DeleteEquipment)
	})

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
