package http

import (
	"github.com/eventora/ticketing-core/internal/config"
	"github.com/eventora/ticketing-core/internal/observability"
	"github.com/eventora/ticketing-core/internal/rateLimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(cfg *config.Config, h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware)
	r.Use(TracingMiddleware)

	// The webhook authenticates with the gateway's API key and must not
	// demand an Idempotency-Key: the settlement update itself is the
	// idempotency mechanism for gateway retries.
	r.Group(func(r chi.Router) {
		r.Use(WebhookAuthMiddleware(cfg.WebhookAPIKey))
		r.Post("/v1/payments/webhook", h.PaymentWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(cfg.JWTSecret))
		r.Use(RateLimitMiddleware(rl))

		r.Group(func(r chi.Router) {
			r.Use(IdempotencyMiddleware)
			r.Post("/v1/bookings", h.CreateBooking)
		})

		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Post("/v1/bookings/{id}/cancel", h.CancelBooking)
		r.Post("/v1/bookings/{id}/settle", h.AdminSettle)
		r.Get("/v1/bookings/{id}/payment", h.PaymentDescriptor)
		r.Get("/v1/events/{id}/seats", h.SeatStatus)
	})

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
