package web

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/citewise/citewise/internal/ratelimit"
	"github.com/citewise/citewise/internal/web/handlers"
	"github.com/citewise/citewise/internal/web/middleware"
)

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	ResolveHandler  *handlers.ResolveHandler
	CheckoutHandler *handlers.CheckoutHandler
	WebhookHandler  *handlers.WebhookHandler
	AdminHandler    *handlers.AdminHandler
	Limiter         *ratelimit.Limiter
	AdminAPIToken   string
	DB              *sql.DB
}

// NewRouter wires all routes into a Chi router.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RealIP)

	// Public form API (CORS, rate limited)
	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS)
		r.Use(middleware.RateLimit(deps.Limiter))

		r.Post("/api/v1/citations/resolve", deps.ResolveHandler.HandleResolve)
		r.Options("/api/v1/citations/resolve", deps.ResolveHandler.HandleResolve)
		r.Post("/api/v1/checkouts", deps.CheckoutHandler.HandleCreateCheckout)
		r.Options("/api/v1/checkouts", deps.CheckoutHandler.HandleCreateCheckout)
	})

	// Payment provider callbacks (signature-verified, no rate limit: the
	// provider retries on 429 and that retry loop belongs to us, not them)
	r.Post("/webhooks/payment", deps.WebhookHandler.HandlePaymentEvent)

	// Operator surface
	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminAuth(deps.AdminAPIToken))

		r.Get("/admin/payments/dead-letter", deps.AdminHandler.HandleListDeadLetters)
		r.Get("/admin/payments/{paymentID}", deps.AdminHandler.HandleGetPaymentStatus)
		r.Post("/admin/payments/{paymentID}/retry", deps.AdminHandler.HandleRetryFulfillment)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.DB != nil {
			if err := deps.DB.PingContext(r.Context()); err != nil {
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	return r
}
