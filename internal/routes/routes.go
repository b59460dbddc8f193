package routes

import (
	"github.com/civichain/votegate/internal/handlers"
	"github.com/civichain/votegate/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	sessionHandler *handlers.SessionHandler,
	registryHandler *handlers.RegistryHandler,
	adminAPIKey string,
) {
	// Rate limiting config for the factor endpoints
	rateLimitConfig := middleware.DefaultVerifyRateLimit()

	router.Route("/session", func(r chi.Router) {
		// Factor submissions are rate limited by IP on top of the
		// per-identity attempt ledger.
		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/credentials", sessionHandler.Credentials)
		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/otp", sessionHandler.OTP)
		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/capture", sessionHandler.Capture)

		r.Post("/camera", sessionHandler.StartCamera)
		r.Post("/cancel", sessionHandler.Cancel)
		r.Post("/vote", sessionHandler.Vote)
		r.Get("/status", sessionHandler.Status)
		r.Get("/demo-identity", sessionHandler.DemoIdentity)
	})

	// Operator endpoints sit behind the admin API key.
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(adminAPIKey))
		r.Get("/admin/registry", registryHandler.List)
		r.Delete("/admin/registry/{identityKey}", registryHandler.Remove)
	})
}
