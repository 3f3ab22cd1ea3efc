package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/silveridc/verigate/internal/api/handler"
	mw "github.com/silveridc/verigate/internal/api/middleware"
	"github.com/silveridc/verigate/internal/audit"
	"github.com/silveridc/verigate/internal/metrics"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	AdminAuth *mw.AdminAuth
	RateLimit *mw.RateLimit
	Audit     *audit.Recorder
	Metrics   *metrics.Metrics

	Verify *handler.VerifyHandler
	Admin  *handler.AdminHandler

	HealthHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	// Public health check
	r.Get("/api/v1/health", deps.HealthHandler)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// Public verification surface: the challenge page and the endpoints it
	// calls carry no credential, only the opaque ticket token.
	r.Group(func(r chi.Router) {
		if deps.Audit != nil {
			r.Use(deps.Audit.Middleware)
		}

		r.Get("/v/{ticket}", handler.Page)
		r.Get("/api/v1/verify/{ticket}/status", deps.Verify.Status)
		r.Post("/api/v1/verify/callback", deps.Verify.Callback)
	})

	// Tenant routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}
		if deps.Audit != nil {
			r.Use(deps.Audit.Middleware)
		}

		r.Post("/api/v1/verify/create", deps.Verify.Create)
		r.Post("/api/v1/verify/check", deps.Verify.Check)
		r.Post("/api/v1/verify/clean", deps.Verify.Clean)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireDefault)

			r.Post("/api/v1/verify/reset_key", deps.Verify.ResetKey)
		})
	})

	// Admin routes
	r.Route("/admin/v1", func(r chi.Router) {
		r.Post("/auth/login", deps.Admin.Login)

		r.Group(func(r chi.Router) {
			r.Use(deps.AdminAuth.Authenticate)

			r.Post("/auth/logout", deps.Admin.Logout)

			r.Get("/keys", deps.Admin.ListKeys)
			r.Post("/keys", deps.Admin.CreateKey)
			r.Post("/keys/{id}/reset", deps.Admin.ResetKey)
			r.Post("/keys/{id}/status", deps.Admin.SetKeyStatus)
			r.Delete("/keys/{id}", deps.Admin.DeleteKey)

			r.Get("/settings", deps.Admin.ListSettings)
			r.Put("/settings", deps.Admin.SaveSetting)
		})
	})

	return r
}
