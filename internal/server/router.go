// Package server assembles the gin engine and route table.
package server

import (
	"log/slog"

	"github.com/coldbrewhq/coldbrew/internal/auth"
	"github.com/coldbrewhq/coldbrew/internal/billing"
	"github.com/coldbrewhq/coldbrew/internal/config"
	"github.com/coldbrewhq/coldbrew/internal/emails"
	"github.com/coldbrewhq/coldbrew/internal/health"
	"github.com/coldbrewhq/coldbrew/internal/metrics"
	"github.com/coldbrewhq/coldbrew/internal/profiles"
	"github.com/gin-gonic/gin"
)

// Deps carries the constructed handlers and services, wired once at
// process start and passed in explicitly.
type Deps struct {
	Emails   *emails.Handler
	Profiles *profiles.Handler
	Billing  *billing.Service
	Verifier auth.Verifier
	Logger   *slog.Logger
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.Middleware())

	r.GET("/health", gin.WrapF(health.Handler))
	r.GET("/metrics", metrics.Handler())

	// Stripe calls this; auth is the event signature, not a bearer token
	r.POST("/webhooks/stripe", deps.Billing.Webhook)

	api := r.Group("/api")
	api.Use(auth.Middleware(deps.Verifier, deps.Logger))
	{
		api.POST("/research", deps.Emails.Research)
		api.POST("/commonalities", deps.Emails.Commonalities)

		api.POST("/emails/generate", deps.Emails.Generate)
		api.POST("/emails/compose", deps.Emails.Compose)
		api.POST("/emails/tone", deps.Emails.Tone)
		api.POST("/emails/shorten", deps.Emails.Shorten)
		api.POST("/emails/edit", deps.Emails.Edit)
		api.GET("/emails", deps.Emails.List)
		api.DELETE("/emails/:id", deps.Emails.Delete)

		api.GET("/profile", deps.Profiles.Get)
		api.PUT("/profile", deps.Profiles.Save)

		api.GET("/subscription", deps.Emails.Subscription)

		api.POST("/billing/checkout", deps.Billing.Checkout)
		api.POST("/billing/portal", deps.Billing.Portal)
	}

	return r
}
