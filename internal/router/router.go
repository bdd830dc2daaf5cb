package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-action-engine/internal/config"
	"github.com/noah-isme/gema-action-engine/internal/handler"
	"github.com/noah-isme/gema-action-engine/internal/middleware"
	"github.com/noah-isme/gema-action-engine/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ActionHandler       *handler.ActionHandler
	ApprovalLinkHandler *handler.ApprovalLinkHandler
	SafetyRuleHandler   *handler.SafetyRuleHandler
	AuditLogHandler     *handler.AuditLogHandler
	EventStreamHandler  *handler.EventStreamHandler
	Health              handler.QueueStatter
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.Health))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Approval links authenticate with the token in the path.
	if deps.ApprovalLinkHandler != nil {
		limit, window := cfg.ApprovalLinkLimit, cfg.ApprovalLinkWindow
		if window <= 0 {
			window = time.Minute
		}
		approvals := api.Group("/approvals", middleware.RateLimit("approval-links", limit, window))
		deps.ApprovalLinkHandler.Register(approvals)
	}

	if deps.ActionHandler != nil {
		deps.ActionHandler.Register(api.Group("/actions", jwtMiddleware))
	}

	if deps.EventStreamHandler != nil {
		deps.EventStreamHandler.Register(api.Group("/events", jwtMiddleware))
	}

	admin := api.Group("/admin", jwtMiddleware, middleware.RequireRole("admin"))
	if deps.SafetyRuleHandler != nil {
		deps.SafetyRuleHandler.Register(admin.Group("/safety-rules"))
	}
	if deps.AuditLogHandler != nil {
		deps.AuditLogHandler.Register(admin.Group("/audit-logs"))
	}
}
