package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/observability"
)

const apiPrefix = "/api/v1/"

// Observability records request metrics labelled by route group and logs each
// API request with its correlation id and, when the route addresses one, the action id.
func Observability(logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if !strings.HasPrefix(c.Path(), apiPrefix) {
			return err
		}
		elapsed := time.Since(start)

		method := c.Method()
		route := routeTemplate(c)
		group := routeGroup(route)
		status := c.Response().StatusCode()
		statusLabel := strconv.Itoa(status)

		observability.APIRequests().WithLabelValues(method, group, route, statusLabel).Inc()
		observability.APILatency().WithLabelValues(method, group, route).Observe(elapsed.Seconds())
		if status >= fiber.StatusBadRequest {
			observability.APIErrors().WithLabelValues(method, group, route, statusLabel).Inc()
		}

		event := logger.Info()
		msg := "request completed"
		switch {
		case status >= fiber.StatusInternalServerError:
			event, msg = logger.Error(), "request failed"
		case status >= fiber.StatusBadRequest:
			event, msg = logger.Warn(), "request rejected"
		}
		event = event.
			Str("correlation_id", GetCorrelationID(c)).
			Str("method", method).
			Str("route", route).
			Str("route_group", group).
			Int("status", status).
			Dur("latency", elapsed).
			Str("latency_bucket", latencyBucket(elapsed))
		// Approval link tokens are credentials and never reach the log.
		if id := c.Params("id"); id != "" {
			event = event.Str("action_id", id)
		}
		event.Msg(msg)

		return err
	}
}

func routeTemplate(c *fiber.Ctx) string {
	if r := c.Route(); r != nil && r.Path != "" && r.Path != "/" {
		return r.Path
	}
	return "unmatched"
}

// routeGroup maps a route template to the API surface it belongs to.
func routeGroup(route string) string {
	rest, ok := strings.CutPrefix(route, apiPrefix)
	if !ok {
		return "other"
	}
	segment, _, _ := strings.Cut(rest, "/")
	switch segment {
	case "actions", "approvals", "events", "admin", "health":
		return segment
	default:
		return "other"
	}
}

func latencyBucket(elapsed time.Duration) string {
	switch {
	case elapsed <= 50*time.Millisecond:
		return "<=50ms"
	case elapsed <= 250*time.Millisecond:
		return "<=250ms"
	case elapsed <= time.Second:
		return "<=1s"
	default:
		return ">1s"
	}
}
