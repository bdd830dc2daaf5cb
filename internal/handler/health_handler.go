package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-action-engine/internal/config"
	"github.com/noah-isme/gema-action-engine/internal/queue"
	"github.com/noah-isme/gema-action-engine/internal/utils"
)

// QueueStatter reports queue partition sizes.
type QueueStatter interface {
	QueueStats(ctx context.Context) (queue.Stats, error)
}

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string       `json:"status"`
	Timestamp   time.Time    `json:"timestamp"`
	Service     string       `json:"service"`
	Environment string       `json:"environment"`
	Queue       *queue.Stats `json:"queue,omitempty"`
}

// HealthCheck returns a handler that reports application health information.
// A nil engine skips the queue probe.
func HealthCheck(cfg config.Config, engine QueueStatter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		if engine != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()

			stats, err := engine.QueueStats(ctx)
			if err != nil {
				payload.Status = "degraded"
				return utils.SendErrorWithData(c, fiber.StatusServiceUnavailable, "queue unavailable", payload)
			}
			payload.Queue = &stats
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
