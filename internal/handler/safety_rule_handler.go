package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/dto"
	"github.com/noah-isme/gema-action-engine/internal/service"
	"github.com/noah-isme/gema-action-engine/internal/utils"
)

// SafetyRuleHandler exposes rule administration.
type SafetyRuleHandler struct {
	service service.SafetyRuleService
	logger  zerolog.Logger
}

// NewSafetyRuleHandler constructs the handler.
func NewSafetyRuleHandler(service service.SafetyRuleService, logger zerolog.Logger) *SafetyRuleHandler {
	return &SafetyRuleHandler{
		service: service,
		logger:  logger.With().Str("component", "safety_rule_handler").Logger(),
	}
}

// Register attaches rule endpoints to the router group.
func (h *SafetyRuleHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Put("", h.upsert)
}

func (h *SafetyRuleHandler) list(c *fiber.Ctx) error {
	rules, err := h.service.List(c.UserContext(), strings.TrimSpace(c.Query("action_type")))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to list safety rules")
	}
	return utils.SendSuccess(c, "safety rules retrieved", rules)
}

func (h *SafetyRuleHandler) upsert(c *fiber.Ctx) error {
	var payload dto.SafetyRuleBatchRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.service.Upsert(c.UserContext(), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to update safety rules")
	}

	requestLogger(h.logger, c).Info().Int64("affected", result.Affected).Msg("safety rules replaced")
	return utils.SendSuccess(c, "safety rules updated", result)
}
