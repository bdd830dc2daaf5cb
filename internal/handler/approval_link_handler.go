package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/service"
	"github.com/noah-isme/gema-action-engine/internal/utils"
)

// ApprovalLinkHandler serves the approve and reject links sent in approval e-mails.
// The token itself is the credential.
type ApprovalLinkHandler struct {
	service service.ActionService
	logger  zerolog.Logger
}

// NewApprovalLinkHandler constructs the handler.
func NewApprovalLinkHandler(service service.ActionService, logger zerolog.Logger) *ApprovalLinkHandler {
	return &ApprovalLinkHandler{
		service: service,
		logger:  logger.With().Str("component", "approval_link_handler").Logger(),
	}
}

// Register attaches the link endpoints to the router group.
func (h *ApprovalLinkHandler) Register(router fiber.Router) {
	router.Get("/:token/approve", h.approve)
	router.Get("/:token/reject", h.reject)
}

func (h *ApprovalLinkHandler) approve(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Params("token"))
	if token == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "approval token required")
	}

	action, err := h.service.ApproveByToken(c.UserContext(), token, requestMeta(c, models.SourceEmailLink))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to approve action")
	}
	return utils.SendSuccess(c, "action approved", action)
}

func (h *ApprovalLinkHandler) reject(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Params("token"))
	if token == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "approval token required")
	}

	action, err := h.service.RejectByToken(c.UserContext(), token, c.Query("reason"), requestMeta(c, models.SourceEmailLink))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to reject action")
	}
	return utils.SendSuccess(c, "action rejected", action)
}
