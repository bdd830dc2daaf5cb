package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/dto"
	"github.com/noah-isme/gema-action-engine/internal/service"
	"github.com/noah-isme/gema-action-engine/internal/utils"
)

// AuditLogHandler exposes the cross-action audit trail to administrators.
type AuditLogHandler struct {
	service service.AuditLogService
	logger  zerolog.Logger
}

// NewAuditLogHandler constructs the handler.
func NewAuditLogHandler(service service.AuditLogService, logger zerolog.Logger) *AuditLogHandler {
	return &AuditLogHandler{
		service: service,
		logger:  logger.With().Str("component", "audit_log_handler").Logger(),
	}
}

// Register attaches audit log routes to the router group.
func (h *AuditLogHandler) Register(router fiber.Router) {
	router.Get("", h.list)
}

func (h *AuditLogHandler) list(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page size")
	}

	response, err := h.service.List(c.UserContext(), dto.AuditLogListRequest{
		Page:      page,
		PageSize:  pageSize,
		UserID:    c.Query("user_id"),
		EventType: c.Query("event_type"),
		Source:    c.Query("source"),
	})
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to list audit logs")
	}

	return utils.SendSuccess(c, "audit logs retrieved", response)
}
