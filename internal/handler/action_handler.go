package handler

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/dto"
	"github.com/noah-isme/gema-action-engine/internal/middleware"
	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/service"
	"github.com/noah-isme/gema-action-engine/internal/utils"
)

// ActionHandler exposes the action lifecycle over HTTP.
type ActionHandler struct {
	service   service.ActionService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewActionHandler constructs the handler.
func NewActionHandler(service service.ActionService, validator *validator.Validate, logger zerolog.Logger) *ActionHandler {
	return &ActionHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "action_handler").Logger(),
	}
}

// Register attaches action endpoints to the router group.
func (h *ActionHandler) Register(router fiber.Router) {
	router.Post("", h.create)
	router.Get("/rate-limits/:type", h.rateLimits)
	router.Get("/user/:userId", h.listByUser)
	router.Get("/:id", h.get)
	router.Post("/:id/approve", h.approve)
	router.Post("/:id/reject", h.reject)
	router.Post("/:id/rollback", h.rollback)
	router.Get("/:id/audit", h.auditLogs)
	router.Get("/:id/rollbacks", h.rollbackHistory)
}

func (h *ActionHandler) create(c *fiber.Ctx) error {
	var payload dto.CreateActionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	payload.UserID = strings.TrimSpace(payload.UserID)
	if payload.UserID == "" {
		payload.UserID = middleware.UserID(c)
	}
	if !canActFor(c, payload.UserID) {
		return utils.SendError(c, fiber.StatusForbidden, "cannot create actions for another user")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	response, err := h.service.CreateAction(c.UserContext(), payload, requestMeta(c, models.SourceAPI))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to create action")
	}

	message := "action queued for execution"
	if response.RequiresApproval {
		message = "action awaiting approval"
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, message, response)
}

func (h *ActionHandler) get(c *fiber.Ctx) error {
	action, ok, err := h.loadOwned(c)
	if !ok {
		return err
	}
	return utils.SendSuccess(c, "action retrieved", action)
}

func (h *ActionHandler) listByUser(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))
	if !canActFor(c, userID) {
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil || limit < 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil || offset < 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	result, err := h.service.GetActionsByUser(c.UserContext(), userID, limit, offset)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to list actions")
	}
	return utils.SendSuccess(c, "actions retrieved", result)
}

func (h *ActionHandler) approve(c *fiber.Ctx) error {
	if !canDecide(c) {
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}

	action, err := h.service.ApproveAction(c.UserContext(), c.Params("id"), requestMeta(c, models.SourceAPI))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to approve action")
	}
	return utils.SendSuccess(c, "action approved", action)
}

func (h *ActionHandler) reject(c *fiber.Ctx) error {
	if !canDecide(c) {
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}

	decision, err := h.decision(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	action, err := h.service.RejectAction(c.UserContext(), c.Params("id"), decision.Reason, requestMeta(c, models.SourceAPI))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to reject action")
	}
	return utils.SendSuccess(c, "action rejected", action)
}

func (h *ActionHandler) rollback(c *fiber.Ctx) error {
	if _, ok, err := h.loadOwned(c); !ok {
		return err
	}

	decision, err := h.decision(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	action, err := h.service.RollbackAction(c.UserContext(), c.Params("id"), decision.Reason, requestMeta(c, models.SourceAPI))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to roll back action")
	}
	return utils.SendSuccess(c, "action rolled back", action)
}

func (h *ActionHandler) auditLogs(c *fiber.Ctx) error {
	if _, ok, err := h.loadOwned(c); !ok {
		return err
	}

	entries, err := h.service.GetActionAuditLogs(c.UserContext(), c.Params("id"))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to load audit log")
	}
	return utils.SendSuccess(c, "audit log retrieved", entries)
}

func (h *ActionHandler) rollbackHistory(c *fiber.Ctx) error {
	if _, ok, err := h.loadOwned(c); !ok {
		return err
	}

	entries, err := h.service.GetRollbackHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to load rollback history")
	}
	return utils.SendSuccess(c, "rollback history retrieved", entries)
}

func (h *ActionHandler) rateLimits(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		userID = middleware.UserID(c)
	}
	if !canActFor(c, userID) {
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}

	usage, err := h.service.GetRateLimitUsage(c.UserContext(), c.Params("type"), userID)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to load rate limit usage")
	}
	return utils.SendSuccess(c, "rate limit usage retrieved", usage)
}

// loadOwned fetches the action named by :id and checks the caller may see it.
// When ok is false the response has already been written and err must be returned.
func (h *ActionHandler) loadOwned(c *fiber.Ctx) (dto.ActionResponse, bool, error) {
	action, err := h.service.GetActionByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return dto.ActionResponse{}, false, sendServiceError(c, h.logger, err, "failed to load action")
	}
	if !canActFor(c, action.UserID) {
		return dto.ActionResponse{}, false, utils.SendError(c, fiber.StatusNotFound, "action not found")
	}
	return action, true, nil
}

func (h *ActionHandler) decision(c *fiber.Ctx) (dto.DecisionRequest, error) {
	var decision dto.DecisionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&decision); err != nil {
			return decision, fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
	}
	decision.Reason = strings.TrimSpace(decision.Reason)
	if err := h.validator.Struct(decision); err != nil {
		return decision, err
	}
	return decision, nil
}
