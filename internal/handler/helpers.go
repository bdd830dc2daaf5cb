package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/actions"
	"github.com/noah-isme/gema-action-engine/internal/dto"
	"github.com/noah-isme/gema-action-engine/internal/middleware"
	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/service"
	"github.com/noah-isme/gema-action-engine/internal/utils"
)

const (
	roleAdmin    = "admin"
	roleApprover = "approver"
)

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func requestMeta(c *fiber.Ctx, source models.AuditSource) service.RequestMeta {
	if header := models.AuditSource(strings.ToLower(strings.TrimSpace(c.Get("X-Action-Source")))); header.Valid() && source == models.SourceAPI {
		source = header
	}
	return service.RequestMeta{
		Actor:     middleware.UserID(c),
		Source:    source,
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),

		CorrelationID: middleware.GetCorrelationID(c),
	}
}

// canActFor reports whether the caller may read or modify userID's actions.
func canActFor(c *fiber.Ctx, userID string) bool {
	return middleware.UserRole(c) == roleAdmin || (userID != "" && middleware.UserID(c) == userID)
}

func canDecide(c *fiber.Ctx) bool {
	role := middleware.UserRole(c)
	return role == roleAdmin || role == roleApprover
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

// sendServiceError maps engine errors to HTTP responses.
func sendServiceError(c *fiber.Ctx, logger zerolog.Logger, err error, fallback string) error {
	var blocked *service.PolicyBlockedError
	switch {
	case errors.As(err, &blocked):
		status := fiber.StatusForbidden
		if blocked.Result.RateLimitExceeded {
			status = fiber.StatusTooManyRequests
		}
		return utils.SendErrorWithData(c, status, blocked.Result.Reason, dto.PolicyViolationResponse{
			ActionType:        blocked.ActionType,
			Reason:            blocked.Result.Reason,
			RequiresKYC:       blocked.Result.RequiresKYC,
			RateLimitExceeded: blocked.Result.RateLimitExceeded,
		})
	case errors.Is(err, actions.ErrValidation), errors.Is(err, actions.ErrUnknownActionType), isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrActionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "action not found")
	case errors.Is(err, service.ErrInvalidStateTransition), errors.Is(err, service.ErrRollbackUnavailable):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrApprovalExpired):
		return utils.SendError(c, fiber.StatusGone, "approval window has expired")
	case errors.Is(err, service.ErrRollbackFailed):
		requestLogger(logger, c).Warn().Err(err).Msg("rollback failed")
		return utils.SendError(c, fiber.StatusBadGateway, err.Error())
	default:
		requestLogger(logger, c).Error().Err(err).Msg(fallback)
		return utils.SendError(c, fiber.StatusInternalServerError, fallback)
	}
}
