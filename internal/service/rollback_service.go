package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-action-engine/internal/actions"
	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/observability"
	"github.com/noah-isme/gema-action-engine/internal/repository"
)

// rollbackClaimLease bounds how long an abandoned rollback claim blocks new requests.
const rollbackClaimLease = 5 * time.Minute

// RollbackService compensates completed actions through their handler.
type RollbackService interface {
	RequestRollback(ctx context.Context, actionID, reason string, meta RequestMeta) (models.Action, error)
}

type rollbackService struct {
	actions   repository.ActionRepository
	history   repository.RollbackHistoryRepository
	registry  *actions.Registry
	events    EventPublisher
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewRollbackService constructs the rollback coordinator.
func NewRollbackService(actionRepo repository.ActionRepository, history repository.RollbackHistoryRepository, registry *actions.Registry, events EventPublisher, logger zerolog.Logger) RollbackService {
	if events == nil {
		events = noopPublisher{}
	}
	return &rollbackService{
		actions:   actionRepo,
		history:   history,
		registry:  registry,
		events:    events,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "rollback_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-action-engine/internal/service/rollback"),
	}
}

// RequestRollback runs the handler's compensation. On success the action becomes
// rolled_back; on failure it stays completed with the error recorded so the
// rollback can be requested again.
func (s *rollbackService) RequestRollback(ctx context.Context, actionID, reason string, meta RequestMeta) (models.Action, error) {
	ctx, span := s.tracer.Start(ctx, "rollback.request")
	span.SetAttributes(attribute.String("action.id", actionID))
	defer span.End()

	action, err := s.actions.FindByID(ctx, actionID)
	if err != nil {
		span.RecordError(err)
		return models.Action{}, err
	}
	meta = meta.normalized(action.UserID)
	reason = strings.TrimSpace(s.sanitizer.Sanitize(reason))

	if action.Status != models.StatusCompleted {
		span.SetStatus(codes.Error, "not completed")
		return models.Action{}, fmt.Errorf("%w: action %s is %s", ErrRollbackUnavailable, action.ID, action.Status)
	}
	if !action.HasRollbackData() {
		span.SetStatus(codes.Error, "no rollback data")
		return models.Action{}, fmt.Errorf("%w: action %s has no rollback data", ErrRollbackUnavailable, action.ID)
	}
	entry, ok := s.registry.Lookup(action.Type)
	if !ok {
		span.SetStatus(codes.Error, "no handler")
		return models.Action{}, fmt.Errorf("%w: no handler registered for %s", ErrRollbackUnavailable, action.Type)
	}

	if err := s.actions.ClaimRollback(ctx, action.ID, nowUTC(), rollbackClaimLease); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			span.SetStatus(codes.Error, "rollback in progress")
			return models.Action{}, fmt.Errorf("%w: rollback of action %s is already in progress or finished", ErrRollbackUnavailable, action.ID)
		}
		span.RecordError(err)
		return models.Action{}, err
	}

	history := models.RollbackHistoryEntry{
		ActionID:     action.ID,
		RequestedBy:  meta.Actor,
		Reason:       reason,
		RollbackData: action.RollbackData,
	}

	if rbErr := entry.Rollback(ctx, []byte(action.RollbackData)); rbErr != nil {
		return models.Action{}, s.recordFailure(ctx, span, action, history, rbErr)
	}

	rolledBackAt := timePtr(nowUTC())
	history.Success = true
	updated, err := s.actions.Transition(ctx, repository.StatusTransition{
		ActionID: action.ID,
		From:     models.StatusCompleted,
		To:       models.StatusRolledBack,
		Fields: map[string]interface{}{
			"rolled_back_at":      rolledBackAt,
			"rollback_reason":     reason,
			"rollback_claimed_at": nil,
		},
		Audit: auditEntry(meta, map[string]interface{}{
			"requested_by": meta.Actor,
			"reason":       reason,
		}),
		Rollback: &history,
	})
	if err != nil {
		span.RecordError(err)
		// Compensation ran; record it even though the status update was lost.
		history.Success = false
		history.ErrorMessage = stringPtr(fmt.Sprintf("compensation ran but the status update failed: %v", err))
		if herr := s.history.Create(ctx, &history); herr != nil {
			s.logger.Error().Err(herr).Str("action_id", action.ID).Msg("recording rollback history failed")
		}
		s.logger.Error().Err(err).Str("action_id", action.ID).Msg("rollback compensated but transition failed")
		if errors.Is(err, repository.ErrStatusConflict) {
			return models.Action{}, invalidTransition(action, models.StatusRolledBack)
		}
		observability.StuckTransitions().WithLabelValues(string(action.Type), string(models.StatusCompleted), string(models.StatusRolledBack)).Inc()
		return models.Action{}, err
	}

	observability.Rollbacks().WithLabelValues(string(updated.Type), "succeeded").Inc()
	publishTransition(ctx, s.events, s.logger, updated, models.AuditEventRolledBack, meta.Actor)
	s.logger.Info().Str("action_id", updated.ID).Str("requested_by", meta.Actor).Msg("action rolled back")
	span.SetStatus(codes.Ok, "rolled back")
	return updated, nil
}

func (s *rollbackService) recordFailure(ctx context.Context, span trace.Span, action models.Action, history models.RollbackHistoryEntry, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, "rollback failed")
	observability.Rollbacks().WithLabelValues(string(action.Type), "failed").Inc()

	message := fmt.Sprintf("rollback failed: %v", cause)
	history.Success = false
	history.ErrorMessage = stringPtr(cause.Error())
	if err := s.history.Create(ctx, &history); err != nil {
		s.logger.Error().Err(err).Str("action_id", action.ID).Msg("recording rollback history failed")
	}
	if err := s.actions.UpdateFields(ctx, action.ID, models.StatusCompleted, map[string]interface{}{
		"error_message":       message,
		"rollback_claimed_at": nil,
	}); err != nil {
		s.logger.Error().Err(err).Str("action_id", action.ID).Msg("recording rollback error failed")
	}
	s.logger.Error().Err(cause).Str("action_id", action.ID).Str("requested_by", history.RequestedBy).Msg("rollback failed")
	return fmt.Errorf("%w: %v", ErrRollbackFailed, cause)
}
