package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-action-engine/internal/actions"
	"github.com/noah-isme/gema-action-engine/internal/dto"
	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/observability"
	"github.com/noah-isme/gema-action-engine/internal/repository"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ActionService is the public surface of the execution engine.
type ActionService interface {
	CreateAction(ctx context.Context, req dto.CreateActionRequest, meta RequestMeta) (dto.CreateActionResponse, error)
	ApproveAction(ctx context.Context, actionID string, meta RequestMeta) (dto.ActionResponse, error)
	RejectAction(ctx context.Context, actionID, reason string, meta RequestMeta) (dto.ActionResponse, error)
	ApproveByToken(ctx context.Context, token string, meta RequestMeta) (dto.ActionResponse, error)
	RejectByToken(ctx context.Context, token, reason string, meta RequestMeta) (dto.ActionResponse, error)
	RollbackAction(ctx context.Context, actionID, reason string, meta RequestMeta) (dto.ActionResponse, error)
	GetActionByID(ctx context.Context, actionID string) (dto.ActionResponse, error)
	GetActionsByUser(ctx context.Context, userID string, limit, offset int) (dto.ActionListResponse, error)
	GetActionAuditLogs(ctx context.Context, actionID string) ([]dto.AuditLogResponse, error)
	GetRollbackHistory(ctx context.Context, actionID string) ([]dto.RollbackHistoryResponse, error)
	GetRateLimitUsage(ctx context.Context, actionType, userID string) ([]dto.RateLimitUsageResponse, error)
}

// ActionServiceDeps groups the collaborators of the action service.
type ActionServiceDeps struct {
	Actions    repository.ActionRepository
	Audit      repository.AuditLogRepository
	Rollbacks  repository.RollbackHistoryRepository
	Registry   *actions.Registry
	Policy     PolicyEvaluator
	Limiter    RateLimiter
	Approvals  ApprovalService
	Rollback   RollbackService
	Queue      JobQueue
	Events     EventPublisher
	MaxRetries int
}

type actionService struct {
	deps   ActionServiceDeps
	logger zerolog.Logger
	tracer trace.Tracer
}

// NewActionService constructs the public action service.
func NewActionService(deps ActionServiceDeps, logger zerolog.Logger) ActionService {
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = models.DefaultMaxRetries
	}
	if deps.Events == nil {
		deps.Events = noopPublisher{}
	}
	return &actionService{
		deps:   deps,
		logger: logger.With().Str("component", "action_service").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/gema-action-engine/internal/service/action"),
	}
}

func (s *actionService) CreateAction(ctx context.Context, req dto.CreateActionRequest, meta RequestMeta) (dto.CreateActionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "action.create")
	defer span.End()

	actionType := models.ActionType(req.ActionType)
	span.SetAttributes(attribute.String("action.type", req.ActionType), attribute.String("user.id", req.UserID))

	if req.UserID == "" {
		return dto.CreateActionResponse{}, &actions.ValidationError{ActionType: actionType, Field: "user_id", Message: "is required"}
	}
	if !actionType.Valid() {
		return dto.CreateActionResponse{}, fmt.Errorf("%w: %s", actions.ErrUnknownActionType, req.ActionType)
	}
	priority, err := resolvePriority(actionType, req.Priority)
	if err != nil {
		return dto.CreateActionResponse{}, err
	}

	if screen := s.deps.Policy.Prescreen(ctx, actionType, req.UserID); screen.Blocked {
		return dto.CreateActionResponse{}, s.blockedByPolicy(span, actionType, req.UserID, screen)
	}

	payload, err := s.deps.Registry.Decode(actionType, req.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return dto.CreateActionResponse{}, err
	}
	entry, _ := s.deps.Registry.Lookup(actionType)
	if err := entry.Validate(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return dto.CreateActionResponse{}, err
	}

	verdict := s.deps.Policy.Evaluate(ctx, actionType, req.UserID, payload)
	if verdict.Blocked || !verdict.Allowed {
		return dto.CreateActionResponse{}, s.blockedByPolicy(span, actionType, req.UserID, verdict)
	}

	action := models.Action{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Type:         actionType,
		Status:       models.StatusApproved,
		Priority:     priority,
		Payload:      datatypes.JSON(req.Payload),
		ScheduledFor: normalizeSchedule(req.ScheduledFor),
		MaxRetries:   s.deps.MaxRetries,
		RateLimitKey: verdict.RateLimitKey,
	}
	if verdict.RequiresApproval {
		if err := s.deps.Approvals.Prepare(&action); err != nil {
			span.RecordError(err)
			return dto.CreateActionResponse{}, err
		}
	}

	meta = meta.normalized(req.UserID)
	audit := auditEntry(meta, map[string]interface{}{
		"action_type":       actionType,
		"priority":          priority,
		"requires_approval": action.RequiresApproval,
		"scheduled_for":     action.ScheduledFor,
	})
	if err := s.deps.Actions.Create(ctx, &action, audit); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return dto.CreateActionResponse{}, err
	}

	observability.ActionsCreated().WithLabelValues(string(actionType), string(action.Status)).Inc()
	publishTransition(ctx, s.deps.Events, s.logger, action, models.AuditEventCreated, meta.Actor)

	if action.RequiresApproval {
		s.deps.Approvals.RequestApproval(ctx, action)
	} else if _, err := enqueueAction(ctx, s.deps.Queue, action); err != nil {
		// Recovery re-enqueues approved actions on the next sweep.
		span.RecordError(err)
		s.logger.Error().Err(err).Str("action_id", action.ID).Msg("enqueue after create failed")
	}

	s.logger.Info().
		Str("action_id", action.ID).
		Str("action_type", req.ActionType).
		Str("user_id", req.UserID).
		Bool("requires_approval", action.RequiresApproval).
		Msg("action created")
	span.SetStatus(codes.Ok, string(action.Status))

	resp := dto.CreateActionResponse{
		ActionID:          action.ID,
		Status:            action.Status,
		RequiresApproval:  action.RequiresApproval,
		ApprovalExpiresAt: action.ApprovalExpiresAt,
	}
	if action.ApprovalToken != nil {
		resp.ApprovalToken = *action.ApprovalToken
	}
	return resp, nil
}

func (s *actionService) blockedByPolicy(span trace.Span, actionType models.ActionType, userID string, verdict SafetyCheckResult) error {
	span.SetStatus(codes.Error, "blocked")
	s.logger.Info().Str("action_type", string(actionType)).Str("user_id", userID).Str("reason", verdict.Reason).Msg("action blocked by policy")
	return &PolicyBlockedError{ActionType: actionType, Result: verdict}
}

func (s *actionService) ApproveAction(ctx context.Context, actionID string, meta RequestMeta) (dto.ActionResponse, error) {
	action, err := s.deps.Approvals.Approve(ctx, actionID, meta)
	if err != nil {
		return dto.ActionResponse{}, err
	}
	return dto.NewActionResponse(action), nil
}

func (s *actionService) RejectAction(ctx context.Context, actionID, reason string, meta RequestMeta) (dto.ActionResponse, error) {
	action, err := s.deps.Approvals.Reject(ctx, actionID, reason, meta)
	if err != nil {
		return dto.ActionResponse{}, err
	}
	return dto.NewActionResponse(action), nil
}

func (s *actionService) ApproveByToken(ctx context.Context, token string, meta RequestMeta) (dto.ActionResponse, error) {
	action, err := s.deps.Approvals.ApproveByToken(ctx, token, meta)
	if err != nil {
		return dto.ActionResponse{}, err
	}
	return dto.NewActionResponse(action), nil
}

func (s *actionService) RejectByToken(ctx context.Context, token, reason string, meta RequestMeta) (dto.ActionResponse, error) {
	action, err := s.deps.Approvals.RejectByToken(ctx, token, reason, meta)
	if err != nil {
		return dto.ActionResponse{}, err
	}
	return dto.NewActionResponse(action), nil
}

func (s *actionService) RollbackAction(ctx context.Context, actionID, reason string, meta RequestMeta) (dto.ActionResponse, error) {
	action, err := s.deps.Rollback.RequestRollback(ctx, actionID, reason, meta)
	if err != nil {
		return dto.ActionResponse{}, err
	}
	return dto.NewActionResponse(action), nil
}

func (s *actionService) GetActionByID(ctx context.Context, actionID string) (dto.ActionResponse, error) {
	action, err := s.deps.Actions.FindByID(ctx, actionID)
	if err != nil {
		return dto.ActionResponse{}, err
	}
	return dto.NewActionResponse(action), nil
}

func (s *actionService) GetActionsByUser(ctx context.Context, userID string, limit, offset int) (dto.ActionListResponse, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	items, total, err := s.deps.Actions.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return dto.ActionListResponse{}, err
	}
	return dto.NewActionListResponse(items, dto.OffsetPagination{Limit: limit, Offset: offset, Total: total}), nil
}

func (s *actionService) GetActionAuditLogs(ctx context.Context, actionID string) ([]dto.AuditLogResponse, error) {
	if _, err := s.deps.Actions.FindByID(ctx, actionID); err != nil {
		return nil, err
	}
	entries, err := s.deps.Audit.ListByAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	return dto.NewAuditLogResponseSlice(entries), nil
}

func (s *actionService) GetRollbackHistory(ctx context.Context, actionID string) ([]dto.RollbackHistoryResponse, error) {
	if _, err := s.deps.Actions.FindByID(ctx, actionID); err != nil {
		return nil, err
	}
	entries, err := s.deps.Rollbacks.ListByAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	return dto.NewRollbackHistoryResponseSlice(entries), nil
}

func (s *actionService) GetRateLimitUsage(ctx context.Context, actionType, userID string) ([]dto.RateLimitUsageResponse, error) {
	typed := models.ActionType(actionType)
	if !typed.Valid() {
		return nil, fmt.Errorf("%w: %s", actions.ErrUnknownActionType, actionType)
	}
	if userID == "" {
		return nil, &actions.ValidationError{ActionType: typed, Field: "user_id", Message: "is required"}
	}

	usage, err := s.deps.Limiter.Usage(ctx, typed, userID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.RateLimitUsageResponse, 0, len(usage))
	for _, item := range usage {
		remaining := int64(item.Limit) - item.Current
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, dto.RateLimitUsageResponse{
			RuleName:        item.RuleName,
			Current:         item.Current,
			Executed:        item.Executed,
			Limit:           item.Limit,
			Remaining:       remaining,
			WindowSeconds:   int64(item.Window / time.Second),
			ResetsInSeconds: int64(item.ResetsIn.Round(time.Second) / time.Second),
		})
	}
	return out, nil
}

func resolvePriority(actionType models.ActionType, requested *int) (int, error) {
	if requested == nil {
		return models.DefaultActionPriority, nil
	}
	if *requested < models.MinActionPriority || *requested > models.MaxActionPriority {
		return 0, &actions.ValidationError{ActionType: actionType, Field: "priority", Message: ErrInvalidPriority.Error()}
	}
	return *requested, nil
}

func normalizeSchedule(scheduled *time.Time) *time.Time {
	if scheduled == nil || scheduled.IsZero() {
		return nil
	}
	utc := scheduled.UTC()
	return &utc
}
