package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
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

	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/observability"
	"github.com/noah-isme/gema-action-engine/internal/repository"
)

const (
	approvalTokenBytes     = 32
	defaultApprovalTTL     = 24 * time.Hour
	maxDecisionReasonRunes = 1000
)

// ApprovalNotification is handed to the delivery collaborator when an action awaits a decision.
type ApprovalNotification struct {
	ActionID   string            `json:"action_id"`
	ActionType models.ActionType `json:"action_type"`
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	ApproveURL string            `json:"approve_url"`
	RejectURL  string            `json:"reject_url"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// ApprovalNotifier delivers approval requests. Recipient is the requesting user's id.
type ApprovalNotifier interface {
	SendApprovalRequest(ctx context.Context, notification ApprovalNotification) error
}

// ApprovalConfig tunes token lifetime and link generation.
type ApprovalConfig struct {
	TokenTTL      time.Duration
	PublicBaseURL string
}

// ApprovalService drives the pending -> approved/rejected handshake.
type ApprovalService interface {
	Prepare(action *models.Action) error
	RequestApproval(ctx context.Context, action models.Action)
	Approve(ctx context.Context, actionID string, meta RequestMeta) (models.Action, error)
	Reject(ctx context.Context, actionID, reason string, meta RequestMeta) (models.Action, error)
	ApproveByToken(ctx context.Context, token string, meta RequestMeta) (models.Action, error)
	RejectByToken(ctx context.Context, token, reason string, meta RequestMeta) (models.Action, error)
}

type approvalService struct {
	actions   repository.ActionRepository
	queue     JobQueue
	notifier  ApprovalNotifier
	events    EventPublisher
	sanitizer *bluemonday.Policy
	config    ApprovalConfig
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewApprovalService constructs the approval manager.
func NewApprovalService(actions repository.ActionRepository, queue JobQueue, notifier ApprovalNotifier, events EventPublisher, config ApprovalConfig, logger zerolog.Logger) ApprovalService {
	if config.TokenTTL <= 0 {
		config.TokenTTL = defaultApprovalTTL
	}
	config.PublicBaseURL = strings.TrimRight(config.PublicBaseURL, "/")
	if events == nil {
		events = noopPublisher{}
	}
	return &approvalService{
		actions:   actions,
		queue:     queue,
		notifier:  notifier,
		events:    events,
		sanitizer: bluemonday.StrictPolicy(),
		config:    config,
		logger:    logger.With().Str("component", "approval_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-action-engine/internal/service/approval"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Prepare marks a new action as awaiting approval and issues its token.
func (s *approvalService) Prepare(action *models.Action) error {
	token, err := generateApprovalToken()
	if err != nil {
		return fmt.Errorf("%w: generate approval token: %v", ErrSystem, err)
	}
	expires := s.now().Add(s.config.TokenTTL)
	action.Status = models.StatusPending
	action.RequiresApproval = true
	action.ApprovalToken = &token
	action.ApprovalExpiresAt = &expires
	return nil
}

// RequestApproval notifies the user. Delivery failures are logged; the action stays pending.
func (s *approvalService) RequestApproval(ctx context.Context, action models.Action) {
	if s.notifier == nil || action.ApprovalToken == nil {
		return
	}
	ctx, span := s.tracer.Start(ctx, "approval.notify")
	span.SetAttributes(attribute.String("action.id", action.ID))
	defer span.End()

	notification := s.buildNotification(action)
	if err := s.notifier.SendApprovalRequest(ctx, notification); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "notification failed")
		observability.ApprovalNotifications().WithLabelValues("failed").Inc()
		s.logger.Warn().Err(err).Str("action_id", action.ID).Msg("approval notification failed")
		return
	}
	observability.ApprovalNotifications().WithLabelValues("sent").Inc()
}

func (s *approvalService) Approve(ctx context.Context, actionID string, meta RequestMeta) (models.Action, error) {
	ctx, span := s.tracer.Start(ctx, "approval.approve")
	span.SetAttributes(attribute.String("action.id", actionID))
	defer span.End()

	action, err := s.actions.FindByID(ctx, actionID)
	if err != nil {
		span.RecordError(err)
		return models.Action{}, err
	}
	return s.approve(ctx, span, action, meta)
}

func (s *approvalService) ApproveByToken(ctx context.Context, token string, meta RequestMeta) (models.Action, error) {
	ctx, span := s.tracer.Start(ctx, "approval.approve_by_token")
	defer span.End()

	action, err := s.actions.FindByApprovalToken(ctx, token)
	if err != nil {
		span.RecordError(err)
		return models.Action{}, err
	}
	span.SetAttributes(attribute.String("action.id", action.ID))
	meta.Source = models.SourceEmailLink
	return s.approve(ctx, span, action, meta.normalized(action.UserID))
}

func (s *approvalService) approve(ctx context.Context, span trace.Span, action models.Action, meta RequestMeta) (models.Action, error) {
	meta = meta.normalized(action.UserID)
	if err := s.checkDecidable(action, models.StatusApproved); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return models.Action{}, err
	}

	approvedAt := s.now()
	updated, err := s.actions.Transition(ctx, repository.StatusTransition{
		ActionID: action.ID,
		From:     models.StatusPending,
		To:       models.StatusApproved,
		Fields: map[string]interface{}{
			"approved_by": meta.Actor,
			"approved_at": approvedAt,
		},
		Audit: auditEntry(meta, map[string]interface{}{
			"approved_by": meta.Actor,
			"approved_at": approvedAt,
		}),
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, repository.ErrStatusConflict) {
			return models.Action{}, invalidTransition(action, models.StatusApproved)
		}
		return models.Action{}, err
	}

	s.logger.Info().Str("action_id", updated.ID).Str("approved_by", meta.Actor).Str("source", string(meta.Source)).Msg("action approved")
	publishTransition(ctx, s.events, s.logger, updated, models.AuditEventApproved, meta.Actor)

	// Approved actions are re-enqueued by engine recovery if this fails.
	if _, err := enqueueAction(ctx, s.queue, updated); err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Str("action_id", updated.ID).Msg("enqueue after approval failed")
	}
	span.SetStatus(codes.Ok, "approved")
	return updated, nil
}

func (s *approvalService) Reject(ctx context.Context, actionID, reason string, meta RequestMeta) (models.Action, error) {
	ctx, span := s.tracer.Start(ctx, "approval.reject")
	span.SetAttributes(attribute.String("action.id", actionID))
	defer span.End()

	action, err := s.actions.FindByID(ctx, actionID)
	if err != nil {
		span.RecordError(err)
		return models.Action{}, err
	}
	return s.reject(ctx, span, action, reason, meta)
}

func (s *approvalService) RejectByToken(ctx context.Context, token, reason string, meta RequestMeta) (models.Action, error) {
	ctx, span := s.tracer.Start(ctx, "approval.reject_by_token")
	defer span.End()

	action, err := s.actions.FindByApprovalToken(ctx, token)
	if err != nil {
		span.RecordError(err)
		return models.Action{}, err
	}
	span.SetAttributes(attribute.String("action.id", action.ID))
	// The link is an expiring credential for both decisions.
	if err := s.checkDecidable(action, models.StatusRejected); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return models.Action{}, err
	}
	meta.Source = models.SourceEmailLink
	return s.reject(ctx, span, action, reason, meta)
}

func (s *approvalService) reject(ctx context.Context, span trace.Span, action models.Action, reason string, meta RequestMeta) (models.Action, error) {
	meta = meta.normalized(action.UserID)
	if action.Status != models.StatusPending {
		err := invalidTransition(action, models.StatusRejected)
		span.SetStatus(codes.Error, err.Error())
		return models.Action{}, err
	}

	reason = s.sanitizeReason(reason)
	updated, err := s.actions.Transition(ctx, repository.StatusTransition{
		ActionID: action.ID,
		From:     models.StatusPending,
		To:       models.StatusRejected,
		Fields: map[string]interface{}{
			"rejection_reason": reason,
		},
		Audit: auditEntry(meta, map[string]interface{}{
			"rejected_by": meta.Actor,
			"reason":      reason,
		}),
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, repository.ErrStatusConflict) {
			return models.Action{}, invalidTransition(action, models.StatusRejected)
		}
		return models.Action{}, err
	}

	s.logger.Info().Str("action_id", updated.ID).Str("rejected_by", meta.Actor).Str("source", string(meta.Source)).Msg("action rejected")
	publishTransition(ctx, s.events, s.logger, updated, models.AuditEventRejected, meta.Actor)
	span.SetStatus(codes.Ok, "rejected")
	return updated, nil
}

func (s *approvalService) checkDecidable(action models.Action, to models.ActionStatus) error {
	if action.Status != models.StatusPending || !action.RequiresApproval {
		return invalidTransition(action, to)
	}
	if action.ApprovalExpired(s.now()) {
		return fmt.Errorf("%w: action %s expired at %s", ErrApprovalExpired, action.ID, action.ApprovalExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func (s *approvalService) sanitizeReason(reason string) string {
	cleaned := strings.TrimSpace(s.sanitizer.Sanitize(reason))
	if len([]rune(cleaned)) > maxDecisionReasonRunes {
		cleaned = string([]rune(cleaned)[:maxDecisionReasonRunes])
	}
	return cleaned
}

func (s *approvalService) buildNotification(action models.Action) ApprovalNotification {
	token := *action.ApprovalToken
	approveURL := fmt.Sprintf("%s/api/v1/approvals/%s/approve", s.config.PublicBaseURL, token)
	rejectURL := fmt.Sprintf("%s/api/v1/approvals/%s/reject", s.config.PublicBaseURL, token)

	var expires time.Time
	if action.ApprovalExpiresAt != nil {
		expires = *action.ApprovalExpiresAt
	}

	var body strings.Builder
	fmt.Fprintf(&body, "An action of type %s is waiting for your approval.\n\n", action.Type)
	if action.ScheduledFor != nil {
		fmt.Fprintf(&body, "It is scheduled to run no earlier than %s.\n", action.ScheduledFor.UTC().Format(time.RFC1123))
	}
	fmt.Fprintf(&body, "Approve: %s\nReject: %s\n\n", approveURL, rejectURL)
	fmt.Fprintf(&body, "These links expire at %s.\n", expires.UTC().Format(time.RFC1123))

	return ApprovalNotification{
		ActionID:   action.ID,
		ActionType: action.Type,
		Recipient:  action.UserID,
		Subject:    fmt.Sprintf("Approval required: %s", action.Type),
		Body:       body.String(),
		ApproveURL: approveURL,
		RejectURL:  rejectURL,
		ExpiresAt:  expires,
	}
}

func generateApprovalToken() (string, error) {
	buf := make([]byte, approvalTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
