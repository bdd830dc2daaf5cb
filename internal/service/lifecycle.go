package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/queue"
)

// RequestMeta identifies who triggered a lifecycle change and through which channel.
type RequestMeta struct {
	Actor     string
	Source    models.AuditSource
	IPAddress string
	UserAgent string

	// CorrelationID ties audit entries to the originating request.
	CorrelationID string
}

func (m RequestMeta) normalized(fallbackActor string) RequestMeta {
	if m.Actor == "" {
		m.Actor = fallbackActor
	}
	if !m.Source.Valid() {
		m.Source = models.SourceAPI
	}
	return m
}

var workerMeta = RequestMeta{Actor: "worker", Source: models.SourceWorker}

// ActionEvent is published after every successful lifecycle transition.
type ActionEvent struct {
	ActionID   string                `json:"action_id"`
	UserID     string                `json:"user_id"`
	ActionType models.ActionType     `json:"action_type"`
	Status     models.ActionStatus   `json:"status"`
	Event      models.AuditEventType `json:"event"`
	Actor      string                `json:"actor"`
	OccurredAt time.Time             `json:"occurred_at"`
}

// EventPublisher fans lifecycle events out to external subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event ActionEvent) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, ActionEvent) error { return nil }

// JobQueue is the durable queue the engine schedules executions on.
type JobQueue interface {
	Enqueue(ctx context.Context, actionID string, opts queue.EnqueueOptions) (bool, error)
	Dequeue(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, job *queue.Job) error
	Fail(ctx context.Context, job *queue.Job, cause error) error
	Retry(ctx context.Context, job *queue.Job, cause error) (bool, error)
}

func enqueueAction(ctx context.Context, q JobQueue, action models.Action) (bool, error) {
	opts := queue.EnqueueOptions{
		Priority:    action.Priority,
		MaxAttempts: action.MaxRetries,
	}
	if action.ScheduledFor != nil {
		opts.NotBefore = *action.ScheduledFor
	}
	return q.Enqueue(ctx, action.ID, opts)
}

func auditEntry(meta RequestMeta, data map[string]interface{}) models.AuditLogEntry {
	entry := models.AuditLogEntry{
		Actor:  meta.Actor,
		Source: meta.Source,
	}
	if meta.CorrelationID != "" {
		if data == nil {
			data = make(map[string]interface{}, 1)
		}
		data["correlation_id"] = meta.CorrelationID
	}
	if len(data) > 0 {
		if raw, err := json.Marshal(data); err == nil {
			entry.EventData = datatypes.JSON(raw)
		}
	}
	if meta.IPAddress != "" {
		ip := meta.IPAddress
		entry.IPAddress = &ip
	}
	if meta.UserAgent != "" {
		ua := meta.UserAgent
		entry.UserAgent = &ua
	}
	return entry
}

func publishTransition(ctx context.Context, publisher EventPublisher, logger zerolog.Logger, action models.Action, event models.AuditEventType, actor string) {
	if publisher == nil {
		return
	}
	err := publisher.Publish(ctx, ActionEvent{
		ActionID:   action.ID,
		UserID:     action.UserID,
		ActionType: action.Type,
		Status:     action.Status,
		Event:      event,
		Actor:      actor,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Warn().Err(err).Str("action_id", action.ID).Str("event", string(event)).Msg("lifecycle event publish failed")
	}
}

func stringPtr(value string) *string {
	return &value
}

func timePtr(value time.Time) *time.Time {
	return &value
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
