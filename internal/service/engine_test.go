package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-action-engine/internal/dto"
	"github.com/noah-isme/gema-action-engine/internal/models"
)

func TestEngineExecutesActionsInBackground(t *testing.T) {
	f := newEngineFixture(t)
	f.calendar.failures = 1
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	t.Cleanup(f.engine.Stop)

	resp, err := f.engine.Actions.CreateAction(ctx, dto.CreateActionRequest{
		UserID:     "u1",
		ActionType: string(models.ActionCreateCalendarEvent),
		Payload:    json.RawMessage(calendarPayload),
	}, RequestMeta{Actor: "u1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		action, err := f.actions.FindByID(ctx, resp.ActionID)
		return err == nil && action.Status == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	action := f.action(t, resp.ActionID)
	require.Equal(t, 1, action.RetryCount)
}

func TestEngineApprovalFlowEndToEnd(t *testing.T) {
	f := newEngineFixture(t, reasonRule(models.ActionSendEmail, "email_approval", models.RuleRequiresApproval, ""))
	ctx := context.Background()
	require.NoError(t, f.engine.Start(ctx))
	t.Cleanup(f.engine.Stop)

	resp := createPendingEmail(t, f, "u1")
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, models.StatusPending, f.action(t, resp.ActionID).Status)

	_, err := f.engine.Actions.ApproveByToken(ctx, resp.ApprovalToken, RequestMeta{IPAddress: "203.0.113.7"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		action, err := f.actions.FindByID(ctx, resp.ActionID)
		return err == nil && action.Status == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, []models.AuditEventType{
		models.AuditEventCreated, models.AuditEventApproved, models.AuditEventStarted, models.AuditEventCompleted,
	}, f.events(t, resp.ActionID))

	f.mailer.mu.Lock()
	defer f.mailer.mu.Unlock()
	require.Len(t, f.mailer.sent, 1)
	require.Equal(t, []string{"test@example.com"}, f.mailer.sent[0].Recipients())
}

func TestEngineRecoversApprovedActionsOnStart(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// Persisted but never enqueued, as after a crash between store and queue.
	action := &models.Action{
		ID:         uuid.NewString(),
		UserID:     "u1",
		Type:       models.ActionCreateCalendarEvent,
		Status:     models.StatusApproved,
		Priority:   models.DefaultActionPriority,
		Payload:    datatypes.JSON(calendarPayload),
		MaxRetries: models.DefaultMaxRetries,
	}
	require.NoError(t, f.actions.Create(ctx, action, models.AuditLogEntry{Actor: "u1", Source: models.SourceAPI}))

	recovered, err := f.engine.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	recovered, err = f.engine.Recover(ctx)
	require.NoError(t, err)
	require.Zero(t, recovered, "recovery does not duplicate queued jobs")

	require.NoError(t, f.engine.Start(ctx))
	t.Cleanup(f.engine.Stop)
	require.Eventually(t, func() bool {
		stored, err := f.actions.FindByID(ctx, action.ID)
		return err == nil && stored.Status == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, f.calendar.Calls())
}

func TestEngineStopIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, f.engine.Start(context.Background()))
	require.NoError(t, f.engine.Start(context.Background()))
	f.engine.Stop()
	f.engine.Stop()
}
