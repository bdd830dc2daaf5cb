package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-action-engine/internal/dto"
	"github.com/noah-isme/gema-action-engine/internal/models"
)

func newApprovalFixture(t *testing.T) *engineFixture {
	t.Helper()
	return newEngineFixture(t, reasonRule(models.ActionSendEmail, "email_approval", models.RuleRequiresApproval, ""))
}

func createPendingEmail(t *testing.T, f *engineFixture, userID string) dto.CreateActionResponse {
	t.Helper()
	resp, err := f.engine.Actions.CreateAction(context.Background(), dto.CreateActionRequest{
		UserID:     userID,
		ActionType: string(models.ActionSendEmail),
		Payload:    json.RawMessage(emailPayload),
	}, RequestMeta{Actor: userID, Source: models.SourceAPI})
	require.NoError(t, err)
	require.True(t, resp.RequiresApproval)
	require.Equal(t, models.StatusPending, resp.Status)
	return resp
}

func TestApprovalCreatesTokenAndNotifies(t *testing.T) {
	f := newApprovalFixture(t)
	resp := createPendingEmail(t, f, "u1")

	require.Len(t, resp.ApprovalToken, 64)
	require.NotNil(t, resp.ApprovalExpiresAt)
	require.WithinDuration(t, time.Now().Add(24*time.Hour), *resp.ApprovalExpiresAt, time.Minute)

	require.Len(t, f.notifier.notifications, 1)
	notification := f.notifier.notifications[0]
	require.Equal(t, "u1", notification.Recipient)
	require.Equal(t, "https://actions.example.com/api/v1/approvals/"+resp.ApprovalToken+"/approve", notification.ApproveURL)
	require.Equal(t, "https://actions.example.com/api/v1/approvals/"+resp.ApprovalToken+"/reject", notification.RejectURL)
	require.Contains(t, notification.Body, notification.ApproveURL)

	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Waiting, "pending actions are not queued")
}

func TestApprovalTokensAreUnique(t *testing.T) {
	f := newApprovalFixture(t)
	first := createPendingEmail(t, f, "u1")
	second := createPendingEmail(t, f, "u1")
	require.NotEqual(t, first.ApprovalToken, second.ApprovalToken)
}

func TestApproveTransitionsAndEnqueues(t *testing.T) {
	f := newApprovalFixture(t)
	resp := createPendingEmail(t, f, "u1")

	approved, err := f.engine.Actions.ApproveAction(context.Background(), resp.ActionID, RequestMeta{Actor: "reviewer", Source: models.SourceUI, IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	require.Equal(t, "reviewer", *approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Waiting)

	entries, err := f.audit.ListByAction(context.Background(), resp.ActionID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, models.AuditEventApproved, entries[1].EventType)
	require.Equal(t, models.SourceUI, entries[1].Source)
	require.Equal(t, "reviewer", entries[1].Actor)
	require.NotNil(t, entries[1].IPAddress)
}

func TestApprovalTokenIsSingleUse(t *testing.T) {
	f := newApprovalFixture(t)
	resp := createPendingEmail(t, f, "u1")
	ctx := context.Background()

	approved, err := f.engine.Actions.ApproveByToken(ctx, resp.ApprovalToken, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, approved.Status)

	_, err = f.engine.Actions.ApproveByToken(ctx, resp.ApprovalToken, RequestMeta{})
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = f.engine.Actions.RejectByToken(ctx, resp.ApprovalToken, "changed my mind", RequestMeta{})
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	entries, err := f.audit.ListByAction(ctx, resp.ActionID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, models.SourceEmailLink, entries[1].Source)
	require.Equal(t, "u1", entries[1].Actor)
}

func TestApproveAfterExpiryFailsAndLeavesStatus(t *testing.T) {
	f := newApprovalFixture(t)
	resp := createPendingEmail(t, f, "u1")

	expired := time.Now().Add(-time.Minute).UTC()
	require.NoError(t, f.actions.UpdateFields(context.Background(), resp.ActionID, models.StatusPending, map[string]interface{}{"approval_expires_at": expired}))

	_, err := f.engine.Actions.ApproveAction(context.Background(), resp.ActionID, RequestMeta{Actor: "reviewer"})
	require.ErrorIs(t, err, ErrApprovalExpired)
	require.Equal(t, models.StatusPending, f.action(t, resp.ActionID).Status)
}

func TestRejectByTokenAfterExpiryFails(t *testing.T) {
	f := newApprovalFixture(t)
	resp := createPendingEmail(t, f, "u1")
	ctx := context.Background()

	expired := time.Now().Add(-time.Minute).UTC()
	require.NoError(t, f.actions.UpdateFields(ctx, resp.ActionID, models.StatusPending, map[string]interface{}{"approval_expires_at": expired}))

	_, err := f.engine.Actions.RejectByToken(ctx, resp.ApprovalToken, "too late", RequestMeta{})
	require.ErrorIs(t, err, ErrApprovalExpired)
	require.Equal(t, models.StatusPending, f.action(t, resp.ActionID).Status)

	// An approver can still clear an expired request through the API.
	rejected, err := f.engine.Actions.RejectAction(ctx, resp.ActionID, "expired", RequestMeta{Actor: "reviewer"})
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, rejected.Status)
}

func TestRejectIsTerminal(t *testing.T) {
	f := newApprovalFixture(t)
	resp := createPendingEmail(t, f, "u1")
	ctx := context.Background()

	rejected, err := f.engine.Actions.RejectAction(ctx, resp.ActionID, "<b>not now</b>", RequestMeta{Actor: "reviewer"})
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	require.Equal(t, "not now", *rejected.RejectionReason)

	_, err = f.engine.Actions.ApproveAction(ctx, resp.ActionID, RequestMeta{Actor: "reviewer"})
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	require.Equal(t, []models.AuditEventType{models.AuditEventCreated, models.AuditEventRejected}, f.events(t, resp.ActionID))
}

func TestApproveRequiresApprovalFlag(t *testing.T) {
	f := newEngineFixture(t)
	resp, err := f.engine.Actions.CreateAction(context.Background(), dto.CreateActionRequest{
		UserID:     "u1",
		ActionType: string(models.ActionSendEmail),
		Payload:    json.RawMessage(emailPayload),
	}, RequestMeta{})
	require.NoError(t, err)
	require.False(t, resp.RequiresApproval)

	_, err = f.engine.Actions.ApproveAction(context.Background(), resp.ActionID, RequestMeta{Actor: "reviewer"})
	var transitionErr *InvalidStateTransitionError
	require.ErrorAs(t, err, &transitionErr)
	require.Equal(t, models.StatusApproved, transitionErr.From)
}

func TestApproveUnknownToken(t *testing.T) {
	f := newApprovalFixture(t)
	_, err := f.engine.Actions.ApproveByToken(context.Background(), "deadbeef", RequestMeta{})
	require.ErrorIs(t, err, ErrActionNotFound)
}

func TestNotificationFailureKeepsActionPending(t *testing.T) {
	f := newApprovalFixture(t)
	f.notifier.err = context.DeadlineExceeded

	resp := createPendingEmail(t, f, "u1")
	require.Equal(t, models.StatusPending, f.action(t, resp.ActionID).Status)
}
