package integration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-action-engine/internal/actions"
	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/service"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestRedisKYCChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	checker := NewRedisKYCChecker(client, "")
	ctx := context.Background()

	ok, err := checker.IsVerified(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, checker.MarkVerified(ctx, "user-1", "user-2"))

	ok, err = checker.IsVerified(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)

	members, err := mr.Members(DefaultKYCSetKey)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"user-1", "user-2"}, members)
}

func TestRedisKYCCheckerSurfacesOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	mr.Close()

	_, err := NewRedisKYCChecker(client, "kyc:custom").IsVerified(context.Background(), "user-1")
	require.Error(t, err)
}

func TestStaticKYCChecker(t *testing.T) {
	checker := NewStaticKYCChecker([]string{" alice ", "", "bob"})

	ok, err := checker.IsVerified(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, ok)

	ok, _ = checker.IsVerified(context.Background(), "carol")
	require.False(t, ok)
}

func TestNATSApprovalNotifierPublishesJSON(t *testing.T) {
	pub := &recordingPublisher{}
	notifier := NewNATSApprovalNotifier(pub, "", zerolog.Nop())

	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := notifier.SendApprovalRequest(context.Background(), service.ApprovalNotification{
		ActionID:   "a-1",
		ActionType: models.ActionSendEmail,
		Recipient:  "user-1",
		ApproveURL: "https://example.com/approve",
		RejectURL:  "https://example.com/reject",
		ExpiresAt:  expires,
	})
	require.NoError(t, err)

	require.Equal(t, []string{DefaultApprovalSubject}, pub.subjects)

	var decoded service.ApprovalNotification
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	require.Equal(t, "a-1", decoded.ActionID)
	require.Equal(t, "https://example.com/approve", decoded.ApproveURL)
	require.True(t, expires.Equal(decoded.ExpiresAt))
}

func TestNATSApprovalNotifierWrapsPublishError(t *testing.T) {
	boom := errors.New("connection closed")
	notifier := NewNATSApprovalNotifier(&recordingPublisher{err: boom}, "approvals", zerolog.Nop())

	err := notifier.SendApprovalRequest(context.Background(), service.ApprovalNotification{ActionID: "a-1"})
	require.ErrorIs(t, err, boom)
}

func TestNATSEventPublisherUsesEventSubject(t *testing.T) {
	pub := &recordingPublisher{}
	events := NewNATSEventPublisher(pub, "engine")

	err := events.Publish(context.Background(), service.ActionEvent{
		ActionID: "a-1",
		Event:    models.AuditEventCompleted,
		Status:   models.StatusCompleted,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"engine.completed"}, pub.subjects)
}

func TestLogCalendarDeleteRequiresKnownEvent(t *testing.T) {
	calendar := NewLogCalendar(zerolog.Nop())
	ctx := context.Background()

	id, err := calendar.CreateEvent(ctx, actions.CalendarEventPayload{Title: "Standup"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, calendar.DeleteEvent(ctx, id))
	require.Error(t, calendar.DeleteEvent(ctx, id))
}

func TestLogFileStoreTracksMovedSources(t *testing.T) {
	store := NewLogFileStore(zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, store.Move(ctx, "/a/report.pdf", "/b/report.pdf"))
	require.Error(t, store.Move(ctx, "/a/report.pdf", "/c/report.pdf"))
	require.NoError(t, store.Move(ctx, "/b/report.pdf", "/a/report.pdf"))
	require.NoError(t, store.Copy(ctx, "/a/report.pdf", "/backup/report.pdf"))
}

func TestLogDocumentStoreRoundTrip(t *testing.T) {
	store := NewLogDocumentStore("https://docs.example.com/", zerolog.Nop())
	ctx := context.Background()

	doc, err := store.Create(ctx, actions.DocumentPayload{Title: "Notes", Content: "# hi", Format: actions.FormatMarkdown}, "text/plain")
	require.NoError(t, err)
	require.Equal(t, "https://docs.example.com/documents/"+doc.ID, doc.URL)

	require.NoError(t, store.Delete(ctx, doc.ID))
	require.Error(t, store.Delete(ctx, doc.ID))
}

func TestMaskAddress(t *testing.T) {
	require.Equal(t, "a***e@example.com", maskAddress(" Alice@Example.com "))
	require.Equal(t, "b***@example.com", maskAddress("bo@example.com"))
	require.Equal(t, "***", maskAddress("not-an-address"))
	require.Equal(t, "***", maskAddress("@example.com"))
	require.Equal(t, "", maskAddress(""))
	require.Equal(t, []string{"a***e@example.com"}, maskAddresses([]string{"alice@example.com"}))
}
