package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-action-engine/internal/actions"
	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/queue"
	"github.com/noah-isme/gema-action-engine/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Action{}, &models.AuditLogEntry{}, &models.SafetyRule{}, &models.RollbackHistoryEntry{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return server, client
}

func reasonRule(actionType models.ActionType, name string, ruleType models.SafetyRuleType, reason string) models.SafetyRule {
	config := datatypes.JSON(`{}`)
	if reason != "" {
		config = datatypes.JSON(fmt.Sprintf(`{"reason":%q}`, reason))
	}
	return models.SafetyRule{ActionType: actionType, RuleName: name, RuleType: ruleType, RuleConfig: config, Enabled: true}
}

func rateLimitRule(actionType models.ActionType, name string, limit, windowSeconds int) models.SafetyRule {
	return models.SafetyRule{
		ActionType: actionType,
		RuleName:   name,
		RuleType:   models.RuleRateLimit,
		RuleConfig: datatypes.JSON(fmt.Sprintf(`{"limit":%d,"window_seconds":%d}`, limit, windowSeconds)),
		Enabled:    true,
	}
}

// flakyCalendar fails the first failures calls to CreateEvent.
type flakyCalendar struct {
	mu          sync.Mutex
	failures    int
	calls       int
	deleteCalls int
	deleteDelay time.Duration
	deleted     []string
	deleteErr   error
}

func (c *flakyCalendar) CreateEvent(_ context.Context, event actions.CalendarEventPayload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return "", errors.New("calendar unavailable")
	}
	return fmt.Sprintf("evt-%d", c.calls), nil
}

func (c *flakyCalendar) DeleteEvent(_ context.Context, eventID string) error {
	c.mu.Lock()
	c.deleteCalls++
	delay := c.deleteDelay
	c.mu.Unlock()
	time.Sleep(delay)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	c.deleted = append(c.deleted, eventID)
	return nil
}

func (c *flakyCalendar) DeleteCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteCalls
}

func (c *flakyCalendar) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type stubMailer struct {
	mu   sync.Mutex
	sent []actions.EmailPayload
}

func (m *stubMailer) Send(_ context.Context, message actions.EmailPayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, message)
	return fmt.Sprintf("msg-%d", len(m.sent)), nil
}

type stubFiles struct{}

func (stubFiles) Move(context.Context, string, string) error { return nil }
func (stubFiles) Copy(context.Context, string, string) error { return nil }

type stubDocuments struct{}

func (stubDocuments) Create(context.Context, actions.DocumentPayload, string) (actions.StoredDocument, error) {
	return actions.StoredDocument{ID: "doc-1"}, nil
}
func (stubDocuments) Delete(context.Context, string) error { return nil }

type stubPayments struct{}

func (stubPayments) Charge(context.Context, actions.PaymentPayload) (string, error) {
	return "tx-1", nil
}
func (stubPayments) Refund(context.Context, string) error { return nil }
func (stubPayments) Purchase(context.Context, actions.PurchasePayload) (string, error) {
	return "order-1", nil
}
func (stubPayments) CancelOrder(context.Context, string) error { return nil }

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []ApprovalNotification
	err           error
}

func (n *recordingNotifier) SendApprovalRequest(_ context.Context, notification ApprovalNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
	return n.err
}

type staticKYC struct {
	verified map[string]bool
	err      error
}

func (k staticKYC) IsVerified(_ context.Context, userID string) (bool, error) {
	if k.err != nil {
		return false, k.err
	}
	return k.verified[userID], nil
}

type failingRuleRepo struct{}

func (failingRuleRepo) ListEnabled(context.Context, models.ActionType) ([]models.SafetyRule, error) {
	return nil, errors.New("database unavailable")
}

func (failingRuleRepo) List(context.Context, models.ActionType) ([]models.SafetyRule, error) {
	return nil, errors.New("database unavailable")
}

func (failingRuleRepo) UpsertBatch(context.Context, []models.SafetyRule) (int64, error) {
	return 0, errors.New("database unavailable")
}

type engineFixture struct {
	db        *gorm.DB
	redis     *miniredis.Miniredis
	client    *redis.Client
	queue     *queue.Queue
	actions   repository.ActionRepository
	rules     repository.SafetyRuleRepository
	audit     repository.AuditLogRepository
	rollbacks repository.RollbackHistoryRepository
	limiter   RateLimiter
	registry  *actions.Registry
	calendar  *flakyCalendar
	mailer    *stubMailer
	notifier  *recordingNotifier
	engine    *Engine
}

func newEngineFixture(t *testing.T, rules ...models.SafetyRule) *engineFixture {
	t.Helper()
	db := setupServiceTestDB(t)
	server, client := setupRedis(t)

	f := &engineFixture{
		db:        db,
		redis:     server,
		client:    client,
		actions:   repository.NewActionRepository(db),
		rules:     repository.NewSafetyRuleRepository(db),
		audit:     repository.NewAuditLogRepository(db),
		rollbacks: repository.NewRollbackHistoryRepository(db),
		calendar:  &flakyCalendar{},
		mailer:    &stubMailer{},
		notifier:  &recordingNotifier{},
	}
	if len(rules) > 0 {
		_, err := f.rules.UpsertBatch(context.Background(), rules)
		require.NoError(t, err)
	}

	opts := queue.DefaultOptions()
	opts.BackoffBase = 10 * time.Millisecond
	opts.BackoffMax = 50 * time.Millisecond
	f.queue = queue.New(client, opts, testLogger())
	f.limiter = NewRateLimiter(client, f.rules, testLogger())

	validate := validator.New(validator.WithRequiredStructEnabled())
	registry, err := actions.NewDefaultRegistry(actions.Integrations{
		Calendar:  f.calendar,
		Mailer:    f.mailer,
		Files:     stubFiles{},
		Documents: stubDocuments{},
		Payments:  stubPayments{},
	}, validate, testLogger())
	require.NoError(t, err)
	f.registry = registry

	engine, err := NewEngine(EngineDeps{
		Actions:   f.actions,
		Rules:     f.rules,
		Audit:     f.audit,
		Rollbacks: f.rollbacks,
		Queue:     f.queue,
		Limiter:   f.limiter,
		Registry:  registry,
		Notifier:  f.notifier,
		KYC:       staticKYC{verified: map[string]bool{"verified-user": true}},
		Validator: validate,
	}, EngineConfig{
		Concurrency:      2,
		PollInterval:     5 * time.Millisecond,
		RecoveryInterval: time.Hour,
		Approval:         ApprovalConfig{PublicBaseURL: "https://actions.example.com/"},
	}, testLogger())
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *engineFixture) dispatcher() *Dispatcher {
	return f.engine.dispatcher
}

// process waits for the next due job and runs it through the dispatcher synchronously.
func (f *engineFixture) process(t *testing.T) {
	t.Helper()
	var job *queue.Job
	require.Eventually(t, func() bool {
		next, err := f.queue.Dequeue(context.Background())
		if err != nil {
			return false
		}
		job = next
		return job != nil
	}, 2*time.Second, 5*time.Millisecond, "expected a queued job")
	f.dispatcher().handle(context.Background(), job)
}

func (f *engineFixture) action(t *testing.T, id string) models.Action {
	t.Helper()
	action, err := f.actions.FindByID(context.Background(), id)
	require.NoError(t, err)
	return action
}

func (f *engineFixture) events(t *testing.T, id string) []models.AuditEventType {
	t.Helper()
	entries, err := f.audit.ListByAction(context.Background(), id)
	require.NoError(t, err)
	out := make([]models.AuditEventType, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.EventType)
	}
	return out
}

const calendarPayload = `{"title":"Sync","start":"2026-05-01T10:00:00Z","end":"2026-05-01T11:00:00Z","attendees":["bob@example.com"]}`
const emailPayload = `{"to":"test@example.com","subject":"Test Email","body":"This is a test email"}`
