package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/actions"
	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/observability"
	"github.com/noah-isme/gema-action-engine/internal/queue"
	"github.com/noah-isme/gema-action-engine/internal/repository"
)

const (
	defaultRecoveryInterval = time.Minute
	recoveryBatchSize       = 1000
)

// EngineQueue is the queue surface the engine needs, including statistics.
type EngineQueue interface {
	JobQueue
	Stats(ctx context.Context) (queue.Stats, error)
}

// EngineDeps are the collaborators wired into an engine.
type EngineDeps struct {
	Actions   repository.ActionRepository
	Rules     repository.SafetyRuleRepository
	Audit     repository.AuditLogRepository
	Rollbacks repository.RollbackHistoryRepository
	Queue     EngineQueue
	Limiter   RateLimiter
	Registry  *actions.Registry
	Notifier  ApprovalNotifier
	KYC       KYCChecker
	Events    EventPublisher
	Validator *validator.Validate
}

// EngineConfig tunes the worker pool, retry budget and approvals.
type EngineConfig struct {
	Concurrency      int
	PollInterval     time.Duration
	RecoveryInterval time.Duration
	MaxRetries       int
	Approval         ApprovalConfig
}

// Engine owns the queue consumers and exposes the public services.
type Engine struct {
	Actions ActionService
	Rules   SafetyRuleService
	Audit   AuditLogService

	actions    repository.ActionRepository
	queue      EngineQueue
	dispatcher *Dispatcher
	config     EngineConfig
	logger     zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewEngine wires the policy evaluator, approval manager, dispatcher and public API.
func NewEngine(deps EngineDeps, config EngineConfig, logger zerolog.Logger) (*Engine, error) {
	if deps.Actions == nil || deps.Rules == nil || deps.Queue == nil || deps.Registry == nil || deps.Limiter == nil {
		return nil, errors.New("engine requires action store, rules, queue, limiter and registry")
	}
	if deps.Validator == nil {
		deps.Validator = validator.New(validator.WithRequiredStructEnabled())
	}
	if deps.Events == nil {
		deps.Events = noopPublisher{}
	}
	if config.RecoveryInterval <= 0 {
		config.RecoveryInterval = defaultRecoveryInterval
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = models.DefaultMaxRetries
	}

	policy := NewPolicyEvaluator(deps.Rules, deps.Limiter, deps.KYC, logger)
	approvals := NewApprovalService(deps.Actions, deps.Queue, deps.Notifier, deps.Events, config.Approval, logger)
	rollback := NewRollbackService(deps.Actions, deps.Rollbacks, deps.Registry, deps.Events, logger)
	dispatcher := NewDispatcher(deps.Queue, deps.Actions, deps.Registry, deps.Limiter, deps.Events, DispatcherConfig{
		Concurrency:  config.Concurrency,
		PollInterval: config.PollInterval,
	}, logger)

	var audit AuditLogService
	if deps.Audit != nil {
		audit = NewAuditLogService(deps.Audit, logger)
	}

	return &Engine{
		Actions: NewActionService(ActionServiceDeps{
			Actions:    deps.Actions,
			Audit:      deps.Audit,
			Rollbacks:  deps.Rollbacks,
			Registry:   deps.Registry,
			Policy:     policy,
			Limiter:    deps.Limiter,
			Approvals:  approvals,
			Rollback:   rollback,
			Queue:      deps.Queue,
			Events:     deps.Events,
			MaxRetries: config.MaxRetries,
		}, logger),
		Rules:      NewSafetyRuleService(deps.Rules, deps.Validator, logger),
		Audit:      audit,
		actions:    deps.Actions,
		queue:      deps.Queue,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger.With().Str("component", "engine").Logger(),
	}, nil
}

// Start recovers approved actions, launches the worker pool and the periodic recovery sweep.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	if _, err := e.Recover(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	e.dispatcher.Start(runCtx)
	go e.sweep(runCtx, e.done)
	e.logger.Info().Msg("engine started")
	return nil
}

// Stop halts the sweep and waits for in-flight executions to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.mu.Unlock()

	cancel()
	<-done
	e.dispatcher.Stop()
	e.logger.Info().Msg("engine stopped")
}

// Recover enqueues every approved action. Enqueue is idempotent per action, so
// actions that already have a queued job are left alone.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	approved, err := e.actions.ListByStatus(ctx, models.StatusApproved, recoveryBatchSize)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, action := range approved {
		added, err := enqueueAction(ctx, e.queue, action)
		if err != nil {
			e.logger.Error().Err(err).Str("action_id", action.ID).Msg("recovery enqueue failed")
			continue
		}
		if added {
			recovered++
		}
	}
	if recovered > 0 {
		e.logger.Info().Int("recovered", recovered).Msg("re-enqueued approved actions")
	}
	return recovered, nil
}

// QueueStats reports queue partition sizes.
func (e *Engine) QueueStats(ctx context.Context) (queue.Stats, error) {
	return e.queue.Stats(ctx)
}

func (e *Engine) sweep(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.config.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Recover(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error().Err(err).Msg("recovery sweep failed")
			}
			e.reportQueueDepth(ctx)
		}
	}
}

func (e *Engine) reportQueueDepth(ctx context.Context) {
	stats, err := e.queue.Stats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn().Err(err).Msg("queue stats unavailable")
		}
		return
	}
	gauge := observability.QueueDepth()
	gauge.WithLabelValues("waiting").Set(float64(stats.Waiting))
	gauge.WithLabelValues("delayed").Set(float64(stats.Delayed))
	gauge.WithLabelValues("active").Set(float64(stats.Active))
	gauge.WithLabelValues("completed").Set(float64(stats.Completed))
	gauge.WithLabelValues("failed").Set(float64(stats.Failed))
}
