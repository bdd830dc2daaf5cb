package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-action-engine/internal/actions"
	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/observability"
	"github.com/noah-isme/gema-action-engine/internal/queue"
	"github.com/noah-isme/gema-action-engine/internal/repository"
)

const (
	DefaultConcurrency  = 5
	defaultPollInterval = 500 * time.Millisecond
)

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Concurrency  int
	PollInterval time.Duration
}

// ExecutionRecorder accounts completed executions against rate limit windows.
type ExecutionRecorder interface {
	RecordExecution(ctx context.Context, actionType models.ActionType, userID string) error
}

// Dispatcher pulls jobs from the queue and drives each action through execution.
type Dispatcher struct {
	queue    JobQueue
	actions  repository.ActionRepository
	registry *actions.Registry
	recorder ExecutionRecorder
	events   EventPublisher
	config   DispatcherConfig
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher constructs a dispatcher. Call Start to launch its workers.
func NewDispatcher(q JobQueue, actionRepo repository.ActionRepository, registry *actions.Registry, recorder ExecutionRecorder, events EventPublisher, config DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if events == nil {
		events = noopPublisher{}
	}
	return &Dispatcher{
		queue:    q,
		actions:  actionRepo,
		registry: registry,
		recorder: recorder,
		events:   events,
		config:   config,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-action-engine/internal/service/dispatcher"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the worker pool. It is a no-op if the pool is already running.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for i := 0; i < d.config.Concurrency; i++ {
		d.wg.Add(1)
		go d.work(ctx, i)
	}
	d.logger.Info().Int("concurrency", d.config.Concurrency).Msg("dispatcher started")
}

// Stop signals workers to exit and waits for in-flight jobs to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	d.logger.Info().Msg("dispatcher stopped")
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	defer d.wg.Done()
	logger := d.logger.With().Int("worker", worker).Logger()

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error().Err(err).Msg("dequeue failed")
			}
			d.sleep(ctx)
			continue
		}
		if job == nil {
			d.sleep(ctx)
			continue
		}
		// In-flight jobs finish even when the pool is stopping.
		d.handle(context.WithoutCancel(ctx), job)
	}
}

func (d *Dispatcher) sleep(ctx context.Context) {
	timer := time.NewTimer(d.config.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (d *Dispatcher) handle(ctx context.Context, job *queue.Job) {
	err := d.Process(ctx, job)
	switch {
	case err == nil:
		if cerr := d.queue.Complete(ctx, job); cerr != nil {
			d.logger.Error().Err(cerr).Str("action_id", job.ActionID).Msg("complete job failed")
		}
	case errors.Is(err, queue.ErrPermanent):
		if ferr := d.queue.Fail(ctx, job, err); ferr != nil {
			d.logger.Error().Err(ferr).Str("action_id", job.ActionID).Msg("fail job failed")
		}
	default:
		if _, rerr := d.queue.Retry(ctx, job, err); rerr != nil {
			d.logger.Error().Err(rerr).Str("action_id", job.ActionID).Msg("retry job failed")
		}
	}
}

// Process executes one delivery of a job. A nil error completes the job, an error
// wrapped with queue.Permanent fails it and any other error schedules a retry.
func (d *Dispatcher) Process(ctx context.Context, job *queue.Job) error {
	ctx, span := d.tracer.Start(ctx, "dispatcher.process")
	span.SetAttributes(attribute.String("action.id", job.ActionID), attribute.Int("job.attempts", job.Attempts))
	defer span.End()

	action, err := d.actions.FindByID(ctx, job.ActionID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, repository.ErrActionNotFound) {
			d.logger.Warn().Str("action_id", job.ActionID).Msg("job references unknown action")
			return queue.Permanent(err)
		}
		return err
	}
	logger := d.logger.With().Str("action_id", action.ID).Str("action_type", string(action.Type)).Logger()

	if action.Status == models.StatusPending && action.RequiresApproval {
		logger.Info().Msg("action still awaiting approval, skipping")
		observability.ActionExecutions().WithLabelValues(string(action.Type), "skipped").Inc()
		return nil
	}
	if action.Status != models.StatusApproved {
		logger.Debug().Str("status", string(action.Status)).Msg("action not approved, skipping duplicate delivery")
		observability.ActionExecutions().WithLabelValues(string(action.Type), "skipped").Inc()
		return nil
	}

	startedAt := d.now()
	action, err = d.actions.Transition(ctx, repository.StatusTransition{
		ActionID: action.ID,
		From:     models.StatusApproved,
		To:       models.StatusExecuting,
		Fields:   map[string]interface{}{"started_at": startedAt},
		Audit:    auditEntry(workerMeta, map[string]interface{}{"attempt": action.RetryCount + 1}),
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			logger.Debug().Msg("another worker claimed the action")
			return nil
		}
		span.RecordError(err)
		return err
	}
	publishTransition(ctx, d.events, d.logger, action, models.AuditEventStarted, workerMeta.Actor)

	entry, ok := d.registry.Lookup(action.Type)
	if !ok {
		cause := fmt.Errorf("%w: no handler registered for %s", actions.ErrUnknownActionType, action.Type)
		return d.failPermanently(ctx, span, action, cause)
	}

	payload, err := d.registry.Decode(action.Type, action.Payload)
	if err == nil {
		err = entry.Validate(payload)
	}
	if err != nil {
		return d.failPermanently(ctx, span, action, err)
	}

	timer := time.Now()
	execution, err := entry.Execute(ctx, payload)
	observability.ActionExecutionDuration().WithLabelValues(string(action.Type)).Observe(time.Since(timer).Seconds())
	if err != nil {
		if errors.Is(err, actions.ErrValidation) {
			return d.failPermanently(ctx, span, action, err)
		}
		return d.failAttempt(ctx, span, action, err)
	}
	return d.complete(ctx, span, action, execution)
}

func (d *Dispatcher) complete(ctx context.Context, span trace.Span, action models.Action, execution actions.Execution) error {
	fields := map[string]interface{}{
		"completed_at":  d.now(),
		"error_message": nil,
	}
	if len(execution.Result) > 0 {
		fields["result"] = datatypes.JSON(execution.Result)
	}
	if len(execution.RollbackData) > 0 {
		fields["rollback_data"] = datatypes.JSON(execution.RollbackData)
	}

	updated, err := d.actions.Transition(ctx, repository.StatusTransition{
		ActionID: action.ID,
		From:     models.StatusExecuting,
		To:       models.StatusCompleted,
		Fields:   fields,
		Audit: auditEntry(workerMeta, map[string]interface{}{
			"result":       execution.Result,
			"has_rollback": len(execution.RollbackData) > 0,
		}),
	})
	if err != nil {
		// The side effect already happened; a retry would repeat it.
		span.RecordError(err)
		d.stuck(action, models.StatusCompleted, err)
		return queue.Permanent(err)
	}

	if d.recorder != nil {
		if err := d.recorder.RecordExecution(ctx, updated.Type, updated.UserID); err != nil {
			d.logger.Warn().Err(err).Str("action_id", updated.ID).Msg("recording execution against rate limits failed")
		}
	}

	observability.ActionExecutions().WithLabelValues(string(updated.Type), "completed").Inc()
	publishTransition(ctx, d.events, d.logger, updated, models.AuditEventCompleted, workerMeta.Actor)
	d.logger.Info().Str("action_id", updated.ID).Str("action_type", string(updated.Type)).Int("retry_count", updated.RetryCount).Msg("action completed")
	span.SetStatus(codes.Ok, "completed")
	return nil
}

// failAttempt consumes one unit of the retry budget.
func (d *Dispatcher) failAttempt(ctx context.Context, span trace.Span, action models.Action, cause error) error {
	span.RecordError(cause)
	retryCount := action.RetryCount + 1
	if retryCount >= action.MaxRetries {
		return d.fail(ctx, span, action, retryCount, cause)
	}

	updated, err := d.actions.Transition(ctx, repository.StatusTransition{
		ActionID: action.ID,
		From:     models.StatusExecuting,
		To:       models.StatusApproved,
		Fields: map[string]interface{}{
			"retry_count":   retryCount,
			"error_message": cause.Error(),
		},
		Audit: auditEntry(workerMeta, map[string]interface{}{
			"attempt":     retryCount,
			"max_retries": action.MaxRetries,
			"error":       cause.Error(),
		}),
	})
	if err != nil {
		d.stuck(action, models.StatusApproved, err)
		return queue.Permanent(errors.Join(cause, err))
	}

	observability.ActionExecutions().WithLabelValues(string(updated.Type), "retried").Inc()
	publishTransition(ctx, d.events, d.logger, updated, models.AuditEventRetried, workerMeta.Actor)
	d.logger.Warn().Err(cause).Str("action_id", updated.ID).Int("retry_count", retryCount).Int("max_retries", updated.MaxRetries).Msg("action attempt failed, retrying")
	span.SetStatus(codes.Error, "retrying")
	return cause
}

func (d *Dispatcher) failPermanently(ctx context.Context, span trace.Span, action models.Action, cause error) error {
	span.RecordError(cause)
	return d.fail(ctx, span, action, action.RetryCount, cause)
}

func (d *Dispatcher) fail(ctx context.Context, span trace.Span, action models.Action, retryCount int, cause error) error {
	updated, err := d.actions.Transition(ctx, repository.StatusTransition{
		ActionID: action.ID,
		From:     models.StatusExecuting,
		To:       models.StatusFailed,
		Fields: map[string]interface{}{
			"retry_count":   retryCount,
			"error_message": cause.Error(),
			"completed_at":  d.now(),
		},
		Audit: auditEntry(workerMeta, map[string]interface{}{
			"retry_count": retryCount,
			"error":       cause.Error(),
		}),
	})
	if err != nil {
		d.stuck(action, models.StatusFailed, err)
		return queue.Permanent(errors.Join(cause, err))
	}

	observability.ActionExecutions().WithLabelValues(string(updated.Type), "failed").Inc()
	publishTransition(ctx, d.events, d.logger, updated, models.AuditEventFailed, workerMeta.Actor)
	d.logger.Error().Err(cause).Str("action_id", updated.ID).Int("retry_count", retryCount).Msg("action failed")
	span.SetStatus(codes.Error, "failed")
	return queue.Permanent(cause)
}

// stuck reports an executing action whose next status could not be stored. Redelivery
// skips anything that is not approved, so the row stays executing until an operator acts.
func (d *Dispatcher) stuck(action models.Action, to models.ActionStatus, err error) {
	observability.StuckTransitions().WithLabelValues(string(action.Type), string(models.StatusExecuting), string(to)).Inc()
	d.logger.Error().
		Err(err).
		Str("action_id", action.ID).
		Str("action_type", string(action.Type)).
		Str("to", string(to)).
		Bool("operator_alert", true).
		Msg("action left executing: status update failed")
}
