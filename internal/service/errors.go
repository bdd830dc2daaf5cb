package service

import (
	"errors"
	"fmt"

	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/repository"
)

var (
	// ErrActionNotFound indicates the requested action does not exist.
	ErrActionNotFound = repository.ErrActionNotFound
	// ErrPolicyBlocked indicates the safety policy refused the action.
	ErrPolicyBlocked = errors.New("action blocked by safety policy")
	// ErrInvalidStateTransition indicates the action is not in a status that allows the request.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrApprovalExpired indicates the approval window closed before the decision arrived.
	ErrApprovalExpired = errors.New("approval window expired")
	// ErrRollbackUnavailable indicates the action cannot be compensated.
	ErrRollbackUnavailable = errors.New("rollback unavailable")
	// ErrRollbackFailed indicates the compensating operation itself failed.
	ErrRollbackFailed = errors.New("rollback failed")
	// ErrSystem marks infrastructure failures. Policy evaluation surfaces it only as a block.
	ErrSystem = errors.New("system error")
	// ErrInvalidPriority indicates the requested priority is outside the allowed range.
	ErrInvalidPriority = fmt.Errorf("priority must be between %d and %d", models.MinActionPriority, models.MaxActionPriority)
)

// PolicyBlockedError carries the evaluation that refused an action.
type PolicyBlockedError struct {
	ActionType models.ActionType
	Result     SafetyCheckResult
}

func (e *PolicyBlockedError) Error() string {
	return fmt.Sprintf("%s blocked: %s", e.ActionType, e.Result.Reason)
}

func (e *PolicyBlockedError) Is(target error) bool {
	return target == ErrPolicyBlocked
}

// InvalidStateTransitionError reports a request the action's current status does not allow.
type InvalidStateTransitionError struct {
	ActionID string
	From     models.ActionStatus
	To       models.ActionStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("action %s cannot move from %s to %s", e.ActionID, e.From, e.To)
}

func (e *InvalidStateTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

func invalidTransition(action models.Action, to models.ActionStatus) error {
	return &InvalidStateTransitionError{ActionID: action.ID, From: action.Status, To: to}
}
