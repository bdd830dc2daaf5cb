package actions

import (
	"errors"
	"fmt"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

var (
	// ErrValidation marks payload problems. They are deterministic and never retried.
	ErrValidation = errors.New("invalid action payload")
	// ErrExecution marks failures of the underlying integration. They are retried.
	ErrExecution = errors.New("action execution failed")
	// ErrUnknownActionType indicates a type outside the catalogue or without a registered handler.
	ErrUnknownActionType = errors.New("unknown action type")
)

// ValidationError describes why a payload was rejected.
type ValidationError struct {
	ActionType models.ActionType
	Field      string
	Message    string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.ActionType, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.ActionType, e.Field, e.Message)
}

// Is lets callers match any validation failure with errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// HandlerExecutionError wraps a transient integration failure.
type HandlerExecutionError struct {
	ActionType models.ActionType
	Op         string
	Err        error
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.ActionType, e.Op, e.Err)
}

func (e *HandlerExecutionError) Unwrap() error {
	return e.Err
}

func (e *HandlerExecutionError) Is(target error) bool {
	return target == ErrExecution
}

func invalid(actionType models.ActionType, field, message string) error {
	return &ValidationError{ActionType: actionType, Field: field, Message: message}
}

func executionFailed(actionType models.ActionType, op string, err error) error {
	return &HandlerExecutionError{ActionType: actionType, Op: op, Err: err}
}
