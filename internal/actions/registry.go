package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

// Outcome is what a successful execution leaves behind.
type Outcome[R any] struct {
	Result   map[string]interface{}
	Rollback *R
}

// Handler implements validate, execute and rollback for one payload type P with rollback data R.
type Handler[P Payload, R any] interface {
	Validate(payload P) error
	Execute(ctx context.Context, payload P) (Outcome[R], error)
	Rollback(ctx context.Context, data R) error
}

// Execution is the serialized form of an Outcome as stored on the action.
type Execution struct {
	Result       json.RawMessage
	RollbackData json.RawMessage
}

// Entry is a registered handler with its payload type erased.
type Entry interface {
	Type() models.ActionType
	Decode(raw []byte) (Payload, error)
	Validate(payload Payload) error
	Execute(ctx context.Context, payload Payload) (Execution, error)
	Rollback(ctx context.Context, data json.RawMessage) error
}

// Registry maps each action type to its handler.
type Registry struct {
	mu      sync.RWMutex
	entries map[models.ActionType]Entry
	schemas *SchemaSet
}

// NewRegistry constructs an empty registry that checks payloads against the embedded schemas.
func NewRegistry() (*Registry, error) {
	schemas, err := LoadSchemas()
	if err != nil {
		return nil, err
	}
	return &Registry{
		entries: make(map[models.ActionType]Entry),
		schemas: schemas,
	}, nil
}

// Register binds a typed handler. The action type comes from the payload type, so a handler
// can never be registered under a type whose payload it does not understand.
func Register[P Payload, R any](r *Registry, handler Handler[P, R]) error {
	var zero P
	actionType := zero.ActionType()
	if !actionType.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownActionType, actionType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[actionType]; exists {
		return fmt.Errorf("handler already registered for %s", actionType)
	}
	r.entries[actionType] = &typedEntry[P, R]{actionType: actionType, handler: handler}
	return nil
}

// Lookup returns the handler for the action type.
func (r *Registry) Lookup(actionType models.ActionType) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[actionType]
	return entry, ok
}

// Types lists the registered action types.
func (r *Registry) Types() []models.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]models.ActionType, 0, len(r.entries))
	for _, actionType := range models.ActionTypes() {
		if _, ok := r.entries[actionType]; ok {
			types = append(types, actionType)
		}
	}
	return types
}

// Decode checks the raw payload against the type's schema and decodes it into its typed form.
func (r *Registry) Decode(actionType models.ActionType, raw []byte) (Payload, error) {
	entry, ok := r.Lookup(actionType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActionType, actionType)
	}
	if err := r.schemas.Check(actionType, raw); err != nil {
		return nil, err
	}
	return entry.Decode(raw)
}

type typedEntry[P Payload, R any] struct {
	actionType models.ActionType
	handler    Handler[P, R]
}

func (e *typedEntry[P, R]) Type() models.ActionType {
	return e.actionType
}

func (e *typedEntry[P, R]) Decode(raw []byte) (Payload, error) {
	var payload P
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		return nil, invalid(e.actionType, "", fmt.Sprintf("malformed payload: %v", err))
	}
	return payload, nil
}

func (e *typedEntry[P, R]) cast(payload Payload) (P, error) {
	typed, ok := payload.(P)
	if !ok {
		var zero P
		return zero, invalid(e.actionType, "", fmt.Sprintf("payload of type %s does not match handler", payload.ActionType()))
	}
	return typed, nil
}

func (e *typedEntry[P, R]) Validate(payload Payload) error {
	typed, err := e.cast(payload)
	if err != nil {
		return err
	}
	return e.handler.Validate(typed)
}

func (e *typedEntry[P, R]) Execute(ctx context.Context, payload Payload) (Execution, error) {
	typed, err := e.cast(payload)
	if err != nil {
		return Execution{}, err
	}

	outcome, err := e.handler.Execute(ctx, typed)
	if err != nil {
		var execErr *HandlerExecutionError
		if !errors.As(err, &execErr) && !errors.Is(err, ErrValidation) {
			err = executionFailed(e.actionType, "execute", err)
		}
		return Execution{}, err
	}

	var execution Execution
	if outcome.Result != nil {
		if execution.Result, err = json.Marshal(outcome.Result); err != nil {
			return Execution{}, fmt.Errorf("encode %s result: %w", e.actionType, err)
		}
	}
	if outcome.Rollback != nil {
		if execution.RollbackData, err = json.Marshal(outcome.Rollback); err != nil {
			return Execution{}, fmt.Errorf("encode %s rollback data: %w", e.actionType, err)
		}
	}
	return execution, nil
}

func (e *typedEntry[P, R]) Rollback(ctx context.Context, data json.RawMessage) error {
	var typed R
	if err := json.Unmarshal(data, &typed); err != nil {
		return fmt.Errorf("decode %s rollback data: %w", e.actionType, err)
	}
	return e.handler.Rollback(ctx, typed)
}
