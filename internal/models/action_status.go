package models

import "errors"

// ActionStatus captures the lifecycle position of an action.
type ActionStatus string

const (
	StatusPending    ActionStatus = "pending"
	StatusApproved   ActionStatus = "approved"
	StatusExecuting  ActionStatus = "executing"
	StatusCompleted  ActionStatus = "completed"
	StatusFailed     ActionStatus = "failed"
	StatusRejected   ActionStatus = "rejected"
	StatusRolledBack ActionStatus = "rolled_back"
)

// ErrInvalidTransition is returned when a status change is not part of the lifecycle graph.
var ErrInvalidTransition = errors.New("invalid action status transition")

// CanTransition reports whether the lifecycle graph contains the edge from -> to.
// executing -> approved is the in-place retry edge taken while retry budget remains.
func CanTransition(from, to ActionStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusExecuting
	case StatusExecuting:
		return to == StatusCompleted || to == StatusFailed || to == StatusApproved
	case StatusCompleted:
		return to == StatusRolledBack
	default:
		return false
	}
}

// Transition validates the edge and returns the new status.
func Transition(from, to ActionStatus) (ActionStatus, error) {
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}

// IsTerminal reports whether no further transitions leave the status.
func IsTerminal(status ActionStatus) bool {
	switch status {
	case StatusRejected, StatusFailed, StatusRolledBack:
		return true
	default:
		return false
	}
}

// TransitionEvent maps a lifecycle edge to the audit event it produces.
func TransitionEvent(from, to ActionStatus) AuditEventType {
	switch {
	case to == StatusApproved && from == StatusExecuting:
		return AuditEventRetried
	case to == StatusApproved:
		return AuditEventApproved
	case to == StatusRejected:
		return AuditEventRejected
	case to == StatusExecuting:
		return AuditEventStarted
	case to == StatusCompleted:
		return AuditEventCompleted
	case to == StatusFailed:
		return AuditEventFailed
	case to == StatusRolledBack:
		return AuditEventRolledBack
	default:
		return ""
	}
}
