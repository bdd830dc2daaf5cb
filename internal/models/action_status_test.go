package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var allStatuses = []ActionStatus{
	StatusPending, StatusApproved, StatusExecuting, StatusCompleted,
	StatusFailed, StatusRejected, StatusRolledBack,
}

func TestCanTransitionMatchesLifecycleGraph(t *testing.T) {
	allowed := map[ActionStatus][]ActionStatus{
		StatusPending:   {StatusApproved, StatusRejected},
		StatusApproved:  {StatusExecuting},
		StatusExecuting: {StatusCompleted, StatusFailed, StatusApproved},
		StatusCompleted: {StatusRolledBack},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := false
			for _, candidate := range allowed[from] {
				if candidate == to {
					want = true
				}
			}
			require.Equalf(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatusesHaveNoOutgoingEdges(t *testing.T) {
	for _, from := range allStatuses {
		if !IsTerminal(from) {
			continue
		}
		for _, to := range allStatuses {
			require.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransitionRejectsUnknownEdge(t *testing.T) {
	status, err := Transition(StatusPending, StatusCompleted)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StatusPending, status)

	status, err = Transition(StatusPending, StatusApproved)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, status)
}

func TestTransitionEventDistinguishesRetry(t *testing.T) {
	require.Equal(t, AuditEventRetried, TransitionEvent(StatusExecuting, StatusApproved))
	require.Equal(t, AuditEventApproved, TransitionEvent(StatusPending, StatusApproved))
	require.Equal(t, AuditEventRolledBack, TransitionEvent(StatusCompleted, StatusRolledBack))
}
