package integration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/service"
)

const (
	// DefaultApprovalSubject carries approval requests for the mail relay.
	DefaultApprovalSubject = "actions.approvals.requested"
	// DefaultEventSubjectPrefix prefixes lifecycle event subjects; the
	// audit event type is appended.
	DefaultEventSubjectPrefix = "actions.events"
)

// Publisher is the subset of *nats.Conn used by the NATS adapters.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSApprovalNotifier publishes approval requests as JSON messages.
type NATSApprovalNotifier struct {
	conn    Publisher
	subject string
	logger  zerolog.Logger
}

// NewNATSApprovalNotifier constructs a notifier publishing on subject.
func NewNATSApprovalNotifier(conn Publisher, subject string, logger zerolog.Logger) *NATSApprovalNotifier {
	if subject == "" {
		subject = DefaultApprovalSubject
	}
	return &NATSApprovalNotifier{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "approval_notifier_nats").Logger(),
	}
}

func (n *NATSApprovalNotifier) SendApprovalRequest(_ context.Context, notification service.ApprovalNotification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("publish approval request: %w", err)
	}

	n.logger.Debug().Str("action_id", notification.ActionID).Str("subject", n.subject).Msg("approval request published")
	return nil
}

// LogApprovalNotifier writes approval links to the log. Intended for local runs.
type LogApprovalNotifier struct {
	logger zerolog.Logger
}

// NewLogApprovalNotifier constructs a LogApprovalNotifier.
func NewLogApprovalNotifier(logger zerolog.Logger) *LogApprovalNotifier {
	return &LogApprovalNotifier{logger: logger.With().Str("component", "approval_notifier_log").Logger()}
}

func (n *LogApprovalNotifier) SendApprovalRequest(_ context.Context, notification service.ApprovalNotification) error {
	n.logger.Info().
		Str("action_id", notification.ActionID).
		Str("action_type", string(notification.ActionType)).
		Str("recipient", notification.Recipient).
		Str("approve_url", notification.ApproveURL).
		Str("reject_url", notification.RejectURL).
		Time("expires_at", notification.ExpiresAt).
		Msg("approval requested")
	return nil
}

// NATSEventPublisher publishes lifecycle events to "<prefix>.<event>".
type NATSEventPublisher struct {
	conn   Publisher
	prefix string
}

// NewNATSEventPublisher constructs an event publisher.
func NewNATSEventPublisher(conn Publisher, prefix string) *NATSEventPublisher {
	if prefix == "" {
		prefix = DefaultEventSubjectPrefix
	}
	return &NATSEventPublisher{conn: conn, prefix: prefix}
}

func (p *NATSEventPublisher) Publish(_ context.Context, event service.ActionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	subject := p.prefix + "." + string(event.Event)
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

var (
	_ service.ApprovalNotifier = (*NATSApprovalNotifier)(nil)
	_ service.ApprovalNotifier = (*LogApprovalNotifier)(nil)
	_ service.EventPublisher   = (*NATSEventPublisher)(nil)
)
