package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEventType enumerates lifecycle events recorded for an action.
type AuditEventType string

const (
	AuditEventCreated    AuditEventType = "created"
	AuditEventApproved   AuditEventType = "approved"
	AuditEventRejected   AuditEventType = "rejected"
	AuditEventStarted    AuditEventType = "started"
	AuditEventCompleted  AuditEventType = "completed"
	AuditEventFailed     AuditEventType = "failed"
	AuditEventRetried    AuditEventType = "retried"
	AuditEventRolledBack AuditEventType = "rolled_back"
)

// Valid reports whether the event type is one the engine records.
func (t AuditEventType) Valid() bool {
	switch t {
	case AuditEventCreated, AuditEventApproved, AuditEventRejected, AuditEventStarted,
		AuditEventCompleted, AuditEventFailed, AuditEventRetried, AuditEventRolledBack:
		return true
	default:
		return false
	}
}

// AuditSource is the channel through which an event was triggered.
type AuditSource string

const (
	SourceAPI       AuditSource = "api"
	SourceEmailLink AuditSource = "email_link"
	SourceUI        AuditSource = "ui"
	SourceWorker    AuditSource = "worker"
	SourceWebhook   AuditSource = "webhook"
)

// Valid reports whether the source is one of the known channels.
func (s AuditSource) Valid() bool {
	switch s {
	case SourceAPI, SourceEmailLink, SourceUI, SourceWorker, SourceWebhook:
		return true
	default:
		return false
	}
}

// AuditLogEntry is an immutable record of one lifecycle event. Rows are only ever inserted.
type AuditLogEntry struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	ActionID  string         `gorm:"size:36;not null;index" json:"action_id"`
	UserID    string         `gorm:"size:64;not null;index" json:"user_id"`
	EventType AuditEventType `gorm:"size:32;not null" json:"event_type"`
	EventData datatypes.JSON `gorm:"type:json" json:"event_data"`
	Actor     string         `gorm:"size:64" json:"actor"`
	Source    AuditSource    `gorm:"size:32;not null" json:"source"`
	IPAddress *string        `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent *string        `gorm:"size:512" json:"user_agent,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}
