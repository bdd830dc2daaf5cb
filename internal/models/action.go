package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActionType identifies the side effect an action performs.
type ActionType string

const (
	ActionCreateCalendarEvent ActionType = "create_calendar_event"
	ActionSendEmail           ActionType = "send_email"
	ActionMoveFile            ActionType = "move_file"
	ActionCreateDocument      ActionType = "create_document"
	ActionMakePayment         ActionType = "make_payment"
	ActionMakePurchase        ActionType = "make_purchase"
)

// ActionTypes lists the closed catalogue of supported action types.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionCreateCalendarEvent,
		ActionSendEmail,
		ActionMoveFile,
		ActionCreateDocument,
		ActionMakePayment,
		ActionMakePurchase,
	}
}

// Valid reports whether the type belongs to the catalogue.
func (t ActionType) Valid() bool {
	for _, known := range ActionTypes() {
		if t == known {
			return true
		}
	}
	return false
}

const (
	// DefaultActionPriority is used when the caller does not specify one. Lower values run first.
	DefaultActionPriority = 5
	MinActionPriority     = 1
	MaxActionPriority     = 10
	// DefaultMaxRetries bounds the number of execution attempts per action.
	DefaultMaxRetries = 3
)

// Action is a persisted request to perform one side-effecting operation.
type Action struct {
	ID                string         `gorm:"primaryKey;size:36" json:"id"`
	UserID            string         `gorm:"size:64;not null;index" json:"user_id"`
	Type              ActionType     `gorm:"size:64;not null;index" json:"action_type"`
	Status            ActionStatus   `gorm:"size:32;not null;index" json:"status"`
	Priority          int            `gorm:"not null;default:5" json:"priority"`
	Payload           datatypes.JSON `gorm:"type:json" json:"payload"`
	Result            datatypes.JSON `gorm:"type:json" json:"result,omitempty"`
	RequiresApproval  bool           `gorm:"not null;default:false" json:"requires_approval"`
	ApprovalToken     *string        `gorm:"size:128;uniqueIndex" json:"-"`
	ApprovalExpiresAt *time.Time     `json:"approval_expires_at,omitempty"`
	ApprovedBy        *string        `gorm:"size:64" json:"approved_by,omitempty"`
	ApprovedAt        *time.Time     `json:"approved_at,omitempty"`
	RejectionReason   *string        `gorm:"type:text" json:"rejection_reason,omitempty"`
	ScheduledFor      *time.Time     `json:"scheduled_for,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage      *string        `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount        int            `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries        int            `gorm:"not null;default:3" json:"max_retries"`
	RollbackData      datatypes.JSON `gorm:"type:json" json:"rollback_data,omitempty"`
	RolledBackAt      *time.Time     `json:"rolled_back_at,omitempty"`
	RollbackReason    *string        `gorm:"type:text" json:"rollback_reason,omitempty"`
	RollbackClaimedAt *time.Time     `json:"-"`
	RateLimitKey      string         `gorm:"size:255" json:"rate_limit_key,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// HasRollbackData reports whether the handler left enough data to compensate the action.
func (a Action) HasRollbackData() bool {
	trimmed := string(a.RollbackData)
	return trimmed != "" && trimmed != "null" && trimmed != "{}"
}

// ApprovalExpired reports whether the approval window closed before now.
func (a Action) ApprovalExpired(now time.Time) bool {
	return a.ApprovalExpiresAt != nil && now.After(*a.ApprovalExpiresAt)
}
