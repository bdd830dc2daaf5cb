package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

// CreateActionRequest is the payload accepted when proposing a new action.
type CreateActionRequest struct {
	UserID       string          `json:"user_id" validate:"omitempty,max=64"`
	ActionType   string          `json:"action_type" validate:"required,max=64"`
	Payload      json.RawMessage `json:"payload" validate:"required"`
	Priority     *int            `json:"priority,omitempty" validate:"omitempty,min=1,max=10"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
}

// CreateActionResponse reports where a newly created action landed.
type CreateActionResponse struct {
	ActionID          string              `json:"action_id"`
	Status            models.ActionStatus `json:"status"`
	RequiresApproval  bool                `json:"requires_approval"`
	ApprovalExpiresAt *time.Time          `json:"approval_expires_at,omitempty"`
	// ApprovalToken is only ever delivered through the approval notification.
	ApprovalToken string `json:"-"`
}

// DecisionRequest carries the optional free-text reason for reject and rollback.
type DecisionRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// ActionResponse is the serialized representation of an action.
type ActionResponse struct {
	ID                string              `json:"id"`
	UserID            string              `json:"user_id"`
	ActionType        models.ActionType   `json:"action_type"`
	Status            models.ActionStatus `json:"status"`
	Priority          int                 `json:"priority"`
	Payload           json.RawMessage     `json:"payload,omitempty"`
	Result            json.RawMessage     `json:"result,omitempty"`
	RequiresApproval  bool                `json:"requires_approval"`
	ApprovalExpiresAt *time.Time          `json:"approval_expires_at,omitempty"`
	ApprovedBy        *string             `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time          `json:"approved_at,omitempty"`
	RejectionReason   *string             `json:"rejection_reason,omitempty"`
	ScheduledFor      *time.Time          `json:"scheduled_for,omitempty"`
	StartedAt         *time.Time          `json:"started_at,omitempty"`
	CompletedAt       *time.Time          `json:"completed_at,omitempty"`
	ErrorMessage      *string             `json:"error_message,omitempty"`
	RetryCount        int                 `json:"retry_count"`
	MaxRetries        int                 `json:"max_retries"`
	Reversible        bool                `json:"reversible"`
	RolledBackAt      *time.Time          `json:"rolled_back_at,omitempty"`
	RollbackReason    *string             `json:"rollback_reason,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// NewActionResponse converts an action model into its DTO.
func NewActionResponse(action models.Action) ActionResponse {
	return ActionResponse{
		ID:                action.ID,
		UserID:            action.UserID,
		ActionType:        action.Type,
		Status:            action.Status,
		Priority:          action.Priority,
		Payload:           rawJSON(action.Payload),
		Result:            rawJSON(action.Result),
		RequiresApproval:  action.RequiresApproval,
		ApprovalExpiresAt: action.ApprovalExpiresAt,
		ApprovedBy:        action.ApprovedBy,
		ApprovedAt:        action.ApprovedAt,
		RejectionReason:   action.RejectionReason,
		ScheduledFor:      action.ScheduledFor,
		StartedAt:         action.StartedAt,
		CompletedAt:       action.CompletedAt,
		ErrorMessage:      action.ErrorMessage,
		RetryCount:        action.RetryCount,
		MaxRetries:        action.MaxRetries,
		Reversible:        action.Status == models.StatusCompleted && action.HasRollbackData(),
		RolledBackAt:      action.RolledBackAt,
		RollbackReason:    action.RollbackReason,
		CreatedAt:         action.CreatedAt,
		UpdatedAt:         action.UpdatedAt,
	}
}

// OffsetPagination describes limit/offset paging metadata.
type OffsetPagination struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

// ActionListResponse wraps a page of actions.
type ActionListResponse struct {
	Items      []ActionResponse `json:"items"`
	Pagination OffsetPagination `json:"pagination"`
}

// NewActionListResponse converts a page of models into DTOs.
func NewActionListResponse(actions []models.Action, pagination OffsetPagination) ActionListResponse {
	items := make([]ActionResponse, 0, len(actions))
	for _, action := range actions {
		items = append(items, NewActionResponse(action))
	}
	return ActionListResponse{Items: items, Pagination: pagination}
}

// AuditLogResponse is one audit trail entry.
type AuditLogResponse struct {
	ID        uint                  `json:"id"`
	ActionID  string                `json:"action_id"`
	UserID    string                `json:"user_id"`
	EventType models.AuditEventType `json:"event_type"`
	EventData json.RawMessage       `json:"event_data,omitempty"`
	Actor     string                `json:"actor"`
	Source    models.AuditSource    `json:"source"`
	IPAddress *string               `json:"ip_address,omitempty"`
	UserAgent *string               `json:"user_agent,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// NewAuditLogResponseSlice converts audit entries into DTOs, preserving order.
func NewAuditLogResponseSlice(entries []models.AuditLogEntry) []AuditLogResponse {
	out := make([]AuditLogResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, AuditLogResponse{
			ID:        entry.ID,
			ActionID:  entry.ActionID,
			UserID:    entry.UserID,
			EventType: entry.EventType,
			EventData: rawJSON(entry.EventData),
			Actor:     entry.Actor,
			Source:    entry.Source,
			IPAddress: entry.IPAddress,
			UserAgent: entry.UserAgent,
			CreatedAt: entry.CreatedAt,
		})
	}
	return out
}

// AuditLogListRequest filters the audit trail across actions.
type AuditLogListRequest struct {
	Page      int
	PageSize  int
	UserID    string
	EventType string
	Source    string
}

// PagePagination describes page based paging metadata.
type PagePagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// AuditLogListResponse wraps a page of audit entries.
type AuditLogListResponse struct {
	Items      []AuditLogResponse `json:"items"`
	Pagination PagePagination     `json:"pagination"`
}

// RollbackHistoryResponse is one rollback attempt.
type RollbackHistoryResponse struct {
	ID           uint      `json:"id"`
	ActionID     string    `json:"action_id"`
	RequestedBy  string    `json:"requested_by"`
	Reason       string    `json:"reason"`
	Success      bool      `json:"success"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewRollbackHistoryResponseSlice converts rollback history rows into DTOs.
func NewRollbackHistoryResponseSlice(entries []models.RollbackHistoryEntry) []RollbackHistoryResponse {
	out := make([]RollbackHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, RollbackHistoryResponse{
			ID:           entry.ID,
			ActionID:     entry.ActionID,
			RequestedBy:  entry.RequestedBy,
			Reason:       entry.Reason,
			Success:      entry.Success,
			ErrorMessage: entry.ErrorMessage,
			CreatedAt:    entry.CreatedAt,
		})
	}
	return out
}

// RateLimitUsageResponse reports one rate_limit rule's window for a user.
type RateLimitUsageResponse struct {
	RuleName        string `json:"rule_name"`
	Current         int64  `json:"current"`
	Executed        int64  `json:"executed"`
	Limit           int    `json:"limit"`
	Remaining       int64  `json:"remaining"`
	WindowSeconds   int64  `json:"window_seconds"`
	ResetsInSeconds int64  `json:"resets_in_seconds"`
}

func rawJSON(value []byte) json.RawMessage {
	if len(value) == 0 {
		return nil
	}
	return json.RawMessage(value)
}

// PolicyViolationResponse explains why a create request was refused.
type PolicyViolationResponse struct {
	ActionType        models.ActionType `json:"action_type"`
	Reason            string            `json:"reason"`
	RequiresKYC       bool              `json:"requires_kyc"`
	RateLimitExceeded bool              `json:"rate_limit_exceeded"`
}
