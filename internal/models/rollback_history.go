package models

import (
	"time"

	"gorm.io/datatypes"
)

// RollbackHistoryEntry records every rollback attempt, successful or not.
type RollbackHistoryEntry struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	ActionID     string         `gorm:"size:36;not null;index" json:"action_id"`
	RequestedBy  string         `gorm:"size:64;not null" json:"requested_by"`
	Reason       string         `gorm:"type:text" json:"reason"`
	RollbackData datatypes.JSON `gorm:"type:json" json:"rollback_data"`
	Success      bool           `gorm:"not null" json:"success"`
	ErrorMessage *string        `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
