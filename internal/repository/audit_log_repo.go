package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

// AuditLogFilter narrows audit log queries.
type AuditLogFilter struct {
	Page      int
	PageSize  int
	UserID    string
	EventType models.AuditEventType
	Source    models.AuditSource
}

// AuditLogRepository reads the append-only audit trail. Entries are written by
// ActionRepository alongside the transition they describe; there is no update or delete.
type AuditLogRepository interface {
	ListByAction(ctx context.Context, actionID string) ([]models.AuditLogEntry, error)
	List(ctx context.Context, filter AuditLogFilter) ([]models.AuditLogEntry, int64, error)
}

type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository constructs the audit log repository.
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

func (r *auditLogRepository) ListByAction(ctx context.Context, actionID string) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	if err := r.db.WithContext(ctx).
		Where("action_id = ?", actionID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *auditLogRepository) List(ctx context.Context, filter AuditLogFilter) ([]models.AuditLogEntry, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.AuditLogEntry{})

	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}

	countQuery := query.Session(&gorm.Session{})
	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		offset := (page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	var entries []models.AuditLogEntry
	if err := query.Order("created_at DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
