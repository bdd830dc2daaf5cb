package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

// RollbackHistoryRepository stores rollback attempts.
type RollbackHistoryRepository interface {
	Create(ctx context.Context, entry *models.RollbackHistoryEntry) error
	ListByAction(ctx context.Context, actionID string) ([]models.RollbackHistoryEntry, error)
}

type rollbackHistoryRepository struct {
	db *gorm.DB
}

// NewRollbackHistoryRepository constructs the rollback history repository.
func NewRollbackHistoryRepository(db *gorm.DB) RollbackHistoryRepository {
	return &rollbackHistoryRepository{db: db}
}

func (r *rollbackHistoryRepository) Create(ctx context.Context, entry *models.RollbackHistoryEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *rollbackHistoryRepository) ListByAction(ctx context.Context, actionID string) ([]models.RollbackHistoryEntry, error) {
	var entries []models.RollbackHistoryEntry
	if err := r.db.WithContext(ctx).
		Where("action_id = ?", actionID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
