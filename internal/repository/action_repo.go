package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

var (
	// ErrActionNotFound indicates the action does not exist.
	ErrActionNotFound = errors.New("action not found")
	// ErrStatusConflict indicates the action was no longer in the expected status when the update ran.
	ErrStatusConflict = errors.New("action status changed concurrently")
)

// StatusTransition describes one lifecycle edge and the audit entry it produces.
// The update is applied only if the action is still in From.
type StatusTransition struct {
	ActionID string
	From     models.ActionStatus
	To       models.ActionStatus
	Fields   map[string]interface{}
	Audit    models.AuditLogEntry
	// Rollback is appended in the same transaction when set.
	Rollback *models.RollbackHistoryEntry
}

// ActionRepository persists actions and their lifecycle.
type ActionRepository interface {
	Create(ctx context.Context, action *models.Action, audit models.AuditLogEntry) error
	FindByID(ctx context.Context, id string) (models.Action, error)
	FindByApprovalToken(ctx context.Context, token string) (models.Action, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Action, int64, error)
	ListByStatus(ctx context.Context, status models.ActionStatus, limit int) ([]models.Action, error)
	Transition(ctx context.Context, transition StatusTransition) (models.Action, error)
	UpdateFields(ctx context.Context, id string, status models.ActionStatus, fields map[string]interface{}) error
	ClaimRollback(ctx context.Context, id string, now time.Time, lease time.Duration) error
}

type actionRepository struct {
	db *gorm.DB
}

// NewActionRepository constructs a repository backed by GORM.
func NewActionRepository(db *gorm.DB) ActionRepository {
	return &actionRepository{db: db}
}

func (r *actionRepository) Create(ctx context.Context, action *models.Action, audit models.AuditLogEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(action).Error; err != nil {
			return err
		}
		audit.ActionID = action.ID
		audit.UserID = action.UserID
		audit.EventType = models.AuditEventCreated
		return tx.Create(&audit).Error
	})
}

func (r *actionRepository) FindByID(ctx context.Context, id string) (models.Action, error) {
	var action models.Action
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&action).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Action{}, ErrActionNotFound
		}
		return models.Action{}, err
	}
	return action, nil
}

func (r *actionRepository) FindByApprovalToken(ctx context.Context, token string) (models.Action, error) {
	var action models.Action
	if err := r.db.WithContext(ctx).Where("approval_token = ?", token).First(&action).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Action{}, ErrActionNotFound
		}
		return models.Action{}, err
	}
	return action, nil
}

func (r *actionRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Action, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := r.db.WithContext(ctx).Model(&models.Action{}).Where("user_id = ?", userID)

	countQuery := query.Session(&gorm.Session{})
	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var actions []models.Action
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&actions).Error; err != nil {
		return nil, 0, err
	}

	return actions, total, nil
}

func (r *actionRepository) ListByStatus(ctx context.Context, status models.ActionStatus, limit int) ([]models.Action, error) {
	if limit <= 0 {
		limit = 500
	}

	var actions []models.Action
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("priority ASC, created_at ASC").
		Limit(limit).
		Find(&actions).Error; err != nil {
		return nil, err
	}
	return actions, nil
}

// Transition applies a compare-and-swap status update and appends its audit entry atomically.
func (r *actionRepository) Transition(ctx context.Context, t StatusTransition) (models.Action, error) {
	if !models.CanTransition(t.From, t.To) {
		return models.Action{}, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, t.From, t.To)
	}

	var updated models.Action
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fields := make(map[string]interface{}, len(t.Fields)+2)
		for key, value := range t.Fields {
			fields[key] = value
		}
		fields["status"] = t.To
		fields["updated_at"] = time.Now().UTC()

		result := tx.Model(&models.Action{}).
			Where("id = ? AND status = ?", t.ActionID, t.From).
			Updates(fields)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Action{}).Where("id = ?", t.ActionID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrActionNotFound
			}
			return ErrStatusConflict
		}

		if err := tx.Where("id = ?", t.ActionID).First(&updated).Error; err != nil {
			return err
		}

		audit := t.Audit
		audit.ActionID = updated.ID
		audit.UserID = updated.UserID
		audit.EventType = models.TransitionEvent(t.From, t.To)
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}

		if t.Rollback != nil {
			entry := *t.Rollback
			entry.ActionID = updated.ID
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Action{}, err
	}
	return updated, nil
}

// UpdateFields changes non-status columns while the action is still in the given status.
func (r *actionRepository) UpdateFields(ctx context.Context, id string, status models.ActionStatus, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&models.Action{}).
		Where("id = ? AND status = ?", id, status).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ClaimRollback marks a completed action as being compensated. Only one claim can be
// held at a time; a claim older than lease is treated as abandoned and may be taken over.
func (r *actionRepository) ClaimRollback(ctx context.Context, id string, now time.Time, lease time.Duration) error {
	result := r.db.WithContext(ctx).Model(&models.Action{}).
		Where("id = ? AND status = ?", id, models.StatusCompleted).
		Where("(rollback_claimed_at IS NULL OR rollback_claimed_at < ?)", now.Add(-lease)).
		Update("rollback_claimed_at", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}
