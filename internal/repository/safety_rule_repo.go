package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

// SafetyRuleRepository reads and maintains safety rules.
type SafetyRuleRepository interface {
	ListEnabled(ctx context.Context, actionType models.ActionType) ([]models.SafetyRule, error)
	List(ctx context.Context, actionType models.ActionType) ([]models.SafetyRule, error)
	UpsertBatch(ctx context.Context, rules []models.SafetyRule) (int64, error)
}

type safetyRuleRepository struct {
	db *gorm.DB
}

// NewSafetyRuleRepository constructs the safety rule repository.
func NewSafetyRuleRepository(db *gorm.DB) SafetyRuleRepository {
	return &safetyRuleRepository{db: db}
}

func (r *safetyRuleRepository) ListEnabled(ctx context.Context, actionType models.ActionType) ([]models.SafetyRule, error) {
	var rules []models.SafetyRule
	if err := r.db.WithContext(ctx).
		Where("action_type = ? AND enabled = ?", actionType, true).
		Order("rule_name ASC").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *safetyRuleRepository) List(ctx context.Context, actionType models.ActionType) ([]models.SafetyRule, error) {
	query := r.db.WithContext(ctx).Model(&models.SafetyRule{})
	if actionType != "" {
		query = query.Where("action_type = ?", actionType)
	}

	var rules []models.SafetyRule
	if err := query.Order("action_type ASC, rule_name ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *safetyRuleRepository) UpsertBatch(ctx context.Context, rules []models.SafetyRule) (int64, error) {
	if len(rules) == 0 {
		return 0, nil
	}

	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "action_type"}, {Name: "rule_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"rule_type", "rule_config", "enabled", "updated_at"}),
	})

	result := tx.Create(&rules)
	return result.RowsAffected, result.Error
}
