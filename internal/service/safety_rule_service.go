package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-action-engine/internal/actions"
	"github.com/noah-isme/gema-action-engine/internal/dto"
	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/repository"
)

// SafetyRuleService administers the rules the policy evaluator reads.
type SafetyRuleService interface {
	List(ctx context.Context, actionType string) ([]dto.SafetyRuleResponse, error)
	Upsert(ctx context.Context, req dto.SafetyRuleBatchRequest) (dto.SafetyRuleUpsertResponse, error)
	SeedDefaults(ctx context.Context) (int64, error)
}

type safetyRuleService struct {
	rules     repository.SafetyRuleRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSafetyRuleService constructs the rule administration service.
func NewSafetyRuleService(rules repository.SafetyRuleRepository, validate *validator.Validate, logger zerolog.Logger) SafetyRuleService {
	return &safetyRuleService{
		rules:     rules,
		validator: validate,
		logger:    logger.With().Str("component", "safety_rule_service").Logger(),
	}
}

func (s *safetyRuleService) List(ctx context.Context, actionType string) ([]dto.SafetyRuleResponse, error) {
	typed := models.ActionType(strings.TrimSpace(actionType))
	if typed != "" && !typed.Valid() {
		return nil, &actions.ValidationError{ActionType: typed, Field: "action_type", Message: "unknown action type"}
	}
	rules, err := s.rules.List(ctx, typed)
	if err != nil {
		return nil, err
	}
	return dto.NewSafetyRuleResponseSlice(rules), nil
}

func (s *safetyRuleService) Upsert(ctx context.Context, req dto.SafetyRuleBatchRequest) (dto.SafetyRuleUpsertResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SafetyRuleUpsertResponse{}, &actions.ValidationError{Field: "rules", Message: err.Error()}
	}

	rules := make([]models.SafetyRule, 0, len(req.Rules))
	for _, item := range req.Rules {
		rule, err := toSafetyRule(item)
		if err != nil {
			return dto.SafetyRuleUpsertResponse{}, err
		}
		rules = append(rules, rule)
	}

	affected, err := s.rules.UpsertBatch(ctx, rules)
	if err != nil {
		return dto.SafetyRuleUpsertResponse{}, err
	}
	s.logger.Info().Int64("affected", affected).Msg("safety rules updated")
	return dto.SafetyRuleUpsertResponse{Affected: affected}, nil
}

// SeedDefaults installs the default rule set when no rules exist yet.
func (s *safetyRuleService) SeedDefaults(ctx context.Context) (int64, error) {
	existing, err := s.rules.List(ctx, "")
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	affected, err := s.rules.UpsertBatch(ctx, DefaultSafetyRules())
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("affected", affected).Msg("default safety rules seeded")
	return affected, nil
}

// DefaultSafetyRules is the rule set installed on an empty database.
func DefaultSafetyRules() []models.SafetyRule {
	reason := func(text string) datatypes.JSON {
		raw, _ := json.Marshal(models.RuleReasonConfig{Reason: text})
		return raw
	}
	limit := func(count, seconds int) datatypes.JSON {
		raw, _ := json.Marshal(models.RateLimitRuleConfig{Limit: count, WindowSeconds: seconds})
		return raw
	}
	return []models.SafetyRule{
		{ActionType: models.ActionMakePayment, RuleName: "payments_disabled", RuleType: models.RuleBlocked, RuleConfig: reason("payments must be made manually"), Enabled: true},
		{ActionType: models.ActionMakePurchase, RuleName: "purchase_kyc", RuleType: models.RuleRequiresKYC, RuleConfig: reason("identity verification required for purchases"), Enabled: true},
		{ActionType: models.ActionMakePurchase, RuleName: "purchase_approval", RuleType: models.RuleRequiresApproval, Enabled: true},
		{ActionType: models.ActionSendEmail, RuleName: "email_approval", RuleType: models.RuleRequiresApproval, Enabled: true},
		{ActionType: models.ActionSendEmail, RuleName: "email_hourly", RuleType: models.RuleRateLimit, RuleConfig: limit(20, 3600), Enabled: true},
		{ActionType: models.ActionCreateCalendarEvent, RuleName: "calendar_hourly", RuleType: models.RuleRateLimit, RuleConfig: limit(50, 3600), Enabled: true},
		{ActionType: models.ActionMoveFile, RuleName: "move_file_hourly", RuleType: models.RuleRateLimit, RuleConfig: limit(100, 3600), Enabled: true},
		{ActionType: models.ActionCreateDocument, RuleName: "document_hourly", RuleType: models.RuleRateLimit, RuleConfig: limit(50, 3600), Enabled: true},
	}
}

func toSafetyRule(req dto.SafetyRuleRequest) (models.SafetyRule, error) {
	actionType := models.ActionType(strings.TrimSpace(req.ActionType))
	if !actionType.Valid() {
		return models.SafetyRule{}, &actions.ValidationError{ActionType: actionType, Field: "action_type", Message: "unknown action type"}
	}
	rule := models.SafetyRule{
		ActionType: actionType,
		RuleName:   strings.TrimSpace(req.RuleName),
		RuleType:   models.SafetyRuleType(req.RuleType),
		RuleConfig: datatypes.JSON(req.RuleConfig),
		Enabled:    req.Enabled != nil && *req.Enabled,
	}

	switch rule.RuleType {
	case models.RuleRateLimit:
		if _, err := parseRateLimitConfig(rule); err != nil {
			return models.SafetyRule{}, &actions.ValidationError{ActionType: actionType, Field: "rule_config", Message: err.Error()}
		}
	case models.RuleBlocked, models.RuleRequiresKYC:
		if _, err := ruleReason(rule, ""); err != nil {
			return models.SafetyRule{}, &actions.ValidationError{ActionType: actionType, Field: "rule_config", Message: "must be an object with an optional reason"}
		}
	}
	return rule, nil
}
