package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

// SafetyRuleRequest defines or replaces one rule, keyed by action type and rule name.
type SafetyRuleRequest struct {
	ActionType string          `json:"action_type" validate:"required,max=64"`
	RuleName   string          `json:"rule_name" validate:"required,min=1,max=128"`
	RuleType   string          `json:"rule_type" validate:"required,oneof=blocked requires_approval requires_kyc rate_limit"`
	RuleConfig json.RawMessage `json:"rule_config,omitempty"`
	Enabled    *bool           `json:"enabled" validate:"required"`
}

// SafetyRuleBatchRequest upserts several rules at once.
type SafetyRuleBatchRequest struct {
	Rules []SafetyRuleRequest `json:"rules" validate:"required,min=1,max=100,dive"`
}

// SafetyRuleResponse is the serialized representation of a rule.
type SafetyRuleResponse struct {
	ID         uint                  `json:"id"`
	ActionType models.ActionType     `json:"action_type"`
	RuleName   string                `json:"rule_name"`
	RuleType   models.SafetyRuleType `json:"rule_type"`
	RuleConfig json.RawMessage       `json:"rule_config,omitempty"`
	Enabled    bool                  `json:"enabled"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// NewSafetyRuleResponseSlice converts rules into DTOs.
func NewSafetyRuleResponseSlice(rules []models.SafetyRule) []SafetyRuleResponse {
	out := make([]SafetyRuleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, SafetyRuleResponse{
			ID:         rule.ID,
			ActionType: rule.ActionType,
			RuleName:   rule.RuleName,
			RuleType:   rule.RuleType,
			RuleConfig: rawJSON(rule.RuleConfig),
			Enabled:    rule.Enabled,
			UpdatedAt:  rule.UpdatedAt,
		})
	}
	return out
}

// SafetyRuleUpsertResponse reports how many rules were written.
type SafetyRuleUpsertResponse struct {
	Affected int64 `json:"affected"`
}
