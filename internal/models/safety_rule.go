package models

import (
	"time"

	"gorm.io/datatypes"
)

// SafetyRuleType selects how a rule gates an action.
type SafetyRuleType string

const (
	RuleBlocked          SafetyRuleType = "blocked"
	RuleRequiresApproval SafetyRuleType = "requires_approval"
	RuleRequiresKYC      SafetyRuleType = "requires_kyc"
	RuleRateLimit        SafetyRuleType = "rate_limit"
)

// Precedence orders rule evaluation; lower runs first.
func (t SafetyRuleType) Precedence() int {
	switch t {
	case RuleBlocked:
		return 0
	case RuleRequiresKYC:
		return 1
	case RuleRateLimit:
		return 2
	case RuleRequiresApproval:
		return 3
	default:
		return 4
	}
}

// SafetyRule is a policy bound to an action type. Owned by administrators; read-only at evaluation time.
type SafetyRule struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	ActionType ActionType     `gorm:"size:64;not null;uniqueIndex:idx_safety_rule_type_name" json:"action_type"`
	RuleName   string         `gorm:"size:128;not null;uniqueIndex:idx_safety_rule_type_name" json:"rule_name"`
	RuleType   SafetyRuleType `gorm:"size:32;not null" json:"rule_type"`
	RuleConfig datatypes.JSON `gorm:"type:json" json:"rule_config"`
	Enabled    bool           `gorm:"not null" json:"enabled"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// RuleReasonConfig is the config shape of blocked and requires_kyc rules.
type RuleReasonConfig struct {
	Reason string `json:"reason"`
}

// RateLimitRuleConfig is the config shape of rate_limit rules.
type RateLimitRuleConfig struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"window_seconds"`
}

// Window returns the configured window as a duration.
func (c RateLimitRuleConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}
