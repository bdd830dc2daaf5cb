package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-action-engine/internal/actions"
	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/observability"
	"github.com/noah-isme/gema-action-engine/internal/repository"
)

const (
	securityCheckFailedReason = "security check failed"
	defaultBlockedReason      = "action type is blocked"
	defaultKYCReason          = "identity verification required"
)

// SafetyCheckResult is the verdict of a policy evaluation.
type SafetyCheckResult struct {
	Allowed           bool
	RequiresApproval  bool
	RequiresKYC       bool
	Blocked           bool
	Reason            string
	RateLimitExceeded bool
	// RateLimitKey is the last counter consulted, if any.
	RateLimitKey string
}

// KYCChecker reports whether a user completed identity verification.
type KYCChecker interface {
	IsVerified(ctx context.Context, userID string) (bool, error)
}

// PolicyEvaluator decides whether an action may proceed.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, actionType models.ActionType, userID string, payload actions.Payload) SafetyCheckResult
	// Prescreen applies only the rules that do not depend on the payload or on
	// counters, so a blocked type is reported before payload validation runs.
	Prescreen(ctx context.Context, actionType models.ActionType, userID string) SafetyCheckResult
}

type policyEvaluator struct {
	rules   repository.SafetyRuleRepository
	limiter RateLimiter
	kyc     KYCChecker
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// NewPolicyEvaluator constructs an evaluator over the configured safety rules.
func NewPolicyEvaluator(rules repository.SafetyRuleRepository, limiter RateLimiter, kyc KYCChecker, logger zerolog.Logger) PolicyEvaluator {
	return &policyEvaluator{
		rules:   rules,
		limiter: limiter,
		kyc:     kyc,
		logger:  logger.With().Str("component", "policy_evaluator").Logger(),
		tracer:  otel.Tracer("github.com/noah-isme/gema-action-engine/internal/service/policy"),
	}
}

// Evaluate applies enabled rules in precedence order. Any failure while evaluating
// produces a blocked result.
func (p *policyEvaluator) Evaluate(ctx context.Context, actionType models.ActionType, userID string, payload actions.Payload) (result SafetyCheckResult) {
	ctx, span := p.tracer.Start(ctx, "policy.evaluate")
	span.SetAttributes(attribute.String("action.type", string(actionType)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			result = p.failClosed(span, actionType, userID, fmt.Errorf("%w: panic during evaluation: %v", ErrSystem, r))
		}
		observability.PolicyDecisions().WithLabelValues(string(actionType), decisionLabel(result)).Inc()
	}()

	rules, err := p.rules.ListEnabled(ctx, actionType)
	if err != nil {
		return p.failClosed(span, actionType, userID, fmt.Errorf("%w: load rules: %v", ErrSystem, err))
	}
	sortRules(rules)

	result = SafetyCheckResult{Allowed: true}
	for _, rule := range rules {
		switch rule.RuleType {
		case models.RuleBlocked:
			reason, err := ruleReason(rule, defaultBlockedReason)
			if err != nil {
				return p.failClosed(span, actionType, userID, err)
			}
			return blocked(result, reason)

		case models.RuleRequiresKYC:
			reason, err := ruleReason(rule, defaultKYCReason)
			if err != nil {
				return p.failClosed(span, actionType, userID, err)
			}
			if p.kyc == nil {
				return p.failClosed(span, actionType, userID, fmt.Errorf("%w: no kyc checker configured", ErrSystem))
			}
			verified, err := p.kyc.IsVerified(ctx, userID)
			if err != nil {
				return p.failClosed(span, actionType, userID, fmt.Errorf("%w: kyc lookup: %v", ErrSystem, err))
			}
			if !verified {
				result.RequiresKYC = true
				return blocked(result, reason)
			}

		case models.RuleRateLimit:
			cfg, err := parseRateLimitConfig(rule)
			if err != nil {
				return p.failClosed(span, actionType, userID, fmt.Errorf("%w: %v", ErrSystem, err))
			}
			key := RateLimitKey(actionType, userID, rule.RuleName)
			decision := p.limiter.Check(ctx, key, cfg.Limit, cfg.Window())
			result.RateLimitKey = key
			if !decision.WithinLimit {
				result.RateLimitExceeded = true
				return blocked(result, fmt.Sprintf("rate limit exceeded: %d per %s", cfg.Limit, cfg.Window()))
			}

		case models.RuleRequiresApproval:
			result.RequiresApproval = true

		default:
			return p.failClosed(span, actionType, userID, fmt.Errorf("%w: unknown rule type %q", ErrSystem, rule.RuleType))
		}
	}

	span.SetAttributes(attribute.Bool("policy.requires_approval", result.RequiresApproval))
	return result
}

func (p *policyEvaluator) Prescreen(ctx context.Context, actionType models.ActionType, userID string) SafetyCheckResult {
	ctx, span := p.tracer.Start(ctx, "policy.prescreen")
	span.SetAttributes(attribute.String("action.type", string(actionType)))
	defer span.End()

	rules, err := p.rules.ListEnabled(ctx, actionType)
	if err != nil {
		result := p.failClosed(span, actionType, userID, fmt.Errorf("%w: load rules: %v", ErrSystem, err))
		observability.PolicyDecisions().WithLabelValues(string(actionType), decisionLabel(result)).Inc()
		return result
	}
	sortRules(rules)
	for _, rule := range rules {
		if rule.RuleType != models.RuleBlocked {
			continue
		}
		reason, err := ruleReason(rule, defaultBlockedReason)
		var result SafetyCheckResult
		if err != nil {
			result = p.failClosed(span, actionType, userID, err)
		} else {
			result = blocked(SafetyCheckResult{}, reason)
		}
		observability.PolicyDecisions().WithLabelValues(string(actionType), decisionLabel(result)).Inc()
		return result
	}
	return SafetyCheckResult{Allowed: true}
}

func (p *policyEvaluator) failClosed(span trace.Span, actionType models.ActionType, userID string, err error) SafetyCheckResult {
	span.RecordError(err)
	span.SetStatus(codes.Error, securityCheckFailedReason)
	p.logger.Error().Err(err).Str("action_type", string(actionType)).Str("user_id", userID).Msg("policy evaluation failed, blocking action")
	return SafetyCheckResult{Blocked: true, Reason: securityCheckFailedReason}
}

func blocked(result SafetyCheckResult, reason string) SafetyCheckResult {
	result.Allowed = false
	result.Blocked = true
	result.Reason = reason
	return result
}

func sortRules(rules []models.SafetyRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		pi, pj := rules[i].RuleType.Precedence(), rules[j].RuleType.Precedence()
		if pi != pj {
			return pi < pj
		}
		return rules[i].RuleName < rules[j].RuleName
	})
}

func ruleReason(rule models.SafetyRule, fallback string) (string, error) {
	if len(rule.RuleConfig) == 0 || string(rule.RuleConfig) == "null" {
		return fallback, nil
	}
	var cfg models.RuleReasonConfig
	if err := json.Unmarshal(rule.RuleConfig, &cfg); err != nil {
		return "", fmt.Errorf("%w: rule %s: %v", ErrSystem, rule.RuleName, err)
	}
	if cfg.Reason == "" {
		return fallback, nil
	}
	return cfg.Reason, nil
}

func decisionLabel(result SafetyCheckResult) string {
	switch {
	case result.Reason == securityCheckFailedReason:
		return "error"
	case result.RateLimitExceeded:
		return "rate_limited"
	case result.RequiresKYC:
		return "kyc_required"
	case result.Blocked:
		return "blocked"
	case result.RequiresApproval:
		return "approval_required"
	default:
		return "allowed"
	}
}

// IsSystemBlock reports whether a blocked result came from an evaluation failure.
func IsSystemBlock(result SafetyCheckResult) bool {
	return result.Blocked && result.Reason == securityCheckFailedReason
}
