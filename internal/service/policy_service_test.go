package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/repository"
)

func newTestPolicy(t *testing.T, kyc KYCChecker, rules ...models.SafetyRule) (PolicyEvaluator, RateLimiter) {
	t.Helper()
	_, client := setupRedis(t)
	repo := repository.NewSafetyRuleRepository(setupServiceTestDB(t))
	if len(rules) > 0 {
		_, err := repo.UpsertBatch(context.Background(), rules)
		require.NoError(t, err)
	}
	limiter := NewRateLimiter(client, repo, testLogger())
	return NewPolicyEvaluator(repo, limiter, kyc, testLogger()), limiter
}

func TestPolicyAllowsWhenNoRules(t *testing.T) {
	policy, _ := newTestPolicy(t, nil)

	result := policy.Evaluate(context.Background(), models.ActionCreateDocument, "u1", nil)
	require.True(t, result.Allowed)
	require.False(t, result.Blocked)
	require.False(t, result.RequiresApproval)
}

func TestPolicyBlockedRuleAlwaysBlocks(t *testing.T) {
	policy, _ := newTestPolicy(t, nil,
		reasonRule(models.ActionMakePayment, "payments_disabled", models.RuleBlocked, "payments must be made manually"),
	)

	for i := 0; i < 3; i++ {
		result := policy.Evaluate(context.Background(), models.ActionMakePayment, "u1", nil)
		require.False(t, result.Allowed)
		require.True(t, result.Blocked)
		require.Equal(t, "payments must be made manually", result.Reason)
	}
}

func TestPolicyBlockedRuleUsesDefaultReason(t *testing.T) {
	policy, _ := newTestPolicy(t, nil, reasonRule(models.ActionMakePayment, "off", models.RuleBlocked, ""))

	result := policy.Evaluate(context.Background(), models.ActionMakePayment, "u1", nil)
	require.True(t, result.Blocked)
	require.Equal(t, defaultBlockedReason, result.Reason)
}

func TestPolicyRequiresApprovalDoesNotStopEvaluation(t *testing.T) {
	policy, limiter := newTestPolicy(t, nil,
		reasonRule(models.ActionSendEmail, "email_approval", models.RuleRequiresApproval, ""),
		rateLimitRule(models.ActionSendEmail, "hourly", 5, 3600),
	)

	result := policy.Evaluate(context.Background(), models.ActionSendEmail, "u1", nil)
	require.True(t, result.Allowed)
	require.True(t, result.RequiresApproval)
	require.Equal(t, RateLimitKey(models.ActionSendEmail, "u1", "hourly"), result.RateLimitKey)

	usage, err := limiter.Usage(context.Background(), models.ActionSendEmail, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), usage[0].Current)
}

func TestPolicyRateLimitBlocksFourthActionInWindow(t *testing.T) {
	policy, _ := newTestPolicy(t, nil, rateLimitRule(models.ActionSendEmail, "hourly", 3, 3600))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, policy.Evaluate(ctx, models.ActionSendEmail, "u1", nil).Allowed)
	}
	result := policy.Evaluate(ctx, models.ActionSendEmail, "u1", nil)
	require.False(t, result.Allowed)
	require.True(t, result.Blocked)
	require.True(t, result.RateLimitExceeded)
	require.Contains(t, result.Reason, "rate limit exceeded")
}

func TestPolicyKYCRule(t *testing.T) {
	kyc := staticKYC{verified: map[string]bool{"verified": true}}
	policy, _ := newTestPolicy(t, kyc, reasonRule(models.ActionMakePurchase, "purchase_kyc", models.RuleRequiresKYC, ""))
	ctx := context.Background()

	result := policy.Evaluate(ctx, models.ActionMakePurchase, "anonymous", nil)
	require.True(t, result.Blocked)
	require.True(t, result.RequiresKYC)
	require.Equal(t, defaultKYCReason, result.Reason)

	result = policy.Evaluate(ctx, models.ActionMakePurchase, "verified", nil)
	require.True(t, result.Allowed)
	require.False(t, result.RequiresKYC)
}

func TestPolicyEvaluatesBlockedBeforeOtherRules(t *testing.T) {
	policy, limiter := newTestPolicy(t, nil,
		reasonRule(models.ActionMoveFile, "a_approval", models.RuleRequiresApproval, ""),
		rateLimitRule(models.ActionMoveFile, "b_limit", 10, 3600),
		reasonRule(models.ActionMoveFile, "z_blocked", models.RuleBlocked, "maintenance"),
	)

	result := policy.Evaluate(context.Background(), models.ActionMoveFile, "u1", nil)
	require.True(t, result.Blocked)
	require.Equal(t, "maintenance", result.Reason)
	require.False(t, result.RequiresApproval)

	// The blocked rule short-circuits before the rate limit consumes quota.
	usage, err := limiter.Usage(context.Background(), models.ActionMoveFile, "u1")
	require.NoError(t, err)
	require.Zero(t, usage[0].Current)
}

func TestPolicyPrescreenAppliesOnlyBlockedRules(t *testing.T) {
	kycDown := staticKYC{err: errors.New("kyc provider down")}
	policy, limiter := newTestPolicy(t, kycDown,
		rateLimitRule(models.ActionMakePurchase, "hourly", 1, 3600),
		reasonRule(models.ActionMakePurchase, "purchase_kyc", models.RuleRequiresKYC, ""),
		reasonRule(models.ActionMakePayment, "payments_manual", models.RuleBlocked, "manual only"),
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result := policy.Prescreen(ctx, models.ActionMakePurchase, "u1")
		require.True(t, result.Allowed)
		require.False(t, result.Blocked)
	}
	usage, err := limiter.Usage(ctx, models.ActionMakePurchase, "u1")
	require.NoError(t, err)
	require.Zero(t, usage[0].Current)

	result := policy.Prescreen(ctx, models.ActionMakePayment, "u1")
	require.True(t, result.Blocked)
	require.Equal(t, "manual only", result.Reason)

	broken := NewPolicyEvaluator(failingRuleRepo{}, limiter, nil, testLogger())
	require.True(t, IsSystemBlock(broken.Prescreen(ctx, models.ActionSendEmail, "u1")))
}

func TestPolicyIgnoresDisabledRules(t *testing.T) {
	rule := reasonRule(models.ActionMakePayment, "payments_disabled", models.RuleBlocked, "")
	rule.Enabled = false
	policy, _ := newTestPolicy(t, nil, rule)

	require.True(t, policy.Evaluate(context.Background(), models.ActionMakePayment, "u1", nil).Allowed)
}

func TestPolicyFailsClosedOnRuleLookupError(t *testing.T) {
	_, client := setupRedis(t)
	limiter := NewRateLimiter(client, failingRuleRepo{}, testLogger())
	policy := NewPolicyEvaluator(failingRuleRepo{}, limiter, nil, testLogger())

	result := policy.Evaluate(context.Background(), models.ActionSendEmail, "u1", nil)
	require.False(t, result.Allowed)
	require.True(t, result.Blocked)
	require.Equal(t, securityCheckFailedReason, result.Reason)
	require.True(t, IsSystemBlock(result))
}

func TestPolicyFailsClosedOnKYCError(t *testing.T) {
	policy, _ := newTestPolicy(t, staticKYC{err: errors.New("kyc provider down")},
		reasonRule(models.ActionMakePurchase, "purchase_kyc", models.RuleRequiresKYC, ""),
	)

	result := policy.Evaluate(context.Background(), models.ActionMakePurchase, "u1", nil)
	require.True(t, result.Blocked)
	require.Equal(t, securityCheckFailedReason, result.Reason)
}

func TestPolicyFailsClosedOnMalformedRuleConfig(t *testing.T) {
	rule := rateLimitRule(models.ActionSendEmail, "broken", 0, 0)
	policy, _ := newTestPolicy(t, nil, rule)

	result := policy.Evaluate(context.Background(), models.ActionSendEmail, "u1", nil)
	require.True(t, result.Blocked)
	require.Equal(t, securityCheckFailedReason, result.Reason)
}

func TestPolicyLimiterFailsOpenWhileEvaluatorFailsClosed(t *testing.T) {
	server, client := setupRedis(t)
	repo := repository.NewSafetyRuleRepository(setupServiceTestDB(t))
	_, err := repo.UpsertBatch(context.Background(), []models.SafetyRule{rateLimitRule(models.ActionSendEmail, "hourly", 1, 3600)})
	require.NoError(t, err)
	limiter := NewRateLimiter(client, repo, testLogger())
	policy := NewPolicyEvaluator(repo, limiter, nil, testLogger())
	server.Close()

	// Counter store down: the rate limit rule passes.
	for i := 0; i < 3; i++ {
		require.True(t, policy.Evaluate(context.Background(), models.ActionSendEmail, "u1", nil).Allowed)
	}

	// Rule store down: the evaluator blocks.
	broken := NewPolicyEvaluator(failingRuleRepo{}, limiter, nil, testLogger())
	require.True(t, broken.Evaluate(context.Background(), models.ActionSendEmail, "u1", nil).Blocked)
}
