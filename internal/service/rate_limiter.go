package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/observability"
	"github.com/noah-isme/gema-action-engine/internal/repository"
)

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

const (
	rateLimitPrefix     = "ratelimit:"
	rateLimitExecPrefix = "ratelimit:exec:"
	rateLimitTimeout    = 2 * time.Second
)

// RateLimitDecision is the outcome of one counter increment.
type RateLimitDecision struct {
	WithinLimit bool
	Count       int64
	Limit       int
	ResetIn     time.Duration
	// Degraded is set when the counter store was unreachable and the check failed open.
	Degraded bool
}

// RateLimitUsage describes one rate_limit rule's current window for a user.
type RateLimitUsage struct {
	RuleName string
	Key      string
	Current  int64
	Executed int64
	Limit    int
	Window   time.Duration
	ResetsIn time.Duration
}

// RateLimiter counts actions per (type, user, rule) in fixed windows.
type RateLimiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) RateLimitDecision
	RecordExecution(ctx context.Context, actionType models.ActionType, userID string) error
	Usage(ctx context.Context, actionType models.ActionType, userID string) ([]RateLimitUsage, error)
}

type redisRateLimiter struct {
	client *redis.Client
	rules  repository.SafetyRuleRepository
	logger zerolog.Logger
}

// NewRateLimiter constructs a Redis backed fixed-window limiter.
func NewRateLimiter(client *redis.Client, rules repository.SafetyRuleRepository, logger zerolog.Logger) RateLimiter {
	return &redisRateLimiter{
		client: client,
		rules:  rules,
		logger: logger.With().Str("component", "rate_limiter").Logger(),
	}
}

// RateLimitKey builds the logical counter key for a rule.
func RateLimitKey(actionType models.ActionType, userID, ruleName string) string {
	return fmt.Sprintf("%s:%s:%s", actionType, userID, ruleName)
}

// Check increments the counter and reports whether the new count is within limit.
// Counter store failures are reported as within limit.
func (l *redisRateLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) RateLimitDecision {
	count, ttl, err := l.increment(ctx, rateLimitPrefix+key, window)
	if err != nil {
		observability.RateLimitFailOpen().Inc()
		l.logger.Warn().Err(err).Str("key", key).Msg("rate limit store unavailable, allowing request")
		return RateLimitDecision{WithinLimit: true, Limit: limit, ResetIn: window, Degraded: true}
	}
	return RateLimitDecision{
		WithinLimit: count <= int64(limit),
		Count:       count,
		Limit:       limit,
		ResetIn:     ttl,
	}
}

// RecordExecution bumps the executed counters of every rate_limit rule for the type.
// These counters are informational and never compared against limits.
func (l *redisRateLimiter) RecordExecution(ctx context.Context, actionType models.ActionType, userID string) error {
	rules, err := l.rateLimitRules(ctx, actionType)
	if err != nil {
		return err
	}
	var errs []error
	for _, rule := range rules {
		key := rateLimitExecPrefix + RateLimitKey(actionType, userID, rule.name)
		if _, _, err := l.increment(ctx, key, rule.config.Window()); err != nil {
			errs = append(errs, fmt.Errorf("record execution %s: %w", rule.name, err))
		}
	}
	return errors.Join(errs...)
}

// Usage reports counters without mutating them.
func (l *redisRateLimiter) Usage(ctx context.Context, actionType models.ActionType, userID string) ([]RateLimitUsage, error) {
	rules, err := l.rateLimitRules(ctx, actionType)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return []RateLimitUsage{}, nil
	}

	type pending struct {
		current  *redis.StringCmd
		ttl      *redis.DurationCmd
		executed *redis.StringCmd
	}
	cmds := make([]pending, len(rules))
	pipe := l.client.Pipeline()
	for i, rule := range rules {
		key := RateLimitKey(actionType, userID, rule.name)
		cmds[i] = pending{
			current:  pipe.Get(ctx, rateLimitPrefix+key),
			ttl:      pipe.PTTL(ctx, rateLimitPrefix+key),
			executed: pipe.Get(ctx, rateLimitExecPrefix+key),
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	usage := make([]RateLimitUsage, 0, len(rules))
	for i, rule := range rules {
		current, _ := cmds[i].current.Int64()
		executed, _ := cmds[i].executed.Int64()
		resets := cmds[i].ttl.Val()
		if resets < 0 {
			resets = 0
		}
		usage = append(usage, RateLimitUsage{
			RuleName: rule.name,
			Key:      RateLimitKey(actionType, userID, rule.name),
			Current:  current,
			Executed: executed,
			Limit:    rule.config.Limit,
			Window:   rule.config.Window(),
			ResetsIn: resets,
		})
	}
	return usage, nil
}

type limitedRule struct {
	name   string
	config models.RateLimitRuleConfig
}

func (l *redisRateLimiter) rateLimitRules(ctx context.Context, actionType models.ActionType) ([]limitedRule, error) {
	rules, err := l.rules.ListEnabled(ctx, actionType)
	if err != nil {
		return nil, err
	}
	result := make([]limitedRule, 0, len(rules))
	for _, rule := range rules {
		if rule.RuleType != models.RuleRateLimit {
			continue
		}
		cfg, err := parseRateLimitConfig(rule)
		if err != nil {
			l.logger.Warn().Err(err).Str("rule", rule.RuleName).Msg("skipping malformed rate limit rule")
			continue
		}
		result = append(result, limitedRule{name: rule.RuleName, config: cfg})
	}
	return result, nil
}

func (l *redisRateLimiter) increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if l.client == nil {
		return 0, 0, errors.New("rate limit store not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, rateLimitTimeout)
	defer cancel()

	res, err := rateLimitScript.Run(ctx, l.client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit reply %T", res)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = window.Milliseconds()
	}
	return count, time.Duration(ttlMs) * time.Millisecond, nil
}

func parseRateLimitConfig(rule models.SafetyRule) (models.RateLimitRuleConfig, error) {
	var cfg models.RateLimitRuleConfig
	if err := json.Unmarshal(rule.RuleConfig, &cfg); err != nil {
		return cfg, fmt.Errorf("rule %s: %w", rule.RuleName, err)
	}
	if cfg.Limit <= 0 || cfg.WindowSeconds <= 0 {
		return cfg, fmt.Errorf("rule %s: limit and window_seconds must be positive", rule.RuleName)
	}
	return cfg, nil
}
