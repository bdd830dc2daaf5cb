package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the action engine.
type Config struct {
	AppName string
	AppEnv  string
	AppPort string

	DatabaseDriver string
	DatabaseURL    string
	RedisURL       string

	NATSURL             string
	NATSApprovalSubject string
	NATSEventPrefix     string

	JWTSecret string

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string

	WorkerConcurrency int
	PollInterval      time.Duration
	RecoveryInterval  time.Duration
	MaxRetries        int
	RetryBackoffBase  time.Duration
	RetryBackoffMax   time.Duration
	JobVisibility     time.Duration

	ApprovalTokenTTL   time.Duration
	PublicBaseURL      string
	ApprovalLinkLimit  int
	ApprovalLinkWindow time.Duration
	SeedDefaultRules   bool
	KYCSource          string
	KYCVerifiedUsers   []string
	KYCRedisSet        string
	DocumentBaseURL    string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// CloudinaryEnabled reports whether Cloudinary credentials were supplied.
func (c Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ACTIONS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Action Engine")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("nats.approval_subject", "actions.approvals.requested")
	v.SetDefault("nats.event_prefix", "actions.events")
	v.SetDefault("cloudinary.folder", "actions")
	v.SetDefault("engine.concurrency", 5)
	v.SetDefault("engine.poll_interval", "500ms")
	v.SetDefault("engine.recovery_interval", "1m")
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("queue.backoff_base", "2s")
	v.SetDefault("queue.backoff_max", "5m")
	v.SetDefault("queue.visibility", "5m")
	v.SetDefault("approval.token_ttl", "24h")
	v.SetDefault("approval.public_base_url", "http://localhost:8080")
	v.SetDefault("approval.link_limit", 20)
	v.SetDefault("approval.link_window", "1m")
	v.SetDefault("rules.seed_defaults", true)
	v.SetDefault("kyc.source", "redis")
	v.SetDefault("kyc.redis_set", "kyc:verified")

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseDriver:         strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		NATSApprovalSubject:    v.GetString("nats.approval_subject"),
		NATSEventPrefix:        v.GetString("nats.event_prefix"),
		JWTSecret:              v.GetString("jwt.secret"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		WorkerConcurrency:      v.GetInt("engine.concurrency"),
		MaxRetries:             v.GetInt("engine.max_retries"),
		PublicBaseURL:          strings.TrimRight(v.GetString("approval.public_base_url"), "/"),
		ApprovalLinkLimit:      v.GetInt("approval.link_limit"),
		SeedDefaultRules:       v.GetBool("rules.seed_defaults"),
		KYCSource:              strings.ToLower(v.GetString("kyc.source")),
		KYCVerifiedUsers:       splitList(v.GetString("kyc.verified_users")),
		KYCRedisSet:            v.GetString("kyc.redis_set"),
		DocumentBaseURL:        v.GetString("documents.base_url"),
	}

	durations["engine.poll_interval"] = &cfg.PollInterval
	durations["engine.recovery_interval"] = &cfg.RecoveryInterval
	durations["queue.backoff_base"] = &cfg.RetryBackoffBase
	durations["queue.backoff_max"] = &cfg.RetryBackoffMax
	durations["queue.visibility"] = &cfg.JobVisibility
	durations["approval.token_ttl"] = &cfg.ApprovalTokenTTL
	durations["approval.link_window"] = &cfg.ApprovalLinkWindow

	for key, target := range durations {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", key)
		}
		*target = parsed
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("redis url must be provided")
	}
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	switch cfg.KYCSource {
	case "redis", "static":
	default:
		return Config{}, fmt.Errorf("unsupported kyc source %q", cfg.KYCSource)
	}

	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DocumentBaseURL == "" {
		cfg.DocumentBaseURL = cfg.PublicBaseURL
	}

	return cfg, nil
}

func splitList(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
