package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/actions"
	"github.com/noah-isme/gema-action-engine/internal/config"
	"github.com/noah-isme/gema-action-engine/internal/database"
	"github.com/noah-isme/gema-action-engine/internal/handler"
	"github.com/noah-isme/gema-action-engine/internal/integration"
	"github.com/noah-isme/gema-action-engine/internal/middleware"
	"github.com/noah-isme/gema-action-engine/internal/queue"
	"github.com/noah-isme/gema-action-engine/internal/repository"
	"github.com/noah-isme/gema-action-engine/internal/router"
	"github.com/noah-isme/gema-action-engine/internal/service"
	cloud "github.com/noah-isme/gema-action-engine/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("%v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	registry, err := actions.NewDefaultRegistry(buildIntegrations(cfg, logger), validate, logger)
	if err != nil {
		log.Fatalf("failed to build action registry: %v", err)
	}

	kyc, err := buildKYCChecker(cfg, redisClient)
	if err != nil {
		log.Fatalf("failed to prepare kyc directory: %v", err)
	}

	deps := service.EngineDeps{
		Actions:   repository.NewActionRepository(db),
		Rules:     repository.NewSafetyRuleRepository(db),
		Audit:     repository.NewAuditLogRepository(db),
		Rollbacks: repository.NewRollbackHistoryRepository(db),
		Queue: queue.New(redisClient, queue.Options{
			MaxAttempts: cfg.MaxRetries,
			BackoffBase: cfg.RetryBackoffBase,
			BackoffMax:  cfg.RetryBackoffMax,
			Visibility:  cfg.JobVisibility,
		}, logger),
		Registry:  registry,
		KYC:       kyc,
		Notifier:  integration.NewLogApprovalNotifier(logger),
		Validator: validate,
	}
	deps.Limiter = service.NewRateLimiter(redisClient, deps.Rules, logger)

	hub := service.NewEventHub()
	deps.Events = hub
	if natsConn != nil {
		deps.Notifier = integration.NewNATSApprovalNotifier(natsConn, cfg.NATSApprovalSubject, logger)
		deps.Events = service.MultiPublisher(hub, integration.NewNATSEventPublisher(natsConn, cfg.NATSEventPrefix))
	}

	engine, err := service.NewEngine(deps, service.EngineConfig{
		Concurrency:      cfg.WorkerConcurrency,
		PollInterval:     cfg.PollInterval,
		RecoveryInterval: cfg.RecoveryInterval,
		MaxRetries:       cfg.MaxRetries,
		Approval: service.ApprovalConfig{
			TokenTTL:      cfg.ApprovalTokenTTL,
			PublicBaseURL: cfg.PublicBaseURL,
		},
	}, logger)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	if cfg.SeedDefaultRules {
		seeded, err := engine.Rules.SeedDefaults(context.Background())
		if err != nil {
			log.Fatalf("failed to seed safety rules: %v", err)
		}
		if seeded > 0 {
			logger.Info().Int64("rules", seeded).Msg("default safety rules installed")
		}
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	if err := engine.Start(runCtx); err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ActionHandler:       handler.NewActionHandler(engine.Actions, validate, logger),
		ApprovalLinkHandler: handler.NewApprovalLinkHandler(engine.Actions, logger),
		SafetyRuleHandler:   handler.NewSafetyRuleHandler(engine.Rules, logger),
		AuditLogHandler:     handler.NewAuditLogHandler(engine.Audit, logger),
		EventStreamHandler:  handler.NewEventStreamHandler(hub, logger),
		Health:              engine,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, engine)
}

func buildIntegrations(cfg config.Config, logger zerolog.Logger) actions.Integrations {
	integrations := actions.Integrations{
		Calendar:  integration.NewLogCalendar(logger),
		Mailer:    integration.NewLogMailer(logger),
		Files:     integration.NewLogFileStore(logger),
		Documents: integration.NewLogDocumentStore(cfg.DocumentBaseURL, logger),
		Payments:  integration.NewLogPaymentGateway(logger),
	}

	if cfg.CloudinaryEnabled() {
		storage, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		integrations.Files = storage
		integrations.Documents = storage
	}

	return integrations
}

func buildKYCChecker(cfg config.Config, client *redis.Client) (service.KYCChecker, error) {
	if cfg.KYCSource == "static" {
		return integration.NewStaticKYCChecker(cfg.KYCVerifiedUsers), nil
	}

	checker := integration.NewRedisKYCChecker(client, cfg.KYCRedisSet)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := checker.MarkVerified(ctx, cfg.KYCVerifiedUsers...); err != nil {
		return nil, err
	}
	return checker, nil
}

func waitForShutdown(app *fiber.App, engine *service.Engine) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	engine.Stop()

	log.Println("server stopped")
}
