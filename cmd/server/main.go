package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/api"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/config"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/repository"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/agent"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/discovery"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/followup"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/llm"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/mailbox"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/messaging"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/research"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/scheduler"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/scraper"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/tenant"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/services/writer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting multi-tenant outreach engine")

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
		}); err != nil {
			logger.Error("Failed to initialize Sentry, continuing without it", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	location, err := cfg.Scheduler.Location()
	if err != nil {
		logger.Fatal("Invalid scheduler timezone", zap.String("timezone", cfg.Scheduler.Timezone), zap.Error(err))
	}

	if cfg.Database.AutoMigrate {
		if err := repository.RunMigrations(cfg.Database.MigrationsPath, cfg.Database.URL, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	db, err := repository.NewDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	tenantRepo := repository.NewTenantRepository(db.Pool(), logger)
	recordRepo := repository.NewRecordRepository(db.Pool(), logger)
	campaignRepo := repository.NewCampaignRepository(db.Pool(), logger)
	companyRepo := repository.NewCompanyRepository(db.Pool(), logger)
	historyRepo := repository.NewSearchHistoryRepository(db.Pool(), logger)

	events, closeEvents := initEvents(cfg.RabbitMQ, logger)
	defer closeEvents()

	memory, closeMemory := initQueryMemory(cfg.Redis, logger)
	defer closeMemory()

	llmClient := llm.NewClient(cfg.LLM, logger)
	scraperClient := scraper.NewClient(cfg.Scraper, logger)

	deliverer := mailbox.NewDeliverer(mailbox.NewSMTPSender(logger), mailbox.NewDraftStore(logger), logger)
	inbox := mailbox.NewInbox(recordRepo, llmClient, events, logger)

	researchService := research.NewService(scraperClient, llmClient, companyRepo, recordRepo, logger)
	writerService := writer.NewService(llmClient, companyRepo, recordRepo, logger)
	discoveryService := discovery.NewService(discovery.Dependencies{
		Planner:   llmClient,
		Places:    scraperClient,
		Campaigns: campaignRepo,
		History:   historyRepo,
		Records:   recordRepo,
		Companies: companyRepo,
		Memory:    memory,
	}, cfg.Discovery, logger)

	cycle := agent.NewCycle(agent.Dependencies{
		Tenants:   tenantRepo,
		Records:   recordRepo,
		Followups: followup.NewScheduler(recordRepo, cfg.Followup.MaxSteps, logger),
		Inbox:     inbox,
		Research:  researchService,
		Drafting:  writerService,
		Delivery:  deliverer,
		Discovery: discoveryService,
		Events:    events,
	}, agent.Config{
		FollowupCooldown: cfg.Followup.Cooldown,
		ActionTimeout:    cfg.Scheduler.ActionTimeout,
		InboxInterval:    cfg.Scheduler.InboxInterval,
		DiscoveryEvery:   cfg.Scheduler.DiscoveryEvery,
		PostSendDelayMin: cfg.Scheduler.PostSendDelayMin,
		PostSendDelayMax: cfg.Scheduler.PostSendDelayMax,
		Location:         location,
	}, logger)

	schedulerService := scheduler.NewService(tenantRepo, cycle, scheduler.Config{
		MaxConcurrent:    cfg.Scheduler.MaxConcurrentAgents,
		Interval:         cfg.Scheduler.DispatcherInterval,
		IdleBackoff:      cfg.Scheduler.IdleBackoff,
		ExhaustedBackoff: cfg.Scheduler.ExhaustedBackoff,
		WorkPause:        cfg.Scheduler.WorkPause,
		Location:         location,
	}, cfg.Scheduler.SupervisorBackoff, logger)

	tenantManager := tenant.NewManager(tenantRepo, recordRepo, schedulerService, events, location, logger)

	rootCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	schedulerService.Start(rootCtx)

	server := api.NewServer(cfg, tenantManager, logger)
	server.SetupRoutes()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.GetRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
	defer cancel()

	// Stop accepting operator requests before draining the runners.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	logger.Info("Stopping scheduler...")
	if err := schedulerService.Stop(shutdownCtx); err != nil {
		logger.Error("Scheduler did not drain in time", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}

func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config

	if gin.Mode() == gin.DebugMode {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	if cfg.Format != "" {
		zapConfig.Encoding = cfg.Format
	}

	switch cfg.Level {
	case "debug":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapConfig.Build()
}

// initEvents connects to RabbitMQ when enabled. Event publishing is
// best-effort, so a broker that cannot be reached degrades to a no-op.
func initEvents(cfg config.RabbitMQConfig, logger *zap.Logger) (messaging.Publisher, func()) {
	if !cfg.Enabled {
		return messaging.NopPublisher{}, func() {}
	}

	rabbitMQ := messaging.NewRabbitMQManager(cfg.URL, logger)
	if err := rabbitMQ.Connect(); err != nil {
		logger.Error("Failed to connect to RabbitMQ, events disabled", zap.Error(err))
		return messaging.NopPublisher{}, func() {}
	}
	if err := rabbitMQ.DeclareExchange(cfg.Exchange); err != nil {
		logger.Error("Failed to declare events exchange, events disabled", zap.Error(err))
		rabbitMQ.Close()
		return messaging.NopPublisher{}, func() {}
	}

	closeFn := func() {
		if err := rabbitMQ.Close(); err != nil {
			logger.Warn("Failed to close RabbitMQ", zap.Error(err))
		}
	}
	return messaging.NewEventPublisher(rabbitMQ, cfg.Exchange, logger), closeFn
}

// initQueryMemory prefers Redis and falls back to process memory.
func initQueryMemory(cfg config.RedisConfig, logger *zap.Logger) (discovery.QueryMemory, func()) {
	if !cfg.Enabled {
		return discovery.NewLocalMemory(), func() {}
	}

	client := discovery.NewRedisClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("Redis unreachable, using in-process query memory", zap.Error(err))
		client.Close()
		return discovery.NewLocalMemory(), func() {}
	}

	return discovery.NewRedisMemory(client, cfg.QueryMemoryTTL), func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
}
