package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiagouzl/sofia-multiplataforma/internal/ai"
	"github.com/tiagouzl/sofia-multiplataforma/internal/config"
	"github.com/tiagouzl/sofia-multiplataforma/internal/delivery"
	"github.com/tiagouzl/sofia-multiplataforma/internal/knowledge"
	"github.com/tiagouzl/sofia-multiplataforma/internal/queue"
	"github.com/tiagouzl/sofia-multiplataforma/internal/store"
	"github.com/tiagouzl/sofia-multiplataforma/internal/worker"
)

func workCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Run the task worker",
		RunE:  runWork,
	}
}

func runWork(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		logger.Error("startup failed", "err", err)
		return err
	}
	if err := config.RequireWorker(cfg); err != nil {
		logger.Error("startup failed", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Construct-once singletons, injected into the orchestrator.
	know := knowledge.NewStore(cfg.Knowledge.Path, logger)

	model := ai.NewGemini(ai.GeminiConfig{
		APIKey:          cfg.AI.APIKey,
		Model:           cfg.AI.Model,
		Temperature:     cfg.AI.Temperature,
		MaxOutputTokens: cfg.AI.MaxOutputTokens,
		Timeout:         time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		Logger:          logger,
	})
	cache := ai.NewResponseCache(cfg.AI.CacheSize, logger)

	sender := delivery.NewSender(delivery.SenderConfig{
		WhatsApp:  cfg.Channels.WhatsApp,
		Messenger: cfg.Channels.Messenger,
		Logger:    logger,
	})

	publisher, err := queue.NewPublisher(ctx, cfg.Broker, logger)
	if err != nil {
		logger.Error("broker connection failed", "err", err)
		return err
	}
	defer publisher.Close()

	consumer, err := queue.NewConsumer(ctx, cfg.Broker, logger)
	if err != nil {
		logger.Error("broker connection failed", "err", err)
		return err
	}
	defer consumer.Close()

	var audit worker.AuditLog
	if !config.Unset(cfg.Store.DBPath) {
		db, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
		if err != nil {
			logger.Error("audit store unavailable", "err", err)
			return err
		}
		defer db.Close()
		audit = db
	}

	orch := worker.NewOrchestrator(worker.OrchestratorConfig{
		Model:           model,
		Cache:           cache,
		Deliverer:       sender,
		Publisher:       publisher,
		Knowledge:       know,
		Fallbacks:       worker.LoadCatalog(cfg.Worker.RepliesPath, logger),
		Audit:           audit,
		Logger:          logger,
		MaxAttempts:     cfg.Worker.MaxAttempts,
		RetryDelay:      time.Duration(cfg.Worker.RetryDelaySeconds) * time.Second,
		ModelTimeout:    time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		DeliveryTimeout: 10 * time.Second,
	})

	logger.Info("worker starting",
		"queue", cfg.Broker.Queue,
		"workers", cfg.Broker.Workers,
		"model", cfg.AI.Model,
		"knowledge_degraded", know.Degraded(),
	)
	return consumer.Consume(ctx, orch.Handle)
}
