package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tiagouzl/sofia-multiplataforma/internal/config"
	"github.com/tiagouzl/sofia-multiplataforma/internal/queue"
	"github.com/tiagouzl/sofia-multiplataforma/internal/store"
	"github.com/tiagouzl/sofia-multiplataforma/internal/webhook"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		logger.Error("startup failed", "err", err)
		return err
	}
	if err := config.RequireReceiver(cfg); err != nil {
		logger.Error("startup failed", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher, err := queue.NewPublisher(ctx, cfg.Broker, logger)
	if err != nil {
		logger.Error("broker connection failed", "err", err)
		return err
	}
	defer publisher.Close()

	var dedup webhook.Dedup
	if !config.Unset(cfg.Store.DBPath) {
		db, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
		if err != nil {
			logger.Error("dedup store unavailable", "err", err)
			return err
		}
		defer db.Close()
		dedup = db
	} else {
		logger.Warn("no dedup store configured, duplicate webhook deliveries will enqueue twice")
	}

	server := webhook.NewServer(webhook.ServerConfig{
		Config:    cfg,
		Publisher: publisher,
		Dedup:     dedup,
		Logger:    logger,
		Version:   version,
	})
	return server.Start(ctx)
}
