// Package queue connects the receiver and the worker through an external
// durable broker. Two backends are supported, selected by the connection
// string scheme: RabbitMQ (amqp:// or amqps://) and Redis Streams (redis://
// or rediss://).
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tiagouzl/sofia-multiplataforma/internal/config"
	"github.com/tiagouzl/sofia-multiplataforma/internal/domain"
)

// NewPublisher returns the broker publisher for the configured URL scheme.
func NewPublisher(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (domain.Publisher, error) {
	switch {
	case strings.HasPrefix(cfg.URL, "amqp://"), strings.HasPrefix(cfg.URL, "amqps://"):
		return NewAMQPPublisher(ctx, cfg, logger)
	case strings.HasPrefix(cfg.URL, "redis://"), strings.HasPrefix(cfg.URL, "rediss://"):
		return NewRedisPublisher(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("unsupported broker URL scheme: %s", cfg.URL)
}

// NewConsumer returns the broker consumer for the configured URL scheme.
func NewConsumer(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (domain.Consumer, error) {
	switch {
	case strings.HasPrefix(cfg.URL, "amqp://"), strings.HasPrefix(cfg.URL, "amqps://"):
		return NewAMQPConsumer(ctx, cfg, logger)
	case strings.HasPrefix(cfg.URL, "redis://"), strings.HasPrefix(cfg.URL, "rediss://"):
		return NewRedisConsumer(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("unsupported broker URL scheme: %s", cfg.URL)
}
