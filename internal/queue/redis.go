package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tiagouzl/sofia-multiplataforma/internal/config"
	"github.com/tiagouzl/sofia-multiplataforma/internal/domain"
)

const (
	redisConsumerGroup = "sofia-workers"
	redisReadBlock     = 5 * time.Second
	delayedPollEvery   = time.Second
)

// RedisPublisher enqueues tasks onto a Redis stream. Delayed tasks sit in a
// sorted set scored by their ready time until the consumer moves them onto
// the stream.
type RedisPublisher struct {
	rdb    *redis.Client
	stream string
	log    *slog.Logger
}

func NewRedisPublisher(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (*RedisPublisher, error) {
	rdb, err := newRedisClient(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	return &RedisPublisher{rdb: rdb, stream: cfg.Queue, log: logger}, nil
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func delayedKey(stream string) string { return stream + ":delayed" }

func (p *RedisPublisher) Publish(ctx context.Context, task domain.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{"task": string(body)},
	}).Err()
	if err == nil {
		p.log.Info("task published", slog.String("stream", p.stream), slog.String("task", task.ID))
	}
	return err
}

func (p *RedisPublisher) PublishDelayed(ctx context.Context, task domain.Task, delay time.Duration) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	err = p.rdb.ZAdd(ctx, delayedKey(p.stream), redis.Z{Score: readyAt, Member: string(body)}).Err()
	if err == nil {
		p.log.Info("task scheduled",
			slog.String("stream", p.stream),
			slog.String("task", task.ID),
			slog.Duration("delay", delay),
		)
	}
	return err
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// ConsumerCount sums the consumers across the stream's groups. A stream that
// no worker has touched yet simply has no consumers.
func (p *RedisPublisher) ConsumerCount(ctx context.Context) (int, error) {
	groups, err := p.rdb.XInfoGroups(ctx, p.stream).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return 0, nil
		}
		return 0, fmt.Errorf("inspect stream %s: %w", p.stream, err)
	}
	total := 0
	for _, g := range groups {
		total += int(g.Consumers)
	}
	return total, nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// RedisConsumer reads the task stream through a consumer group and dispatches
// to a bounded worker pool. It also promotes due delayed tasks back onto the
// stream.
type RedisConsumer struct {
	rdb      *redis.Client
	stream   string
	consumer string
	workers  int
	prefetch int
	log      *slog.Logger
	wg       sync.WaitGroup
}

func NewRedisConsumer(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (*RedisConsumer, error) {
	rdb, err := newRedisClient(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}

	err = rdb.XGroupCreateMkStream(ctx, cfg.Queue, redisConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		rdb.Close()
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	host, _ := os.Hostname()
	return &RedisConsumer{
		rdb:      rdb,
		stream:   cfg.Queue,
		consumer: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		workers:  cfg.Workers,
		prefetch: cfg.Prefetch,
		log:      logger,
	}, nil
}

func (c *RedisConsumer) Consume(ctx context.Context, handler domain.TaskHandler) error {
	c.log.Info("consumer started",
		slog.String("stream", c.stream),
		slog.String("consumer", c.consumer),
		slog.Int("workers", c.workers),
	)

	jobs := make(chan redis.XMessage)
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx, jobs, handler)
	}

	c.wg.Add(1)
	go c.promoteDelayedLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			c.wg.Wait()
			return nil
		default:
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    redisConsumerGroup,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    int64(c.prefetch),
			Block:    redisReadBlock,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error("stream read failed", slog.Any("err", err))
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				select {
				case jobs <- msg:
				case <-ctx.Done():
				}
			}
		}
	}
}

func (c *RedisConsumer) workerLoop(ctx context.Context, jobs <-chan redis.XMessage, handler domain.TaskHandler) {
	defer c.wg.Done()
	for msg := range jobs {
		c.handle(ctx, msg, handler)
	}
}

func (c *RedisConsumer) handle(ctx context.Context, msg redis.XMessage, handler domain.TaskHandler) {
	ack := func() {
		if err := c.rdb.XAck(ctx, c.stream, redisConsumerGroup, msg.ID).Err(); err != nil && ctx.Err() == nil {
			c.log.Error("ack failed", slog.String("id", msg.ID), slog.Any("err", err))
		}
	}

	raw, ok := msg.Values["task"].(string)
	if !ok {
		c.log.Error("malformed stream entry dropped", slog.String("id", msg.ID))
		ack()
		return
	}

	var task domain.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		c.log.Error("undecodable task dropped", slog.String("id", msg.ID), slog.Any("err", err))
		ack()
		return
	}

	if err := handler(ctx, task); err != nil {
		// Leave unacked: the entry stays pending and is redelivered by the
		// group's claim mechanics when this worker disappears.
		c.log.Error("task handler error", slog.String("task", task.ID), slog.Any("err", err))
		return
	}
	ack()
}

// promoteDelayedLoop moves due tasks from the delayed sorted set onto the
// stream. ZRem guards against two workers promoting the same entry.
func (c *RedisConsumer) promoteDelayedLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(delayedPollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := fmt.Sprintf("%d", time.Now().UnixMilli())
		due, err := c.rdb.ZRangeByScore(ctx, delayedKey(c.stream), &redis.ZRangeBy{
			Min: "-inf", Max: now, Count: 10,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Error("delayed poll failed", slog.Any("err", err))
			}
			continue
		}

		for _, raw := range due {
			removed, err := c.rdb.ZRem(ctx, delayedKey(c.stream), raw).Result()
			if err != nil || removed == 0 {
				continue
			}
			if err := c.rdb.XAdd(ctx, &redis.XAddArgs{
				Stream: c.stream,
				Values: map[string]any{"task": raw},
			}).Err(); err != nil {
				c.log.Error("delayed promote failed", slog.Any("err", err))
			}
		}
	}
}

func (c *RedisConsumer) Close() error {
	return c.rdb.Close()
}
