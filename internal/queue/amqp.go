package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/tiagouzl/sofia-multiplataforma/internal/config"
	"github.com/tiagouzl/sofia-multiplataforma/internal/domain"
)

const (
	dialAttempts = 5
	dialBaseWait = time.Second
	maxDialWait  = 60 * time.Second
)

// dialWithRetry connects to RabbitMQ with exponential backoff, respecting
// context cancellation for graceful shutdown.
func dialWithRetry(ctx context.Context, url string, logger *slog.Logger) (*amqp091.Connection, error) {
	var lastErr error

	for i := 1; i <= dialAttempts; i++ {
		conn, err := amqp091.Dial(url)
		if err == nil {
			if i > 1 {
				logger.Info("rabbit connected", slog.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err

		sleep := dialBaseWait * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialWait {
			sleep = maxDialWait
		}

		logger.Warn("rabbit dial failed",
			slog.Int("attempt", i),
			slog.Duration("sleep", sleep),
			slog.Any("error", err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w",
		dialAttempts, lastErr)
}

// declareTopology sets up the task queue and its delay companion. Messages
// published to the delay queue carry a per-message TTL and dead-letter back
// into the main queue, which is how a retried task reappears after its delay.
func declareTopology(ch *amqp091.Channel, queueName string) error {
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	args := amqp091.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queueName,
	}
	if _, err := ch.QueueDeclare(queueName+".delay", true, false, false, false, args); err != nil {
		return fmt.Errorf("declare delay queue: %w", err)
	}
	return nil
}

// AMQPPublisher enqueues tasks onto a durable RabbitMQ queue.
type AMQPPublisher struct {
	conn  *amqp091.Connection
	queue string
	log   *slog.Logger
}

func NewAMQPPublisher(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (*AMQPPublisher, error) {
	conn, err := dialWithRetry(ctx, cfg.URL, logger)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := declareTopology(ch, cfg.Queue); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPPublisher{conn: conn, queue: cfg.Queue, log: logger}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, task domain.Task) error {
	return p.publish(ctx, p.queue, task, 0)
}

func (p *AMQPPublisher) PublishDelayed(ctx context.Context, task domain.Task, delay time.Duration) error {
	return p.publish(ctx, p.queue+".delay", task, delay)
}

func (p *AMQPPublisher) publish(ctx context.Context, queue string, task domain.Task, delay time.Duration) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(task)
	if err != nil {
		return err
	}

	msgID := task.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}

	pub := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    msgID,
		Timestamp:    time.Now(),
		Body:         body,
	}
	if delay > 0 {
		pub.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, pub)
	if err == nil {
		p.log.Info("task published",
			slog.String("queue", queue),
			slog.String("task", msgID),
			slog.Duration("delay", delay),
		)
	}
	return err
}

// ConsumerCount inspects the queue without modifying it. A passive declare
// of an existing queue returns its current consumer count.
func (p *AMQPPublisher) ConsumerCount(ctx context.Context) (int, error) {
	ch, err := p.conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("rabbit channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(p.queue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("inspect queue %s: %w", p.queue, err)
	}
	return q.Consumers, nil
}

func (p *AMQPPublisher) Ping(ctx context.Context) error {
	if p.conn.IsClosed() {
		return fmt.Errorf("rabbit connection closed")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbit channel: %w", err)
	}
	return ch.Close()
}

func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}

// AMQPConsumer drains the task queue with a bounded worker pool.
type AMQPConsumer struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	queue    string
	workers  int
	prefetch int
	log      *slog.Logger
	wg       sync.WaitGroup
}

func NewAMQPConsumer(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (*AMQPConsumer, error) {
	conn, err := dialWithRetry(ctx, cfg.URL, logger)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := declareTopology(ch, cfg.Queue); err != nil {
		conn.Close()
		return nil, err
	}

	// prefetch=1 per worker keeps one task in flight per slot.
	if err := ch.Qos(cfg.Prefetch*cfg.Workers, 0, false); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPConsumer{
		conn:     conn,
		ch:       ch,
		queue:    cfg.Queue,
		workers:  cfg.Workers,
		prefetch: cfg.Prefetch,
		log:      logger,
	}, nil
}

func (c *AMQPConsumer) Consume(ctx context.Context, handler domain.TaskHandler) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.log.Info("consumer started", slog.String("queue", c.queue), slog.Int("workers", c.workers))

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx, deliveries, handler)
	}

	<-ctx.Done()
	// Closing the channel ends the delivery range in every worker.
	_ = c.ch.Close()
	c.wg.Wait()
	return nil
}

func (c *AMQPConsumer) workerLoop(ctx context.Context, deliveries <-chan amqp091.Delivery, handler domain.TaskHandler) {
	defer c.wg.Done()
	for msg := range deliveries {
		var task domain.Task
		if err := json.Unmarshal(msg.Body, &task); err != nil {
			c.log.Error("undecodable task dropped", slog.Any("err", err))
			_ = msg.Nack(false, false)
			continue
		}

		if err := handler(ctx, task); err != nil {
			// Handler errors are infrastructure failures; the task's own
			// retry state machine never surfaces here.
			c.log.Error("task handler error", slog.String("task", task.ID), slog.Any("err", err))
			_ = msg.Nack(false, true)
			continue
		}
		_ = msg.Ack(false)
	}
}

func (c *AMQPConsumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}
