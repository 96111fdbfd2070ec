// Package worker executes queued tasks: build the prompt, get a reply from
// cache or model, deliver it, and drive the retry/fallback state machine.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/tiagouzl/sofia-multiplataforma/internal/ai"
	"github.com/tiagouzl/sofia-multiplataforma/internal/domain"
	"github.com/tiagouzl/sofia-multiplataforma/internal/knowledge"
	"github.com/tiagouzl/sofia-multiplataforma/internal/metrics"
	"github.com/tiagouzl/sofia-multiplataforma/internal/prompt"
)

// State names for the task lifecycle. Every transition is logged with
// platform, sender, attempt and elapsed time.
type State string

const (
	StateReceived   State = "received"
	StateGenerating State = "generating"
	StateDelivering State = "delivering"
	StateRetrying   State = "retrying"
	StateSucceeded  State = "succeeded"
	StateExhausted  State = "exhausted_fallback_sent"
)

// AuditLog records terminal task outcomes. Nil-able: the worker runs without
// an audit store.
type AuditLog interface {
	RecordOutcome(ctx context.Context, taskID, platform, senderID, outcome string, attempts int, elapsed time.Duration) error
}

// Orchestrator is the asynchronous unit of work consuming the task queue.
// All collaborators are constructed once at worker startup and injected;
// nothing here reaches for ambient global state.
type Orchestrator struct {
	model     domain.Model
	cache     *ai.ResponseCache
	deliverer domain.Deliverer
	publisher domain.Publisher
	knowledge *knowledge.Store
	fallbacks *FallbackCatalog
	audit     AuditLog
	logger    *slog.Logger

	maxAttempts     int
	retryDelay      time.Duration
	modelTimeout    time.Duration
	deliveryTimeout time.Duration
}

type OrchestratorConfig struct {
	Model     domain.Model
	Cache     *ai.ResponseCache
	Deliverer domain.Deliverer
	Publisher domain.Publisher
	Knowledge *knowledge.Store
	Fallbacks *FallbackCatalog
	Audit     AuditLog
	Logger    *slog.Logger

	MaxAttempts     int
	RetryDelay      time.Duration
	ModelTimeout    time.Duration
	DeliveryTimeout time.Duration
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 30 * time.Second
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	return &Orchestrator{
		model:           cfg.Model,
		cache:           cfg.Cache,
		deliverer:       cfg.Deliverer,
		publisher:       cfg.Publisher,
		knowledge:       cfg.Knowledge,
		fallbacks:       cfg.Fallbacks,
		audit:           cfg.Audit,
		logger:          cfg.Logger,
		maxAttempts:     cfg.MaxAttempts,
		retryDelay:      cfg.RetryDelay,
		modelTimeout:    cfg.ModelTimeout,
		deliveryTimeout: cfg.DeliveryTimeout,
	}
}

// Handle implements domain.TaskHandler. A nil return acknowledges the task;
// the retry state machine never surfaces errors here — retries go back
// through the queue as delayed tasks.
func (o *Orchestrator) Handle(ctx context.Context, task domain.Task) error {
	switch task.Kind {
	case domain.TaskKindFlush:
		o.flush()
		return nil
	case "", domain.TaskKindMessage:
		o.process(ctx, task)
		return nil
	}
	o.logger.Warn("unknown task kind dropped", "kind", task.Kind, "task", task.ID)
	return nil
}

// flush clears the response cache and reloads the knowledge document.
// Operator-triggered via `sofia flush`.
func (o *Orchestrator) flush() {
	o.cache.Clear()
	o.knowledge.Reload()
	o.logger.Info("cache flushed and knowledge reloaded")
}

func (o *Orchestrator) process(ctx context.Context, task domain.Task) {
	start := time.Now()
	o.transition(StateReceived, task, start)

	exhausted := task.Attempt >= o.maxAttempts
	reply := task.Reply
	fallbackReply := false

	if reply == "" {
		o.transition(StateGenerating, task, start)

		if exhausted {
			// Attempts are spent: answer from the canned catalog instead
			// of calling the model again.
			reply = o.fallbacks.Match(task.Text)
			fallbackReply = true
			metrics.Collector.Counter("sofia_fallback_replies_total",
				"Canned replies sent after generation exhaustion", "").Inc()
		} else {
			p := prompt.Build(task.Text, o.knowledge.Formatted())
			key := prompt.Hash(p)

			generated, cached, err := o.cache.GetOrGenerate(ctx, key, func() (string, error) {
				genCtx, cancel := context.WithTimeout(ctx, o.modelTimeout)
				defer cancel()
				return o.model.Generate(genCtx, p)
			})
			if err != nil {
				metrics.Collector.Counter("sofia_generation_failures_total",
					"Failed model calls", "").Inc()
				o.scheduleRetry(ctx, task, "", start, err)
				return
			}
			if cached {
				metrics.Collector.Counter("sofia_cache_hits_total",
					"Response cache hits", "").Inc()
			} else {
				metrics.Collector.Counter("sofia_cache_misses_total",
					"Response cache misses", "").Inc()
			}
			reply = generated
		}
	}

	o.transition(StateDelivering, task, start)
	delCtx, cancel := context.WithTimeout(ctx, o.deliveryTimeout)
	delivered := o.deliverer.Send(delCtx, task.Platform, task.SenderID, reply)
	cancel()

	switch {
	case delivered && fallbackReply:
		o.finish(ctx, task, StateExhausted, start)

	case delivered:
		metrics.Collector.Counter("sofia_deliveries_total",
			"Replies delivered", "").Inc()
		o.finish(ctx, task, StateSucceeded, start)

	case exhausted || fallbackReply:
		// Attempts spent and even delivery failed: one best-effort canned
		// send, its own failure is logged but never retried.
		bestCtx, bestCancel := context.WithTimeout(ctx, o.deliveryTimeout)
		if !o.deliverer.Send(bestCtx, task.Platform, task.SenderID, o.fallbacks.TechnicalDifficulties()) {
			o.logger.Error("best-effort fallback delivery failed",
				"platform", task.Platform, "sender", task.SenderID, "task", task.ID)
		}
		bestCancel()
		o.finish(ctx, task, StateExhausted, start)

	default:
		// Delivery failed with attempts left. The requeued task carries the
		// reply, so the retry skips straight to delivering.
		o.scheduleRetry(ctx, task, reply, start, nil)
	}
}

// scheduleRetry increments the attempt counter and requeues the task after
// the fixed delay. The broker re-invokes it; nothing blocks a worker slot.
func (o *Orchestrator) scheduleRetry(ctx context.Context, task domain.Task, reply string, start time.Time, cause error) {
	task.Attempt++
	task.Reply = reply

	o.transition(StateRetrying, task, start)
	if cause != nil {
		o.logger.Warn("generation failed, retry scheduled",
			"task", task.ID, "attempt", task.Attempt, "delay", o.retryDelay, "err", cause)
	} else {
		o.logger.Warn("delivery failed, retry scheduled",
			"task", task.ID, "attempt", task.Attempt, "delay", o.retryDelay)
	}

	metrics.Collector.Counter("sofia_task_retries_total",
		"Tasks requeued for retry", "").Inc()

	if err := o.publisher.PublishDelayed(ctx, task, o.retryDelay); err != nil {
		// The broker rejected the requeue; the task dies here rather than
		// looping. Logged loudly since the user gets no reply at all.
		o.logger.Error("CRITICAL: retry requeue failed, task lost",
			"task", task.ID, "attempt", task.Attempt, "err", err)
	}
}

func (o *Orchestrator) finish(ctx context.Context, task domain.Task, terminal State, start time.Time) {
	o.transition(terminal, task, start)

	outcome := string(terminal)
	if o.audit != nil {
		if err := o.audit.RecordOutcome(ctx, task.ID, string(task.Platform), task.SenderID,
			outcome, task.Attempt, time.Since(start)); err != nil {
			o.logger.Warn("audit record failed", "task", task.ID, "err", err)
		}
	}

	metrics.Collector.Histogram("sofia_task_duration_seconds",
		"End-to-end task processing time", "",
		[]float64{0.1, 0.5, 1, 5, 15, 30, 60}).Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) transition(state State, task domain.Task, start time.Time) {
	o.logger.Info("task "+string(state),
		"task", task.ID,
		"platform", task.Platform,
		"sender", task.SenderID,
		"attempt", task.Attempt,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}
