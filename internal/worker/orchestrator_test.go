package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tiagouzl/sofia-multiplataforma/internal/ai"
	"github.com/tiagouzl/sofia-multiplataforma/internal/domain"
	"github.com/tiagouzl/sofia-multiplataforma/internal/knowledge"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubModel struct {
	mu      sync.Mutex
	calls   int
	reply   string
	err     error
	prompts []string
}

func (m *stubModel) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	return m.reply, m.err
}

func (m *stubModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type sendAttempt struct {
	platform  domain.Platform
	recipient string
	text      string
}

type stubDeliverer struct {
	mu      sync.Mutex
	results []bool // consumed in order; exhausted list keeps last value
	sends   []sendAttempt
}

func (d *stubDeliverer) Send(_ context.Context, platform domain.Platform, recipientID, text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sends = append(d.sends, sendAttempt{platform, recipientID, text})
	if len(d.results) == 0 {
		return true
	}
	result := d.results[0]
	if len(d.results) > 1 {
		d.results = d.results[1:]
	}
	return result
}

type recordingPublisher struct {
	mu      sync.Mutex
	delayed []domain.Task
	delays  []time.Duration
	err     error
}

func (p *recordingPublisher) Publish(context.Context, domain.Task) error { return nil }

func (p *recordingPublisher) PublishDelayed(_ context.Context, task domain.Task, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delayed = append(p.delayed, task)
	p.delays = append(p.delays, delay)
	return p.err
}

func (p *recordingPublisher) Ping(context.Context) error                 { return nil }
func (p *recordingPublisher) ConsumerCount(context.Context) (int, error) { return 1, nil }
func (p *recordingPublisher) Close() error                               { return nil }

type auditRecord struct {
	taskID   string
	outcome  string
	attempts int
}

type recordingAudit struct {
	mu      sync.Mutex
	records []auditRecord
}

func (a *recordingAudit) RecordOutcome(_ context.Context, taskID, _, _, outcome string, attempts int, _ time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, auditRecord{taskID, outcome, attempts})
	return nil
}

func testKnowledge(t *testing.T) *knowledge.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knowledge.json")
	if err := os.WriteFile(path, []byte(`{"loja":"Dinâmica Sports"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	return knowledge.NewStore(path, testLogger())
}

type fixture struct {
	model     *stubModel
	cache     *ai.ResponseCache
	deliverer *stubDeliverer
	publisher *recordingPublisher
	audit     *recordingAudit
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		model:     &stubModel{reply: "resposta gerada"},
		cache:     ai.NewResponseCache(16, testLogger()),
		deliverer: &stubDeliverer{},
		publisher: &recordingPublisher{},
		audit:     &recordingAudit{},
	}
	f.orch = NewOrchestrator(OrchestratorConfig{
		Model:       f.model,
		Cache:       f.cache,
		Deliverer:   f.deliverer,
		Publisher:   f.publisher,
		Knowledge:   testKnowledge(t),
		Fallbacks:   LoadCatalog("", testLogger()),
		Audit:       f.audit,
		Logger:      testLogger(),
		MaxAttempts: 3,
		RetryDelay:  10 * time.Second,
	})
	return f
}

func messageTask(text string) domain.Task {
	return domain.Task{
		ID:       "task-1",
		Kind:     domain.TaskKindMessage,
		Platform: domain.PlatformWhatsApp,
		SenderID: "5584999990000",
		Text:     text,
	}
}

func TestHandle_HappyPath(t *testing.T) {
	f := newFixture(t)

	if err := f.orch.Handle(context.Background(), messageTask("tem chuteira?")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if f.model.callCount() != 1 {
		t.Errorf("model calls = %d, want 1", f.model.callCount())
	}
	if len(f.deliverer.sends) != 1 || f.deliverer.sends[0].text != "resposta gerada" {
		t.Fatalf("sends = %+v", f.deliverer.sends)
	}
	if len(f.publisher.delayed) != 0 {
		t.Errorf("no retry expected, got %d", len(f.publisher.delayed))
	}
	if len(f.audit.records) != 1 || f.audit.records[0].outcome != string(StateSucceeded) {
		t.Errorf("audit = %+v", f.audit.records)
	}
}

func TestHandle_GenerationFailureSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	f.model.err = errors.New("model unavailable")

	f.orch.Handle(context.Background(), messageTask("oi"))

	if len(f.deliverer.sends) != 0 {
		t.Errorf("nothing should be delivered, got %+v", f.deliverer.sends)
	}
	if len(f.publisher.delayed) != 1 {
		t.Fatalf("delayed = %d, want 1", len(f.publisher.delayed))
	}
	requeued := f.publisher.delayed[0]
	if requeued.Attempt != 1 || requeued.Reply != "" {
		t.Errorf("requeued task = %+v", requeued)
	}
	if f.publisher.delays[0] != 10*time.Second {
		t.Errorf("delay = %v", f.publisher.delays[0])
	}
}

func TestHandle_ExhaustedSendsCannedReplyWithoutModel(t *testing.T) {
	f := newFixture(t)
	f.model.err = errors.New("still down")

	task := messageTask("qual o horário de funcionamento?")
	task.Attempt = 3 // three generation attempts already spent

	f.orch.Handle(context.Background(), task)

	if f.model.callCount() != 0 {
		t.Errorf("model calls = %d, want 0 after exhaustion", f.model.callCount())
	}
	if len(f.deliverer.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(f.deliverer.sends))
	}
	want := DefaultReplies().Hours
	if got := f.deliverer.sends[0].text; got != want {
		t.Errorf("canned reply = %q, want %q", got, want)
	}
	if len(f.publisher.delayed) != 0 {
		t.Error("exhausted tasks must not requeue")
	}
	if f.audit.records[0].outcome != string(StateExhausted) {
		t.Errorf("outcome = %q", f.audit.records[0].outcome)
	}
}

func TestHandle_ModelCalledAtMostMaxAttemptsTimes(t *testing.T) {
	f := newFixture(t)
	f.model.err = errors.New("persistent failure")

	// Drive the retry loop by re-feeding each requeued task, as the broker
	// would after the delay elapses.
	task := messageTask("oi")
	seen := 0
	for i := 0; i < 5; i++ {
		f.orch.Handle(context.Background(), task)
		f.publisher.mu.Lock()
		if len(f.publisher.delayed) == seen {
			f.publisher.mu.Unlock()
			break
		}
		seen = len(f.publisher.delayed)
		task = f.publisher.delayed[seen-1]
		f.publisher.mu.Unlock()
	}

	if f.model.callCount() != 3 {
		t.Errorf("model calls = %d, want exactly 3", f.model.callCount())
	}
	// The terminal pass serves the canned generic reply.
	last := f.deliverer.sends[len(f.deliverer.sends)-1]
	if last.text != DefaultReplies().Generic {
		t.Errorf("final reply = %q", last.text)
	}
}

func TestHandle_DeliveryRetryCarriesReplyAndSkipsModel(t *testing.T) {
	f := newFixture(t)
	f.deliverer.results = []bool{false}

	f.orch.Handle(context.Background(), messageTask("oi"))

	if len(f.publisher.delayed) != 1 {
		t.Fatalf("delayed = %d, want 1", len(f.publisher.delayed))
	}
	requeued := f.publisher.delayed[0]
	if requeued.Reply != "resposta gerada" || requeued.Attempt != 1 {
		t.Fatalf("requeued = %+v", requeued)
	}

	// Second round: the broker hands back the task; delivery now works.
	f.deliverer.results = []bool{true}
	f.orch.Handle(context.Background(), requeued)

	if f.model.callCount() != 1 {
		t.Errorf("model calls = %d, want 1 (retry must reuse the reply)", f.model.callCount())
	}
	lastSend := f.deliverer.sends[len(f.deliverer.sends)-1]
	if lastSend.text != "resposta gerada" {
		t.Errorf("retried delivery text = %q", lastSend.text)
	}
}

func TestHandle_ExhaustedDeliveryFailureSendsTechnicalDifficulties(t *testing.T) {
	f := newFixture(t)
	f.deliverer.results = []bool{false, true}

	task := messageTask("oi")
	task.Attempt = 3

	f.orch.Handle(context.Background(), task)

	if len(f.deliverer.sends) != 2 {
		t.Fatalf("sends = %d, want 2 (canned reply then best-effort)", len(f.deliverer.sends))
	}
	if f.deliverer.sends[1].text != DefaultReplies().TechnicalDifficulties {
		t.Errorf("best-effort text = %q", f.deliverer.sends[1].text)
	}
	if len(f.publisher.delayed) != 0 {
		t.Error("no further retry after exhaustion")
	}
}

func TestHandle_CachedReplySkipsSecondModelCall(t *testing.T) {
	f := newFixture(t)

	f.orch.Handle(context.Background(), messageTask("tem chuteira?"))
	f.orch.Handle(context.Background(), messageTask("tem chuteira?"))

	if f.model.callCount() != 1 {
		t.Errorf("model calls = %d, want 1 (second task must hit the cache)", f.model.callCount())
	}
	if len(f.deliverer.sends) != 2 {
		t.Errorf("sends = %d, want 2", len(f.deliverer.sends))
	}
}

func TestHandle_FlushClearsCache(t *testing.T) {
	f := newFixture(t)

	f.orch.Handle(context.Background(), messageTask("oi"))
	if f.cache.Len() != 1 {
		t.Fatalf("cache len = %d", f.cache.Len())
	}

	f.orch.Handle(context.Background(), domain.Task{ID: "flush-1", Kind: domain.TaskKindFlush})

	if f.cache.Len() != 0 {
		t.Errorf("cache len after flush = %d, want 0", f.cache.Len())
	}
}

func TestHandle_UnknownKindDropped(t *testing.T) {
	f := newFixture(t)

	err := f.orch.Handle(context.Background(), domain.Task{ID: "x", Kind: "mystery"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if f.model.callCount() != 0 || len(f.deliverer.sends) != 0 {
		t.Error("unknown kinds must be dropped without side effects")
	}
}
