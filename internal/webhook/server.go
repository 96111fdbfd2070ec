// Package webhook is the synchronous HTTP-facing receiver: it verifies
// webhook signatures, extracts messages, enqueues tasks and returns fast.
// It never blocks on AI generation or delivery — Meta disables webhooks that
// answer slowly.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tiagouzl/sofia-multiplataforma/internal/config"
	"github.com/tiagouzl/sofia-multiplataforma/internal/domain"
	"github.com/tiagouzl/sofia-multiplataforma/internal/metrics"
)

const (
	maxBodyBytes = 1 << 20 // 1MB

	// enqueueTimeout bounds the only downstream call in the POST path.
	enqueueTimeout = 2 * time.Second
)

const banner = "SofIA Multiplataforma da Dinâmica Sports está online!"

// Dedup makes enqueue idempotent across webhook redeliveries.
type Dedup interface {
	MarkProcessed(ctx context.Context, platform, messageID string) (bool, error)
}

// Server is the webhook receiver.
type Server struct {
	cfg       *config.Config
	publisher domain.Publisher
	dedup     Dedup // optional
	logger    *slog.Logger
	version   string

	verifiers map[domain.Platform]*SignatureVerifier
	server    *http.Server
}

type ServerConfig struct {
	Config    *config.Config
	Publisher domain.Publisher
	Dedup     Dedup
	Logger    *slog.Logger
	Version   string
}

func NewServer(cfg ServerConfig) *Server {
	production := cfg.Config.General.Production()
	wa := NewSignatureVerifier(secretOrEmpty(cfg.Config.Channels.WhatsApp.AppSecret), production, cfg.Logger)
	ms := NewSignatureVerifier(secretOrEmpty(cfg.Config.Channels.Messenger.AppSecret), production, cfg.Logger)

	return &Server{
		cfg:       cfg.Config,
		publisher: cfg.Publisher,
		dedup:     cfg.Dedup,
		logger:    cfg.Logger,
		version:   cfg.Version,
		verifiers: map[domain.Platform]*SignatureVerifier{
			domain.PlatformWhatsApp:  wa,
			domain.PlatformFacebook:  ms,
			domain.PlatformInstagram: ms,
		},
	}
}

// secretOrEmpty treats an unexpanded env placeholder as no secret.
func secretOrEmpty(s string) string {
	if config.Unset(s) {
		return ""
	}
	return s
}

// Handler builds the receiver's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.cfg.Metrics.Enabled {
		mux.HandleFunc("GET /metrics", metrics.Collector.Handler())
	}

	for _, platform := range domain.Platforms() {
		p := platform
		mux.HandleFunc("GET /webhook/"+string(p), func(rw http.ResponseWriter, r *http.Request) {
			s.handleVerification(rw, r, p)
		})
		mux.HandleFunc("POST /webhook/"+string(p), func(rw http.ResponseWriter, r *http.Request) {
			s.handleIncoming(rw, r, p)
		})
	}

	return mux
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook receiver starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook receiver shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook receiver: %w", err)
	}
}

func (s *Server) handleHome(rw http.ResponseWriter, _ *http.Request) {
	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, banner)
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	broker := "OK"
	if err := s.publisher.Ping(ctx); err != nil {
		broker = "unavailable: " + err.Error()
	}

	var workers any = "unknown"
	if n, err := s.publisher.ConsumerCount(ctx); err == nil {
		workers = n
	} else {
		s.logger.Warn("worker count unavailable", "err", err)
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{
		"status":      "online",
		"service":     "sofia-receiver",
		"version":     s.version,
		"environment": s.cfg.General.Environment,
		"broker":      broker,
		"workers":     workers,
	})
}

// verifyToken returns the handshake token for a platform. Facebook and
// Instagram share the Messenger token.
func (s *Server) verifyToken(platform domain.Platform) string {
	if platform == domain.PlatformWhatsApp {
		return s.cfg.Channels.WhatsApp.VerifyToken
	}
	return s.cfg.Channels.Messenger.VerifyToken
}

// handleVerification answers the platform's webhook subscription handshake.
func (s *Server) handleVerification(rw http.ResponseWriter, r *http.Request, platform domain.Platform) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token != "" && token == s.verifyToken(platform) {
		s.logger.Info("webhook verified", "platform", platform)
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	s.logger.Warn("webhook verification failed", "platform", platform, "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleIncoming processes a webhook POST. Apart from signature rejection it
// always answers 200: repeated non-2xx answers make Meta disable the webhook,
// so internal failures are logged, not surfaced.
func (s *Server) handleIncoming(rw http.ResponseWriter, r *http.Request, platform domain.Platform) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Warn("unreadable webhook body", "platform", platform, "err", err)
		s.respondOK(rw)
		return
	}
	defer r.Body.Close()

	if !s.verifiers[platform].Verify(body, r.Header.Get("X-Hub-Signature-256")) {
		metrics.SignatureRejects.Inc()
		s.logger.Warn("invalid webhook signature", "platform", platform)
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusForbidden)
		json.NewEncoder(rw).Encode(map[string]string{"error": "invalid signature"})
		return
	}

	msg, ok := Extract(body, platform, s.logger)
	if !ok {
		// Status events, receipts, unsupported types: nothing to do.
		metrics.MessagesDropped.Inc()
		s.respondOK(rw)
		return
	}
	metrics.MessagesReceived.Inc()

	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()

	if s.dedup != nil {
		first, err := s.dedup.MarkProcessed(ctx, string(platform), msg.MessageID)
		if err != nil {
			// Dedup store trouble must not stall the webhook; risk a
			// duplicate task instead of losing the message.
			s.logger.Error("dedup check failed", "platform", platform, "err", err)
		} else if !first {
			metrics.DuplicatesSkipped.Inc()
			s.logger.Info("duplicate webhook delivery skipped",
				"platform", platform, "message_id", msg.MessageID)
			s.respondOK(rw)
			return
		}
	}

	task := domain.Task{
		ID:         uuid.NewString(),
		Kind:       domain.TaskKindMessage,
		Platform:   platform,
		SenderID:   msg.SenderID,
		Text:       msg.Text,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := s.publisher.Publish(ctx, task); err != nil {
		// Still 200: the upstream must not retry-storm us over broker
		// hiccups. The message is lost and that is logged loudly.
		s.logger.Error("CRITICAL: enqueue failed, message dropped",
			"platform", platform, "sender", msg.SenderID, "err", err)
		s.respondOK(rw)
		return
	}

	metrics.TasksEnqueued.Inc()
	s.logger.Info("task enqueued",
		"platform", platform, "sender", msg.SenderID, "task", task.ID, "text_len", len(msg.Text))
	s.respondOK(rw)
}

func (s *Server) respondOK(rw http.ResponseWriter) {
	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, "OK")
}
