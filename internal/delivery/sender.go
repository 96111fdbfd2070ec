// Package delivery sends finished replies to the platform messaging APIs.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tiagouzl/sofia-multiplataforma/internal/config"
	"github.com/tiagouzl/sofia-multiplataforma/internal/domain"
)

const (
	graphAPIBase = "https://graph.facebook.com/v20.0"

	// maxTextLen caps outbound messages; longer replies are truncated with
	// an ellipsis before the network call.
	maxTextLen = 4000

	// Transport failures (connection errors, timeouts) are retried a
	// bounded number of times with a short fixed backoff. HTTP error
	// statuses are not retried: an invalid recipient stays invalid.
	maxTransportRetries = 3
	retryBackoff        = 2 * time.Second
)

// Sender implements domain.Deliverer against the Meta Graph API.
type Sender struct {
	apiBase   string
	whatsapp  config.WhatsAppConfig
	messenger config.MessengerConfig
	client    *http.Client
	logger    *slog.Logger
}

type SenderConfig struct {
	APIBase   string // override for tests
	WhatsApp  config.WhatsAppConfig
	Messenger config.MessengerConfig
	Timeout   time.Duration
	Logger    *slog.Logger
}

func NewSender(cfg SenderConfig) *Sender {
	if cfg.APIBase == "" {
		cfg.APIBase = graphAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Sender{
		apiBase:   cfg.APIBase,
		whatsapp:  cfg.WhatsApp,
		messenger: cfg.Messenger,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    cfg.Logger,
	}
}

// Send delivers text to recipientID on the given platform. It returns false
// for every expected failure mode instead of an error.
func (s *Sender) Send(ctx context.Context, platform domain.Platform, recipientID, text string) bool {
	if !platform.Valid() || recipientID == "" || text == "" {
		s.logger.Warn("delivery rejected: empty platform, recipient or text",
			"platform", platform, "recipient", recipientID)
		return false
	}

	text = Truncate(text)

	url, token, payload := s.endpoint(platform, recipientID, text)
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("delivery marshal failed", "err", err)
		return false
	}

	for attempt := 1; attempt <= maxTransportRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if err != nil {
			s.logger.Error("delivery build request failed", "err", err)
			return false
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := s.client.Do(req)
		if err != nil {
			s.logger.Warn("delivery transport failure",
				"platform", platform, "attempt", attempt, "err", err)
			if attempt < maxTransportRetries {
				select {
				case <-ctx.Done():
					return false
				case <-time.After(retryBackoff):
				}
				continue
			}
			return false
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			s.logger.Error("delivery rejected by API",
				"platform", platform, "status", resp.StatusCode, "body", string(respBody))
			return false
		}

		s.logger.Info("reply delivered",
			"platform", platform, "recipient", recipientID, "text_len", len(text))
		return true
	}

	return false
}

// endpoint returns the platform-specific URL, bearer token and payload shape.
// WhatsApp uses the Cloud API messages endpoint; Facebook and Instagram share
// the Messenger Send API and page credentials.
func (s *Sender) endpoint(platform domain.Platform, recipientID, text string) (string, string, map[string]any) {
	if platform == domain.PlatformWhatsApp {
		url := fmt.Sprintf("%s/%s/messages", s.apiBase, s.whatsapp.PhoneNumberID)
		payload := map[string]any{
			"messaging_product": "whatsapp",
			"to":                recipientID,
			"type":              "text",
			"text":              map[string]string{"body": text},
		}
		return url, s.whatsapp.AccessToken, payload
	}

	url := fmt.Sprintf("%s/%s/messages", s.apiBase, s.messenger.PageID)
	payload := map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	}
	return url, s.messenger.AccessToken, payload
}

// Truncate caps text at the outbound limit, ending in an ellipsis marker.
func Truncate(text string) string {
	r := []rune(text)
	if len(r) <= maxTextLen {
		return text
	}
	return string(r[:maxTextLen-1]) + "…"
}
