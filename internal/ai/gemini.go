// Package ai wraps the generative model behind a response cache. The client
// never retries by itself; retry policy lives in the worker orchestrator.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta"

// ErrGeneration marks a failed model call. The orchestrator branches on it
// to drive retry and fallback.
var ErrGeneration = errors.New("ai generation failed")

// Gemini implements domain.Model against the Google generative language API.
type Gemini struct {
	apiKey          string
	apiBase         string
	model           string
	temperature     float64
	maxOutputTokens int
	client          *http.Client
	logger          *slog.Logger
}

type GeminiConfig struct {
	APIKey          string
	APIBase         string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	Timeout         time.Duration
	Logger          *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.APIBase == "" {
		cfg.APIBase = geminiAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Gemini{
		apiKey:          cfg.APIKey,
		apiBase:         cfg.APIBase,
		model:           cfg.Model,
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
		client:          &http.Client{Timeout: cfg.Timeout},
		logger:          cfg.Logger,
	}
}

type genRequest struct {
	Contents         []genContent `json:"contents"`
	GenerationConfig genConfig    `json:"generationConfig"`
}

type genContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []genPart `json:"parts"`
}

type genPart struct {
	Text string `json:"text"`
}

type genConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type genResponse struct {
	Candidates []struct {
		Content genContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate calls the model once with bounded parameters fixed by config.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := genRequest{
		Contents: []genContent{
			{Role: "user", Parts: []genPart{{Text: prompt}}},
		},
		GenerationConfig: genConfig{
			Temperature:     g.temperature,
			MaxOutputTokens: g.maxOutputTokens,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.apiBase, g.model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: gemini API %d: %s", ErrGeneration, resp.StatusCode, string(respBody))
	}

	var out genResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrGeneration, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%w: gemini error %d: %s", ErrGeneration, out.Error.Code, out.Error.Message)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}

	text := out.Candidates[0].Content.Parts[0].Text
	g.logger.Info("gemini response", "model", g.model,
		"latency", time.Since(start), "reply_len", len(text))
	return text, nil
}
