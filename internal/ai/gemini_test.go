package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestGemini(apiBase string) *Gemini {
	return NewGemini(GeminiConfig{
		APIKey:          "test-key",
		APIBase:         apiBase,
		Model:           "gemini-2.5-flash",
		Temperature:     0.7,
		MaxOutputTokens: 256,
		Logger:          cacheLogger(),
	})
}

func TestGenerate_Success(t *testing.T) {
	var gotPath, gotKey string
	var gotReq map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		json.NewDecoder(r.Body).Decode(&gotReq)
		rw.Header().Set("Content-Type", "application/json")
		rw.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Olá! Como posso ajudar?"}]}}]}`))
	}))
	defer srv.Close()

	text, err := newTestGemini(srv.URL).Generate(context.Background(), "oi")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Olá! Como posso ajudar?" {
		t.Errorf("text = %q", text)
	}
	if gotPath != "/models/gemini-2.5-flash:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	genCfg, _ := gotReq["generationConfig"].(map[string]any)
	if genCfg["maxOutputTokens"] != float64(256) {
		t.Errorf("generationConfig = %v", genCfg)
	}
}

func TestGenerate_HTTPErrorWrapsErrGeneration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusTooManyRequests)
		rw.Write([]byte(`{"error":{"code":429,"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	_, err := newTestGemini(srv.URL).Generate(context.Background(), "oi")
	if !errors.Is(err, ErrGeneration) {
		t.Errorf("err = %v, want ErrGeneration", err)
	}
}

func TestGenerate_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := newTestGemini(srv.URL).Generate(context.Background(), "oi")
	if !errors.Is(err, ErrGeneration) {
		t.Errorf("err = %v, want ErrGeneration", err)
	}
}

func TestGenerate_BodyErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.Write([]byte(`{"error":{"code":400,"message":"invalid argument"}}`))
	}))
	defer srv.Close()

	_, err := newTestGemini(srv.URL).Generate(context.Background(), "oi")
	if !errors.Is(err, ErrGeneration) {
		t.Errorf("err = %v, want ErrGeneration", err)
	}
}
