// Package knowledge loads the static store-facts document that constrains
// what the assistant may state as fact. The document is read once per worker
// process and treated as read-only; an operator flush task forces a reload.
package knowledge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// maxStringLen caps every string value in the document so a poisoned data
// file cannot grow the prompt unbounded.
const maxStringLen = 1000

// degradedDocument is served when the knowledge file is missing or invalid.
// The assistant keeps answering, just without store facts.
const degradedDocument = `{"aviso": "Base de conhecimento indisponível no momento."}`

// Store holds the formatted knowledge document.
type Store struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	formatted string
	degraded  bool
}

func NewStore(path string, logger *slog.Logger) *Store {
	s := &Store{path: path, logger: logger}
	s.load()
	return s
}

// Formatted returns the sanitized knowledge document as an indented JSON
// string, ready for prompt embedding.
func (s *Store) Formatted() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.formatted
}

// Degraded reports whether the store is serving the sentinel document.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Reload re-reads the knowledge file. Triggered by the operator flush task.
func (s *Store) Reload() {
	s.load()
}

func (s *Store) load() {
	formatted, err := loadFile(s.path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		// Soft failure: serve degraded rather than crash the worker.
		s.logger.Error("CRITICAL: knowledge document unavailable, serving degraded answers",
			"path", s.path, "err", err)
		s.formatted = degradedDocument
		s.degraded = true
		return
	}

	s.formatted = formatted
	s.degraded = false
	s.logger.Info("knowledge document loaded", "path", s.path, "bytes", len(formatted))
}

func loadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read knowledge file: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse knowledge file: %w", err)
	}

	sanitized := sanitizeValue(doc)

	out, err := json.MarshalIndent(sanitized, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format knowledge document: %w", err)
	}
	return string(out), nil
}

// sanitizeValue walks the document, stripping NUL and carriage-return
// characters from every string and capping string length.
func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return sanitizeString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[sanitizeString(k)] = sanitizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func sanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r", "")
	if r := []rune(s); len(r) > maxStringLen {
		s = string(r[:maxStringLen])
	}
	return s
}
