package prompt

import (
	"strings"
	"testing"
)

func TestBuild_ContainsAllSections(t *testing.T) {
	p := Build("tem chuteira society?", `{"loja":"Dinâmica Sports"}`)

	if !strings.Contains(p, "SofIA") {
		t.Error("prompt missing persona")
	}
	if !strings.Contains(p, `CONHECIMENTO DA LOJA (JSON): {"loja":"Dinâmica Sports"}`) {
		t.Error("prompt missing knowledge block")
	}
	if !strings.Contains(p, "Pergunta do Cliente: 'tem chuteira society?'") {
		t.Error("prompt missing user question")
	}
}

func TestSanitizeUserMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "oi", "oi"},
		{"trims whitespace", "  oi  ", "oi"},
		{"strips NUL", "o\x00i", "oi"},
		{"empty defaults to greeting", "", "Olá"},
		{"whitespace only defaults", "   \n\t ", "Olá"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeUserMessage(tt.in); got != tt.want {
				t.Errorf("SanitizeUserMessage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeUserMessage_CapsRunes(t *testing.T) {
	long := strings.Repeat("ã", 600)
	got := SanitizeUserMessage(long)
	if n := len([]rune(got)); n != maxUserMessageLen {
		t.Errorf("rune length = %d, want %d", n, maxUserMessageLen)
	}
	if strings.Contains(got, "�") {
		t.Error("truncation split a multibyte rune")
	}
}

func TestHash_StableAndDistinct(t *testing.T) {
	a := Hash("prompt a")
	b := Hash("prompt a")
	c := Hash("prompt b")

	if a != b {
		t.Error("identical prompts must hash identically")
	}
	if a == c {
		t.Error("distinct prompts must hash differently")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}
