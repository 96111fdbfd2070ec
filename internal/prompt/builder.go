// Package prompt composes the model prompt from the SofIA persona, the store
// knowledge document, and the sanitized user message.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// maxUserMessageLen caps the user message embedded in the prompt.
const maxUserMessageLen = 500

// neutralGreeting replaces a user message that is empty after sanitization.
const neutralGreeting = "Olá"

// persona is the fixed system instruction block. It is a design constant and
// never contains user-controlled text.
const persona = "Você é a SofIA, assistente virtual da loja Dinâmica Sports (Mossoró/RN). " +
	"Sua persona é entusiasta, prestativa e focada em direcionar a venda para o site. " +
	"Use EXCLUSIVAMENTE o CONHECIMENTO abaixo para responder sobre produtos, preços e horários. " +
	"Sempre que possível, inclua o link de compra e reforce que o cliente pode comprar no site."

// Build assembles the full prompt for one user message.
func Build(userMessage, knowledge string) string {
	return fmt.Sprintf("%s\nCONHECIMENTO DA LOJA (JSON): %s\n\nPergunta do Cliente: '%s'",
		persona, knowledge, SanitizeUserMessage(userMessage))
}

// SanitizeUserMessage strips NUL bytes, trims whitespace and caps length.
// An empty result defaults to a neutral greeting.
func SanitizeUserMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\x00", "")
	msg = strings.TrimSpace(msg)
	if r := []rune(msg); len(r) > maxUserMessageLen {
		msg = string(r[:maxUserMessageLen])
	}
	if msg == "" {
		return neutralGreeting
	}
	return msg
}

// Hash returns the stable content digest of a prompt, used as the response
// cache key. Pure function of the prompt bytes.
func Hash(p string) string {
	sum := sha256.Sum256([]byte(p))
	return hex.EncodeToString(sum[:])
}
