package delivery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tiagouzl/sofia-multiplataforma/internal/config"
	"github.com/tiagouzl/sofia-multiplataforma/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSender(apiBase string) *Sender {
	return NewSender(SenderConfig{
		APIBase: apiBase,
		WhatsApp: config.WhatsAppConfig{
			AccessToken:   "wa-token",
			PhoneNumberID: "1234567890",
		},
		Messenger: config.MessengerConfig{
			AccessToken: "page-token",
			PageID:      "9876543210",
		},
		Logger: testLogger(),
	})
}

func TestSend_WhatsAppPayload(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ok := newTestSender(srv.URL).Send(context.Background(), domain.PlatformWhatsApp, "5584999990000", "Olá!")
	if !ok {
		t.Fatal("Send returned false")
	}
	if gotPath != "/1234567890/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer wa-token" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["messaging_product"] != "whatsapp" || gotBody["to"] != "5584999990000" {
		t.Errorf("payload = %v", gotBody)
	}
	text, _ := gotBody["text"].(map[string]any)
	if text["body"] != "Olá!" {
		t.Errorf("text = %v", text)
	}
}

func TestSend_MessengerPayload(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ok := newTestSender(srv.URL).Send(context.Background(), domain.PlatformFacebook, "fb-user-1", "oi")
	if !ok {
		t.Fatal("Send returned false")
	}
	if gotPath != "/9876543210/messages" {
		t.Errorf("path = %q", gotPath)
	}
	recipient, _ := gotBody["recipient"].(map[string]any)
	if recipient["id"] != "fb-user-1" {
		t.Errorf("payload = %v", gotBody)
	}
}

func TestSend_APIErrorNotRetried(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		rw.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ok := newTestSender(srv.URL).Send(context.Background(), domain.PlatformWhatsApp, "5584", "oi")
	if ok {
		t.Error("Send returned true on 401")
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("requests = %d, want 1 (HTTP errors must not be retried)", n)
	}
}

func TestSend_RejectsEmptyArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		t.Error("no request should reach the API")
	}))
	defer srv.Close()
	sender := newTestSender(srv.URL)

	if sender.Send(context.Background(), domain.PlatformWhatsApp, "", "oi") {
		t.Error("accepted empty recipient")
	}
	if sender.Send(context.Background(), domain.PlatformWhatsApp, "5584", "") {
		t.Error("accepted empty text")
	}
	if sender.Send(context.Background(), domain.Platform("telegram"), "5584", "oi") {
		t.Error("accepted unknown platform")
	}
}

func TestSend_TruncatesLongText(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	long := strings.Repeat("à", 5000)
	if !newTestSender(srv.URL).Send(context.Background(), domain.PlatformWhatsApp, "5584", long) {
		t.Fatal("Send returned false")
	}

	text, _ := gotBody["text"].(map[string]any)
	body, _ := text["body"].(string)
	if n := len([]rune(body)); n != maxTextLen {
		t.Errorf("sent rune length = %d, want %d", n, maxTextLen)
	}
	if !strings.HasSuffix(body, "…") {
		t.Error("truncated text must end with ellipsis")
	}
}

func TestTruncate(t *testing.T) {
	short := "oi"
	if got := Truncate(short); got != short {
		t.Errorf("Truncate(%q) = %q", short, got)
	}

	exact := strings.Repeat("a", maxTextLen)
	if got := Truncate(exact); got != exact {
		t.Error("text at the limit must pass unchanged")
	}

	over := strings.Repeat("ç", maxTextLen+1)
	got := Truncate(over)
	if n := len([]rune(got)); n != maxTextLen {
		t.Errorf("rune length = %d, want %d", n, maxTextLen)
	}
	if strings.Contains(got, "�") {
		t.Error("truncation split a multibyte rune")
	}
}
