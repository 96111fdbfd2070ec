package webhook

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tiagouzl/sofia-multiplataforma/internal/domain"
)

// Extract pulls a (sender, text) pair out of a webhook payload. The second
// return is false when the event carries no usable message — status updates,
// read receipts, unsupported attachment types. Absence of an expected field
// is an ordinary no-message outcome, never an error.
func Extract(payload []byte, platform domain.Platform, logger *slog.Logger) (domain.ExtractedMessage, bool) {
	switch platform {
	case domain.PlatformWhatsApp:
		return extractWhatsApp(payload, logger)
	case domain.PlatformFacebook, domain.PlatformInstagram:
		return extractMessenger(payload, platform, logger)
	}
	logger.Warn("extraction skipped: unsupported platform", "platform", platform)
	return domain.ExtractedMessage{}, false
}

// --- WhatsApp Cloud API payload shapes ---

type waPayload struct {
	Entry []waEntry `json:"entry"`
}

type waEntry struct {
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
}

type waValue struct {
	Messages []waMessage      `json:"messages"`
	Statuses []map[string]any `json:"statuses"`
}

type waMessage struct {
	From  string   `json:"from"`
	ID    string   `json:"id"`
	Type  string   `json:"type"`
	Text  *waText  `json:"text,omitempty"`
	Image *waMedia `json:"image,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	Caption string `json:"caption,omitempty"`
}

func extractWhatsApp(payload []byte, logger *slog.Logger) (domain.ExtractedMessage, bool) {
	var p waPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		logger.Warn("whatsapp payload not decodable", "err", err)
		return domain.ExtractedMessage{}, false
	}

	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return domain.ExtractedMessage{}, false
	}
	value := p.Entry[0].Changes[0].Value

	// Delivery/read receipts come in as statuses; nothing to answer.
	if len(value.Statuses) > 0 {
		return domain.ExtractedMessage{}, false
	}
	if len(value.Messages) == 0 {
		return domain.ExtractedMessage{}, false
	}

	msg := value.Messages[0]
	text := ""
	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return domain.ExtractedMessage{}, false
		}
		text = msg.Text.Body
	case "image":
		caption := ""
		if msg.Image != nil {
			caption = msg.Image.Caption
		}
		text = strings.TrimSpace("[IMAGE] " + caption)
	case "audio":
		text = "[AUDIO]"
	default:
		// Stickers, locations, reactions and friends are ignored.
		return domain.ExtractedMessage{}, false
	}

	if msg.From == "" || text == "" {
		return domain.ExtractedMessage{}, false
	}
	return domain.ExtractedMessage{
		Platform:  domain.PlatformWhatsApp,
		SenderID:  msg.From,
		Text:      text,
		MessageID: msg.ID,
	}, true
}

// --- Messenger payload shapes (Facebook and Instagram share them) ---

type msgrPayload struct {
	Entry []msgrEntry `json:"entry"`
}

type msgrEntry struct {
	Messaging []msgrEvent `json:"messaging"`
}

type msgrEvent struct {
	Sender   msgrSender    `json:"sender"`
	Message  *msgrMessage  `json:"message,omitempty"`
	Postback *msgrPostback `json:"postback,omitempty"`
}

type msgrSender struct {
	ID string `json:"id"`
}

type msgrMessage struct {
	MID        string          `json:"mid"`
	Text       string          `json:"text"`
	QuickReply *msgrQuickReply `json:"quick_reply,omitempty"`
}

type msgrQuickReply struct {
	Payload string `json:"payload"`
}

type msgrPostback struct {
	Payload string `json:"payload"`
}

func extractMessenger(payload []byte, platform domain.Platform, logger *slog.Logger) (domain.ExtractedMessage, bool) {
	var p msgrPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		logger.Warn("messenger payload not decodable", "platform", platform, "err", err)
		return domain.ExtractedMessage{}, false
	}

	if len(p.Entry) == 0 {
		return domain.ExtractedMessage{}, false
	}

	// First event with usable content wins: message text, quick-reply
	// payload, or postback payload.
	for _, event := range p.Entry[0].Messaging {
		if event.Sender.ID == "" {
			continue
		}

		text := ""
		messageID := ""
		switch {
		case event.Message != nil && event.Message.Text != "":
			text = event.Message.Text
			messageID = event.Message.MID
		case event.Message != nil && event.Message.QuickReply != nil && event.Message.QuickReply.Payload != "":
			text = event.Message.QuickReply.Payload
			messageID = event.Message.MID
		case event.Postback != nil && event.Postback.Payload != "":
			text = event.Postback.Payload
		default:
			continue
		}

		return domain.ExtractedMessage{
			Platform:  platform,
			SenderID:  event.Sender.ID,
			Text:      text,
			MessageID: messageID,
		}, true
	}

	return domain.ExtractedMessage{}, false
}
