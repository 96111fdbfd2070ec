package domain

import "time"

// Task kinds carried on the queue.
const (
	TaskKindMessage = "message"
	TaskKindFlush   = "flush"
)

// Task is the unit of work handed from the receiver to the worker. It crosses
// a process boundary, so it is fully self-contained serialized data: no field
// references receiver-side state.
type Task struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Platform Platform `json:"platform,omitempty"`
	SenderID string   `json:"sender_id,omitempty"`
	Text     string   `json:"text,omitempty"`

	// Reply carries an already-generated answer on a delivery-only retry,
	// so a requeued task never repeats the model call.
	Reply string `json:"reply,omitempty"`

	// Attempt counts failed rounds so far. Only the orchestrator's own
	// retry path increments it.
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ExtractedMessage is the (sender, text) pair pulled out of a webhook payload.
// MessageID is the platform's own message identifier, used for dedup.
type ExtractedMessage struct {
	Platform  Platform
	SenderID  string
	Text      string
	MessageID string
}
