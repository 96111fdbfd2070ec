package domain

import "context"

// Model is the generative backend. Generate returns the model's reply for a
// fully-built prompt; failures propagate as errors and are never retried
// here — retry policy belongs to the orchestrator.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Deliverer sends a finished reply back to the originating platform.
// Send reports success; expected failure modes (network, API rejection) are
// logged internally and surface only as false.
type Deliverer interface {
	Send(ctx context.Context, platform Platform, recipientID, text string) bool
}
