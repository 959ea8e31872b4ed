// Package agent wraps conversational-model providers behind a normalized
// streaming interface. Providers translate their native incremental events
// into the wire vocabulary of internal/model and run the capture tool loop.
package agent

import (
	"context"

	"github.com/aind-capture/metadata-agent/internal/model"
)

// EmitFunc delivers one normalized event downstream. Returning an error
// aborts the stream; the provider must not emit again after that.
type EmitFunc func(model.StreamEvent) error

// TurnRequest describes one agent turn.
type TurnRequest struct {
	// Prompt is the fully assembled prompt: prior conversation, records
	// context, and the new user message.
	Prompt string

	// SessionID scopes capture tool calls to the chat session.
	SessionID string

	// Model overrides the provider default when non-empty.
	Model string

	// Attachments are uploaded files to present alongside the prompt.
	Attachments []Attachment
}

// Attachment is file content resolved for the provider.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// TurnResult summarizes a completed agent turn.
type TurnResult struct {
	Text       string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for agent providers.
type Client interface {
	// StreamTurn runs one agent turn, delivering normalized events in
	// arrival order through emit. Exactly one of (result, error) is the
	// terminal outcome; no events follow it.
	StreamTurn(ctx context.Context, req *TurnRequest, emit EmitFunc) (*TurnResult, error)

	// Name returns the provider name.
	Name() string

	// Models returns available model identifiers, default first.
	Models() []string
}
