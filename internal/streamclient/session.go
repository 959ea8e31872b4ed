package streamclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aind-capture/metadata-agent/internal/model"
)

// ErrStreamActive reports a Send while a previous stream is still running.
// A session permits one in-flight stream at a time.
var ErrStreamActive = errors.New("a stream is already active for this session")

// Handlers receive stream lifecycle notifications. Any handler may be nil.
// Exactly one of OnDone or OnError fires per Send; cancellation resolves
// through OnDone with partial content intact.
type Handlers struct {
	OnEvent func(model.StreamEvent)
	OnDone  func()
	OnError func(error)
}

// Session owns one chat conversation on the client side: the message
// sequence, the in-flight stream and its cancellation, and the snapshot
// written at every stream termination.
type Session struct {
	client   *Client
	snaps    *SnapshotStore
	handlers Handlers

	mu        sync.Mutex
	id        string
	messages  []model.Message
	streaming bool
	cancel    context.CancelFunc
}

// NewSession creates a session. Pass an empty sessionID to start a new
// conversation; the server assigns an id and announces it on the first
// stream.
func NewSession(client *Client, snaps *SnapshotStore, sessionID string, handlers Handlers) *Session {
	return &Session{
		client:   client,
		snaps:    snaps,
		handlers: handlers,
		id:       sessionID,
	}
}

// ID returns the durable session id, or "" before the server assigns one.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Messages returns a copy of the current message sequence.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.messages...)
}

// Load fetches server history for the session and merges it with the local
// snapshot. A history fetch failure falls back to an empty server sequence;
// the snapshot alone then carries whatever the client last saw.
func (s *Session) Load(ctx context.Context) {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()
	if id == "" {
		return
	}

	backend, err := s.client.History(ctx, id)
	if err != nil {
		backend = nil
	}
	merged := s.snaps.Merge(id, backend)

	s.mu.Lock()
	s.messages = merged
	s.mu.Unlock()
}

// Send submits one user message and blocks until the stream reaches its
// terminal outcome. It appends the user turn and an assistant placeholder,
// folds events into the placeholder as they arrive, and on termination
// writes a snapshot. The returned error is nil for both clean completion
// and graceful cancellation.
func (s *Session) Send(ctx context.Context, text string, attachments []model.Attachment) error {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return ErrStreamActive
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s.streaming = true
	s.cancel = cancel

	asm := NewAssembler()
	s.messages = append(s.messages,
		model.Message{Role: model.RoleUser, Content: text, Attachments: attachments, CreatedAt: time.Now().UTC()},
		asm.Message(),
	)
	req := model.ChatRequest{
		Message:     text,
		SessionID:   s.id,
		Attachments: attachments,
	}
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.streaming = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	streamErr := s.client.Stream(streamCtx, req, func(ev model.StreamEvent) error {
		s.mu.Lock()
		if ev.SessionID != "" && s.id == "" {
			s.id = ev.SessionID
		}
		asm.Apply(ev)
		s.messages[len(s.messages)-1] = asm.Message()
		s.mu.Unlock()

		if s.handlers.OnEvent != nil {
			s.handlers.OnEvent(ev)
		}
		return nil
	})

	if streamErr != nil && !errors.Is(streamErr, context.Canceled) {
		// Genuine failure. A placeholder that never received content is
		// removed; partial content stays visible.
		s.mu.Lock()
		if last := len(s.messages) - 1; last >= 0 && s.messages[last].Role == model.RoleAssistant && s.messages[last].Content == "" {
			s.messages = s.messages[:last]
		}
		s.mu.Unlock()

		if s.handlers.OnError != nil {
			s.handlers.OnError(streamErr)
		}
		return streamErr
	}

	// Clean terminal or graceful cancellation: whatever was assembled at
	// this moment is final.
	s.mu.Lock()
	id := s.id
	snapshot := append([]model.Message(nil), s.messages...)
	s.mu.Unlock()
	s.snaps.Save(id, snapshot)

	if s.handlers.OnDone != nil {
		s.handlers.OnDone()
	}
	return nil
}

// Cancel aborts the in-flight stream, if any. Cancellation is idempotent
// and resolves the pending Send through the graceful path.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
