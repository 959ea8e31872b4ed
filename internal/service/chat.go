// Package service provides business logic for the metadata capture platform.
package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/aind-capture/metadata-agent/internal/agent"
	"github.com/aind-capture/metadata-agent/internal/model"
	"github.com/aind-capture/metadata-agent/internal/store"
	"github.com/aind-capture/metadata-agent/pkg/logger"
	"github.com/aind-capture/metadata-agent/pkg/metrics"
)

// agentErrorReply is streamed in place of a response when the agent fails
// mid-turn, so the client still sees a well-formed stream.
const agentErrorReply = "I encountered an error processing your request. Please try again."

// ChatService orchestrates chat turns: persistence, prompt assembly, and
// the agent stream.
type ChatService struct {
	store  *store.Store
	agent  agent.Client
	logger *logger.Logger
}

// NewChatService creates a new chat service. The agent client may be nil
// when no provider is configured; Stream then fails fast.
func NewChatService(st *store.Store, client agent.Client, log *logger.Logger) *ChatService {
	return &ChatService{store: st, agent: client, logger: log}
}

// ResolveSession returns the request's session id, or a fresh one for a new
// session.
func (s *ChatService) ResolveSession(req *model.ChatRequest) string {
	if req.SessionID != "" {
		return req.SessionID
	}
	return uuid.New().String()
}

// Stream processes one chat send. Every normalized event is delivered
// through emit in order; the caller frames them for the wire and appends the
// terminal marker. The session id is announced first, exactly once.
func (s *ChatService) Stream(ctx context.Context, sessionID string, req *model.ChatRequest, emit agent.EmitFunc) error {
	if s.agent == nil {
		return fmt.Errorf("no agent provider configured")
	}

	if err := s.store.SaveTurn(ctx, sessionID, model.RoleUser, req.Message, req.Attachments); err != nil {
		return fmt.Errorf("failed to save user turn: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	if err := emit(model.SessionIDEvent(sessionID)); err != nil {
		return err
	}

	history, err := s.store.History(ctx, sessionID)
	if err != nil {
		s.logger.Warnw("failed to load history", "session_id", sessionID, "error", err)
		history = nil
	}
	// The just-saved user turn is the prompt itself, not prior context.
	if n := len(history); n > 0 {
		history = history[:n-1]
	}

	records, err := s.store.ListRecords(ctx, model.RecordFilter{SessionID: sessionID})
	if err != nil {
		s.logger.Warnw("failed to load session records", "session_id", sessionID, "error", err)
		records = nil
	}

	turnReq := &agent.TurnRequest{
		Prompt:      agent.BuildPrompt(history, records, sessionID, req.Message),
		SessionID:   sessionID,
		Model:       req.Model,
		Attachments: s.resolveAttachments(ctx, req.Attachments),
	}

	start := time.Now()
	result, agentErr := s.agent.StreamTurn(ctx, turnReq, emit)

	assistantText := ""
	status := "success"
	if agentErr != nil {
		// Client-side aborts cancel the request context; everything
		// streamed so far is already persisted below.
		if ctx.Err() == nil {
			s.logger.Errorw("agent turn failed", "session_id", sessionID, "error", agentErr)
			status = "error"
			assistantText = agentErrorReply
			_ = emit(model.ContentEvent(agentErrorReply))
		}
	} else {
		assistantText = result.Text
		metrics.RecordAgentStream(result.Model, status, time.Since(start).Seconds(), result.TokensIn, result.TokensOut)
	}

	if assistantText != "" {
		if err := s.store.SaveTurn(context.WithoutCancel(ctx), sessionID, model.RoleAssistant, assistantText, nil); err != nil {
			s.logger.Errorw("failed to save assistant turn", "session_id", sessionID, "error", err)
		} else {
			metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()
		}
	}

	return nil
}

// History returns the persisted conversation for a session.
func (s *ChatService) History(ctx context.Context, sessionID string) ([]model.Message, error) {
	return s.store.History(ctx, sessionID)
}

// Sessions lists all chat sessions.
func (s *ChatService) Sessions(ctx context.Context) ([]model.SessionSummary, error) {
	return s.store.Sessions(ctx)
}

// DeleteSession removes a session's turns and records.
func (s *ChatService) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	return s.store.DeleteSession(ctx, sessionID)
}

// Models lists the active provider's model identifiers, default first.
func (s *ChatService) Models() []string {
	if s.agent == nil {
		return nil
	}
	return s.agent.Models()
}

// resolveAttachments loads uploaded file content for the provider. Missing
// uploads are skipped; a chat turn should not fail because one attachment
// disappeared.
func (s *ChatService) resolveAttachments(ctx context.Context, refs []model.Attachment) []agent.Attachment {
	var out []agent.Attachment
	for _, ref := range refs {
		up, err := s.store.GetUpload(ctx, ref.FileID)
		if err != nil {
			s.logger.Warnw("attachment not found", "file_id", ref.FileID, "error", err)
			continue
		}
		data, err := os.ReadFile(up.FilePath)
		if err != nil {
			s.logger.Warnw("attachment unreadable", "file_id", ref.FileID, "error", err)
			continue
		}
		out = append(out, agent.Attachment{
			Filename:    up.Filename,
			ContentType: up.ContentType,
			Data:        data,
		})
	}
	return out
}
