package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aind-capture/metadata-agent/internal/agent"
	"github.com/aind-capture/metadata-agent/internal/model"
	"github.com/aind-capture/metadata-agent/internal/service"
	"github.com/aind-capture/metadata-agent/internal/store"
	"github.com/aind-capture/metadata-agent/pkg/logger"
)

type scriptedAgent struct {
	events []model.StreamEvent
	text   string
}

func (a *scriptedAgent) StreamTurn(ctx context.Context, req *agent.TurnRequest, emit agent.EmitFunc) (*agent.TurnResult, error) {
	for _, ev := range a.events {
		if err := emit(ev); err != nil {
			return nil, err
		}
	}
	return &agent.TurnResult{Text: a.text, Model: "scripted"}, nil
}

func (a *scriptedAgent) Name() string { return "scripted" }

func (a *scriptedAgent) Models() []string { return []string{"scripted"} }

func newChatHandler(t *testing.T, events []model.StreamEvent, text string) *ChatHandler {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := service.NewChatService(st, &scriptedAgent{events: events, text: text}, logger.NewNop())
	return NewChatHandler(svc, logger.NewNop())
}

func TestChatStreamsSSEWithTerminal(t *testing.T) {
	h := newChatHandler(t, []model.StreamEvent{
		model.ThinkingStartEvent(),
		model.ThinkingEvent("considering"),
		model.BlockStopEvent(),
		model.ContentEvent("Hello!"),
	}, "Hello!")

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	resp := rec.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	body := rec.Body.String()
	lines := strings.Split(strings.TrimSpace(body), "\n\n")
	require.GreaterOrEqual(t, len(lines), 5)

	for _, line := range lines {
		require.True(t, strings.HasPrefix(line, "data: "), "line %q lacks data prefix", line)
	}

	// First event announces the session id.
	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[0], "data: ")), &first))
	require.NotEmpty(t, first["session_id"])

	require.Equal(t, "data: [DONE]", lines[len(lines)-1])

	require.Contains(t, body, `data: {"thinking_start":true}`)
	require.Contains(t, body, `data: {"content":"Hello!"}`)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	h := newChatHandler(t, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"   "}`))
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "error")
}

func TestChatRejectsMalformedBody(t *testing.T) {
	h := newChatHandler(t, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRejectsInvalidSessionID(t *testing.T) {
	h := newChatHandler(t, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi","session_id":"../../etc"}`))
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatReusesProvidedSessionID(t *testing.T) {
	h := newChatHandler(t, []model.StreamEvent{model.ContentEvent("ok")}, "ok")

	sessionID := "123e4567-e89b-42d3-a456-426614174000"
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"hi","session_id":"`+sessionID+`"}`))
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	require.Contains(t, rec.Body.String(), `"session_id":"`+sessionID+`"`)
}

func TestModelsEndpoint(t *testing.T) {
	h := newChatHandler(t, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	rec := httptest.NewRecorder()
	h.Models(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Models  []string `json:"models"`
		Default string   `json:"default"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, []string{"scripted"}, out.Models)
	require.Equal(t, "scripted", out.Default)
}
