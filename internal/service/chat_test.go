package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aind-capture/metadata-agent/internal/agent"
	"github.com/aind-capture/metadata-agent/internal/model"
	"github.com/aind-capture/metadata-agent/internal/store"
	"github.com/aind-capture/metadata-agent/pkg/logger"
)

type fakeAgent struct {
	events  []model.StreamEvent
	text    string
	err     error
	lastReq *agent.TurnRequest
}

func (f *fakeAgent) StreamTurn(ctx context.Context, req *agent.TurnRequest, emit agent.EmitFunc) (*agent.TurnResult, error) {
	f.lastReq = req
	for _, ev := range f.events {
		if err := emit(ev); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &agent.TurnResult{Text: f.text, Model: "fake-model"}, nil
}

func (f *fakeAgent) Name() string { return "fake" }

func (f *fakeAgent) Models() []string { return []string{"fake-model"} }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func collectEvents(t *testing.T) (agent.EmitFunc, *[]model.StreamEvent) {
	t.Helper()
	events := &[]model.StreamEvent{}
	return func(ev model.StreamEvent) error {
		*events = append(*events, ev)
		return nil
	}, events
}

func TestStreamAnnouncesSessionIDFirst(t *testing.T) {
	st := openTestStore(t)
	fake := &fakeAgent{
		events: []model.StreamEvent{model.ContentEvent("hello")},
		text:   "hello",
	}
	svc := NewChatService(st, fake, logger.NewNop())

	emit, events := collectEvents(t)
	err := svc.Stream(context.Background(), "s1", &model.ChatRequest{Message: "hi"}, emit)
	require.NoError(t, err)

	require.NotEmpty(t, *events)
	first := (*events)[0]
	require.Equal(t, model.EventSessionID, first.Kind)
	require.Equal(t, "s1", first.SessionID)
	require.Equal(t, model.EventContent, (*events)[1].Kind)
}

func TestStreamPersistsBothTurns(t *testing.T) {
	st := openTestStore(t)
	fake := &fakeAgent{
		events: []model.StreamEvent{model.ContentEvent("sure thing")},
		text:   "sure thing",
	}
	svc := NewChatService(st, fake, logger.NewNop())

	emit, _ := collectEvents(t)
	err := svc.Stream(context.Background(), "s1", &model.ChatRequest{Message: "capture a subject"}, emit)
	require.NoError(t, err)

	history, err := st.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, model.RoleUser, history[0].Role)
	require.Equal(t, "capture a subject", history[0].Content)
	require.Equal(t, model.RoleAssistant, history[1].Role)
	require.Equal(t, "sure thing", history[1].Content)
}

func TestStreamPromptCarriesHistoryAndRecords(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveTurn(ctx, "s1", model.RoleUser, "earlier question", nil))
	require.NoError(t, st.SaveTurn(ctx, "s1", model.RoleAssistant, "earlier answer", nil))
	_, err := st.CreateRecord(ctx, "s1", "subject", map[string]any{"subject_id": "764054"}, "")
	require.NoError(t, err)

	fake := &fakeAgent{text: "ok"}
	svc := NewChatService(st, fake, logger.NewNop())

	emit, _ := collectEvents(t)
	require.NoError(t, svc.Stream(ctx, "s1", &model.ChatRequest{Message: "next question"}, emit))

	require.NotNil(t, fake.lastReq)
	require.Contains(t, fake.lastReq.Prompt, "earlier question")
	require.Contains(t, fake.lastReq.Prompt, "earlier answer")
	require.Contains(t, fake.lastReq.Prompt, "764054")
	require.Contains(t, fake.lastReq.Prompt, "next question")
	require.Equal(t, "s1", fake.lastReq.SessionID)
}

func TestStreamAgentFailureEmitsFallbackReply(t *testing.T) {
	st := openTestStore(t)
	fake := &fakeAgent{
		events: []model.StreamEvent{model.ContentEvent("partial")},
		err:    errors.New("upstream exploded"),
	}
	svc := NewChatService(st, fake, logger.NewNop())

	emit, events := collectEvents(t)
	err := svc.Stream(context.Background(), "s1", &model.ChatRequest{Message: "hi"}, emit)
	require.NoError(t, err)

	last := (*events)[len(*events)-1]
	require.Equal(t, model.EventContent, last.Kind)
	require.Equal(t, agentErrorReply, last.Text)

	history, err := st.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, agentErrorReply, history[1].Content)
}

func TestStreamWithoutAgentFails(t *testing.T) {
	st := openTestStore(t)
	svc := NewChatService(st, nil, logger.NewNop())

	emit, events := collectEvents(t)
	err := svc.Stream(context.Background(), "s1", &model.ChatRequest{Message: "hi"}, emit)
	require.Error(t, err)
	require.Empty(t, *events)
}

func TestResolveSession(t *testing.T) {
	svc := NewChatService(nil, nil, logger.NewNop())

	require.Equal(t, "existing", svc.ResolveSession(&model.ChatRequest{SessionID: "existing"}))

	fresh := svc.ResolveSession(&model.ChatRequest{})
	require.NotEmpty(t, fresh)
	require.NotEqual(t, fresh, svc.ResolveSession(&model.ChatRequest{}))
}
