package streamclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aind-capture/metadata-agent/internal/model"
)

func TestSessionSendAssemblesAndSnapshots(t *testing.T) {
	server := sseServer(t,
		`{"session_id":"s1"}`,
		`{"thinking_start":true}`,
		`{"thinking":"hmm"}`,
		`{"block_stop":true}`,
		`{"content":"Hello!"}`,
		"[DONE]",
	)
	defer server.Close()

	var doneCalls, errCalls int32
	snaps := NewSnapshotStore(NewMemoryStorage())
	sess := NewSession(NewClient(server.URL), snaps, "", Handlers{
		OnDone:  func() { atomic.AddInt32(&doneCalls, 1) },
		OnError: func(error) { atomic.AddInt32(&errCalls, 1) },
	})

	require.NoError(t, sess.Send(context.Background(), "hi", nil))
	require.Equal(t, int32(1), atomic.LoadInt32(&doneCalls))
	require.Equal(t, int32(0), atomic.LoadInt32(&errCalls))
	require.Equal(t, "s1", sess.ID())

	messages := sess.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, model.RoleUser, messages[0].Role)
	require.Equal(t, "hi", messages[0].Content)

	assistant := messages[1]
	require.Equal(t, "Hello!", assistant.Content)
	require.Len(t, assistant.Blocks, 2)
	require.Equal(t, model.BlockTypeThinking, assistant.Blocks[0].Type)
	require.Equal(t, "hmm", assistant.Blocks[0].Content)
	require.Equal(t, model.BlockTypeText, assistant.Blocks[1].Type)

	cached, ok := snaps.Load("s1")
	require.True(t, ok)
	require.Len(t, cached, 2)
	require.Len(t, cached[1].Blocks, 2)
}

func TestSessionCancellationIsGracefulAndIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", `{"session_id":"s1"}`)
		fmt.Fprintf(w, "data: %s\n\n", `{"content":"partial answer"}`)
		flusher.Flush()
		// Hold the stream open until the client aborts.
		<-r.Context().Done()
	}))
	defer server.Close()

	var doneCalls, errCalls int32
	var once sync.Once
	partialReceived := make(chan struct{})

	snaps := NewSnapshotStore(NewMemoryStorage())
	sess := NewSession(NewClient(server.URL), snaps, "", Handlers{
		OnEvent: func(ev model.StreamEvent) {
			if ev.Kind == model.EventContent {
				once.Do(func() { close(partialReceived) })
			}
		},
		OnDone:  func() { atomic.AddInt32(&doneCalls, 1) },
		OnError: func(error) { atomic.AddInt32(&errCalls, 1) },
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Send(context.Background(), "hi", nil)
	}()

	select {
	case <-partialReceived:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for partial content")
	}

	sess.Cancel()
	sess.Cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Send to return")
	}

	require.Equal(t, int32(1), atomic.LoadInt32(&doneCalls))
	require.Equal(t, int32(0), atomic.LoadInt32(&errCalls))

	// Partial content is retained exactly as assembled.
	messages := sess.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "partial answer", messages[1].Content)

	// Cancellation still snapshots what was received.
	cached, ok := snaps.Load("s1")
	require.True(t, ok)
	require.Equal(t, "partial answer", cached[1].Content)
}

func TestSessionDiscardsEmptyMessageOnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	var doneCalls, errCalls int32
	sess := NewSession(NewClient(server.URL), NewSnapshotStore(NewMemoryStorage()), "", Handlers{
		OnDone:  func() { atomic.AddInt32(&doneCalls, 1) },
		OnError: func(error) { atomic.AddInt32(&errCalls, 1) },
	})

	err := sess.Send(context.Background(), "hi", nil)
	require.Error(t, err)
	require.Equal(t, int32(0), atomic.LoadInt32(&doneCalls))
	require.Equal(t, int32(1), atomic.LoadInt32(&errCalls))

	// The empty assistant placeholder is gone; the user turn remains so
	// the conversation stays usable.
	messages := sess.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, model.RoleUser, messages[0].Role)
}

func TestSessionKeepsPartialContentOnError(t *testing.T) {
	server := sseServer(t, `{"content":"useful partial"}`)
	defer server.Close()

	sess := NewSession(NewClient(server.URL), NewSnapshotStore(NewMemoryStorage()), "", Handlers{})

	err := sess.Send(context.Background(), "hi", nil)
	require.ErrorIs(t, err, ErrNoTerminal)

	messages := sess.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "useful partial", messages[1].Content)
}

func TestSessionRejectsConcurrentSend(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", `{"content":"x"}`)
		flusher.Flush()
		once.Do(func() { close(started) })
		<-r.Context().Done()
	}))
	defer server.Close()

	sess := NewSession(NewClient(server.URL), NewSnapshotStore(NewMemoryStorage()), "", Handlers{})

	go func() {
		_ = sess.Send(context.Background(), "first", nil)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first stream")
	}

	err := sess.Send(context.Background(), "second", nil)
	require.ErrorIs(t, err, ErrStreamActive)
	sess.Cancel()
}

func TestSessionLoadMergesHistoryAndSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"session_id":"s1","messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`)
	}))
	defer server.Close()

	snaps := NewSnapshotStore(NewMemoryStorage())
	snaps.Save("s1", []model.Message{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello", Blocks: []model.Block{
			{Type: model.BlockTypeText, Content: "hello"},
		}},
		{Role: model.RoleAssistant, Content: "interrupted"},
	})

	sess := NewSession(NewClient(server.URL), snaps, "s1", Handlers{})
	sess.Load(context.Background())

	messages := sess.Messages()
	require.Len(t, messages, 3)
	require.Len(t, messages[1].Blocks, 1)
	require.Equal(t, "interrupted", messages[2].Content)
}

func TestSessionLoadFallsBackWhenHistoryFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unavailable"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	snaps := NewSnapshotStore(NewMemoryStorage())
	snaps.Save("s1", []model.Message{
		{Role: model.RoleUser, Content: "cached only"},
	})

	sess := NewSession(NewClient(server.URL), snaps, "s1", Handlers{})
	sess.Load(context.Background())

	messages := sess.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, "cached only", messages[0].Content)
}
