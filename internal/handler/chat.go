package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aind-capture/metadata-agent/internal/middleware"
	"github.com/aind-capture/metadata-agent/internal/model"
	"github.com/aind-capture/metadata-agent/internal/service"
	"github.com/aind-capture/metadata-agent/pkg/logger"
	"github.com/aind-capture/metadata-agent/pkg/metrics"
)

// ChatHandler serves the streaming chat endpoint.
type ChatHandler struct {
	chat   *service.ChatService
	logger *logger.Logger
}

func NewChatHandler(chat *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chat:   chat,
		logger: log,
	}
}

// Chat handles POST /api/chat. Responses stream as server-sent events:
// one JSON event per data: line, terminated by a data: [DONE] sentinel.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID != "" {
		if err := middleware.ValidateSessionID(req.SessionID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sessionID := h.chat.ResolveSession(&req)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	ctx := r.Context()
	emit := func(ev model.StreamEvent) error {
		return sendSSEEvent(w, flusher, ev)
	}

	if err := h.chat.Stream(ctx, sessionID, &req, emit); err != nil {
		// The connection closes without a terminal sentinel and the
		// client surfaces the failure.
		h.logger.Errorw("chat stream failed",
			"error", err,
			"session_id", sessionID,
			"correlation_id", correlationID,
		)
		return
	}

	fmt.Fprintf(w, "data: %s\n\n", model.DoneSentinel)
	flusher.Flush()
}

// Models handles GET /api/models.
func (h *ChatHandler) Models(w http.ResponseWriter, r *http.Request) {
	models := h.chat.Models()
	def := ""
	if len(models) > 0 {
		def = models[0]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models":  models,
		"default": def,
	})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, ev model.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
