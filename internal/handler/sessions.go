package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aind-capture/metadata-agent/internal/middleware"
	"github.com/aind-capture/metadata-agent/internal/model"
	"github.com/aind-capture/metadata-agent/internal/service"
	"github.com/aind-capture/metadata-agent/pkg/logger"
)

// SessionHandler serves conversation history endpoints.
type SessionHandler struct {
	chat    *service.ChatService
	records *service.RecordService
	logger  *logger.Logger
}

func NewSessionHandler(chat *service.ChatService, records *service.RecordService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		chat:    chat,
		records: records,
		logger:  log,
	}
}

// List handles GET /api/sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chat.Sessions(r.Context())
	if err != nil {
		h.logger.Errorw("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []model.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// Messages handles GET /api/sessions/{id}/messages.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := h.chat.History(r.Context(), id)
	if err != nil {
		h.logger.Errorw("session history failed", "error", err, "session_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load session history")
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"messages":   messages,
	})
}

// Records handles GET /api/sessions/{id}/records.
func (h *SessionHandler) Records(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.records.List(r.Context(), model.RecordFilter{SessionID: id})
	if err != nil {
		h.logger.Errorw("session records failed", "error", err, "session_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load session records")
		return
	}
	if records == nil {
		records = []model.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"records":    records,
	})
}

// Delete handles DELETE /api/sessions/{id}.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := h.chat.DeleteSession(r.Context(), id)
	if err != nil {
		h.logger.Errorw("delete session failed", "error", err, "session_id", id)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":    true,
		"session_id": id,
	})
}
