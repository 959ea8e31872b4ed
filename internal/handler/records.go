package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aind-capture/metadata-agent/internal/middleware"
	"github.com/aind-capture/metadata-agent/internal/model"
	"github.com/aind-capture/metadata-agent/internal/service"
	"github.com/aind-capture/metadata-agent/internal/store"
	"github.com/aind-capture/metadata-agent/pkg/logger"
)

// RecordHandler serves metadata record CRUD and linking endpoints.
type RecordHandler struct {
	records *service.RecordService
	logger  *logger.Logger
}

func NewRecordHandler(records *service.RecordService, log *logger.Logger) *RecordHandler {
	return &RecordHandler{
		records: records,
		logger:  log,
	}
}

// List handles GET /api/records.
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.RecordFilter{
		RecordType: q.Get("record_type"),
		Category:   q.Get("category"),
		SessionID:  q.Get("session_id"),
		Status:     q.Get("status"),
		Query:      q.Get("q"),
	}
	if filter.RecordType != "" && !model.ValidRecordType(filter.RecordType) {
		writeError(w, http.StatusBadRequest, "unknown record type: "+filter.RecordType)
		return
	}

	records, err := h.records.List(r.Context(), filter)
	if err != nil {
		h.logger.Errorw("list records failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []model.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// Get handles GET /api/records/{id}.
func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateRecordID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.records.Get(r.Context(), id)
	if err != nil {
		h.recordError(w, id, err, "get record failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Update handles PUT /api/records/{id}.
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateRecordID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}

	rec, err := h.records.Update(r.Context(), id, req.Data)
	if err != nil {
		h.recordError(w, id, err, "update record failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Confirm handles POST /api/records/{id}/confirm.
func (h *RecordHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateRecordID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.records.Confirm(r.Context(), id)
	if err != nil {
		h.recordError(w, id, err, "confirm record failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /api/records/{id}.
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateRecordID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := h.records.Delete(r.Context(), id)
	if err != nil {
		h.recordError(w, id, err, "delete record failed")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": true,
		"id":      id,
	})
}

// Link handles POST /api/records/link.
func (h *RecordHandler) Link(w http.ResponseWriter, r *http.Request) {
	var req model.LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateRecordID(req.SourceID); err != nil {
		writeError(w, http.StatusBadRequest, "source_id: "+err.Error())
		return
	}
	if err := middleware.ValidateRecordID(req.TargetID); err != nil {
		writeError(w, http.StatusBadRequest, "target_id: "+err.Error())
		return
	}
	if req.SourceID == req.TargetID {
		writeError(w, http.StatusBadRequest, "cannot link a record to itself")
		return
	}

	if err := h.records.Link(r.Context(), req.SourceID, req.TargetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		h.logger.Errorw("link records failed", "error", err, "source_id", req.SourceID, "target_id", req.TargetID)
		writeError(w, http.StatusInternalServerError, "failed to link records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"linked":    true,
		"source_id": req.SourceID,
		"target_id": req.TargetID,
	})
}

// Links handles GET /api/records/{id}/links.
func (h *RecordHandler) Links(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateRecordID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	links, err := h.records.Links(r.Context(), id)
	if err != nil {
		h.recordError(w, id, err, "list links failed")
		return
	}
	if links == nil {
		links = []model.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"record_id": id,
		"links":     links,
	})
}

func (h *RecordHandler) recordError(w http.ResponseWriter, id string, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	h.logger.Errorw(msg, "error", err, "record_id", id)
	writeError(w, http.StatusInternalServerError, msg)
}
