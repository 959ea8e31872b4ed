package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aind-capture/metadata-agent/internal/middleware"
	"github.com/aind-capture/metadata-agent/internal/service"
	"github.com/aind-capture/metadata-agent/internal/store"
	"github.com/aind-capture/metadata-agent/pkg/logger"
)

// UploadHandler serves file upload and retrieval endpoints.
type UploadHandler struct {
	uploads *service.UploadService
	logger  *logger.Logger
}

func NewUploadHandler(uploads *service.UploadService, log *logger.Logger) *UploadHandler {
	return &UploadHandler{
		uploads: uploads,
		logger:  log,
	}
}

// Upload handles POST /api/uploads. Expects a multipart form with a
// "file" part and an optional "session_id" field.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.uploads.MaxBytes()); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer file.Close()

	sessionID := r.FormValue("session_id")
	if sessionID != "" {
		if err := middleware.ValidateSessionID(sessionID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	contentType := header.Header.Get("Content-Type")
	up, err := h.uploads.Save(r.Context(), header.Filename, contentType, sessionID, file)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedType):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		default:
			h.logger.Errorw("upload failed", "error", err, "filename", header.Filename)
			writeError(w, http.StatusInternalServerError, "failed to store upload")
		}
		return
	}

	writeJSON(w, http.StatusCreated, up)
}

// Get handles GET /api/uploads/{id} and serves the stored file.
func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload id")
		return
	}

	up, err := h.uploads.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "upload not found")
			return
		}
		h.logger.Errorw("get upload failed", "error", err, "upload_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load upload")
		return
	}

	w.Header().Set("Content-Type", up.ContentType)
	w.Header().Set("Content-Disposition", `inline; filename="`+up.Filename+`"`)
	http.ServeFile(w, r, up.FilePath)
}
