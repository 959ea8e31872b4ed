package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/aind-capture/metadata-agent/internal/model"
	"github.com/aind-capture/metadata-agent/internal/store"
	"github.com/aind-capture/metadata-agent/pkg/logger"
)

// allowedContentTypes is the upload allowlist: images and PDFs only.
var allowedContentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// ErrUnsupportedType is returned for uploads outside the allowlist.
var ErrUnsupportedType = fmt.Errorf("unsupported file type")

// ErrTooLarge is returned for uploads exceeding the size cap.
var ErrTooLarge = fmt.Errorf("file too large")

// UploadService stores uploaded files on disk and their metadata in the
// record store.
type UploadService struct {
	store    *store.Store
	dir      string
	maxBytes int64
	logger   *logger.Logger
}

// NewUploadService creates a new upload service. maxMB caps upload size.
func NewUploadService(st *store.Store, dir string, maxMB int, log *logger.Logger) *UploadService {
	if maxMB <= 0 {
		maxMB = 20
	}
	return &UploadService{
		store:    st,
		dir:      dir,
		maxBytes: int64(maxMB) * 1024 * 1024,
		logger:   log,
	}
}

// MaxBytes returns the upload size cap.
func (s *UploadService) MaxBytes() int64 {
	return s.maxBytes
}

// Save stores an uploaded file. The reader is consumed up to the size cap;
// anything beyond it fails with ErrTooLarge.
func (s *UploadService) Save(ctx context.Context, filename, contentType, sessionID string, r io.Reader) (*model.Upload, error) {
	if !allowedContentTypes[contentType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads dir: %w", err)
	}

	id := uuid.New().String()
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".bin"
	}
	dest := filepath.Join(s.dir, id+ext)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}

	if filename == "" {
		filename = "unknown"
	}
	up := model.Upload{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		FilePath:    dest,
		SizeBytes:   int64(len(data)),
		SessionID:   sessionID,
	}
	if err := s.store.SaveUpload(ctx, up); err != nil {
		_ = os.Remove(dest)
		return nil, err
	}

	s.logger.Infow("upload stored", "file_id", id, "filename", filename, "size", len(data))
	return &up, nil
}

// Get fetches an upload's metadata by id.
func (s *UploadService) Get(ctx context.Context, id string) (*model.Upload, error) {
	return s.store.GetUpload(ctx, id)
}
