package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aind-capture/metadata-agent/internal/model"
)

// SaveUpload persists an upload's metadata.
func (s *Store) SaveUpload(ctx context.Context, up model.Upload) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (id, original_filename, content_type, file_path, size_bytes, session_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		up.ID, up.Filename, up.ContentType, up.FilePath, up.SizeBytes, nullable(up.SessionID), now())
	if err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	return nil
}

// GetUpload fetches an upload by ID, or ErrNotFound.
func (s *Store) GetUpload(ctx context.Context, id string) (*model.Upload, error) {
	var up model.Upload
	var sessionID sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, original_filename, content_type, file_path, size_bytes, session_id, created_at
		 FROM uploads WHERE id = ?`, id).
		Scan(&up.ID, &up.Filename, &up.ContentType, &up.FilePath, &up.SizeBytes, &sessionID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan upload: %w", err)
	}
	up.SessionID = sessionID.String
	up.CreatedAt = parseTime(createdAt)
	return &up, nil
}
