package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aind-capture/metadata-agent/internal/model"
)

// SaveTurn persists one conversation turn, optionally with attachment
// references.
func (s *Store) SaveTurn(ctx context.Context, sessionID string, role model.Role, content string, attachments []model.Attachment) error {
	var attachmentsJSON any
	if len(attachments) > 0 {
		b, err := json.Marshal(attachments)
		if err != nil {
			return fmt.Errorf("failed to encode attachments: %w", err)
		}
		attachmentsJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (session_id, role, content, attachments_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, string(role), content, attachmentsJSON, now())
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return nil
}

// History returns the full conversation for a session in chronological
// order. Only role, content, and attachments are durable; block structure is
// a client-side concern.
func (s *Store) History(ctx context.Context, sessionID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, attachments_json, created_at
		 FROM conversations WHERE session_id = ? ORDER BY id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var msg model.Message
		var role, createdAt string
		var attachmentsJSON sql.NullString
		if err := rows.Scan(&role, &msg.Content, &attachmentsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		msg.Role = model.Role(role)
		msg.CreatedAt = parseTime(createdAt)
		if attachmentsJSON.Valid && attachmentsJSON.String != "" {
			// Corrupt attachment JSON degrades to no attachments.
			_ = json.Unmarshal([]byte(attachmentsJSON.String), &msg.Attachments)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Sessions lists all chat sessions, most recently active first, with message
// counts and the first user message as a display hook.
func (s *Store) Sessions(ctx context.Context) ([]model.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			session_id,
			MIN(created_at) AS created_at,
			MAX(created_at) AS last_active,
			COUNT(*) AS message_count,
			(
				SELECT content FROM conversations c2
				WHERE c2.session_id = conversations.session_id
				  AND c2.role = 'user'
				ORDER BY c2.id ASC
				LIMIT 1
			) AS first_message
		FROM conversations
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []model.SessionSummary
	for rows.Next() {
		var sum model.SessionSummary
		var createdAt, lastActive string
		var firstMessage sql.NullString
		if err := rows.Scan(&sum.SessionID, &createdAt, &lastActive, &sum.MessageCount, &firstMessage); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sum.CreatedAt = parseTime(createdAt)
		sum.LastActive = parseTime(lastActive)
		sum.FirstMessage = firstMessage.String
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteSession removes all conversation turns and records for a session.
// Returns false if the session had no data.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	c1, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversations: %w", err)
	}
	c2, err := s.db.ExecContext(ctx, `DELETE FROM metadata_records WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete records: %w", err)
	}
	n1, _ := c1.RowsAffected()
	n2, _ := c2.RowsAffected()
	return n1+n2 > 0, nil
}
