package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aind-capture/metadata-agent/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// CreateRecord inserts a new metadata record in draft status and returns it.
func (s *Store) CreateRecord(ctx context.Context, sessionID, recordType string, data map[string]any, name string) (*model.Record, error) {
	if !model.ValidRecordType(recordType) {
		return nil, fmt.Errorf("invalid record_type: %s", recordType)
	}

	id := uuid.New().String()
	ts := now()
	category := model.CategoryMap[recordType]
	if name == "" {
		name = autoName(recordType, data)
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record data: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO metadata_records
		 (id, session_id, record_type, category, name, data_json, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'draft', ?, ?)`,
		id, sessionID, recordType, category, nullable(name), string(dataJSON), ts, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}

	return s.GetRecord(ctx, id)
}

// GetRecord returns a single record by ID, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, session_id, record_type, category, name,
		data_json, status, validation_json, created_at, updated_at
		FROM metadata_records WHERE id = ?`, id)
	return scanRecord(row)
}

// UpdateRecord merges data into a record's existing data and optionally
// renames it. The merge is shallow: top-level keys in data overwrite.
func (s *Store) UpdateRecord(ctx context.Context, id string, data map[string]any, name string) (*model.Record, error) {
	existing, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := existing.Data
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range data {
		merged[k] = v
	}

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record data: %w", err)
	}

	if name == "" {
		name = autoName(existing.RecordType, merged)
	}
	if name == "" {
		name = existing.Name
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE metadata_records SET data_json = ?, name = ?, updated_at = ? WHERE id = ?`,
		string(mergedJSON), nullable(name), now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}

	return s.GetRecord(ctx, id)
}

// SetRecordValidation stores a validation outcome against a record and moves
// its status accordingly: errors mark the record as error, anything else as
// validated. Confirmed records keep their status.
func (s *Store) SetRecordValidation(ctx context.Context, id string, validation json.RawMessage) error {
	status := string(model.RecordStatusValidated)
	var outcome struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(validation, &outcome) == nil && outcome.Status == "errors" {
		status = string(model.RecordStatusError)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE metadata_records
		 SET validation_json = ?, updated_at = ?,
		     status = CASE WHEN status = 'confirmed' THEN status ELSE ? END
		 WHERE id = ?`,
		string(validation), now(), status, id)
	if err != nil {
		return fmt.Errorf("failed to update validation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ConfirmRecord marks a record as confirmed.
func (s *Store) ConfirmRecord(ctx context.Context, id string) (*model.Record, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE metadata_records SET status = 'confirmed', updated_at = ? WHERE id = ?`,
		now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetRecord(ctx, id)
}

// DeleteRecord removes a record and, via cascade, its links.
func (s *Store) DeleteRecord(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM metadata_records WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListRecords returns records matching the filter, newest first. When the
// filter carries a text query, results are capped at 50 and ordered by last
// update, matching search semantics.
func (s *Store) ListRecords(ctx context.Context, f model.RecordFilter) ([]model.Record, error) {
	var clauses []string
	var args []any

	if f.RecordType != "" {
		clauses = append(clauses, "record_type = ?")
		args = append(args, f.RecordType)
	}
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, f.Category)
	}
	if f.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Query != "" {
		clauses = append(clauses, "(name LIKE ? OR data_json LIKE ?)")
		pattern := "%" + f.Query + "%"
		args = append(args, pattern, pattern)
	}

	query := `SELECT id, session_id, record_type, category, name,
		data_json, status, validation_json, created_at, updated_at
		FROM metadata_records`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if f.Query != "" {
		query += " ORDER BY updated_at DESC LIMIT 50"
	} else {
		query += " ORDER BY created_at DESC"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// LinkRecords creates an undirected link between two records. Linking the
// same pair twice is a no-op.
func (s *Store) LinkRecords(ctx context.Context, sourceID, targetID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO record_links (source_id, target_id, created_at) VALUES (?, ?, ?)`,
		sourceID, targetID, now())
	if err != nil {
		return fmt.Errorf("failed to link records: %w", err)
	}
	return nil
}

// UnlinkRecords removes a link in either direction.
func (s *Store) UnlinkRecords(ctx context.Context, sourceID, targetID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM record_links
		 WHERE (source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?)`,
		sourceID, targetID, targetID, sourceID)
	if err != nil {
		return false, fmt.Errorf("failed to unlink records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// LinkedRecords returns all records linked to id, in either direction.
func (s *Store) LinkedRecords(ctx context.Context, id string) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.session_id, m.record_type, m.category, m.name,
			m.data_json, m.status, m.validation_json, m.created_at, m.updated_at
		 FROM metadata_records m
		 INNER JOIN record_links l ON (m.id = l.target_id AND l.source_id = ?)
		                           OR (m.id = l.source_id AND l.target_id = ?)`,
		id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked records: %w", err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.Record, error) {
	var rec model.Record
	var name, dataJSON, validationJSON sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&rec.ID, &rec.SessionID, &rec.RecordType, &rec.Category,
		&name, &dataJSON, &rec.Status, &validationJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.Name = name.String
	if dataJSON.Valid && dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &rec.Data); err != nil {
			rec.Data = map[string]any{}
		}
	}
	if validationJSON.Valid && validationJSON.String != "" {
		rec.Validation = json.RawMessage(validationJSON.String)
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// autoName derives a display name from record data, mirroring the naming the
// capture UI expects for each record type.
func autoName(recordType string, data map[string]any) string {
	str := func(k string) string {
		if v, ok := data[k].(string); ok {
			return v
		}
		return ""
	}

	switch recordType {
	case "subject":
		sid := str("subject_id")
		if sid == "" {
			return ""
		}
		if species, ok := data["species"].(map[string]any); ok {
			if sn, ok := species["name"].(string); ok && sn != "" {
				return sn + " " + sid
			}
		}
		return sid
	case "instrument":
		if v := str("instrument_id"); v != "" {
			return v
		}
		return str("name")
	case "rig":
		if v := str("rig_id"); v != "" {
			return v
		}
		return str("name")
	case "procedures":
		return str("procedure_type")
	case "data_description":
		return str("project_name")
	case "session":
		if start := str("session_start_time"); start != "" {
			return "Session " + start
		}
	}
	return ""
}
