package model

import (
	"encoding/json"
	"time"
)

// RecordStatus tracks a metadata record through its lifecycle.
type RecordStatus string

const (
	RecordStatusDraft     RecordStatus = "draft"
	RecordStatusValidated RecordStatus = "validated"
	RecordStatusConfirmed RecordStatus = "confirmed"
	RecordStatusError     RecordStatus = "error"
)

// CategoryMap maps each record type to its category. Shared records describe
// lab-wide entities reused across experiments; asset records describe one
// acquired dataset.
var CategoryMap = map[string]string{
	"subject":          "shared",
	"procedures":       "shared",
	"instrument":       "shared",
	"rig":              "shared",
	"data_description": "asset",
	"acquisition":      "asset",
	"session":          "asset",
	"processing":       "asset",
	"quality_control":  "asset",
}

// ValidRecordType reports whether t is a known record type.
func ValidRecordType(t string) bool {
	_, ok := CategoryMap[t]
	return ok
}

// Record is a typed metadata record captured during a chat session.
type Record struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	RecordType string          `json:"record_type"`
	Category   string          `json:"category"`
	Name       string          `json:"name,omitempty"`
	Data       map[string]any  `json:"data_json"`
	Status     RecordStatus    `json:"status"`
	Validation json.RawMessage `json:"validation_json,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Links      []Record        `json:"links,omitempty"`
}

// RecordFilter narrows a record listing. Zero-valued fields are ignored.
type RecordFilter struct {
	RecordType string
	Category   string
	SessionID  string
	Status     string
	Query      string
}

// SessionSummary describes one chat session in a listing.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	MessageCount int       `json:"message_count"`
	FirstMessage string    `json:"first_message,omitempty"`
}

// Upload is a stored file available for chat attachments.
type Upload struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	FilePath    string    `json:"-"`
	SizeBytes   int64     `json:"size"`
	SessionID   string    `json:"session_id,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// LinkRequest links two records together.
type LinkRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

// UpdateRecordRequest replaces or merges a record's data.
type UpdateRecordRequest struct {
	Data map[string]any `json:"data"`
}
