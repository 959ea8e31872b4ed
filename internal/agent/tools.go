package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aind-capture/metadata-agent/internal/model"
	"github.com/aind-capture/metadata-agent/internal/store"
	"github.com/aind-capture/metadata-agent/internal/validate"
	"github.com/aind-capture/metadata-agent/pkg/logger"
	"github.com/aind-capture/metadata-agent/pkg/metrics"
)

// ValidationEvent carries a validation outcome from a capture tool execution
// to the stream loop, which surfaces it as a tool_result event. The channel
// between the two is owned by the in-flight turn: single producer (tool
// execution), single consumer (the stream loop), torn down when the turn
// ends.
type ValidationEvent struct {
	ToolUseID  string
	Validation json.RawMessage
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolDef is a provider-neutral tool definition.
type ToolDef struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// Tools executes the capture tool set against the record store.
type Tools struct {
	store  *store.Store
	logger *logger.Logger
}

// NewTools creates the capture tool executor.
func NewTools(st *store.Store, log *logger.Logger) *Tools {
	return &Tools{store: st, logger: log}
}

// Definitions returns the capture tool set.
func (t *Tools) Definitions() []ToolDef {
	return []ToolDef{
		{
			Name: "capture_metadata",
			Description: "Save or update a single metadata record from the scientist's input. " +
				"Call this whenever you identify metadata in the conversation; each call captures one " +
				"record type. Pass record_id to update an existing record, and link_to to link the " +
				"record to another one (e.g. a session to its subject).",
			Properties: map[string]any{
				"session_id":  map[string]any{"type": "string", "description": "Chat session the record belongs to"},
				"record_type": map[string]any{"type": "string", "description": "One of: subject, procedures, instrument, rig, data_description, acquisition, session, processing, quality_control"},
				"data":        map[string]any{"type": "object", "description": "Record fields as a JSON object"},
				"name":        map[string]any{"type": "string", "description": "Optional display name"},
				"record_id":   map[string]any{"type": "string", "description": "Existing record to update"},
				"link_to":     map[string]any{"type": "string", "description": "Record ID to link the captured record to"},
			},
			Required: []string{"session_id", "record_type", "data"},
		},
		{
			Name: "find_records",
			Description: "Search existing metadata records by type, category, and/or a text query " +
				"against record names and data. Use this before creating records that may already exist.",
			Properties: map[string]any{
				"record_type": map[string]any{"type": "string", "description": "Filter by record type"},
				"category":    map[string]any{"type": "string", "description": "Filter by category: shared or asset"},
				"query":       map[string]any{"type": "string", "description": "Text to match against names and data"},
			},
		},
		{
			Name:        "link_records",
			Description: "Link two existing metadata records together (e.g. a session to its subject).",
			Properties: map[string]any{
				"source_id": map[string]any{"type": "string", "description": "First record ID"},
				"target_id": map[string]any{"type": "string", "description": "Second record ID"},
			},
			Required: []string{"source_id", "target_id"},
		},
	}
}

// Execute runs one tool call and returns the result payload for the model.
// The second return reports whether the result is an error. Validation
// outcomes are pushed to sink without blocking; a full sink drops the
// outcome rather than stalling the stream.
func (t *Tools) Execute(ctx context.Context, call ToolCall, sink chan<- ValidationEvent) (string, bool) {
	var result string
	var isErr bool

	switch call.Name {
	case "capture_metadata":
		result, isErr = t.captureMetadata(ctx, call, sink)
	case "find_records":
		result, isErr = t.findRecords(ctx, call)
	case "link_records":
		result, isErr = t.linkRecords(ctx, call)
	default:
		result, isErr = errResult(fmt.Sprintf("unknown tool: %s", call.Name)), true
	}

	status := "ok"
	if isErr {
		status = "error"
	}
	metrics.ToolCallsTotal.WithLabelValues(call.Name, status).Inc()
	return result, isErr
}

func (t *Tools) captureMetadata(ctx context.Context, call ToolCall, sink chan<- ValidationEvent) (string, bool) {
	sessionID, _ := call.Input["session_id"].(string)
	if sessionID == "" {
		return errResult("session_id is required"), true
	}

	recordType, _ := call.Input["record_type"].(string)
	if !model.ValidRecordType(recordType) {
		return errResult("record_type must be one of: " + strings.Join(recordTypes(), ", ")), true
	}

	data, ok := call.Input["data"].(map[string]any)
	if !ok {
		// Some models pass the object as a JSON string.
		if s, sok := call.Input["data"].(string); sok {
			if err := json.Unmarshal([]byte(s), &data); err != nil {
				return errResult("data must be a JSON object"), true
			}
		} else {
			return errResult("data is required and must be a JSON object"), true
		}
	}

	name, _ := call.Input["name"].(string)
	recordID, _ := call.Input["record_id"].(string)
	linkTo, _ := call.Input["link_to"].(string)

	var rec *model.Record
	var err error
	action := "created"
	if recordID != "" {
		rec, err = t.store.UpdateRecord(ctx, recordID, data, name)
		action = "updated"
	} else {
		rec, err = t.store.CreateRecord(ctx, sessionID, recordType, data, name)
	}
	if err != nil {
		t.logger.Errorw("capture_metadata failed", "session_id", sessionID, "error", err)
		return errResult(err.Error()), true
	}

	if linkTo != "" {
		if _, err := t.store.GetRecord(ctx, linkTo); err != nil {
			t.logger.Warnw("link target not found", "target_id", linkTo)
		} else if err := t.store.LinkRecords(ctx, rec.ID, linkTo); err != nil {
			t.logger.Warnw("failed to link records", "source_id", rec.ID, "target_id", linkTo, "error", err)
		}
	}

	validation := validate.Record(rec.RecordType, rec.Data)
	validationJSON := validation.JSON()
	if err := t.store.SetRecordValidation(ctx, rec.ID, validationJSON); err != nil {
		t.logger.Warnw("failed to store validation", "record_id", rec.ID, "error", err)
	}

	// Hand the outcome to the stream loop so the UI sees it inline in the
	// tool dropdown. Never block the tool path on a slow consumer.
	if sink != nil {
		select {
		case sink <- ValidationEvent{ToolUseID: call.ID, Validation: validationJSON}:
		default:
		}
	}

	if action == "created" {
		metrics.RecordsTotal.WithLabelValues(rec.RecordType).Inc()
	}

	return okResult(map[string]any{
		"action":             action,
		"record_id":          rec.ID,
		"record_type":        rec.RecordType,
		"category":           rec.Category,
		"name":               rec.Name,
		"message":            fmt.Sprintf("Successfully %s %s record", action, rec.RecordType),
		"validation":         json.RawMessage(validationJSON),
		"validation_summary": validationSummary(validation),
	}), false
}

func (t *Tools) findRecords(ctx context.Context, call ToolCall) (string, bool) {
	filter := model.RecordFilter{}
	filter.RecordType, _ = call.Input["record_type"].(string)
	filter.Category, _ = call.Input["category"].(string)
	filter.Query, _ = call.Input["query"].(string)

	records, err := t.store.ListRecords(ctx, filter)
	if err != nil {
		return errResult(err.Error()), true
	}

	summaries := make([]map[string]any, 0, len(records))
	for _, r := range records {
		summaries = append(summaries, map[string]any{
			"record_id":   r.ID,
			"record_type": r.RecordType,
			"category":    r.Category,
			"name":        r.Name,
			"status":      r.Status,
			"session_id":  r.SessionID,
		})
	}
	return okResult(map[string]any{"count": len(summaries), "records": summaries}), false
}

func (t *Tools) linkRecords(ctx context.Context, call ToolCall) (string, bool) {
	sourceID, _ := call.Input["source_id"].(string)
	targetID, _ := call.Input["target_id"].(string)
	if sourceID == "" || targetID == "" {
		return errResult("source_id and target_id are required"), true
	}

	if _, err := t.store.GetRecord(ctx, sourceID); err != nil {
		return errResult("source record not found: " + sourceID), true
	}
	if _, err := t.store.GetRecord(ctx, targetID); err != nil {
		return errResult("target record not found: " + targetID), true
	}
	if err := t.store.LinkRecords(ctx, sourceID, targetID); err != nil {
		return errResult(err.Error()), true
	}
	return okResult(map[string]any{"source_id": sourceID, "target_id": targetID, "linked": true}), false
}

func validationSummary(res *validate.Result) string {
	var parts []string
	parts = append(parts, "Validation status: "+res.Status)
	if len(res.MissingRequired) > 0 {
		parts = append(parts, "Missing required fields: "+strings.Join(res.MissingRequired, ", "))
	}
	for _, issue := range res.Errors {
		parts = append(parts, fmt.Sprintf("Error on %s: %s", issue.Field, issue.Message))
	}
	for _, issue := range res.Warnings {
		parts = append(parts, fmt.Sprintf("Warning on %s: %s", issue.Field, issue.Message))
	}
	return strings.Join(parts, ". ")
}

func recordTypes() []string {
	out := make([]string, 0, len(model.CategoryMap))
	for t := range model.CategoryMap {
		out = append(out, t)
	}
	return out
}

func okResult(data map[string]any) string {
	payload := map[string]any{"success": true}
	for k, v := range data {
		payload[k] = v
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func errResult(message string) string {
	b, _ := json.Marshal(map[string]any{"success": false, "error": message})
	return string(b)
}
