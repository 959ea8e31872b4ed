package model

import (
	"encoding/json"
)

// EventKind identifies a normalized stream event variant.
type EventKind string

const (
	EventContent       EventKind = "content"
	EventThinkingStart EventKind = "thinking_start"
	EventThinking      EventKind = "thinking"
	EventToolUseStart  EventKind = "tool_use_start"
	EventToolUseInput  EventKind = "tool_use_input"
	EventToolResult    EventKind = "tool_result"
	EventBlockStop     EventKind = "block_stop"
	EventSessionID     EventKind = "session_id"
	EventUnknown       EventKind = "unknown"
)

// DoneSentinel is the literal payload that terminates a stream. It is a
// transport-level marker, never a JSON event.
const DoneSentinel = "[DONE]"

// ToolUseStart carries the opening of a tool invocation block.
type ToolUseStart struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// ToolResult carries a validation outcome for an earlier tool invocation.
type ToolResult struct {
	ToolUseID  string          `json:"tool_use_id"`
	Validation json.RawMessage `json:"validation"`
}

// StreamEvent is the closed union over the normalized wire events. Kind
// selects the variant; only the fields belonging to that variant are set.
// SessionID is carried independently of Kind because the wire format allows
// a session_id to co-occur with any event.
type StreamEvent struct {
	Kind      EventKind
	Text      string
	ToolUse   *ToolUseStart
	Result    *ToolResult
	SessionID string
}

// Constructors for each variant keep call sites from building events by hand.

func ContentEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventContent, Text: text}
}

func ThinkingStartEvent() StreamEvent {
	return StreamEvent{Kind: EventThinkingStart}
}

func ThinkingEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventThinking, Text: text}
}

func ToolUseStartEvent(name, id string) StreamEvent {
	return StreamEvent{Kind: EventToolUseStart, ToolUse: &ToolUseStart{Name: name, ID: id}}
}

func ToolUseInputEvent(fragment string) StreamEvent {
	return StreamEvent{Kind: EventToolUseInput, Text: fragment}
}

func ToolResultEvent(toolUseID string, validation json.RawMessage) StreamEvent {
	return StreamEvent{Kind: EventToolResult, Result: &ToolResult{ToolUseID: toolUseID, Validation: validation}}
}

func BlockStopEvent() StreamEvent {
	return StreamEvent{Kind: EventBlockStop}
}

func SessionIDEvent(id string) StreamEvent {
	return StreamEvent{Kind: EventSessionID, SessionID: id}
}

// wireEvent is the JSON shape shared by marshalling and parsing. Pointer
// fields distinguish "absent" from "empty string" so empty deltas survive a
// round trip.
type wireEvent struct {
	Content       *string       `json:"content,omitempty"`
	ThinkingStart bool          `json:"thinking_start,omitempty"`
	Thinking      *string       `json:"thinking,omitempty"`
	ToolUseStart  *ToolUseStart `json:"tool_use_start,omitempty"`
	ToolUseInput  *string       `json:"tool_use_input,omitempty"`
	ToolResult    *ToolResult   `json:"tool_result,omitempty"`
	BlockStop     bool          `json:"block_stop,omitempty"`
	SessionID     *string       `json:"session_id,omitempty"`
}

// MarshalJSON renders the event in the wire format, one key per variant.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	var w wireEvent
	switch e.Kind {
	case EventContent:
		w.Content = &e.Text
	case EventThinkingStart:
		w.ThinkingStart = true
	case EventThinking:
		w.Thinking = &e.Text
	case EventToolUseStart:
		w.ToolUseStart = e.ToolUse
	case EventToolUseInput:
		w.ToolUseInput = &e.Text
	case EventToolResult:
		w.ToolResult = e.Result
	case EventBlockStop:
		w.BlockStop = true
	case EventSessionID:
		// session_id is carried below for every kind
	}
	if e.SessionID != "" {
		w.SessionID = &e.SessionID
	}
	return json.Marshal(w)
}

// ParseEvent classifies one SSE data payload into a StreamEvent. Payloads
// that are not valid JSON objects are forwarded as bare content events, the
// backward-compatible fallback for plain-text lines. A JSON object carrying
// none of the known keys parses as EventUnknown so callers can detect it.
func ParseEvent(data string) StreamEvent {
	var w wireEvent
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return ContentEvent(data)
	}

	ev := StreamEvent{Kind: EventUnknown}
	if w.SessionID != nil {
		ev.SessionID = *w.SessionID
		ev.Kind = EventSessionID
	}

	switch {
	case w.Content != nil:
		ev.Kind = EventContent
		ev.Text = *w.Content
	case w.ThinkingStart:
		ev.Kind = EventThinkingStart
	case w.Thinking != nil:
		ev.Kind = EventThinking
		ev.Text = *w.Thinking
	case w.ToolUseStart != nil:
		ev.Kind = EventToolUseStart
		ev.ToolUse = w.ToolUseStart
	case w.ToolUseInput != nil:
		ev.Kind = EventToolUseInput
		ev.Text = *w.ToolUseInput
	case w.ToolResult != nil:
		ev.Kind = EventToolResult
		ev.Result = w.ToolResult
	case w.BlockStop:
		ev.Kind = EventBlockStop
	}
	return ev
}
