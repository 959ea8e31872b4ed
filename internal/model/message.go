// Package model defines data structures for the metadata capture platform.
package model

import (
	"encoding/json"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType identifies the variant of a content block.
type BlockType string

const (
	BlockTypeText     BlockType = "text"
	BlockTypeThinking BlockType = "thinking"
	BlockTypeToolUse  BlockType = "tool_use"
)

// Block is one typed unit within an assistant message's structured output.
//
// For text and thinking blocks only Content is set. For tool_use blocks
// Content accumulates the raw input payload (may be partial JSON while the
// block is still streaming), and Validation is attached once a matching
// tool_result arrives, the one mutation permitted after a block closes.
type Block struct {
	Type       BlockType       `json:"type"`
	Content    string          `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolUseID  string          `json:"toolUseId,omitempty"`
	Validation json.RawMessage `json:"validation,omitempty"`
}

// Attachment references an uploaded file carried on a user message.
type Attachment struct {
	FileID      string `json:"file_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// Message is one conversational turn. Content is the flattened plain-text
// representation and is always present; Blocks is the structured form and is
// only populated for assistant messages assembled from a stream. For a
// completed message, Content equals the concatenation of its text blocks.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Blocks      []Block      `json:"blocks,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
}

// ChatRequest initiates a chat stream. SessionID is omitted to start a new
// session; the server assigns one and announces it on the stream.
type ChatRequest struct {
	Message     string       `json:"message"`
	SessionID   string       `json:"session_id,omitempty"`
	Model       string       `json:"model,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}
