package streamclient

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aind-capture/metadata-agent/internal/model"
)

func TestAssemblerTextConcatenationMatchesContent(t *testing.T) {
	asm := NewAssembler()
	for _, ev := range []model.StreamEvent{
		model.ContentEvent("Hel"),
		model.ContentEvent("lo "),
		model.ContentEvent("world"),
	} {
		asm.Apply(ev)
	}

	msg := asm.Message()
	require.Len(t, msg.Blocks, 1)
	require.Equal(t, model.BlockTypeText, msg.Blocks[0].Type)

	var concat string
	for _, b := range msg.Blocks {
		if b.Type == model.BlockTypeText {
			concat += b.Content
		}
	}
	require.Equal(t, msg.Content, concat)
	require.Equal(t, "Hello world", msg.Content)
}

func TestAssemblerBlockSegmentation(t *testing.T) {
	asm := NewAssembler()
	for _, ev := range []model.StreamEvent{
		model.ContentEvent("a"),
		model.ThinkingStartEvent(),
		model.ThinkingEvent("b"),
		model.ContentEvent("c"),
	} {
		asm.Apply(ev)
	}

	msg := asm.Message()
	require.Len(t, msg.Blocks, 3)
	require.Equal(t, model.BlockTypeText, msg.Blocks[0].Type)
	require.Equal(t, "a", msg.Blocks[0].Content)
	require.Equal(t, model.BlockTypeThinking, msg.Blocks[1].Type)
	require.Equal(t, "b", msg.Blocks[1].Content)
	require.Equal(t, model.BlockTypeText, msg.Blocks[2].Type)
	require.Equal(t, "c", msg.Blocks[2].Content)
	require.Equal(t, "ac", msg.Content)
}

func TestAssemblerToolResultAttachesAcrossBlocks(t *testing.T) {
	asm := NewAssembler()
	for _, ev := range []model.StreamEvent{
		model.ToolUseStartEvent("capture_metadata", "t1"),
		model.ToolUseInputEvent(`{"x":1}`),
		model.BlockStopEvent(),
		model.ContentEvent("Recorded."),
		model.ThinkingStartEvent(),
		model.ThinkingEvent("reviewing"),
		model.ToolResultEvent("t1", json.RawMessage(`{"status":"warnings"}`)),
	} {
		asm.Apply(ev)
	}

	msg := asm.Message()
	require.Len(t, msg.Blocks, 3)
	tool := msg.Blocks[0]
	require.Equal(t, model.BlockTypeToolUse, tool.Type)
	require.Equal(t, "capture_metadata", tool.Name)
	require.Equal(t, "t1", tool.ToolUseID)
	require.Equal(t, `{"x":1}`, tool.Content)
	require.JSONEq(t, `{"status":"warnings"}`, string(tool.Validation))
}

func TestAssemblerBlockStopStartsFreshTextBlock(t *testing.T) {
	asm := NewAssembler()
	for _, ev := range []model.StreamEvent{
		model.ContentEvent("first"),
		model.BlockStopEvent(),
		model.ContentEvent("second"),
	} {
		asm.Apply(ev)
	}

	msg := asm.Message()
	require.Len(t, msg.Blocks, 2)
	require.Equal(t, "first", msg.Blocks[0].Content)
	require.Equal(t, "second", msg.Blocks[1].Content)
	require.Equal(t, "firstsecond", msg.Content)
}

func TestAssemblerIgnoresOrphanDeltas(t *testing.T) {
	asm := NewAssembler()
	asm.Apply(model.ThinkingEvent("no open block"))
	asm.Apply(model.ToolUseInputEvent(`{"ignored":true}`))
	require.Empty(t, asm.Message().Blocks)

	// A thinking delta against an open text block is also dropped.
	asm.Apply(model.ContentEvent("text"))
	asm.Apply(model.ThinkingEvent("still ignored"))
	msg := asm.Message()
	require.Len(t, msg.Blocks, 1)
	require.Equal(t, "text", msg.Blocks[0].Content)
}

func TestAssemblerDropsUnmatchedToolResult(t *testing.T) {
	asm := NewAssembler()
	asm.Apply(model.ContentEvent("hello"))
	asm.Apply(model.ToolResultEvent("missing", json.RawMessage(`{"status":"valid"}`)))

	msg := asm.Message()
	require.Len(t, msg.Blocks, 1)
	require.Empty(t, msg.Blocks[0].Validation)
}

func TestAssemblerMessageCopyIsIsolated(t *testing.T) {
	asm := NewAssembler()
	asm.Apply(model.ContentEvent("a"))

	snapshot := asm.Message()
	asm.Apply(model.ContentEvent("b"))

	require.Equal(t, "a", snapshot.Blocks[0].Content)
	require.Equal(t, "ab", asm.Message().Blocks[0].Content)
}
