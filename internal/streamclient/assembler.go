package streamclient

import (
	"github.com/aind-capture/metadata-agent/internal/model"
)

// Assembler folds one turn's normalized event stream into an assistant
// message. It tracks the open block explicitly rather than inferring it from
// array position, so an explicit block_stop can close a block without a new
// one starting.
type Assembler struct {
	msg     model.Message
	openIdx int
}

// noOpenBlock marks the state where the next content-bearing event must
// open a fresh block.
const noOpenBlock = -1

func NewAssembler() *Assembler {
	return &Assembler{
		msg:     model.Message{Role: model.RoleAssistant},
		openIdx: noOpenBlock,
	}
}

// Message returns a copy of the message as assembled so far. The copy is
// safe to render or persist while the stream continues.
func (a *Assembler) Message() model.Message {
	msg := a.msg
	msg.Blocks = append([]model.Block(nil), a.msg.Blocks...)
	return msg
}

// Apply consumes one event and updates the message state. Events that do not
// fit the current state (a thinking delta with no open thinking block, a
// tool_result with no matching block) are absorbed silently; upstream
// ordering is not fully under this system's control.
func (a *Assembler) Apply(ev model.StreamEvent) {
	switch ev.Kind {
	case model.EventContent:
		if a.openType() == model.BlockTypeText {
			a.msg.Blocks[a.openIdx].Content += ev.Text
		} else {
			a.openBlock(model.Block{Type: model.BlockTypeText, Content: ev.Text})
		}
		a.msg.Content += ev.Text

	case model.EventThinkingStart:
		a.openBlock(model.Block{Type: model.BlockTypeThinking})

	case model.EventThinking:
		if a.openType() == model.BlockTypeThinking {
			a.msg.Blocks[a.openIdx].Content += ev.Text
		}

	case model.EventToolUseStart:
		b := model.Block{Type: model.BlockTypeToolUse}
		if ev.ToolUse != nil {
			b.Name = ev.ToolUse.Name
			b.ToolUseID = ev.ToolUse.ID
		}
		a.openBlock(b)

	case model.EventToolUseInput:
		if a.openType() == model.BlockTypeToolUse {
			a.msg.Blocks[a.openIdx].Content += ev.Text
		}

	case model.EventToolResult:
		if ev.Result != nil {
			a.attachValidation(ev.Result)
		}

	case model.EventBlockStop:
		a.openIdx = noOpenBlock
	}
}

func (a *Assembler) openBlock(b model.Block) {
	a.msg.Blocks = append(a.msg.Blocks, b)
	a.openIdx = len(a.msg.Blocks) - 1
}

func (a *Assembler) openType() model.BlockType {
	if a.openIdx == noOpenBlock {
		return ""
	}
	return a.msg.Blocks[a.openIdx].Type
}

// attachValidation scans every block, not just the open one: the matching
// tool_use block has usually closed by the time its result arrives. A result
// with no matching block is dropped.
func (a *Assembler) attachValidation(res *model.ToolResult) {
	for i := range a.msg.Blocks {
		b := &a.msg.Blocks[i]
		if b.Type == model.BlockTypeToolUse && b.ToolUseID == res.ToolUseID {
			b.Validation = res.Validation
			return
		}
	}
}
