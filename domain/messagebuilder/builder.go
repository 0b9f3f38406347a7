package messagebuilder

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emergent-company/orchestrator/domain/eventbus"
)

// openKind tracks which part, if any, is still accepting appends.
type openKind int

const (
	openNone openKind = iota
	openText
	openReasoning
)

// Builder accumulates one assistant Message from a sequence of streaming
// operations and publishes the corresponding events on bus as it goes.
// One Builder is used per in-flight message; it is not safe for concurrent
// callers building distinct messages to share a Builder.
type Builder struct {
	mu sync.Mutex

	bus       *eventbus.Bus
	projectID string

	msg  Message
	open openKind

	// pendingToolCalls maps toolCallId -> index into msg.Parts for calls
	// awaiting their toolResult, so finishMessage can abandon stragglers.
	pendingToolCalls map[string]int
}

// New creates a Builder that publishes to bus under projectID.
func New(bus *eventbus.Bus, projectID string) *Builder {
	return &Builder{
		bus:              bus,
		projectID:        projectID,
		pendingToolCalls: make(map[string]int),
	}
}

// BeginMessage starts accumulating a new message and emits messageStart.
func (b *Builder) BeginMessage(messageID string, role Role) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.msg = Message{ID: messageID, Role: role, Timestamp: time.Now().UTC()}
	b.open = openNone
	b.pendingToolCalls = make(map[string]int)

	b.publish(eventbus.TypeMessageStart, map[string]any{
		"messageId": messageID,
		"role":      role,
	})
}

// AppendText appends delta to the currently open text part, opening one if
// none is open, and emits partDelta.
func (b *Builder) AppendText(delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open != openText {
		b.closeOpenPartLocked()
		b.msg.Parts = append(b.msg.Parts, Part{Type: PartText})
		b.open = openText
	}
	idx := len(b.msg.Parts) - 1
	b.msg.Parts[idx].Text += delta

	b.publish(eventbus.TypePartDelta, map[string]any{
		"index": idx,
		"text":  delta,
	})
}

// AppendReasoning is the reasoning-trace analogue of AppendText.
func (b *Builder) AppendReasoning(delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open != openReasoning {
		b.closeOpenPartLocked()
		b.msg.Parts = append(b.msg.Parts, Part{Type: PartReasoning})
		b.open = openReasoning
	}
	idx := len(b.msg.Parts) - 1
	b.msg.Parts[idx].Text += delta

	b.publish(eventbus.TypePartDelta, map[string]any{
		"index": idx,
		"text":  delta,
	})
}

// BeginToolCall closes any open text part, appends a pending toolCall part,
// and emits its partComplete once args are final (args arrive whole, not
// streamed, matching the teacher's functiontool call-argument handling).
func (b *Builder) BeginToolCall(toolCallID, toolName string, args map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeOpenPartLocked()

	part := Part{
		Type:       PartToolCall,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Args:       args,
		Status:     ToolCallPending,
	}
	b.msg.Parts = append(b.msg.Parts, part)
	idx := len(b.msg.Parts) - 1
	b.pendingToolCalls[toolCallID] = idx

	b.publish(eventbus.TypePartComplete, map[string]any{
		"index": idx,
		"part":  part,
	})
	b.publish(eventbus.TypeToolCallStart, map[string]any{
		"toolCallId": toolCallID,
		"toolName":   toolName,
		"args":       args,
	})
}

// CompleteToolCall appends a toolResult part bound to toolCallID and emits
// partComplete plus toolCallResult.
func (b *Builder) CompleteToolCall(toolCallID string, result any, isError bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var toolName string
	if idx, ok := b.pendingToolCalls[toolCallID]; ok {
		status := ToolCallCompleted
		if isError {
			status = ToolCallFailed
		}
		b.msg.Parts[idx].Status = status
		toolName = b.msg.Parts[idx].ToolName
		delete(b.pendingToolCalls, toolCallID)
	}

	part := Part{Type: PartToolResult, ToolCallID: toolCallID, ToolName: toolName, Result: result, IsError: isError}
	b.msg.Parts = append(b.msg.Parts, part)
	idx := len(b.msg.Parts) - 1

	b.publish(eventbus.TypePartComplete, map[string]any{
		"index": idx,
		"part":  part,
	})
	b.publish(eventbus.TypeToolCallResult, map[string]any{
		"toolCallId": toolCallID,
		"result":     result,
		"isError":    isError,
	})
}

// AppendError appends an error part. message/code come from the tool or
// model-call failure that triggered it.
func (b *Builder) AppendError(message string, code string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeOpenPartLocked()
	part := Part{Type: PartError, Message: message, Code: code}
	b.msg.Parts = append(b.msg.Parts, part)
	idx := len(b.msg.Parts) - 1

	b.publish(eventbus.TypePartComplete, map[string]any{"index": idx, "part": part})
}

// StepBoundary marks a boundary between distinct sub-steps in one message.
func (b *Builder) StepBoundary() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeOpenPartLocked()
	part := Part{Type: PartStepBoundary}
	b.msg.Parts = append(b.msg.Parts, part)
	idx := len(b.msg.Parts) - 1
	b.publish(eventbus.TypePartComplete, map[string]any{"index": idx, "part": part})
}

// closeOpenPartLocked emits partComplete for whatever text/reasoning part is
// currently open, if any. Caller holds b.mu.
func (b *Builder) closeOpenPartLocked() {
	if b.open == openNone {
		return
	}
	idx := len(b.msg.Parts) - 1
	b.publish(eventbus.TypePartComplete, map[string]any{"index": idx, "part": b.msg.Parts[idx]})
	b.open = openNone
}

// FinishMessage closes any open part, abandons tool calls still missing a
// result, computes Content, and emits messageComplete.
func (b *Builder) FinishMessage() Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeOpenPartLocked()

	for toolCallID, idx := range b.pendingToolCalls {
		b.msg.Parts[idx].Status = ToolCallFailed
		b.msg.Parts = append(b.msg.Parts, Part{
			Type:       PartToolResult,
			ToolCallID: toolCallID,
			Result:     "abandoned",
			IsError:    true,
		})
	}
	b.pendingToolCalls = make(map[string]int)

	b.msg.Content = renderContent(b.msg.Parts)

	b.publish(eventbus.TypeMessageComplete, map[string]any{"message": b.msg})

	return b.msg
}

// renderContent is the newline-joined concatenation of text parts plus
// human-readable inlining of tool results (§4.B).
func renderContent(parts []Part) string {
	var lines []string
	for _, p := range parts {
		switch p.Type {
		case PartText:
			if p.Text != "" {
				lines = append(lines, p.Text)
			}
		case PartToolResult:
			lines = append(lines, fmt.Sprintf("Tool %s completed.\n%v", p.ToolName, prettyResult(p.Result)))
		}
	}
	return strings.Join(lines, "\n")
}

func prettyResult(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	return fmt.Sprintf("%+v", result)
}

func (b *Builder) publish(typ eventbus.Type, data any) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(b.projectID, eventbus.Event{Type: typ, Data: data})
}
