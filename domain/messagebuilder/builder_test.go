package messagebuilder

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/orchestrator/domain/eventbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func TestBuilder_TextAccumulation(t *testing.T) {
	b := New(nil, "proj-1")
	b.BeginMessage("m1", RoleAssistant)
	b.AppendText("Hello, ")
	b.AppendText("world.")
	msg := b.FinishMessage()

	require.Len(t, msg.Parts, 1)
	assert.Equal(t, PartText, msg.Parts[0].Type)
	assert.Equal(t, "Hello, world.", msg.Parts[0].Text)
	assert.Equal(t, "Hello, world.", msg.Content)
}

func TestBuilder_ToolCallRoundTrip(t *testing.T) {
	b := New(nil, "proj-1")
	b.BeginMessage("m1", RoleAssistant)
	b.AppendText("Let me check.")
	b.BeginToolCall("tc1", "search", map[string]any{"q": "go"})
	b.CompleteToolCall("tc1", "found it", false)
	b.AppendText("Done.")
	msg := b.FinishMessage()

	require.Len(t, msg.Parts, 4)
	assert.Equal(t, PartText, msg.Parts[0].Type)
	assert.Equal(t, PartToolCall, msg.Parts[1].Type)
	assert.Equal(t, ToolCallCompleted, msg.Parts[1].Status)
	assert.Equal(t, PartToolResult, msg.Parts[2].Type)
	assert.Equal(t, "tc1", msg.Parts[2].ToolCallID)
	assert.False(t, msg.Parts[2].IsError)
	assert.Equal(t, PartText, msg.Parts[3].Type)

	assert.True(t, strings.Contains(msg.Content, "Tool search completed."))
	assert.True(t, strings.Contains(msg.Content, "found it"))
}

func TestBuilder_AbandonedToolCallOnFinish(t *testing.T) {
	b := New(nil, "proj-1")
	b.BeginMessage("m1", RoleAssistant)
	b.BeginToolCall("tc1", "search", map[string]any{})
	msg := b.FinishMessage()

	require.Len(t, msg.Parts, 2)
	assert.Equal(t, ToolCallFailed, msg.Parts[0].Status)
	assert.Equal(t, PartToolResult, msg.Parts[1].Type)
	assert.True(t, msg.Parts[1].IsError)
	assert.Equal(t, "abandoned", msg.Parts[1].Result)
}

func TestBuilder_PublishesEventsInOrder(t *testing.T) {
	bus := eventbus.New(testLogger())
	ch, cancel := bus.Subscribe("proj-1")
	defer cancel()

	b := New(bus, "proj-1")
	b.BeginMessage("m1", RoleAssistant)
	b.AppendText("hi")
	b.FinishMessage()

	types := []eventbus.Type{
		(<-ch).Type,
		(<-ch).Type,
		(<-ch).Type,
		(<-ch).Type,
	}
	assert.Equal(t, []eventbus.Type{
		eventbus.TypeMessageStart,
		eventbus.TypePartDelta,
		eventbus.TypePartComplete,
		eventbus.TypeMessageComplete,
	}, types)
}
