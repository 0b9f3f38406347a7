package agentrunner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/orchestrator/domain/eventbus"
	"github.com/emergent-company/orchestrator/domain/messagebuilder"
	"github.com/emergent-company/orchestrator/domain/plan"
	"github.com/emergent-company/orchestrator/domain/toolregistry"
	"github.com/emergent-company/orchestrator/pkg/modelprovider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

type fakeWorkspace struct{ id string }

func (w fakeWorkspace) ProjectID() string { return w.id }

// fakeProvider replays one scripted stream per Complete call, in order.
type fakeProvider struct {
	mu           sync.Mutex
	rounds       [][]modelprovider.StreamEvent
	calls        int
	toolsPerCall [][]toolregistry.ToolSchema
}

func (f *fakeProvider) Complete(ctx context.Context, systemPrompt string, history []modelprovider.Message, tools []toolregistry.ToolSchema) (<-chan modelprovider.StreamEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.toolsPerCall = append(f.toolsPerCall, tools)
	idx := f.calls
	f.calls++
	if idx >= len(f.rounds) {
		return nil, fmt.Errorf("fakeProvider: no scripted round %d", idx)
	}
	round := f.rounds[idx]

	ch := make(chan modelprovider.StreamEvent, len(round))
	for _, ev := range round {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) CompleteStructured(ctx context.Context, systemPrompt string, history []modelprovider.Message, schema *toolregistry.Schema, out any) error {
	return fmt.Errorf("not used in these tests")
}

func textRound(text, finish string) []modelprovider.StreamEvent {
	return []modelprovider.StreamEvent{
		{Kind: modelprovider.StreamText, TextDelta: text},
		{Kind: modelprovider.StreamFinish, FinishReason: finish},
	}
}

func TestRunner_RunTask_CompletesOnStopFinish(t *testing.T) {
	bus := eventbus.New(testLogger())
	reg := toolregistry.New(testLogger())
	provider := &fakeProvider{rounds: [][]modelprovider.StreamEvent{
		textRound("all done here", "stop"),
	}}
	r := New(testLogger(), reg, provider, bus)

	task := plan.Task{ID: "t1", Goal: "write a haiku", OnFailure: plan.OnFailureAbort}
	result, err := r.RunTask(context.Background(), "proj", fakeWorkspace{"proj"}, nil, task, AgentConfig{SystemPrompt: "You are a poet agent."})

	require.NoError(t, err)
	assert.Equal(t, plan.StatusCompleted, result.Status)
	assert.Contains(t, result.Summary, "all done here")
	assert.Equal(t, 1, provider.calls)
}

func TestRunner_RunTask_ToolCallRoundTrip(t *testing.T) {
	bus := eventbus.New(testLogger())
	reg := toolregistry.New(testLogger())
	reg.Register(toolregistry.Registration{
		Name: "search",
		Handler: func(ctx context.Context, invCtx toolregistry.InvocationContext, args map[string]any) (any, error) {
			assert.Equal(t, "proj", invCtx.ProjectID)
			assert.Equal(t, "t1", invCtx.TaskID)
			return "3 results", nil
		},
	})

	provider := &fakeProvider{rounds: [][]modelprovider.StreamEvent{
		{
			{Kind: modelprovider.StreamToolCall, ToolCallID: "call_1", ToolName: "search", ToolArgs: map[string]any{"q": "go"}},
			{Kind: modelprovider.StreamFinish, FinishReason: "toolCalls"},
		},
		textRound("search gave me 3 results, done", "stop"),
	}}
	r := New(testLogger(), reg, provider, bus)

	task := plan.Task{ID: "t1", Goal: "look something up", OnFailure: plan.OnFailureAbort}
	result, err := r.RunTask(context.Background(), "proj", fakeWorkspace{"proj"}, nil, task, AgentConfig{SystemPrompt: "agent"})

	require.NoError(t, err)
	assert.Equal(t, plan.StatusCompleted, result.Status)
	assert.Equal(t, 2, provider.calls)
	assert.Contains(t, result.Summary, "3 results")
}

func TestRunner_RunTask_MaxRoundsForcesCompletion(t *testing.T) {
	bus := eventbus.New(testLogger())
	reg := toolregistry.New(testLogger())
	rounds := make([][]modelprovider.StreamEvent, 3)
	for i := range rounds {
		rounds[i] = textRound("still working", "length")
	}
	provider := &fakeProvider{rounds: rounds}
	r := New(testLogger(), reg, provider, bus)

	task := plan.Task{ID: "t1", Goal: "never finishes", OnFailure: plan.OnFailureAbort}
	result, err := r.RunTask(context.Background(), "proj", fakeWorkspace{"proj"}, nil, task, AgentConfig{SystemPrompt: "agent", MaxRounds: 3})

	require.NoError(t, err)
	assert.Equal(t, plan.StatusCompleted, result.Status)
	assert.Equal(t, 3, provider.calls)
}

func TestRunner_RunTask_RetryOnFailureReentersLoop(t *testing.T) {
	bus := eventbus.New(testLogger())
	reg := toolregistry.New(testLogger())
	provider := &fakeProvider{rounds: [][]modelprovider.StreamEvent{}}
	r := New(testLogger(), reg, provider, bus)

	task := plan.Task{ID: "t1", Goal: "g", OnFailure: plan.OnFailureRetry, Attempts: 0}
	result, err := r.RunTask(context.Background(), "proj", fakeWorkspace{"proj"}, nil, task, AgentConfig{SystemPrompt: "agent", MaxAttempts: 2})

	require.NoError(t, err)
	assert.Equal(t, plan.StatusFailed, result.Status)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, provider.calls)
}

func TestRunner_RunTask_DoomLoopStopsRepeatedIdenticalCalls(t *testing.T) {
	bus := eventbus.New(testLogger())
	reg := toolregistry.New(testLogger())
	reg.Register(toolregistry.Registration{
		Name: "noop",
		Handler: func(ctx context.Context, invCtx toolregistry.InvocationContext, args map[string]any) (any, error) {
			return "ok", nil
		},
	})

	loopRound := func() []modelprovider.StreamEvent {
		return []modelprovider.StreamEvent{
			{Kind: modelprovider.StreamToolCall, ToolCallID: "call", ToolName: "noop", ToolArgs: map[string]any{"x": 1}},
			{Kind: modelprovider.StreamFinish, FinishReason: "toolCalls"},
		}
	}
	rounds := make([][]modelprovider.StreamEvent, 10)
	for i := range rounds {
		rounds[i] = loopRound()
	}
	provider := &fakeProvider{rounds: rounds}
	r := New(testLogger(), reg, provider, bus)

	task := plan.Task{ID: "t1", Goal: "loop forever", OnFailure: plan.OnFailureAbort}
	result, err := r.RunTask(context.Background(), "proj", fakeWorkspace{"proj"}, nil, task, AgentConfig{SystemPrompt: "agent", MaxRounds: 10})

	require.NoError(t, err)
	assert.Equal(t, plan.StatusFailed, result.Status)
	assert.Less(t, provider.calls, 10)
}

func TestComposeHistory_IncludesTailAndTaskMessages(t *testing.T) {
	var history []messagebuilder.Message
	for i := 0; i < 40; i++ {
		history = append(history, messagebuilder.Message{ID: fmt.Sprintf("m%d", i), Content: fmt.Sprintf("msg %d", i)})
	}
	history[0].TaskID = "t1"

	out := composeHistory(history, "t1")

	assert.Contains(t, idsOf(out), "m0")
	assert.Contains(t, idsOf(out), "m39")
	assert.LessOrEqual(t, len(out), maxTailMessages+1)
}

func TestRunner_RunTask_AllowedToolsScopesOffersAndRejectsOthers(t *testing.T) {
	bus := eventbus.New(testLogger())
	deleted := false
	reg := toolregistry.New(testLogger())
	reg.Register(toolregistry.Registration{Name: "search", Handler: func(ctx context.Context, invCtx toolregistry.InvocationContext, args map[string]any) (any, error) {
		return "3 results", nil
	}})
	reg.Register(toolregistry.Registration{Name: "delete_everything", Handler: func(ctx context.Context, invCtx toolregistry.InvocationContext, args map[string]any) (any, error) {
		deleted = true
		return "done", nil
	}})

	ch, cancel := bus.Subscribe("proj")
	defer cancel()

	provider := &fakeProvider{rounds: [][]modelprovider.StreamEvent{
		{
			// The model calls a tool it was never offered (never in scope
			// for a malformed/adversarial stream); the runner must still
			// refuse to execute it.
			{Kind: modelprovider.StreamToolCall, ToolCallID: "call_1", ToolName: "delete_everything"},
			{Kind: modelprovider.StreamFinish, FinishReason: "toolCalls"},
		},
		textRound("done", "stop"),
	}}
	r := New(testLogger(), reg, provider, bus)

	task := plan.Task{ID: "t1", Goal: "search only", OnFailure: plan.OnFailureAbort}
	result, err := r.RunTask(context.Background(), "proj", fakeWorkspace{"proj"}, nil, task, AgentConfig{SystemPrompt: "agent", AllowedTools: []string{"search"}})

	require.NoError(t, err)
	assert.Equal(t, plan.StatusCompleted, result.Status)
	assert.False(t, deleted, "the disallowed tool's handler must never run")

	require.Len(t, provider.toolsPerCall, 2)
	require.Len(t, provider.toolsPerCall[0], 1)
	assert.Equal(t, "search", provider.toolsPerCall[0][0].Name)

	var sawRejection bool
	for !sawRejection {
		select {
		case ev := <-ch:
			if ev.Type == eventbus.TypeToolCallResult {
				data := ev.Data.(map[string]any)
				if data["isError"] == true {
					sawRejection = true
				}
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for a toolCallResult isError=true event")
		}
	}
}

func TestAgentConfig_ToolAllowed(t *testing.T) {
	unrestricted := AgentConfig{}
	assert.True(t, unrestricted.toolAllowed("anything"))

	scoped := AgentConfig{AllowedTools: []string{"search"}}
	assert.True(t, scoped.toolAllowed("search"))
	assert.False(t, scoped.toolAllowed("delete_everything"))
}

func idsOf(msgs []messagebuilder.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
