// Package agentrunner runs one specialist agent through its step loop for
// a single task (spec component E). Grounded on the teacher's
// domain/agents/executor.go — the step/round bookkeeping (stepTracker),
// doom-loop detection, and the persist-as-you-go idiom are carried over,
// but the ADK llmagent/runner/session pipeline they drive is replaced with
// direct calls to toolregistry.Registry and messagebuilder.Builder, since
// this repo's AgentRunner speaks the spec's own Part/Message/Event shapes
// rather than google.golang.org/adk's session/event types.
package agentrunner

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/emergent-company/orchestrator/domain/eventbus"
	"github.com/emergent-company/orchestrator/domain/messagebuilder"
	"github.com/emergent-company/orchestrator/domain/plan"
	"github.com/emergent-company/orchestrator/domain/toolregistry"
	"github.com/emergent-company/orchestrator/pkg/apperror"
	"github.com/emergent-company/orchestrator/pkg/logger"
	"github.com/emergent-company/orchestrator/pkg/modelprovider"
)

const (
	// DefaultMaxRounds is maxRounds from §4.E.
	DefaultMaxRounds = 10
	// DefaultMaxAttempts bounds onFailure=retry re-entries (§4.E "Return").
	DefaultMaxAttempts = 3
	// maxTailMessages is the default conversation tail length (§4.E step 1b).
	maxTailMessages = 32

	doomWarnThreshold = 3
	doomStopThreshold = 5
)

// AgentConfig is the configured agent a task is assigned to (§3
// Task.assignedAgent resolves to one of these).
type AgentConfig struct {
	Name               string
	SystemPrompt       string
	CompletionSentinel string
	MaxRounds          int
	MaxAttempts        int
	// AllowedTools restricts which registered tools this agent may see and
	// invoke (§6 configRef agent spec "tools (list of tool names)"). Empty
	// means unrestricted.
	AllowedTools []string
}

func (c AgentConfig) toolAllowed(name string) bool {
	if len(c.AllowedTools) == 0 {
		return true
	}
	for _, n := range c.AllowedTools {
		if n == name {
			return true
		}
	}
	return false
}

func (c AgentConfig) maxRounds() int {
	if c.MaxRounds > 0 {
		return c.MaxRounds
	}
	return DefaultMaxRounds
}

func (c AgentConfig) maxAttempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return DefaultMaxAttempts
}

// TaskResult is runTask's return value (§4.E "Return").
type TaskResult struct {
	Status   plan.TaskStatus
	Summary  string
	Attempts int
}

// Module wires Runner as a singleton, matching every other domain
// package's one-fx.Provide-per-service convention.
var Module = fx.Module("agentrunner",
	fx.Provide(New),
)

// Runner executes one task to completion via its assigned agent.
type Runner struct {
	log      *slog.Logger
	registry *toolregistry.Registry
	provider modelprovider.ModelProvider
	bus      *eventbus.Bus
}

// New constructs a Runner.
func New(log *slog.Logger, registry *toolregistry.Registry, provider modelprovider.ModelProvider, bus *eventbus.Bus) *Runner {
	return &Runner{
		log:      log.With(logger.Scope("agentrunner")),
		registry: registry,
		provider: provider,
		bus:      bus,
	}
}

// pendingToolCall is a tool-call marker captured mid-stream, awaiting
// execution and its matching completeToolCall.
type pendingToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// RunTask runs task to completion (or terminal failure), per §4.E.
// history is the project's conversation prior to this invocation; workspace
// is the task's FileStore handle, threaded into every tool invocation.
func (r *Runner) RunTask(ctx context.Context, projectID string, workspace toolregistry.Workspace, history []messagebuilder.Message, task plan.Task, cfg AgentConfig) (TaskResult, error) {
	attempts := task.Attempts

	for {
		attempts++

		summary, err := r.runOnce(ctx, projectID, workspace, history, task, cfg)
		if err == nil {
			return TaskResult{Status: plan.StatusCompleted, Summary: summary, Attempts: attempts}, nil
		}

		r.log.Warn("task attempt failed",
			slog.String("task_id", task.ID),
			slog.Int("attempt", attempts),
			logger.Error(err),
		)

		if task.OnFailure == plan.OnFailureRetry && attempts < cfg.maxAttempts() {
			continue
		}

		return TaskResult{Status: plan.StatusFailed, Summary: err.Error(), Attempts: attempts}, nil
	}
}

// runOnce drives the round loop for a single attempt. A non-nil error
// means the attempt failed outright (model call failure, a fatal tool
// error, or a doom-loop hard stop); reaching maxRounds without one of
// those is itself a successful (if forced) completion per §4.E step 5(iii).
func (r *Runner) runOnce(ctx context.Context, projectID string, workspace toolregistry.Workspace, baseHistory []messagebuilder.Message, task plan.Task, cfg AgentConfig) (string, error) {
	builder := messagebuilder.New(r.bus, projectID)
	systemPrompt := buildSystemPrompt(cfg, task)
	working := append([]messagebuilder.Message(nil), baseHistory...)
	doomDetector := newDoomLoopDetector(doomWarnThreshold, doomStopThreshold)

	var lastSummary string

	for round := 1; round <= cfg.maxRounds(); round++ {
		if err := ctx.Err(); err != nil {
			return "", apperror.ErrCancelled.WithInternal(err)
		}

		providerHistory := toProviderMessages(composeHistory(working, task.ID))
		if round == 1 {
			providerHistory = append(providerHistory, modelprovider.Message{Role: "user", Text: task.Goal})
		}

		stream, err := r.provider.Complete(ctx, systemPrompt, providerHistory, r.registry.SchemasFor(cfg.AllowedTools))
		if err != nil {
			return "", apperror.ErrModelCallFailed.WithInternal(err)
		}

		messageID := uuid.NewString()
		builder.BeginMessage(messageID, messagebuilder.RoleAssistant)

		var toolCalls []pendingToolCall
		var finishReason string
		var streamErr error

		for ev := range stream {
			switch ev.Kind {
			case modelprovider.StreamText:
				builder.AppendText(ev.TextDelta)
			case modelprovider.StreamReasoning:
				builder.AppendReasoning(ev.TextDelta)
			case modelprovider.StreamToolCall:
				builder.BeginToolCall(ev.ToolCallID, ev.ToolName, ev.ToolArgs)
				toolCalls = append(toolCalls, pendingToolCall{ID: ev.ToolCallID, Name: ev.ToolName, Args: ev.ToolArgs})
			case modelprovider.StreamFinish:
				finishReason = ev.FinishReason
			case modelprovider.StreamError:
				streamErr = ev.Err
			}
		}
		if streamErr != nil {
			builder.FinishMessage()
			return "", apperror.ErrModelCallFailed.WithInternal(streamErr)
		}

		invCtx := toolregistry.InvocationContext{ProjectID: projectID, TaskID: task.ID, Workspace: workspace}
		if fatalErr := r.executeToolCalls(ctx, invCtx, toolCalls, cfg, builder, doomDetector); fatalErr != nil {
			builder.FinishMessage()
			return "", fatalErr
		}

		msg := builder.FinishMessage()
		msg.TaskID = task.ID
		lastSummary = msg.Content
		working = append(working, msg)

		sentinelHit := cfg.CompletionSentinel != "" && strings.Contains(msg.Content, cfg.CompletionSentinel)
		stoppedCleanly := finishReason == "stop" && len(toolCalls) == 0
		if sentinelHit || stoppedCleanly || round == cfg.maxRounds() {
			break
		}
	}

	return lastSummary, nil
}

// executeToolCalls runs toolCalls in order, batching consecutive
// parallel-safe calls to run concurrently, per §5 "tool invocations within
// one worker run sequentially (unless the tool is marked parallel-safe)".
// A returned error is fatal to the attempt (doom-loop hard stop); ordinary
// tool errors are surfaced via completeToolCall(isError=true) and do not
// abort the round (§4.E step 4).
func (r *Runner) executeToolCalls(ctx context.Context, invCtx toolregistry.InvocationContext, toolCalls []pendingToolCall, cfg AgentConfig, builder *messagebuilder.Builder, doomDetector *doomLoopDetector) error {
	i := 0
	for i < len(toolCalls) {
		batch := []pendingToolCall{toolCalls[i]}
		j := i + 1
		if r.isParallelSafe(toolCalls[i].Name) {
			for j < len(toolCalls) && r.isParallelSafe(toolCalls[j].Name) {
				batch = append(batch, toolCalls[j])
				j++
			}
		}

		if len(batch) == 1 {
			if err := r.invokeOne(ctx, invCtx, batch[0], cfg, builder, doomDetector); err != nil {
				return err
			}
		} else if err := r.invokeBatch(ctx, invCtx, batch, cfg, builder, doomDetector); err != nil {
			return err
		}

		i = j
	}
	return nil
}

func (r *Runner) invokeBatch(ctx context.Context, invCtx toolregistry.InvocationContext, batch []pendingToolCall, cfg AgentConfig, builder *messagebuilder.Builder, doomDetector *doomLoopDetector) error {
	errCh := make(chan error, len(batch))
	for _, tc := range batch {
		go func(tc pendingToolCall) {
			errCh <- r.invokeOne(ctx, invCtx, tc, cfg, builder, doomDetector)
		}(tc)
	}
	var first error
	for range batch {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (r *Runner) invokeOne(ctx context.Context, invCtx toolregistry.InvocationContext, tc pendingToolCall, cfg AgentConfig, builder *messagebuilder.Builder, doomDetector *doomLoopDetector) error {
	var result any
	var err error
	if !cfg.toolAllowed(tc.Name) {
		err = apperror.ErrToolNotFound.WithMessage("tool is not in this agent's permitted tool set").
			WithDetails(map[string]any{"tool": tc.Name, "agent": cfg.Name})
	} else {
		result, err = r.registry.Invoke(ctx, tc.Name, invCtx, tc.Args)
	}
	isError := err != nil

	var resultValue any
	if isError {
		resultValue = err.Error()
	} else {
		resultValue = result
	}
	builder.CompleteToolCall(tc.ID, resultValue, isError)

	action, count := doomDetector.recordCall(tc.Name, tc.Args)
	switch action {
	case doomLoopWarn:
		r.log.Warn("doom loop detected: repeated tool call",
			slog.String("task_id", invCtx.TaskID),
			slog.String("tool", tc.Name),
			slog.Int("count", count),
		)
	case doomLoopStop:
		r.log.Error("doom loop hard stop: too many identical calls",
			slog.String("task_id", invCtx.TaskID),
			slog.String("tool", tc.Name),
		)
		return apperror.ErrToolFailed.WithMessage("doom loop detected: identical tool call repeated").
			WithDetails(map[string]any{"tool": tc.Name, "count": count})
	}
	return nil
}

func (r *Runner) isParallelSafe(toolName string) bool {
	reg, ok := r.registry.Lookup(toolName)
	return ok && reg.ParallelSafe
}

// buildSystemPrompt interpolates task.Goal into cfg.SystemPrompt at the
// {{task_goal}} placeholder if present, else appends it.
func buildSystemPrompt(cfg AgentConfig, task plan.Task) string {
	const placeholder = "{{task_goal}}"
	if strings.Contains(cfg.SystemPrompt, placeholder) {
		return strings.ReplaceAll(cfg.SystemPrompt, placeholder, task.Goal)
	}
	return cfg.SystemPrompt + "\n\nYour current task: " + task.Goal
}

// composeHistory returns the default tail window plus every earlier
// message belonging to taskID, in original chronological order (§4.E
// step 1b).
func composeHistory(history []messagebuilder.Message, taskID string) []messagebuilder.Message {
	n := len(history)
	tailStart := 0
	if n > maxTailMessages {
		tailStart = n - maxTailMessages
	}

	out := make([]messagebuilder.Message, 0, n-tailStart)
	for i, m := range history {
		if i >= tailStart || m.TaskID == taskID {
			out = append(out, m)
		}
	}
	return out
}

func toProviderMessages(history []messagebuilder.Message) []modelprovider.Message {
	out := make([]modelprovider.Message, 0, len(history))
	for _, m := range history {
		out = append(out, modelprovider.Message{Role: string(m.Role), Text: m.Content})
	}
	return out
}
