package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/orchestrator/domain/agentrunner"
	"github.com/emergent-company/orchestrator/domain/eventbus"
	"github.com/emergent-company/orchestrator/domain/messagebuilder"
	"github.com/emergent-company/orchestrator/domain/plan"
	"github.com/emergent-company/orchestrator/domain/toolregistry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func noopResolver(string) (agentrunner.AgentConfig, error) {
	return agentrunner.AgentConfig{Name: "worker"}, nil
}

// fakeRunner completes every task after an optional delay, recording call
// order and respecting ctx cancellation. outcomes, if set, overrides the
// per-task result (status/summary); otherwise every task completes.
type fakeRunner struct {
	mu       sync.Mutex
	delay    time.Duration
	calls    []string
	outcomes map[string]agentrunner.TaskResult
}

func (f *fakeRunner) RunTask(ctx context.Context, projectID string, workspace toolregistry.Workspace, history []messagebuilder.Message, task plan.Task, cfg agentrunner.AgentConfig) (agentrunner.TaskResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, task.ID)
	f.mu.Unlock()

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return agentrunner.TaskResult{}, ctx.Err()
	}

	if f.outcomes != nil {
		if out, ok := f.outcomes[task.ID]; ok {
			return out, nil
		}
	}
	return agentrunner.TaskResult{Status: plan.StatusCompleted, Summary: "ok"}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestScheduler(runner AgentRunner) (*Scheduler, *eventbus.Bus) {
	bus := eventbus.New(testLogger())
	return New(testLogger(), bus, runner), bus
}

func addTask(t *testing.T, p *plan.Plan, id string, deps ...string) {
	t.Helper()
	require.NoError(t, p.AddTask(plan.Task{ID: id, Name: id, Goal: "do " + id, AssignedAgent: "worker", Dependencies: deps}))
}

func TestScheduler_ExecutePlan_LinearChainCompletesInOrder(t *testing.T) {
	p := plan.New("goal")
	addTask(t, p, "a")
	addTask(t, p, "b", "a")
	addTask(t, p, "c", "b")

	runner := &fakeRunner{}
	sched, _ := newTestScheduler(runner)

	result, err := sched.ExecutePlan(context.Background(), WorkItem{ProjectID: "p1", Plan: p, ResolveAgent: noopResolver})
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.True(t, p.AllTerminal())
	assert.Equal(t, []string{"a", "b", "c"}, runner.calls)
}

func TestScheduler_Step_RespectsMaxConcurrent(t *testing.T) {
	p := plan.New("goal")
	for _, id := range []string{"a", "b", "c", "d"} {
		addTask(t, p, id)
	}

	release := make(chan struct{})
	gate := make(chan struct{}, 10)

	blocking := &blockingRunner{release: release, started: gate}
	sched, _ := newTestScheduler(blocking)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan Progress, 1)
	go func() {
		progress, err := sched.Step(ctx, WorkItem{ProjectID: "p2", Plan: p, MaxConcurrent: 2, ResolveAgent: noopResolver})
		assert.NoError(t, err)
		done <- progress
	}()

	deadline := time.After(2 * time.Second)
	started := 0
	for started < 2 {
		select {
		case <-gate:
			started++
		case <-deadline:
			t.Fatal("timed out waiting for workers to start")
		}
	}

	running := p.Tasks()
	runningCount := 0
	for _, tk := range running {
		if tk.Status == plan.StatusRunning {
			runningCount++
		}
	}
	assert.Equal(t, 2, runningCount, "only maxConcurrent tasks should be dispatched at once")

	close(release)
	<-done
}

// blockingRunner starts exactly once per task, signals started, then waits
// for release before completing — used to observe mid-flight concurrency.
type blockingRunner struct {
	release chan struct{}
	started chan struct{}
}

func (b *blockingRunner) RunTask(ctx context.Context, projectID string, workspace toolregistry.Workspace, history []messagebuilder.Message, task plan.Task, cfg agentrunner.AgentConfig) (agentrunner.TaskResult, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return agentrunner.TaskResult{}, ctx.Err()
	}
	return agentrunner.TaskResult{Status: plan.StatusCompleted, Summary: "ok"}, nil
}

func TestScheduler_ExecutePlan_AbortStopsDispatchOfUnstartedTasks(t *testing.T) {
	p := plan.New("goal")
	require.NoError(t, p.AddTask(plan.Task{ID: "a", Name: "a", Goal: "fails", AssignedAgent: "worker", OnFailure: plan.OnFailureAbort}))
	addTask(t, p, "b", "a")

	runner := &fakeRunner{outcomes: map[string]agentrunner.TaskResult{
		"a": {Status: plan.StatusFailed, Summary: "boom"},
	}}
	sched, _ := newTestScheduler(runner)

	result, err := sched.ExecutePlan(context.Background(), WorkItem{ProjectID: "p3", Plan: p, ResolveAgent: noopResolver})
	require.NoError(t, err)
	assert.True(t, result.Aborted)
	assert.Equal(t, "a", result.AbortedTaskID)

	bTask, ok := p.Task("b")
	require.True(t, ok)
	assert.Equal(t, plan.StatusFailed, bTask.Status, "b depends on the aborting task and is marked failed, never dispatched")
	assert.Equal(t, "dependency failed", bTask.Result)
	assert.NotContains(t, runner.calls, "b")
}

func TestScheduler_DependencyFailure_MarksDependentsFailedWithoutDispatch(t *testing.T) {
	p := plan.New("goal")
	require.NoError(t, p.AddTask(plan.Task{ID: "a", Name: "a", Goal: "fails", AssignedAgent: "worker", OnFailure: plan.OnFailureContinue}))
	addTask(t, p, "b", "a")
	addTask(t, p, "c")

	runner := &fakeRunner{outcomes: map[string]agentrunner.TaskResult{
		"a": {Status: plan.StatusFailed, Summary: "boom"},
	}}
	sched, _ := newTestScheduler(runner)

	result, err := sched.ExecutePlan(context.Background(), WorkItem{ProjectID: "p4", Plan: p, ResolveAgent: noopResolver})
	require.NoError(t, err)
	assert.False(t, result.Aborted)

	bTask, _ := p.Task("b")
	assert.Equal(t, plan.StatusFailed, bTask.Status)
	assert.Equal(t, "dependency failed", bTask.Result)
	assert.NotContains(t, runner.calls, "b")

	cTask, _ := p.Task("c")
	assert.Equal(t, plan.StatusCompleted, cTask.Status, "c has no failed dependency and still runs")
}

func TestScheduler_SelectReady_TieBreaksByFewerDepsThenID(t *testing.T) {
	ready := []plan.Task{
		{ID: "z", Dependencies: nil},
		{ID: "a", Dependencies: []string{"x", "y"}},
		{ID: "m", Dependencies: nil},
	}
	selected := selectReady(ready, 2)
	require.Len(t, selected, 2)
	assert.Equal(t, "m", selected[0].ID)
	assert.Equal(t, "z", selected[1].ID)
}
