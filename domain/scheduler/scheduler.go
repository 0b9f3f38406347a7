// Package scheduler implements the DAG Scheduler (spec component F):
// bounded-parallelism dispatch of a Plan's ready tasks onto AgentRunner
// workers. There is no teacher precedent for DAG scheduling — the
// teacher's own domain/scheduler is cron-based (robfig/cron, relocated to
// internal/jobs) — so this package borrows only the teacher's concurrency
// idiom: a mutex-guarded struct tracking in-flight work, in the style of
// domain/agents/executor.go's stepTracker and domain/workspace/store.go's
// repository shape, applied to a new problem.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"go.uber.org/fx"

	"github.com/emergent-company/orchestrator/domain/agentrunner"
	"github.com/emergent-company/orchestrator/domain/eventbus"
	"github.com/emergent-company/orchestrator/domain/messagebuilder"
	"github.com/emergent-company/orchestrator/domain/plan"
	"github.com/emergent-company/orchestrator/domain/toolregistry"
	"github.com/emergent-company/orchestrator/pkg/apperror"
	"github.com/emergent-company/orchestrator/pkg/logger"
	"github.com/emergent-company/orchestrator/pkg/metrics"
)

// DefaultMaxConcurrent is maxConcurrent from §4.F.
const DefaultMaxConcurrent = 3

// AgentRunner is the subset of agentrunner.Runner the Scheduler dispatches
// onto workers. Declared as an interface here (agentrunner.Runner satisfies
// it) so scheduler tests can supply a fake without building the real
// provider stack.
type AgentRunner interface {
	RunTask(ctx context.Context, projectID string, workspace toolregistry.Workspace, history []messagebuilder.Message, task plan.Task, cfg agentrunner.AgentConfig) (agentrunner.TaskResult, error)
}

// AgentResolver maps a task's assignedAgent name to the AgentConfig
// AgentRunner needs to run it (the real implementation resolves this from
// project configuration; tests supply a stub).
type AgentResolver func(assignedAgent string) (agentrunner.AgentConfig, error)

// Progress is step's return value: the single task whose completion the
// call integrated, or a nil TaskID when the plan was already fully
// terminal ("done").
type Progress struct {
	TaskID string
	Status plan.TaskStatus
	Done   bool
}

// Module wires Scheduler as a singleton, binding the concrete
// agentrunner.Runner to the AgentRunner interface above via fx.Annotate/
// fx.As, the same idiom internal/database uses for bun.IDB.
var Module = fx.Module("scheduler",
	fx.Provide(
		fx.Annotate(
			func(r *agentrunner.Runner) AgentRunner { return r },
			fx.As(new(AgentRunner)),
		),
	),
	fx.Provide(New),
)

// Scheduler dispatches a single project's Plan onto bounded concurrent
// AgentRunner workers. One Scheduler instance is shared across projects;
// per-project state (in-flight workers) lives in an internal projectState
// keyed by projectID, so there is at most one live dispatch loop per
// project as §4.F's single-scheduler-per-project invariant requires.
type Scheduler struct {
	log    *slog.Logger
	bus    *eventbus.Bus
	runner AgentRunner

	mu       sync.Mutex
	projects map[string]*projectState
}

// projectState tracks one project's in-flight workers and serializes
// dispatch against concurrent step calls for the same project. ctx/cancel
// is the project's own cancellation scope, independent of any single
// Step call's request context, so CancelProject reaches workers dispatched
// by an earlier, already-returned Step call.
type projectState struct {
	mu      sync.Mutex
	results chan workerResult
	running map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

type workerResult struct {
	taskID string
	status plan.TaskStatus
	result string
	reason string
}

// New constructs a Scheduler.
func New(log *slog.Logger, bus *eventbus.Bus, runner AgentRunner) *Scheduler {
	return &Scheduler{
		log:      log.With(logger.Scope("scheduler")),
		bus:      bus,
		runner:   runner,
		projects: make(map[string]*projectState),
	}
}

func (s *Scheduler) stateFor(projectID string) *projectState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.projects[projectID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		st = &projectState{
			results: make(chan workerResult, 16),
			running: make(map[string]struct{}),
			ctx:     ctx,
			cancel:  cancel,
		}
		s.projects[projectID] = st
	}
	return st
}

// CancelProject cancels projectID's scheduling scope: every currently
// running worker's context is cancelled, and any worker dispatched before
// this call returns promptly with a cancelled result. Per §5 "Cancellation
// semantics", this is idempotent — cancelling an already-cancelled or
// unknown project is a no-op beyond creating its (already-cancelled)
// state.
func (s *Scheduler) CancelProject(projectID string) {
	st := s.stateFor(projectID)
	st.cancel()
}

// Forget releases a project's scheduler state once its plan is fully
// terminal, so a long-lived Scheduler doesn't accumulate state forever.
func (s *Scheduler) Forget(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.projects[projectID]; ok {
		st.cancel()
	}
	delete(s.projects, projectID)
}

// WorkItem is everything one Step invocation needs to dispatch and run
// tasks for a project: the plan itself, the task history/workspace the
// runner needs, and per-project concurrency/agent configuration.
type WorkItem struct {
	ProjectID     string
	Plan          *plan.Plan
	History       []messagebuilder.Message
	Workspace     toolregistry.Workspace
	MaxConcurrent int
	ResolveAgent  AgentResolver
}

func (w WorkItem) maxConcurrent() int {
	if w.MaxConcurrent > 0 {
		return w.MaxConcurrent
	}
	return DefaultMaxConcurrent
}

// Step performs one §4.F step: top off running workers to maxConcurrent
// with the highest-priority ready tasks, then await exactly one worker's
// completion and integrate it. If no task is ready and none is (or becomes)
// running, it returns Progress{Done: true} immediately — this is the only
// case in which Step does not block. Otherwise it blocks on the shared
// completion channel rather than polling, satisfying §4.F step 2's
// cooperative wait when a prior Step call already has workers in flight.
func (s *Scheduler) Step(ctx context.Context, w WorkItem) (Progress, error) {
	st := s.stateFor(w.ProjectID)

	st.mu.Lock()
	slots := w.maxConcurrent() - len(st.running)
	if slots > 0 {
		ready := selectReady(w.Plan.ReadyTasks(), slots)
		for _, t := range ready {
			s.dispatch(ctx, st, w, t)
		}
	}
	done := len(st.running) == 0
	st.mu.Unlock()

	if done {
		return Progress{Done: true}, nil
	}

	select {
	case <-ctx.Done():
		return Progress{}, apperror.ErrCancelled.WithInternal(ctx.Err())
	case <-st.ctx.Done():
		return Progress{}, apperror.ErrCancelled.WithInternal(st.ctx.Err())
	case res := <-st.results:
		return s.integrate(w, st, res)
	}
}

// selectReady applies §4.F's tie-break (fewer dependencies first, then
// lexicographic id) and caps the result at max.
func selectReady(ready []plan.Task, max int) []plan.Task {
	sort.Slice(ready, func(i, j int) bool {
		if len(ready[i].Dependencies) != len(ready[j].Dependencies) {
			return len(ready[i].Dependencies) < len(ready[j].Dependencies)
		}
		return ready[i].ID < ready[j].ID
	})
	if len(ready) > max {
		ready = ready[:max]
	}
	return ready
}

// dispatch transitions t to running, publishes taskStatusChanged, and
// spawns its worker goroutine. Caller holds st.mu.
func (s *Scheduler) dispatch(ctx context.Context, st *projectState, w WorkItem, t plan.Task) {
	if err := w.Plan.SetStatus(t.ID, plan.StatusRunning); err != nil {
		s.log.Error("dispatch: illegal transition to running", logger.Error(err), slog.String("task_id", t.ID))
		return
	}
	st.running[t.ID] = struct{}{}
	metrics.SchedulerRunningTasks.WithLabelValues(w.ProjectID).Set(float64(len(st.running)))
	s.bus.Publish(w.ProjectID, eventbus.Event{
		Type: eventbus.TypeTaskStatusChanged,
		Data: eventbus.TaskStatusChangedData{TaskID: t.ID, Status: string(plan.StatusRunning)},
	})

	cfg, err := w.ResolveAgent(t.AssignedAgent)
	if err != nil {
		st.results <- workerResult{taskID: t.ID, status: plan.StatusFailed, result: err.Error()}
		return
	}

	// workerCtx is cancelled by either this Step call's own request context
	// or the project's own cancellation scope (st.ctx), so a worker
	// dispatched here still observes CancelProject even after this Step
	// call has long since returned.
	workerCtx, stop := mergeCancel(ctx, st.ctx)
	go func() {
		defer stop()
		result, err := s.runner.RunTask(workerCtx, w.ProjectID, w.Workspace, w.History, t, cfg)
		if err != nil {
			reason := ""
			if st.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				reason = "cancelled"
			}
			st.results <- workerResult{taskID: t.ID, status: plan.StatusFailed, result: err.Error(), reason: reason}
			return
		}
		st.results <- workerResult{taskID: t.ID, status: result.Status, result: result.Summary}
	}()
}

// mergeCancel returns a context cancelled as soon as either a or b is
// cancelled. The returned stop func releases resources and must be called
// once the caller is done observing the context, same as a plain
// context.WithCancel.
func mergeCancel(a, b context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// integrate applies one worker's outcome to the plan and publishes the
// terminal taskStatusChanged, per §4.F step 5.
func (s *Scheduler) integrate(w WorkItem, st *projectState, res workerResult) (Progress, error) {
	st.mu.Lock()
	delete(st.running, res.taskID)
	running := len(st.running)
	st.mu.Unlock()
	metrics.SchedulerRunningTasks.WithLabelValues(w.ProjectID).Set(float64(running))

	w.Plan.SetResult(res.taskID, res.result)
	if err := w.Plan.SetStatus(res.taskID, res.status); err != nil {
		s.log.Error("integrate: illegal terminal transition", logger.Error(err), slog.String("task_id", res.taskID))
	}

	s.bus.Publish(w.ProjectID, eventbus.Event{
		Type: eventbus.TypeTaskStatusChanged,
		Data: eventbus.TaskStatusChangedData{TaskID: res.taskID, Status: string(res.status), Reason: res.reason},
	})

	// A cancelled task's siblings aren't "unreachable due to a dependency
	// failure" — the whole project is shutting down, and CancelProject
	// transitions it to failed directly once draining completes.
	if res.status == plan.StatusFailed && res.reason != "cancelled" {
		s.failUnreachable(w)
	}

	return Progress{TaskID: res.taskID, Status: res.status}, nil
}

// ExecutionResult is ExecutePlan's outcome: either the plan ran to
// completion (every task terminal) or it was aborted by a task that failed
// with onFailure=abort. Aborted is a normal, non-error outcome — per §4.G
// it is the coordinator's job to transition the project to failed status
// in response, not the scheduler's.
type ExecutionResult struct {
	Aborted       bool
	AbortedTaskID string
}

// ExecutePlan loops Step until the plan is fully terminal, a task fails
// with onFailure=abort, or ctx is cancelled. On abort it drains remaining
// running workers (their results are integrated but trigger no new
// dispatches) before returning.
func (s *Scheduler) ExecutePlan(ctx context.Context, w WorkItem) (ExecutionResult, error) {
	defer s.Forget(w.ProjectID)

	for {
		progress, err := s.Step(ctx, w)
		if err != nil {
			return ExecutionResult{}, err
		}
		if progress.Done {
			return ExecutionResult{}, nil
		}

		if progress.Status == plan.StatusFailed {
			t, _ := w.Plan.Task(progress.TaskID)
			if t.OnFailure == plan.OnFailureAbort {
				s.drainRunning(ctx, w)
				return ExecutionResult{Aborted: true, AbortedTaskID: progress.TaskID}, nil
			}
		}
	}
}

// failUnreachable marks every pending task with a failed dependency as
// failed (result "dependency failed") so it is never dispatched, repeating
// until no such task is left so the failure reaches transitive dependents,
// per §4.G's failure semantics. integrate calls it after every task failure
// other than a cancellation.
func (s *Scheduler) failUnreachable(w WorkItem) {
	marked := false
	defer func() {
		if marked {
			s.failUnreachable(w)
		}
	}()
	for _, t := range w.Plan.Tasks() {
		if t.Status != plan.StatusPending {
			continue
		}
		if !hasFailedDependency(t, w.Plan) {
			continue
		}
		w.Plan.SetResult(t.ID, "dependency failed")
		if err := w.Plan.SetStatus(t.ID, plan.StatusFailed); err != nil {
			s.log.Error("failUnreachable: illegal transition", logger.Error(err), slog.String("task_id", t.ID))
			continue
		}
		marked = true
		s.bus.Publish(w.ProjectID, eventbus.Event{
			Type: eventbus.TypeTaskStatusChanged,
			Data: eventbus.TaskStatusChangedData{TaskID: t.ID, Status: string(plan.StatusFailed), Reason: "dependency failed"},
		})
	}
}

func hasFailedDependency(t plan.Task, p *plan.Plan) bool {
	for _, dep := range t.Dependencies {
		d, ok := p.Task(dep)
		if ok && d.Status == plan.StatusFailed {
			return true
		}
	}
	return false
}

// Drain blocks until every currently-running worker for w.ProjectID has
// been integrated, dispatching nothing new. Exported for callers (the
// coordinator) that detect an onFailure=abort outside of ExecutePlan's own
// loop and must still let in-flight workers settle before transitioning
// the project to failed, per §4.G "after the scheduler drains."
func (s *Scheduler) Drain(ctx context.Context, w WorkItem) {
	s.drainRunning(ctx, w)
}

// drainRunning waits for and integrates every still-running worker's
// result without dispatching anything new, per §4.F "their results, if
// they arrive, are still integrated but do not trigger new dispatches."
func (s *Scheduler) drainRunning(ctx context.Context, w WorkItem) {
	st := s.stateFor(w.ProjectID)
	for {
		st.mu.Lock()
		n := len(st.running)
		st.mu.Unlock()
		if n == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case res := <-st.results:
			_, _ = s.integrate(w, st, res)
		}
	}
}
