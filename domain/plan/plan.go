// Package plan implements the DAG task model (spec component C): task set,
// statuses, dependency edges, and a monotonic version counter. Grounded on
// the teacher's domain/agents/entity.go enum/struct conventions, with cycle
// detection via Kahn's algorithm as the spec prescribes. Unlike the
// teacher's bun-backed entities, Plan is a pure in-memory aggregate: the
// scheduler and coordinator mutate it directly under its own mutex, and a
// durable snapshot is written out by domain/project's store.
package plan

import (
	"sort"
	"strings"
	"sync"

	"github.com/emergent-company/orchestrator/pkg/apperror"
)

// TaskStatus is a Task's position in the pending -> running -> {completed,
// failed} lattice (§3).
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// OnFailure governs what the scheduler does when a task's AgentRunner
// reports failure.
type OnFailure string

const (
	OnFailureAbort    OnFailure = "abort"
	OnFailureContinue OnFailure = "continue"
	OnFailureRetry    OnFailure = "retry"
)

// FinalMarker is the distinguished sentinel an Action may contain to denote
// the terminal synthesis task (§3, optional).
const FinalMarker = "final"

// Task is one node of a Plan.
type Task struct {
	ID            string
	Name          string
	Goal          string
	AssignedAgent string
	Dependencies  []string
	Status        TaskStatus
	OnFailure     OnFailure
	Result        string
	Attempts      int
}

// Ready reports whether t may be dispatched given the status of its
// dependencies, all looked up in tasks.
func (t *Task) ready(tasks map[string]*Task) bool {
	if t.Status != StatusPending {
		return false
	}
	for _, dep := range t.Dependencies {
		d, ok := tasks[dep]
		if !ok || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Plan is a DAG of Tasks with a monotonically increasing Version.
type Plan struct {
	mu      sync.RWMutex
	Goal    string
	tasks   map[string]*Task
	Version int
}

// New creates an empty Plan addressing goal, at Version 1.
func New(goal string) *Plan {
	return &Plan{Goal: goal, Version: 1, tasks: make(map[string]*Task)}
}

// FromSnapshot rehydrates a Plan from persisted state (domain/project's
// store), bypassing AddTask's incremental invariant checks since a
// previously-persisted plan is assumed to already satisfy them.
func FromSnapshot(goal string, version int, tasks []Task) *Plan {
	p := &Plan{Goal: goal, Version: version, tasks: make(map[string]*Task, len(tasks))}
	for i := range tasks {
		t := tasks[i]
		p.tasks[t.ID] = &t
	}
	return p
}

// AddTask validates and inserts task, failing with InvalidPlan on a
// duplicate id, a dangling dependency, or a cycle.
func (p *Plan) AddTask(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.tasks[task.ID]; exists {
		return apperror.ErrInvalidPlan.WithMessage("duplicate task id").
			WithDetails(map[string]any{"kind": "duplicate_id", "taskId": task.ID})
	}

	trial := p.cloneTasksLocked()
	t := task
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.OnFailure == "" {
		t.OnFailure = OnFailureAbort
	}
	trial[t.ID] = &t

	for _, dep := range t.Dependencies {
		if _, ok := trial[dep]; !ok {
			return apperror.ErrInvalidPlan.WithMessage("dependency references unknown task").
				WithDetails(map[string]any{"kind": "dangling_edge", "taskId": t.ID, "dependency": dep})
		}
	}

	if cyc := findCycle(trial); cyc != nil {
		return apperror.ErrInvalidPlan.WithMessage("adding task would introduce a cycle").
			WithDetails(map[string]any{"kind": "cycle", "participants": cyc})
	}

	p.tasks = trial
	return nil
}

// SetStatus applies a status transition, failing with InvalidTransition if
// it violates the lattice (pending -> running -> {completed, failed}, plus
// pending -> failed for a task that is never dispatched; no back-edges).
// Setting a task to its current status is a no-op.
func (p *Plan) SetStatus(taskID string, newStatus TaskStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tasks[taskID]
	if !ok {
		return apperror.ErrInvalidPlan.WithMessage("unknown task id").
			WithDetails(map[string]any{"taskId": taskID})
	}

	if !validTransition(t.Status, newStatus) {
		return apperror.ErrInvalidTransition.WithMessage("illegal status transition").
			WithDetails(map[string]any{"taskId": taskID, "from": string(t.Status), "to": string(newStatus)})
	}

	t.Status = newStatus
	return nil
}

func validTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// SetResult records a task's completion summary; it changes neither Status
// nor Attempts (see IncrementAttempts).
func (p *Plan) SetResult(taskID, result string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tasks[taskID]; ok {
		t.Result = result
	}
}

// IncrementAttempts bumps a task's retry counter and returns the new value.
func (p *Plan) IncrementAttempts(taskID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[taskID]
	if !ok {
		return 0
	}
	t.Attempts++
	return t.Attempts
}

// Task returns a copy of the task with the given id.
func (p *Plan) Task(taskID string) (Task, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Tasks returns a copy of every task, unordered.
func (p *Plan) Tasks() []Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Task, 0, len(p.tasks))
	for _, t := range p.tasks {
		out = append(out, *t)
	}
	return out
}

// ReadyTasks returns every task whose status is pending and whose
// dependencies are all completed (§4.C). Order is unspecified.
func (p *Plan) ReadyTasks() []Task {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []Task
	for _, t := range p.tasks {
		if t.ready(p.tasks) {
			out = append(out, *t)
		}
	}
	return out
}

// AllTerminal reports whether every task has reached completed or failed.
func (p *Plan) AllTerminal() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.tasks {
		if t.Status != StatusCompleted && t.Status != StatusFailed {
			return false
		}
	}
	return true
}

// Revision is the result of a successful Revise call. CarriedOverTaskIDs
// are the ids that retained their Status/Result/Attempts verbatim — either
// because the task was running in flight, or because the caller named it
// in Revise's preserve set. NewTaskIDs is every other id in the resulting
// plan, regenerated to pending — including one that reuses an old, now
// discarded id. The coordinator uses these two lists directly as
// planUpdated's preservedTaskIds/regeneratedTaskIds (§4.G step 5).
type Revision struct {
	CarriedOverTaskIDs []string
	NewTaskIDs         []string
	Version            int
}

// Revise atomically replaces the task set per §4.C/§4.G. A removed task
// that is currently running fails the whole call with RevisionConflict.
// Among tasks whose id appears in both sets: one that is currently running
// always retains Status/Result/Attempts (a task in flight can't be reset
// out from under the scheduler); one named in preserve (the coordinator's
// narrower "preservation set" — completed work whose goal is unchanged,
// §4.G step 2) likewise retains them; every other task — including one
// that happens to reuse an old, non-running id the model didn't intend to
// preserve — starts fresh at pending, per §4.G step 3 ("all other tasks in
// P' start status=pending"). preserve may be nil. The new graph must
// itself be acyclic and dangling-free; Version increments only on success.
func (p *Plan) Revise(newTasks []Task, preserve map[string]bool) (*Revision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	newByID := make(map[string]*Task, len(newTasks))
	for i := range newTasks {
		t := newTasks[i]
		if t.Status == "" {
			t.Status = StatusPending
		}
		if t.OnFailure == "" {
			t.OnFailure = OnFailureAbort
		}
		newByID[t.ID] = &t
	}

	for id, old := range p.tasks {
		if _, stillPresent := newByID[id]; !stillPresent && old.Status == StatusRunning {
			return nil, apperror.ErrRevisionConflict.WithMessage("revision would drop a running task").
				WithDetails(map[string]any{"taskId": id})
		}
	}

	var carriedOver, brandNew []string
	for id, nt := range newByID {
		old, existed := p.tasks[id]
		if existed && (old.Status == StatusRunning || preserve[id]) {
			nt.Status = old.Status
			nt.Result = old.Result
			nt.Attempts = old.Attempts
			carriedOver = append(carriedOver, id)
			continue
		}
		brandNew = append(brandNew, id)
	}

	for _, dep := range allDependencies(newByID) {
		if _, ok := newByID[dep]; !ok {
			return nil, apperror.ErrInvalidPlan.WithMessage("dependency references unknown task").
				WithDetails(map[string]any{"kind": "dangling_edge", "dependency": dep})
		}
	}
	if cyc := findCycle(newByID); cyc != nil {
		return nil, apperror.ErrInvalidPlan.WithMessage("revision would introduce a cycle").
			WithDetails(map[string]any{"kind": "cycle", "participants": cyc})
	}

	sort.Strings(carriedOver)
	sort.Strings(brandNew)

	p.tasks = newByID
	p.Version++

	return &Revision{CarriedOverTaskIDs: carriedOver, NewTaskIDs: brandNew, Version: p.Version}, nil
}

func allDependencies(tasks map[string]*Task) []string {
	var deps []string
	for _, t := range tasks {
		deps = append(deps, t.Dependencies...)
	}
	return deps
}

func (p *Plan) cloneTasksLocked() map[string]*Task {
	out := make(map[string]*Task, len(p.tasks)+1)
	for id, t := range p.tasks {
		cp := *t
		out[id] = &cp
	}
	return out
}

// findCycle runs Kahn's algorithm; if the graph is not fully reducible it
// returns the ids that remain (the cycle's participants plus any task that
// depends on one of them), else nil.
func findCycle(tasks map[string]*Task) []string {
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for id, t := range tasks {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range t.Dependencies {
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		next := append([]string(nil), dependents[id]...)
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited == len(tasks) {
		return nil
	}

	var remaining []string
	for id, deg := range indegree {
		if deg > 0 {
			remaining = append(remaining, id)
		}
	}
	sort.Strings(remaining)
	return remaining
}

// NormalizeGoal collapses whitespace for the preservation-set goal
// comparison in XCoordinator revision (§4.G: "goal ≡ goal after whitespace
// normalization").
func NormalizeGoal(goal string) string {
	return strings.Join(strings.Fields(goal), " ")
}
