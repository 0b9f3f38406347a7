package coordinator

import (
	"context"
	"fmt"

	"github.com/emergent-company/orchestrator/domain/messagebuilder"
	"github.com/emergent-company/orchestrator/domain/plan"
	"github.com/emergent-company/orchestrator/domain/toolregistry"
	"github.com/emergent-company/orchestrator/pkg/apperror"
)

// maxPlanGenerationAttempts bounds the re-prompt loop in §4.G "plan
// generation": "re-prompts up to 3 times with the specific error, then
// fails with PlanGenerationFailed."
const maxPlanGenerationAttempts = 3

// taskSpec is the model-facing shape of one candidate task, matching
// planSchema's properties exactly.
type taskSpec struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Goal          string   `json:"goal"`
	AssignedAgent string   `json:"assignedAgent"`
	Dependencies  []string `json:"dependencies,omitempty"`
}

// planResponse is the model-facing shape of a full candidate plan, matching
// §4.G "a schema describing {goal, tasks[]}".
type planResponse struct {
	Goal  string     `json:"goal"`
	Tasks []taskSpec `json:"tasks"`
}

var planTaskItemSchema = toolregistry.Object(
	[]string{"id", "name", "goal", "assignedAgent"},
	map[string]*toolregistry.Schema{
		"id":            toolregistry.String("unique task id, stable across revisions"),
		"name":          toolregistry.String("short human label"),
		"goal":          toolregistry.String("natural-language instruction for the assigned agent"),
		"assignedAgent": toolregistry.String("name of one of the configured agents"),
		"dependencies":  {Type: "array", Items: toolregistry.String("id of a task this one depends on")},
	},
)

var planResponseSchema = toolregistry.Object(
	[]string{"goal", "tasks"},
	map[string]*toolregistry.Schema{
		"goal":  toolregistry.String("the user goal this plan addresses"),
		"tasks": {Type: "array", Items: planTaskItemSchema},
	},
)

func (c *Coordinator) requestPlan(ctx context.Context, systemPrompt string, history []messagebuilder.Message) (planResponse, error) {
	var resp planResponse
	err := c.provider.CompleteStructured(ctx, systemPrompt, toProviderMessages(history), planResponseSchema, &resp)
	if err != nil {
		return planResponse{}, apperror.ErrModelCallFailed.WithInternal(err)
	}
	return resp, nil
}

// toTasks converts a model response into plan.Task values, failing with
// errUnknownAgent if any assignedAgent isn't in the catalog. AddTask/Revise
// still re-validates dangling edges and cycles; this only checks what they
// cannot (agent identity).
func (c *Coordinator) toTasks(resp planResponse, catalog AgentCatalog) ([]plan.Task, error) {
	out := make([]plan.Task, 0, len(resp.Tasks))
	for _, ts := range resp.Tasks {
		if _, err := catalog.resolve(ts.AssignedAgent); err != nil {
			return nil, err
		}
		out = append(out, plan.Task{
			ID:            ts.ID,
			Name:          ts.Name,
			Goal:          ts.Goal,
			AssignedAgent: ts.AssignedAgent,
			Dependencies:  ts.Dependencies,
		})
	}
	return out, nil
}

// generatePlan drives §4.G's plan-generation re-prompt loop: build a fresh
// empty Plan from the model's candidate tasks, retrying with the specific
// validation error folded into the prompt on failure.
func (c *Coordinator) generatePlan(ctx context.Context, goal string, history []messagebuilder.Message, catalog AgentCatalog) (*plan.Plan, error) {
	var lastErr error
	for attempt := 1; attempt <= maxPlanGenerationAttempts; attempt++ {
		prompt := planGenerationPrompt(goal, catalog.names(), lastErr)
		resp, err := c.requestPlan(ctx, prompt, history)
		if err != nil {
			return nil, err
		}

		tasks, err := c.toTasks(resp, catalog)
		if err != nil {
			lastErr = err
			continue
		}

		p := plan.New(resp.Goal)
		if p.Goal == "" {
			p.Goal = goal
		}
		buildErr := addAllTasks(p, tasks)
		if buildErr != nil {
			lastErr = buildErr
			continue
		}
		return p, nil
	}
	return nil, apperror.ErrPlanGenerationFailed.WithInternal(lastErr)
}

// addAllTasks adds tasks to p in dependency-friendly order: a task whose
// dependencies aren't yet present is deferred and retried once everything
// else has been attempted, so AddTask's per-call dangling-edge check doesn't
// reject a plan purely because the model listed tasks out of order.
func addAllTasks(p *plan.Plan, tasks []plan.Task) error {
	remaining := append([]plan.Task(nil), tasks...)
	for len(remaining) > 0 {
		progressed := false
		var stillRemaining []plan.Task
		var firstErr error
		for _, t := range remaining {
			if err := p.AddTask(t); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				stillRemaining = append(stillRemaining, t)
				continue
			}
			progressed = true
		}
		if !progressed {
			return firstErr
		}
		remaining = stillRemaining
	}
	return nil
}

// computePreservationSet implements §4.G plan-revision step 2: the tasks in
// both the current plan and the candidate whose current status is completed
// and whose goal is unchanged up to whitespace.
func computePreservationSet(current *plan.Plan, candidate []plan.Task) map[string]bool {
	preserve := make(map[string]bool)
	for _, nt := range candidate {
		old, ok := current.Task(nt.ID)
		if !ok {
			continue
		}
		if old.Status == plan.StatusCompleted && plan.NormalizeGoal(old.Goal) == plan.NormalizeGoal(nt.Goal) {
			preserve[nt.ID] = true
		}
	}
	return preserve
}

// revisePlan drives §4.G's plan-revision flow: obtain a candidate plan
// seeded with the current plan and the requested diff, compute the
// preservation set, and apply it via plan.Revise.
func (c *Coordinator) revisePlan(ctx context.Context, current *plan.Plan, diff string, history []messagebuilder.Message, catalog AgentCatalog) (*plan.Revision, error) {
	prompt := planRevisionPrompt(current, diff, catalog.names())
	resp, err := c.requestPlan(ctx, prompt, history)
	if err != nil {
		return nil, err
	}

	candidate, err := c.toTasks(resp, catalog)
	if err != nil {
		return nil, apperror.ErrPlanGenerationFailed.WithInternal(err)
	}

	preserve := computePreservationSet(current, candidate)
	return current.Revise(candidate, preserve)
}

func renderCurrentPlan(p *plan.Plan) string {
	s := fmt.Sprintf("goal: %s\n", p.Goal)
	for _, t := range p.Tasks() {
		s += fmt.Sprintf("- id=%s status=%s goal=%q deps=%v agent=%s\n", t.ID, t.Status, t.Goal, t.Dependencies, t.AssignedAgent)
	}
	return s
}
