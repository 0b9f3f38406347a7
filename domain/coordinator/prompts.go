package coordinator

import (
	"fmt"
	"strings"

	"github.com/emergent-company/orchestrator/domain/plan"
)

const classificationPreamble = `You are the routing layer of a multi-agent task orchestrator. Classify the
latest user message into exactly one of: initialGoal, planAdjustment, question.

- initialGoal: there is no plan yet and this message states the goal to plan for.
- planAdjustment: a plan already exists and this message implies the plan should change.
- question: the message is a question or commentary with no plan impact.

If the label is planAdjustment, also fill diff with a short natural-language
description of the requested change.`

func classificationPrompt() string {
	return classificationPreamble
}

func planGenerationPrompt(goal string, agentNames []string, lastErr error) string {
	var b strings.Builder
	b.WriteString("You are the planning layer of a multi-agent task orchestrator. ")
	b.WriteString("Produce a task DAG that accomplishes the following goal:\n\n")
	b.WriteString(goal)
	b.WriteString("\n\nEvery task's assignedAgent must be one of: ")
	b.WriteString(strings.Join(agentNames, ", "))
	b.WriteString(". Dependencies must reference only task ids present in this plan, and must not form a cycle.")
	if lastErr != nil {
		fmt.Fprintf(&b, "\n\nThe previous attempt was invalid: %s. Correct it and return a new complete plan.", lastErr)
	}
	return b.String()
}

func planRevisionPrompt(current *plan.Plan, diff string, agentNames []string) string {
	var b strings.Builder
	b.WriteString("You are the planning layer of a multi-agent task orchestrator, revising an existing plan. ")
	b.WriteString("Return the complete new task set (not just the delta): include unaffected tasks unchanged and apply the requested change below.\n\n")
	b.WriteString("Current plan:\n")
	b.WriteString(renderCurrentPlan(current))
	b.WriteString("\nRequested change: ")
	b.WriteString(diff)
	b.WriteString("\n\nEvery task's assignedAgent must be one of: ")
	b.WriteString(strings.Join(agentNames, ", "))
	b.WriteString(". A task id reused from the current plan is only treated as the same work if its goal is unchanged; give genuinely new work a new id.")
	return b.String()
}

const directResponseSystemPrompt = "You are the orchestrator's conversational coordinator. Answer the user's question or comment directly; you are not driving any task right now."

const synthesisSystemPrompt = "You are the orchestrator's conversational coordinator. Every task in the plan has reached a terminal state. Summarize the outcome for the user in plain language, calling out any task that failed."

func renderTaskResults(p *plan.Plan) string {
	var b strings.Builder
	b.WriteString("Task results:\n")
	for _, t := range p.Tasks() {
		fmt.Fprintf(&b, "- %s (%s): %s — %s\n", t.Name, t.ID, t.Status, t.Result)
	}
	return b.String()
}
