// Package coordinator implements the XCoordinator (spec component G): the
// conversational entry point that classifies user input, generates and
// revises plans, drives the Scheduler one step at a time, and composes the
// final synthesis message. There is no direct teacher precedent for a
// conversational planner/router — this package is grounded on the
// streaming-turn idiom agentrunner.Runner establishes (stream into a fresh
// messagebuilder.Builder) and on domain/project.Store for persistence,
// applied to a new top-level control flow.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/emergent-company/orchestrator/domain/eventbus"
	"github.com/emergent-company/orchestrator/domain/messagebuilder"
	"github.com/emergent-company/orchestrator/domain/plan"
	"github.com/emergent-company/orchestrator/domain/project"
	"github.com/emergent-company/orchestrator/domain/scheduler"
	"github.com/emergent-company/orchestrator/internal/config"
	"github.com/emergent-company/orchestrator/pkg/apperror"
	"github.com/emergent-company/orchestrator/pkg/logger"
	"github.com/emergent-company/orchestrator/pkg/modelprovider"
)

// Module wires Coordinator as a singleton, binding its CatalogResolver to
// internal/config.TeamConfigStore.ResolveAgentCatalog with cfg.
// DefaultMaxConcurrent substituted whenever a team leaves maxConcurrent
// unset, per ResolveAgentCatalog's own "caller substitutes its own default"
// contract.
var Module = fx.Module("coordinator",
	fx.Provide(newCatalogResolver),
	fx.Provide(New),
)

func newCatalogResolver(store *config.TeamConfigStore, cfg *config.Config) CatalogResolver {
	return func(configRef string) (AgentCatalog, int, error) {
		catalog, maxConcurrent, err := store.ResolveAgentCatalog(configRef)
		if err != nil {
			return nil, 0, err
		}
		if maxConcurrent <= 0 {
			maxConcurrent = cfg.DefaultMaxConcurrent
		}
		return AgentCatalog(catalog), maxConcurrent, nil
	}
}

// Coordinator implements XCoordinator.
type Coordinator struct {
	log            *slog.Logger
	bus            *eventbus.Bus
	store          *project.Store
	provider       modelprovider.ModelProvider
	scheduler      *scheduler.Scheduler
	resolveCatalog CatalogResolver
}

// New constructs a Coordinator.
func New(log *slog.Logger, bus *eventbus.Bus, store *project.Store, provider modelprovider.ModelProvider, sched *scheduler.Scheduler, resolveCatalog CatalogResolver) *Coordinator {
	return &Coordinator{
		log:            log.With(logger.Scope("coordinator")),
		bus:            bus,
		store:          store,
		provider:       provider,
		scheduler:      sched,
		resolveCatalog: resolveCatalog,
	}
}

// Start creates a project. It does not generate a plan (§4.G "does not yet
// generate a plan").
func (c *Coordinator) Start(ctx context.Context, userID, goal, configRef string) (*project.Project, error) {
	p := project.New(userID, goal, configRef)
	if err := c.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	c.bus.Publish(p.ID, eventbus.Event{
		Type: eventbus.TypeProjectStatusChanged,
		Data: eventbus.ProjectStatusChangedData{Status: string(project.StatusPending)},
	})
	return p, nil
}

// ChatResponse is chat's return value (§6 "Chat(projectID, message) →
// response").
type ChatResponse struct {
	Message messagebuilder.Message
	Class   InputClass
}

// Chat implements §4.G's input-classification + plan generation/revision
// flow.
func (c *Coordinator) Chat(ctx context.Context, projectID, text string) (ChatResponse, error) {
	proj, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return ChatResponse{}, err
	}

	history, err := c.store.ListMessages(ctx, projectID)
	if err != nil {
		return ChatResponse{}, err
	}

	userMsg := messagebuilder.Message{
		ID:        uuid.NewString(),
		Role:      messagebuilder.RoleUser,
		Timestamp: time.Now().UTC(),
		Content:   text,
		Parts:     []messagebuilder.Part{{Type: messagebuilder.PartText, Text: text}},
	}
	if err := c.store.AppendMessage(ctx, projectID, userMsg); err != nil {
		return ChatResponse{}, err
	}
	history = append(history, userMsg)

	currentPlan, err := c.store.LoadPlan(ctx, projectID)
	if err != nil {
		return ChatResponse{}, err
	}

	catalog, _, err := c.resolveCatalog(proj.ConfigRef)
	if err != nil {
		return ChatResponse{}, err
	}

	class := ClassInitialGoal
	var diff string
	if currentPlan != nil {
		class, diff, err = c.classify(ctx, history)
		if err != nil {
			return ChatResponse{}, err
		}
	}

	switch class {
	case ClassInitialGoal:
		return c.handleInitialGoal(ctx, proj, history, catalog)
	case ClassPlanAdjustment:
		return c.handlePlanAdjustment(ctx, proj, currentPlan, diff, history, catalog)
	default:
		msg, err := c.streamAssistantTurn(ctx, projectID, directResponseSystemPrompt, history)
		if err != nil {
			return ChatResponse{}, err
		}
		if err := c.store.AppendMessage(ctx, projectID, msg); err != nil {
			return ChatResponse{}, err
		}
		return ChatResponse{Message: msg, Class: ClassQuestion}, nil
	}
}

func (c *Coordinator) handleInitialGoal(ctx context.Context, proj *project.Project, history []messagebuilder.Message, catalog AgentCatalog) (ChatResponse, error) {
	p, err := c.generatePlan(ctx, proj.Goal, history, catalog)
	if err != nil {
		return ChatResponse{}, err
	}
	if err := c.store.SavePlan(ctx, proj.ID, p); err != nil {
		return ChatResponse{}, err
	}

	regenerated := make([]string, 0, len(p.Tasks()))
	for _, t := range p.Tasks() {
		regenerated = append(regenerated, t.ID)
	}
	c.bus.Publish(proj.ID, eventbus.Event{
		Type: eventbus.TypePlanUpdated,
		Data: eventbus.PlanUpdatedData{Version: p.Version, RegeneratedTaskIDs: regenerated},
	})

	msg := c.announceMessage(proj.ID, "Plan created with a new task breakdown for this goal.")
	if err := c.store.AppendMessage(ctx, proj.ID, msg); err != nil {
		return ChatResponse{}, err
	}
	return ChatResponse{Message: msg, Class: ClassInitialGoal}, nil
}

func (c *Coordinator) handlePlanAdjustment(ctx context.Context, proj *project.Project, currentPlan *plan.Plan, diff string, history []messagebuilder.Message, catalog AgentCatalog) (ChatResponse, error) {
	if currentPlan == nil {
		return c.handleInitialGoal(ctx, proj, history, catalog)
	}

	rev, err := c.revisePlan(ctx, currentPlan, diff, history, catalog)
	if err != nil {
		// Per §7's propagation policy, a RevisionConflict/InvalidPlan at this
		// level is translated into a chat response, not a project failure.
		if appErr, ok := err.(*apperror.Error); ok {
			msg := c.announceErrorMessage(proj.ID, appErr)
			if aerr := c.store.AppendMessage(ctx, proj.ID, msg); aerr != nil {
				return ChatResponse{}, aerr
			}
			return ChatResponse{Message: msg, Class: ClassPlanAdjustment}, nil
		}
		return ChatResponse{}, err
	}

	if err := c.store.SavePlan(ctx, proj.ID, currentPlan); err != nil {
		return ChatResponse{}, err
	}

	c.bus.Publish(proj.ID, eventbus.Event{
		Type: eventbus.TypePlanUpdated,
		Data: eventbus.PlanUpdatedData{
			Version:            rev.Version,
			PreservedTaskIDs:   rev.CarriedOverTaskIDs,
			RegeneratedTaskIDs: rev.NewTaskIDs,
		},
	})

	msg := c.announceMessage(proj.ID, "Plan revised; completed work was preserved.")
	if err := c.store.AppendMessage(ctx, proj.ID, msg); err != nil {
		return ChatResponse{}, err
	}
	return ChatResponse{Message: msg, Class: ClassPlanAdjustment}, nil
}

func (c *Coordinator) announceErrorMessage(projectID string, appErr *apperror.Error) messagebuilder.Message {
	builder := messagebuilder.New(c.bus, projectID)
	builder.BeginMessage(uuid.NewString(), messagebuilder.RoleAssistant)
	builder.AppendError(appErr.Message, appErr.Code)
	return builder.FinishMessage()
}

// StepReport is step's return value (§6 "Step(projectID) → stepReport").
type StepReport struct {
	TaskID        string
	Status        plan.TaskStatus
	Done          bool
	ProjectStatus project.Status
}

// Step delegates to Scheduler.Step and handles the terminal transitions
// §4.G's "step semantics" and "Failure semantics" describe.
func (c *Coordinator) Step(ctx context.Context, projectID string) (StepReport, error) {
	proj, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return StepReport{}, err
	}
	if proj.Status == project.StatusCompleted || proj.Status == project.StatusFailed {
		return StepReport{Done: true, ProjectStatus: proj.Status}, nil
	}

	p, err := c.store.LoadPlan(ctx, projectID)
	if err != nil {
		return StepReport{}, err
	}
	if p == nil {
		return StepReport{ProjectStatus: proj.Status}, nil
	}

	history, err := c.store.ListMessages(ctx, projectID)
	if err != nil {
		return StepReport{}, err
	}

	if proj.Status == project.StatusPending {
		if err := c.transitionProject(ctx, proj, project.StatusRunning, ""); err != nil {
			return StepReport{}, err
		}
	}

	catalog, maxConcurrent, err := c.resolveCatalog(proj.ConfigRef)
	if err != nil {
		return StepReport{}, err
	}

	work := scheduler.WorkItem{
		ProjectID:     projectID,
		Plan:          p,
		History:       history,
		Workspace:     newWorkspace(projectID),
		ResolveAgent:  catalog.resolve,
		MaxConcurrent: maxConcurrent,
	}

	progress, err := c.scheduler.Step(ctx, work)
	if err != nil {
		return StepReport{}, err
	}
	if err := c.store.SavePlan(ctx, projectID, p); err != nil {
		return StepReport{}, err
	}

	if progress.Status == plan.StatusFailed {
		if t, ok := p.Task(progress.TaskID); ok && t.OnFailure == plan.OnFailureAbort {
			c.scheduler.Drain(ctx, work)
			if err := c.store.SavePlan(ctx, projectID, p); err != nil {
				return StepReport{}, err
			}
			if err := c.transitionProject(ctx, proj, project.StatusFailed, "task aborted"); err != nil {
				return StepReport{}, err
			}
			return StepReport{TaskID: progress.TaskID, Status: progress.Status, Done: true, ProjectStatus: project.StatusFailed}, nil
		}
	}

	if progress.Done || p.AllTerminal() {
		return c.finish(ctx, proj, p, history)
	}

	return StepReport{TaskID: progress.TaskID, Status: progress.Status, ProjectStatus: proj.Status}, nil
}

// finish composes the final synthesis message and marks the project
// completed, per §4.G "Final synthesis."
func (c *Coordinator) finish(ctx context.Context, proj *project.Project, p *plan.Plan, history []messagebuilder.Message) (StepReport, error) {
	synthesisHistory := append(append([]messagebuilder.Message(nil), history...), messagebuilder.Message{
		Role:    messagebuilder.RoleUser,
		Content: renderTaskResults(p),
	})

	msg, err := c.streamAssistantTurn(ctx, proj.ID, synthesisSystemPrompt, synthesisHistory)
	if err != nil {
		return StepReport{}, err
	}
	if err := c.store.AppendMessage(ctx, proj.ID, msg); err != nil {
		return StepReport{}, err
	}
	if err := c.transitionProject(ctx, proj, project.StatusCompleted, ""); err != nil {
		return StepReport{}, err
	}
	return StepReport{Done: true, ProjectStatus: project.StatusCompleted}, nil
}

// CancelProject implements §6 "CancelProject(projectID)" and §5
// "Cancellation semantics": cancelling a project cancels its Scheduler,
// which cancels all running workers, which cancel their in-flight
// model/tool calls. It blocks until every worker still running at the
// moment of cancellation has reported a terminal taskStatusChanged{failed,
// reason=cancelled}, then publishes exactly one terminal
// projectStatusChanged{failed, reason=cancelled} — after which no further
// events for the project are produced. Idempotent: cancelling an
// already-terminal project is a no-op.
func (c *Coordinator) CancelProject(ctx context.Context, projectID string) error {
	proj, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if proj.Status == project.StatusCompleted || proj.Status == project.StatusFailed {
		return nil
	}

	p, err := c.store.LoadPlan(ctx, projectID)
	if err != nil {
		return err
	}

	c.scheduler.CancelProject(projectID)

	if p != nil {
		c.scheduler.Drain(ctx, scheduler.WorkItem{ProjectID: projectID, Plan: p})
		if err := c.store.SavePlan(ctx, projectID, p); err != nil {
			return err
		}
	}

	if err := c.transitionProject(ctx, proj, project.StatusFailed, "cancelled"); err != nil {
		return err
	}
	c.scheduler.Forget(projectID)
	return nil
}

func (c *Coordinator) transitionProject(ctx context.Context, proj *project.Project, status project.Status, reason string) error {
	if err := c.store.UpdateStatus(ctx, proj.ID, status); err != nil {
		return err
	}
	proj.Status = status
	c.bus.Publish(proj.ID, eventbus.Event{
		Type: eventbus.TypeProjectStatusChanged,
		Data: eventbus.ProjectStatusChangedData{Status: string(status), Reason: reason},
	})
	return nil
}

// IsComplete reports whether a project has reached a terminal status.
func (c *Coordinator) IsComplete(ctx context.Context, projectID string) (bool, error) {
	proj, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return false, err
	}
	return proj.Status == project.StatusCompleted || proj.Status == project.StatusFailed, nil
}
