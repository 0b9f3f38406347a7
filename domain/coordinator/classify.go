package coordinator

import (
	"context"

	"github.com/emergent-company/orchestrator/domain/messagebuilder"
	"github.com/emergent-company/orchestrator/domain/toolregistry"
	"github.com/emergent-company/orchestrator/pkg/apperror"
)

// InputClass is the result of classifying a user message, per §4.G "input
// classification".
type InputClass string

const (
	ClassInitialGoal    InputClass = "initialGoal"
	ClassPlanAdjustment InputClass = "planAdjustment"
	ClassQuestion       InputClass = "question"
)

var classificationSchema = toolregistry.Object(
	[]string{"label"},
	map[string]*toolregistry.Schema{
		"label": toolregistry.String("one of: initialGoal, planAdjustment, question"),
		"diff":  toolregistry.String("for planAdjustment only: the requested change, in natural language"),
	},
)

type classificationResponse struct {
	Label string `json:"label"`
	Diff  string `json:"diff,omitempty"`
}

func (c *Coordinator) classify(ctx context.Context, history []messagebuilder.Message) (InputClass, string, error) {
	var resp classificationResponse
	err := c.provider.CompleteStructured(ctx, classificationPrompt(), toProviderMessages(history), classificationSchema, &resp)
	if err != nil {
		return "", "", apperror.ErrModelCallFailed.WithInternal(err)
	}

	switch InputClass(resp.Label) {
	case ClassInitialGoal, ClassPlanAdjustment, ClassQuestion:
		return InputClass(resp.Label), resp.Diff, nil
	default:
		return ClassQuestion, "", nil
	}
}
