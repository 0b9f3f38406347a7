package coordinator

import "github.com/emergent-company/orchestrator/pkg/apperror"

func errUnknownAgent(name string) *apperror.Error {
	return apperror.ErrInvalidPlan.WithMessage("assignedAgent is not a configured agent").
		WithDetails(map[string]any{"kind": "unknown_agent", "agent": name})
}
