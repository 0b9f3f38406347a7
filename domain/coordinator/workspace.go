package coordinator

import "github.com/emergent-company/orchestrator/domain/agentrunner"

// workspace is the minimal toolregistry.Workspace handle threaded into every
// tool invocation for a project: just enough identity for a tool to address
// the external FileStore by (projectID, name, version), per §5's "workspace
// ... is the only durable shared mutable resource."
type workspace struct {
	projectID string
}

func newWorkspace(projectID string) workspace {
	return workspace{projectID: projectID}
}

func (w workspace) ProjectID() string {
	return w.projectID
}

// AgentCatalog resolves a task's assignedAgent name to the AgentConfig
// AgentRunner needs to run it (§6 configRef "a list of agent specifications").
type AgentCatalog map[string]agentrunner.AgentConfig

// CatalogResolver turns a project's configRef into the catalog it runs with
// and the effective scheduler maxConcurrent for that team — the resolver is
// responsible for substituting the process default when the team
// configuration doesn't set its own, so Coordinator never has to reason
// about an unset value. This package's Module provides it through
// newCatalogResolver, a closure around internal/config.TeamConfigStore's
// ResolveAgentCatalog; Coordinator itself only sees this func type.
type CatalogResolver func(configRef string) (AgentCatalog, int, error)

func (a AgentCatalog) resolve(name string) (agentrunner.AgentConfig, error) {
	cfg, ok := a[name]
	if !ok {
		return agentrunner.AgentConfig{}, errUnknownAgent(name)
	}
	return cfg, nil
}

// names lists every configured agent, used to validate a model-proposed
// plan's assignedAgent fields (§4.G "must be one of the configured agents").
func (a AgentCatalog) names() []string {
	out := make([]string, 0, len(a))
	for name := range a {
		out = append(out, name)
	}
	return out
}
