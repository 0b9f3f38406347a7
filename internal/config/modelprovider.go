package config

import "github.com/emergent-company/orchestrator/pkg/modelprovider"

// NewModelProviderConfig builds pkg/modelprovider.Config from the process
// LLM configuration. Lives here rather than in pkg/modelprovider itself so
// that package never has to import internal/config — modelprovider is
// imported by domain/agentrunner, which internal/config already imports
// for AgentConfig, and an import back from modelprovider to config would
// cycle.
func NewModelProviderConfig(cfg *Config) modelprovider.Config {
	return modelprovider.Config{
		ProjectID:       cfg.LLM.GCPProjectID,
		Location:        cfg.LLM.VertexAILocation,
		Model:           cfg.LLM.Model,
		Timeout:         cfg.LLM.Timeout,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	}
}
