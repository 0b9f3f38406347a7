package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/emergent-company/orchestrator/domain/agentrunner"
	"github.com/emergent-company/orchestrator/pkg/apperror"
	"github.com/emergent-company/orchestrator/pkg/logger"
)

// TeamConfig is a project's configRef target (§6 "Configuration
// (configRef)"): a named team, its agent roster, and execution parameters.
// Loaded once per project at CreateProject; in-flight reconfiguration is
// not supported.
type TeamConfig struct {
	Name               string      `yaml:"name"`
	Agents             []AgentSpec `yaml:"agents"`
	MaxRounds          int         `yaml:"maxRounds"`
	MaxConcurrent      int         `yaml:"maxConcurrent"`
	InitialAgent       string      `yaml:"initialAgent"`
	CompletionSentinel string      `yaml:"completionSentinel"`
}

// AgentSpec is one entry in a TeamConfig's agent roster.
type AgentSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// PromptTemplate is either a path (relative to the team config file)
	// to a prompt file, or an inline prompt string.
	PromptTemplate string   `yaml:"promptTemplate"`
	LLM            LLMSpec  `yaml:"llmConfig"`
	Tools          []string `yaml:"tools"`
}

// LLMSpec is an agent's requested model parameters. The process runs one
// shared pkg/modelprovider.ModelProvider, and ResolveAgentCatalog does not
// read any of these fields when it builds an AgentConfig; they are parsed
// and kept on AgentSpec only.
type LLMSpec struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"maxTokens"`
}

// TeamConfigStore loads and caches TeamConfigs from a directory of
// "<configRef>.yaml" files, grounded on the teacher's domain/docs.Service
// (baseDir + in-memory cache over os.ReadFile'd files).
type TeamConfigStore struct {
	log     *slog.Logger
	baseDir string

	mu    sync.RWMutex
	cache map[string]*TeamConfig
}

// NewTeamConfigStore constructs a TeamConfigStore rooted at cfg.TeamConfigDir.
func NewTeamConfigStore(log *slog.Logger, cfg *Config) *TeamConfigStore {
	return &TeamConfigStore{
		log:     log.With(logger.Scope("config.teams")),
		baseDir: cfg.TeamConfigDir,
		cache:   make(map[string]*TeamConfig),
	}
}

// Load reads and parses "<configRef>.yaml", caching the result.
func (s *TeamConfigStore) Load(configRef string) (*TeamConfig, error) {
	s.mu.RLock()
	if tc, ok := s.cache[configRef]; ok {
		s.mu.RUnlock()
		return tc, nil
	}
	s.mu.RUnlock()

	path := filepath.Join(s.baseDir, configRef+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.ErrProjectNotFound.WithMessage("team configuration not found").
			WithDetails(map[string]any{"configRef": configRef}).WithInternal(err)
	}

	var tc TeamConfig
	if err := yaml.Unmarshal(raw, &tc); err != nil {
		return nil, apperror.ErrInvalidPlan.WithMessage("team configuration is not valid YAML").
			WithDetails(map[string]any{"configRef": configRef}).WithInternal(err)
	}
	if len(tc.Agents) == 0 {
		return nil, apperror.ErrInvalidPlan.WithMessage("team configuration declares no agents").
			WithDetails(map[string]any{"configRef": configRef})
	}

	s.mu.Lock()
	s.cache[configRef] = &tc
	s.mu.Unlock()

	s.log.Info("loaded team configuration",
		slog.String("configRef", configRef),
		slog.String("team", tc.Name),
		slog.Int("agents", len(tc.Agents)),
	)
	return &tc, nil
}

// ResolveAgentCatalog turns a project's configRef into the agent catalog
// (assignable directly to coordinator.AgentCatalog, which shares this
// map's underlying type) and maxConcurrent the Coordinator/Scheduler need
// to run it, reading each agent's promptTemplate as a file under the team
// config's directory when it names one, or using it as an inline prompt
// string otherwise.
func (s *TeamConfigStore) ResolveAgentCatalog(configRef string) (map[string]agentrunner.AgentConfig, int, error) {
	tc, err := s.Load(configRef)
	if err != nil {
		return nil, 0, err
	}

	catalog := make(map[string]agentrunner.AgentConfig, len(tc.Agents))
	for _, spec := range tc.Agents {
		prompt, err := s.resolvePrompt(spec.PromptTemplate)
		if err != nil {
			return nil, 0, err
		}
		catalog[spec.Name] = agentrunner.AgentConfig{
			Name:               spec.Name,
			SystemPrompt:       prompt,
			CompletionSentinel: tc.CompletionSentinel,
			MaxRounds:          tc.MaxRounds,
			AllowedTools:       spec.Tools,
		}
	}

	maxConcurrent := tc.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 0 // caller substitutes its own default
	}
	return catalog, maxConcurrent, nil
}

// resolvePrompt reads promptTemplate as a file relative to the team config
// directory if it exists, otherwise treats it as an inline prompt.
func (s *TeamConfigStore) resolvePrompt(promptTemplate string) (string, error) {
	if promptTemplate == "" {
		return "", nil
	}
	path := filepath.Join(s.baseDir, promptTemplate)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return promptTemplate, nil
		}
		return "", fmt.Errorf("read prompt template %q: %w", promptTemplate, err)
	}
	return string(raw), nil
}
