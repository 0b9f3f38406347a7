// Package modelprovider implements the spec's external ModelProvider
// capability against Vertex AI's Gemini streamGenerateContent endpoint.
//
// The teacher wraps google.golang.org/adk's model.LLM (pkg/adk/model.go)
// and drives it through llmagent/runner, but every call site in the
// retrieved pack only ever constructs that model.LLM and threads it
// opaquely into llmagent.Config — no code actually calls one of its
// methods directly, so its real request/response contract isn't
// grounded anywhere reachable. Rather than guess at an ungrounded SDK
// surface, this package adapts the teacher's other, fully grounded
// Gemini client — the hand-rolled SSE REST client in pkg/llm/vertex —
// generalizing it from chat-only completion to the spec's streaming,
// tool-calling, and structured-output contract.
package modelprovider

import "time"

// Config mirrors the teacher's vertex.Config. Tool declarations and the
// structured-output schema are not part of it; they are passed per call to
// Complete and CompleteStructured.
type Config struct {
	ProjectID       string
	Location        string
	Model           string
	Timeout         time.Duration
	Temperature     float64
	MaxOutputTokens int
}

const (
	DefaultModel           = "gemini-2.5-pro"
	DefaultMaxRetries      = 3
	DefaultBaseDelay       = 100 * time.Millisecond
	DefaultMaxDelay        = 10 * time.Second
	DefaultTimeout         = 120 * time.Second
	DefaultTemperature     = 0.2
	DefaultMaxOutputTokens = 8192
)

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}
}
