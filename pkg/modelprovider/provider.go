package modelprovider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/emergent-company/orchestrator/domain/toolregistry"
	"github.com/emergent-company/orchestrator/pkg/logger"
)

// StreamEventKind tags the variants a Complete stream can emit, matching
// spec §4.E step 3's "token stream with interleaved tool-call markers".
type StreamEventKind int

const (
	StreamText StreamEventKind = iota
	StreamReasoning
	StreamToolCall
	StreamFinish
	StreamError
)

// StreamEvent is one unit from a Complete stream.
type StreamEvent struct {
	Kind StreamEventKind

	TextDelta string

	ToolCallID string
	ToolName   string
	ToolArgs   map[string]any

	FinishReason string // "stop", "maxTokens", "toolCalls", "safety"
	Err          error
}

// Message is the provider-facing conversation turn, independent of the
// domain/messagebuilder transport shape so this package has no import
// cycle back into the message/event types.
type Message struct {
	Role string // "user", "model", "system"
	Text string
}

// ModelProvider is the spec's external capability: "complete" drives one
// streaming turn, "completeStructured" obtains a schema-conformant object
// (used for plan generation and input classification in XCoordinator).
type ModelProvider interface {
	Complete(ctx context.Context, systemPrompt string, history []Message, tools []toolregistry.ToolSchema) (<-chan StreamEvent, error)
	CompleteStructured(ctx context.Context, systemPrompt string, history []Message, schema *toolregistry.Schema, out any) error
}

// VertexProvider implements ModelProvider against Vertex AI's Gemini
// streamGenerateContent / generateContent REST endpoints.
type VertexProvider struct {
	cfg Config
	log *slog.Logger

	httpClient *http.Client
	tokenSrc   *google.Credentials

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewVertexProvider constructs a VertexProvider using application default
// credentials, matching the teacher's vertex.NewClient auth pattern.
func NewVertexProvider(ctx context.Context, cfg Config, log *slog.Logger) (*VertexProvider, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}
	if cfg.Location == "" {
		return nil, fmt.Errorf("location is required")
	}
	cfg.applyDefaults()

	creds, err := google.FindDefaultCredentials(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("failed to find default credentials: %w", err)
	}

	return &VertexProvider{
		cfg:        cfg,
		log:        log.With(logger.Scope("modelprovider")),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokenSrc:   creds,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
	}, nil
}

// --- wire shapes (Vertex AI generateContent REST API) ---

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text         string            `json:"text,omitempty"`
	FunctionCall *wireFunctionCall `json:"functionCall,omitempty"`
}

type wireFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type wireTool struct {
	FunctionDeclarations []wireFunctionDecl `json:"functionDeclarations"`
}

type wireFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  *wireJSONSchema `json:"parameters,omitempty"`
}

type wireJSONSchema struct {
	Type        string                     `json:"type,omitempty"`
	Description string                     `json:"description,omitempty"`
	Properties  map[string]*wireJSONSchema `json:"properties,omitempty"`
	Required    []string                   `json:"required,omitempty"`
	Items       *wireJSONSchema            `json:"items,omitempty"`
}

type generateRequest struct {
	Contents          []wireContent    `json:"contents"`
	SystemInstruction *wireContent     `json:"systemInstruction,omitempty"`
	Tools             []wireTool       `json:"tools,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	Temperature      float64         `json:"temperature"`
	MaxOutputTokens  int             `json:"maxOutputTokens"`
	ResponseMIMEType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   *wireJSONSchema `json:"responseSchema,omitempty"`
}

type generateResponse struct {
	Candidates []wireCandidate `json:"candidates"`
}

type wireCandidate struct {
	Content      wireContent `json:"content"`
	FinishReason string      `json:"finishReason,omitempty"`
}

func schemaToWire(s *toolregistry.Schema) *wireJSONSchema {
	if s == nil {
		return nil
	}
	out := &wireJSONSchema{
		Type:        s.Type,
		Description: s.Description,
		Required:    s.Required,
		Items:       schemaToWire(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*wireJSONSchema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = schemaToWire(v)
		}
	}
	return out
}

func messagesToWire(history []Message) []wireContent {
	out := make([]wireContent, 0, len(history))
	for _, m := range history {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		out = append(out, wireContent{Role: role, Parts: []wirePart{{Text: m.Text}}})
	}
	return out
}

func toolsToWire(tools []toolregistry.ToolSchema) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]wireFunctionDecl, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, wireFunctionDecl{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaToWire(t.Schema),
		})
	}
	return []wireTool{{FunctionDeclarations: decls}}
}

// Complete streams one model turn, emitting text deltas and tool-call
// markers as they arrive, per spec §4.E step 2-3.
func (p *VertexProvider) Complete(ctx context.Context, systemPrompt string, history []Message, tools []toolregistry.ToolSchema) (<-chan StreamEvent, error) {
	req := generateRequest{
		Contents: messagesToWire(history),
		Tools:    toolsToWire(tools),
		GenerationConfig: generationConfig{
			Temperature:     p.cfg.Temperature,
			MaxOutputTokens: p.cfg.MaxOutputTokens,
		},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &wireContent{Parts: []wirePart{{Text: systemPrompt}}}
	}

	events := make(chan StreamEvent, 64)
	go func() {
		defer close(events)
		err := p.streamWithRetry(ctx, req, events)
		if err != nil {
			events <- StreamEvent{Kind: StreamError, Err: err}
		}
	}()
	return events, nil
}

// CompleteStructured obtains a schema-conformant JSON object in one
// non-streaming call, used by XCoordinator for plan generation and
// input classification.
func (p *VertexProvider) CompleteStructured(ctx context.Context, systemPrompt string, history []Message, schema *toolregistry.Schema, out any) error {
	req := generateRequest{
		Contents: messagesToWire(history),
		GenerationConfig: generationConfig{
			Temperature:      0,
			MaxOutputTokens:  p.cfg.MaxOutputTokens,
			ResponseMIMEType: "application/json",
			ResponseSchema:   schemaToWire(schema),
		},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &wireContent{Parts: []wirePart{{Text: systemPrompt}}}
	}

	body, err := p.doRequest(ctx, p.url("generateContent"), req)
	if err != nil {
		return err
	}

	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode generateContent response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return fmt.Errorf("model returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if err := json.Unmarshal([]byte(text.String()), out); err != nil {
		return fmt.Errorf("decode structured output: %w", err)
	}
	return nil
}

func (p *VertexProvider) url(method string) string {
	return fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
		p.cfg.Location, p.cfg.ProjectID, p.cfg.Location, p.cfg.Model, method,
	)
}

func (p *VertexProvider) authHeader() (string, error) {
	token, err := p.tokenSrc.TokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}
	return "Bearer " + token.AccessToken, nil
}

// doRequest executes one non-streaming call with the configured retry policy.
func (p *VertexProvider) doRequest(ctx context.Context, url string, reqBody generateRequest) ([]byte, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		auth, err := p.authHeader()
		if err != nil {
			return nil, err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Authorization", auth)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}
		if isRetryableStatus(resp.StatusCode) {
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(respBody)}
			p.log.Warn("model call failed, retrying", slog.Int("attempt", attempt), logger.Error(lastErr))
			continue
		}
		return nil, fmt.Errorf("model API error %d: %s", resp.StatusCode, string(respBody))
	}
	return nil, fmt.Errorf("all retries exhausted: %w", lastErr)
}

// streamWithRetry executes the streaming call, retrying only before the
// first byte of the stream has been consumed.
func (p *VertexProvider) streamWithRetry(ctx context.Context, reqBody generateRequest, events chan<- StreamEvent) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := p.url("streamGenerateContent") + "?alt=sse"

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		}

		lastErr = p.doStream(ctx, url, payload, events)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := lastErr.(*retryableError); !ok {
			return lastErr
		}
		p.log.Warn("model stream failed, retrying", slog.Int("attempt", attempt), logger.Error(lastErr))
	}
	return fmt.Errorf("all retries exhausted: %w", lastErr)
}

func (p *VertexProvider) doStream(ctx context.Context, url string, body []byte, events chan<- StreamEvent) error {
	auth, err := p.authHeader()
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", auth)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		if isRetryableStatus(resp.StatusCode) {
			return &retryableError{statusCode: resp.StatusCode, body: string(respBody)}
		}
		return fmt.Errorf("model API error %d: %s", resp.StatusCode, string(respBody))
	}

	return p.parseSSEStream(resp.Body, events)
}

func (p *VertexProvider) parseSSEStream(r io.Reader, events chan<- StreamEvent) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	toolCallSeq := 0
	var finishReason string

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			continue
		}

		var chunk generateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.log.Warn("failed to parse stream chunk", slog.String("data", data), logger.Error(err))
			continue
		}

		for _, cand := range chunk.Candidates {
			if cand.FinishReason == "SAFETY" {
				return fmt.Errorf("response blocked by safety filters")
			}
			if cand.FinishReason != "" {
				finishReason = cand.FinishReason
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					events <- StreamEvent{Kind: StreamText, TextDelta: part.Text}
				}
				if part.FunctionCall != nil {
					toolCallSeq++
					events <- StreamEvent{
						Kind:       StreamToolCall,
						ToolCallID: fmt.Sprintf("call_%d", toolCallSeq),
						ToolName:   part.FunctionCall.Name,
						ToolArgs:   part.FunctionCall.Args,
					}
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}

	if finishReason == "" {
		finishReason = "stop"
	}
	events <- StreamEvent{Kind: StreamFinish, FinishReason: mapFinishReason(finishReason)}
	return nil
}

func mapFinishReason(vertexReason string) string {
	switch vertexReason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "maxTokens"
	default:
		return strings.ToLower(vertexReason)
	}
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable || code >= 500
}

func (p *VertexProvider) sleepBackoff(ctx context.Context, attempt int) error {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(delay)):
		return nil
	}
}

type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("retryable API error %d: %s", e.statusCode, e.body)
}
