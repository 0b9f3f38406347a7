// Package toolregistry maps tool name -> invocable handler with JSON-schema
// argument validation (spec component D). Grounded on the teacher's
// domain/agents/toolpool.go (cache, whitelist matching, external-tool
// wrapping) but reshaped around an explicit register/invoke API per spec
// §9's "explicit registration API" redesign note, replacing the teacher's
// reflection-discovered functiontool.New wrapping.
package toolregistry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emergent-company/orchestrator/pkg/apperror"
	"github.com/emergent-company/orchestrator/pkg/logger"
)

// DefaultInvocationTimeout is the per-tool default from §4.D.
const DefaultInvocationTimeout = 60 * time.Second

// InvocationContext is passed to every Handler, carrying the per-invocation
// collaborators the spec requires: the project's workspace, the current
// task id, and the invocation's own cancellation signal.
type InvocationContext struct {
	ProjectID string
	TaskID    string
	Workspace Workspace
}

// Workspace is the minimal per-project handle a tool needs: it identifies
// the project whose external FileStore workspace (spec §1) a tool
// addresses. It does not expose the FileStore itself.
type Workspace interface {
	ProjectID() string
}

// Handler executes one tool invocation. Errors returned here become
// toolResult{isError=true} parts upstream (§7); they are values, not
// exceptions, per spec §9's "tool errors are values" redesign note.
type Handler func(ctx context.Context, invCtx InvocationContext, args map[string]any) (result any, err error)

// Registration is one registered tool's full descriptor.
type Registration struct {
	Name         string
	Description  string
	Schema       *Schema
	Handler      Handler
	Timeout      time.Duration
	ParallelSafe bool
}

// Registry is a read-mostly name -> Registration map. Registration is
// expected at startup (teacher's toolpool.go ToolNames()/ToolCount()
// introspection idiom). The map is guarded by an RWMutex: Register takes
// the write lock, and every read (Lookup, Names, Schemas, SchemasFor and
// Invoke's lookup) takes the read lock, so reads do not block one another
// but are not lock-free.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	tools map[string]Registration
}

// New constructs an empty Registry.
func New(log *slog.Logger) *Registry {
	return &Registry{
		log:   log.With(logger.Scope("toolregistry")),
		tools: make(map[string]Registration),
	}
}

// Register adds or replaces the binding for name. Re-registration is
// intended for test injection (§4.D).
func (r *Registry) Register(reg Registration) {
	if reg.Timeout == 0 {
		reg.Timeout = DefaultInvocationTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[reg.Name]; exists {
		r.log.Debug("replacing existing tool registration", slog.String("tool", reg.Name))
	}
	r.tools[reg.Name] = reg
}

// Lookup returns a copy of the registration for name, if any.
func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg, ok
}

// Names lists every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Schemas returns every tool's {name, description, schema} for a
// ModelProvider.complete(tools=...) call.
func (r *Registry) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, ToolSchema{Name: reg.Name, Description: reg.Description, Schema: reg.Schema})
	}
	return out
}

// SchemasFor is Schemas scoped to an agent's permitted tool set (§6
// configRef "tools (list of tool names)"). An empty or nil names list means
// unrestricted — every registered tool is offered, same as Schemas.
func (r *Registry) SchemasFor(names []string) []ToolSchema {
	if len(names) == 0 {
		return r.Schemas()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(names))
	for _, name := range names {
		if reg, ok := r.tools[name]; ok {
			out = append(out, ToolSchema{Name: reg.Name, Description: reg.Description, Schema: reg.Schema})
		}
	}
	return out
}

// ToolSchema is the wire shape a ModelProvider needs to offer tools to a model.
type ToolSchema struct {
	Name        string
	Description string
	Schema      *Schema
}

// Invoke validates args against the registered schema, then calls the
// handler with a fresh timeout derived from the registration (or
// DefaultInvocationTimeout). On timeout the handler's context is
// cancelled and Invoke fails with ToolTimeout.
func (r *Registry) Invoke(ctx context.Context, name string, invCtx InvocationContext, args map[string]any) (any, error) {
	reg, ok := r.Lookup(name)
	if !ok {
		return nil, apperror.ErrToolNotFound.WithDetails(map[string]any{"tool": name})
	}

	if err := validateArgs(reg.Schema, args); err != nil {
		return nil, apperror.ErrToolArgsInvalid.WithInternal(err).
			WithDetails(map[string]any{"tool": name})
	}

	callCtx, cancel := context.WithTimeout(ctx, reg.Timeout)
	defer cancel()

	resultCh := make(chan toolOutcome, 1)
	go func() {
		result, err := reg.Handler(callCtx, invCtx, args)
		resultCh <- toolOutcome{result: result, err: err}
	}()

	select {
	case out := <-resultCh:
		if out.err != nil {
			return nil, apperror.ErrToolFailed.WithInternal(out.err).WithDetails(map[string]any{"tool": name})
		}
		return out.result, nil
	case <-callCtx.Done():
		return nil, apperror.ErrToolTimeout.WithDetails(map[string]any{"tool": name, "timeout": reg.Timeout.String()})
	}
}

type toolOutcome struct {
	result any
	err    error
}

// validateArgs checks args against schema. A nil schema accepts anything
// (useful for tests/tools with no arguments).
func validateArgs(schema *Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	return schema.Validate(args)
}
