package toolregistry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/orchestrator/pkg/apperror"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

type fakeWorkspace struct{ id string }

func (w fakeWorkspace) ProjectID() string { return w.id }

func TestRegistry_InvokeUnknownTool(t *testing.T) {
	r := New(testLogger())
	_, err := r.Invoke(context.Background(), "nope", InvocationContext{}, nil)
	require.Error(t, err)
	assert.Equal(t, apperror.ErrToolNotFound.Code, err.(*apperror.Error).Code)
}

func TestRegistry_InvokeValidatesArgs(t *testing.T) {
	r := New(testLogger())
	r.Register(Registration{
		Name:   "search",
		Schema: Object([]string{"query"}, map[string]*Schema{"query": String("search text")}),
		Handler: func(ctx context.Context, invCtx InvocationContext, args map[string]any) (any, error) {
			return "ok", nil
		},
	})

	_, err := r.Invoke(context.Background(), "search", InvocationContext{}, map[string]any{})
	require.Error(t, err)
	assert.Equal(t, apperror.ErrToolArgsInvalid.Code, err.(*apperror.Error).Code)

	result, err := r.Invoke(context.Background(), "search", InvocationContext{}, map[string]any{"query": "go"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestRegistry_InvokeSurfacesHandlerError(t *testing.T) {
	r := New(testLogger())
	r.Register(Registration{
		Name: "boom",
		Handler: func(ctx context.Context, invCtx InvocationContext, args map[string]any) (any, error) {
			return nil, assertErr{}
		},
	})

	_, err := r.Invoke(context.Background(), "boom", InvocationContext{}, nil)
	require.Error(t, err)
	assert.Equal(t, apperror.ErrToolFailed.Code, err.(*apperror.Error).Code)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestRegistry_InvokeTimeout(t *testing.T) {
	r := New(testLogger())
	r.Register(Registration{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Handler: func(ctx context.Context, invCtx InvocationContext, args map[string]any) (any, error) {
			select {
			case <-time.After(time.Second):
				return "too slow", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	_, err := r.Invoke(context.Background(), "slow", InvocationContext{}, nil)
	require.Error(t, err)
	assert.Equal(t, apperror.ErrToolTimeout.Code, err.(*apperror.Error).Code)
}

func TestRegistry_ReRegistrationReplacesBinding(t *testing.T) {
	r := New(testLogger())
	r.Register(Registration{Name: "x", Handler: func(ctx context.Context, invCtx InvocationContext, args map[string]any) (any, error) {
		return "v1", nil
	}})
	r.Register(Registration{Name: "x", Handler: func(ctx context.Context, invCtx InvocationContext, args map[string]any) (any, error) {
		return "v2", nil
	}})

	result, err := r.Invoke(context.Background(), "x", InvocationContext{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", result)
}

func TestRegistry_ConcurrentInvocationsOfSameTool(t *testing.T) {
	r := New(testLogger())
	r.Register(Registration{Name: "noop", Handler: func(ctx context.Context, invCtx InvocationContext, args map[string]any) (any, error) {
		return invCtx.ProjectID, nil
	}})

	const n = 20
	results := make(chan any, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			ws := fakeWorkspace{id: "proj"}
			out, err := r.Invoke(context.Background(), "noop", InvocationContext{ProjectID: ws.ProjectID(), Workspace: ws}, nil)
			if err != nil {
				results <- err
				return
			}
			results <- out
		}(i)
	}
	for i := 0; i < n; i++ {
		select {
		case out := <-results:
			assert.Equal(t, "proj", out)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for concurrent invocations")
		}
	}
}

func TestRegistry_SchemasForFiltersToNamedTools(t *testing.T) {
	r := New(testLogger())
	r.Register(Registration{Name: "search", Description: "search the web"})
	r.Register(Registration{Name: "write_file", Description: "write a file"})

	all := r.SchemasFor(nil)
	assert.Len(t, all, 2)

	scoped := r.SchemasFor([]string{"search"})
	require.Len(t, scoped, 1)
	assert.Equal(t, "search", scoped[0].Name)

	unknown := r.SchemasFor([]string{"ghost"})
	assert.Empty(t, unknown)
}
