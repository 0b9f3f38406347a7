package toolregistry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/orchestrator/domain/eventbus"
	"github.com/emergent-company/orchestrator/domain/filestore"
)

func TestRegisterFileTools_WriteReadListRoundTrip(t *testing.T) {
	store := filestore.NewMemStore()
	bus := eventbus.New(testLogger())
	sub, unsubscribe := bus.Subscribe("proj-1")
	defer unsubscribe()

	r := New(testLogger())
	RegisterFileTools(r, store, bus)

	invCtx := InvocationContext{ProjectID: "proj-1", TaskID: "task-1"}

	result, err := r.Invoke(context.Background(), "write_artifact", invCtx, map[string]any{
		"name":    "notes.txt",
		"content": "hello",
	})
	require.NoError(t, err)
	artifact := result.(filestore.Artifact)
	assert.Equal(t, "notes.txt", artifact.Name)
	assert.Equal(t, 1, artifact.Version)

	select {
	case ev := <-sub:
		assert.Equal(t, eventbus.TypeArtifactCreated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an artifactCreated event on write")
	}

	readResult, err := r.Invoke(context.Background(), "read_artifact", invCtx, map[string]any{"name": "notes.txt"})
	require.NoError(t, err)
	readMap := readResult.(map[string]any)
	assert.Equal(t, "hello", readMap["content"])

	_, err = r.Invoke(context.Background(), "write_artifact", invCtx, map[string]any{
		"name":    "notes.txt",
		"content": "hello again",
	})
	require.NoError(t, err)
	select {
	case ev := <-sub:
		assert.Equal(t, eventbus.TypeArtifactUpdated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an artifactUpdated event on overwrite")
	}

	listResult, err := r.Invoke(context.Background(), "list_artifacts", invCtx, nil)
	require.NoError(t, err)
	artifacts := listResult.([]filestore.Artifact)
	require.Len(t, artifacts, 1)
	assert.Equal(t, 2, artifacts[0].Version)
}
