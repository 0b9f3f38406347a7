package filestore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_WriteAssignsMonotonicVersions(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	a1, err := s.Write(ctx, "p1", "report.md", []byte("v1"), "text/markdown")
	require.NoError(t, err)
	assert.Equal(t, 1, a1.Version)

	a2, err := s.Write(ctx, "p1", "report.md", []byte("v2"), "text/markdown")
	require.NoError(t, err)
	assert.Equal(t, 2, a2.Version)
}

func TestMemStore_ReadLatestAndSpecificVersion(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_, err := s.Write(ctx, "p1", "x", []byte("first"), "text/plain")
	require.NoError(t, err)
	_, err = s.Write(ctx, "p1", "x", []byte("second"), "text/plain")
	require.NoError(t, err)

	latest, meta, err := s.Read(ctx, "p1", "x", 0)
	require.NoError(t, err)
	assert.Equal(t, "second", string(latest))
	assert.Equal(t, 2, meta.Version)

	v1, meta1, err := s.Read(ctx, "p1", "x", 1)
	require.NoError(t, err)
	assert.Equal(t, "first", string(v1))
	assert.Equal(t, 1, meta1.Version)
}

func TestMemStore_ReadUnknownArtifact(t *testing.T) {
	s := NewMemStore()
	_, _, err := s.Read(context.Background(), "p1", "missing", 0)
	assert.Error(t, err)
}

func TestMemStore_List(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_, _ = s.Write(ctx, "p1", "a", []byte("1"), "text/plain")
	_, _ = s.Write(ctx, "p1", "b", []byte("2"), "text/plain")
	_, _ = s.Write(ctx, "p1", "a", []byte("1b"), "text/plain")

	artifacts, err := s.List(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	byName := map[string]Artifact{}
	for _, a := range artifacts {
		byName[a.Name] = a
	}
	assert.Equal(t, 2, byName["a"].Version)
	assert.Equal(t, 1, byName["b"].Version)
}

// TestMemStore_ConcurrentWritesProduceDistinctVersions exercises §5's
// "concurrent writes from different tasks produce distinct versions rather
// than conflicting" guarantee.
func TestMemStore_ConcurrentWritesProduceDistinctVersions(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	versions := make(chan int, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := s.Write(ctx, "p1", "concurrent", []byte{byte(i)}, "application/octet-stream")
			require.NoError(t, err)
			versions <- a.Version
		}(i)
	}
	wg.Wait()
	close(versions)

	seen := make(map[int]bool)
	for v := range versions {
		assert.False(t, seen[v], "duplicate version %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, writers)
}
