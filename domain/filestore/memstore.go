package filestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emergent-company/orchestrator/pkg/apperror"
)

type memEntry struct {
	content  []byte
	artifact Artifact
}

// MemStore is an in-memory FileStore for tests and local runs, keyed by
// (projectID, name) -> ordered version history. It is safe for concurrent
// use by multiple tasks.
type MemStore struct {
	mu   sync.Mutex
	data map[string]map[string][]memEntry // projectID -> name -> versions, index 0 = version 1
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]map[string][]memEntry)}
}

// Write assigns the next version under (projectID, name) and stores it.
func (m *MemStore) Write(ctx context.Context, projectID, name string, content []byte, mimeType string) (Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byName, ok := m.data[projectID]
	if !ok {
		byName = make(map[string][]memEntry)
		m.data[projectID] = byName
	}

	versions := byName[name]
	version := len(versions) + 1
	artifact := Artifact{
		Name:      name,
		Version:   version,
		MimeType:  mimeType,
		Size:      int64(len(content)),
		CreatedAt: time.Now().UTC(),
	}

	cp := make([]byte, len(content))
	copy(cp, content)
	byName[name] = append(versions, memEntry{content: cp, artifact: artifact})

	return artifact, nil
}

// Read returns one version's content, or the latest when version is 0.
func (m *MemStore) Read(ctx context.Context, projectID, name string, version int) ([]byte, Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.data[projectID][name]
	if len(versions) == 0 {
		return nil, Artifact{}, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("no artifact named %q", name))
	}

	idx := version - 1
	if version == 0 {
		idx = len(versions) - 1
	}
	if idx < 0 || idx >= len(versions) {
		return nil, Artifact{}, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("artifact %q has no version %d", name, version))
	}

	entry := versions[idx]
	cp := make([]byte, len(entry.content))
	copy(cp, entry.content)
	return cp, entry.artifact, nil
}

// List returns every artifact name's latest metadata for a project.
func (m *MemStore) List(ctx context.Context, projectID string) ([]Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byName := m.data[projectID]
	out := make([]Artifact, 0, len(byName))
	for _, versions := range byName {
		if len(versions) > 0 {
			out = append(out, versions[len(versions)-1].artifact)
		}
	}
	return out, nil
}
