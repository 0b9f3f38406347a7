// Package filestore defines the external FileStore capability (spec §1,
// §3 Artifact, §5 "workspace ... only durable shared mutable resource"): a
// per-project versioned blob store whose write primitive is
// compare-and-append, so concurrent writers from distinct tasks diverge
// into distinct versions instead of conflicting. Concrete backends live in
// internal/storage (S3 + Postgres version counter) and this package's own
// in-memory implementation for tests.
package filestore

import (
	"context"
	"time"
)

// Artifact is a versioned named blob's metadata (§3). Content is carried
// separately by Write/Read to avoid loading large blobs into metadata-only
// call sites (List).
type Artifact struct {
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	MimeType  string    `json:"mimeType"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// FileStore is the workspace handle a project's tools write through (§4.D
// InvocationContext.Workspace resolves to one of these, scoped to a
// project).
type FileStore interface {
	// Write assigns the next version for (projectID, name) atomically and
	// stores content immutably under it.
	Write(ctx context.Context, projectID, name string, content []byte, mimeType string) (Artifact, error)
	// Read returns one version's bytes and metadata. version=0 means the
	// latest version.
	Read(ctx context.Context, projectID, name string, version int) ([]byte, Artifact, error)
	// List returns every known artifact name's latest metadata for a
	// project, for the §6 GetArtifacts operation.
	List(ctx context.Context, projectID string) ([]Artifact, error)
}
