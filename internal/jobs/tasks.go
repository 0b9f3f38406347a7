package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/emergent-company/orchestrator/domain/eventbus"
	"github.com/emergent-company/orchestrator/domain/project"
	"github.com/emergent-company/orchestrator/internal/storage"
	"github.com/emergent-company/orchestrator/pkg/logger"
)

// StaleProjectSweepTask fails projects that have sat in StatusRunning with
// no progress for longer than the configured threshold — the process-wide
// backstop for a worker that crashed mid-Step and left a project with no
// one left to call it again.
type StaleProjectSweepTask struct {
	store        *project.Store
	bus          *eventbus.Bus
	log          *slog.Logger
	staleMinutes int
}

// NewStaleProjectSweepTask constructs a StaleProjectSweepTask.
func NewStaleProjectSweepTask(store *project.Store, bus *eventbus.Bus, log *slog.Logger, cfg *Config) *StaleProjectSweepTask {
	return &StaleProjectSweepTask{
		store:        store,
		bus:          bus,
		log:          log.With(logger.Scope("jobs.stale_project_sweep")),
		staleMinutes: cfg.StaleProjectMinutes,
	}
}

// Run marks every project stuck in StatusRunning since before the stale
// threshold as StatusFailed.
func (t *StaleProjectSweepTask) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-time.Duration(t.staleMinutes) * time.Minute)

	ids, err := t.store.ListStuckRunning(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	for _, id := range ids {
		if err := t.store.UpdateStatus(ctx, id, project.StatusFailed); err != nil {
			t.log.Error("failed to fail stuck project", logger.Error(err), slog.String("project_id", id))
			continue
		}
		t.bus.Publish(id, eventbus.Event{
			Type: eventbus.TypeProjectStatusChanged,
			Data: eventbus.ProjectStatusChangedData{Status: string(project.StatusFailed), Reason: "stale: no progress before sweep cutoff"},
		})
	}

	t.log.Info("stale project sweep completed", slog.Int("failed_count", len(ids)))
	return nil
}

// ArtifactGCTask deletes the artifacts of projects that reached a terminal
// status long enough ago that their workspace is no longer needed.
type ArtifactGCTask struct {
	projects  *project.Store
	artifacts *storage.Store
	log       *slog.Logger
	retention time.Duration
}

// NewArtifactGCTask constructs an ArtifactGCTask.
func NewArtifactGCTask(projects *project.Store, artifacts *storage.Store, log *slog.Logger, cfg *Config) *ArtifactGCTask {
	return &ArtifactGCTask{
		projects:  projects,
		artifacts: artifacts,
		log:       log.With(logger.Scope("jobs.artifact_gc")),
		retention: time.Duration(cfg.ArtifactGCRetentionHours) * time.Hour,
	}
}

// Run deletes artifacts for every project that finished before the
// retention window.
func (t *ArtifactGCTask) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-t.retention)

	ids, err := t.projects.ListTerminalBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	totalDeleted := 0
	for _, id := range ids {
		count, err := t.artifacts.DeleteProjectArtifacts(ctx, id)
		if err != nil {
			t.log.Error("failed to GC project artifacts", logger.Error(err), slog.String("project_id", id))
			continue
		}
		totalDeleted += count
	}

	t.log.Info("artifact GC completed", slog.Int("projects", len(ids)), slog.Int("artifacts_deleted", totalDeleted))
	return nil
}
