package jobs

import (
	"context"

	"go.uber.org/fx"
)

// Module wires the jobs Scheduler and registers its housekeeping tasks.
var Module = fx.Module("jobs",
	fx.Provide(
		NewConfig,
		NewScheduler,
		NewStaleProjectSweepTask,
		NewArtifactGCTask,
	),
	fx.Invoke(
		RegisterTasks,
		RegisterLifecycle,
	),
)

// taskParams are the dependencies RegisterTasks needs to register every
// housekeeping task with the Scheduler.
type taskParams struct {
	fx.In
	Scheduler  *Scheduler
	Cfg        *Config
	StaleSweep *StaleProjectSweepTask
	ArtifactGC *ArtifactGCTask
}

// RegisterTasks registers every housekeeping task on its configured
// interval.
func RegisterTasks(p taskParams) error {
	if !p.Cfg.Enabled {
		return nil
	}

	if err := p.Scheduler.AddIntervalTask("stale_project_sweep", p.Cfg.StaleProjectSweepInterval, p.StaleSweep.Run); err != nil {
		return err
	}
	if err := p.Scheduler.AddIntervalTask("artifact_gc", p.Cfg.ArtifactGCInterval, p.ArtifactGC.Run); err != nil {
		return err
	}
	return nil
}

// RegisterLifecycle starts and stops the Scheduler alongside the fx app.
func RegisterLifecycle(lc fx.Lifecycle, s *Scheduler, cfg *Config) {
	if !cfg.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return s.Start(ctx) },
		OnStop:  func(ctx context.Context) error { return s.Stop(ctx) },
	})
}
