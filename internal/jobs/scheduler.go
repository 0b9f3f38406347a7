// Package jobs runs periodic orchestrator housekeeping (stale-project
// sweeps, artifact GC) on robfig/cron, grounded on the teacher's
// domain/scheduler/scheduler.go. It is named internal/jobs rather than
// domain/scheduler to avoid colliding with this repo's own DAG Scheduler
// (component F), which is a different thing entirely.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/emergent-company/orchestrator/pkg/logger"
)

// TaskFunc is the signature of a scheduled housekeeping job.
type TaskFunc func(ctx context.Context) error

// Scheduler runs named tasks on cron or fixed-interval schedules.
type Scheduler struct {
	cron    *cron.Cron
	log     *slog.Logger
	tasks   map[string]cron.EntryID
	mu      sync.RWMutex
	running bool
}

// NewScheduler constructs a Scheduler with seconds-precision cron parsing.
func NewScheduler(log *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		log:   log.With(logger.Scope("jobs")),
		tasks: make(map[string]cron.EntryID),
	}
}

// Start begins running scheduled tasks.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.cron.Start()
	s.running = true
	s.log.Info("jobs scheduler started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop gracefully waits for in-flight task runs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.log.Info("jobs scheduler stopped gracefully")
	case <-ctx.Done():
		s.log.Warn("jobs scheduler stop timed out")
	}

	s.running = false
	return nil
}

// AddIntervalTask registers task to run every interval, replacing any
// existing task registered under the same name.
func (s *Scheduler) AddIntervalTask(name string, interval time.Duration, task TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[name]; ok {
		s.cron.Remove(entryID)
		delete(s.tasks, name)
	}

	entryID, err := s.cron.AddFunc("@every "+interval.String(), func() {
		s.runTask(name, task)
	})
	if err != nil {
		return err
	}

	s.tasks[name] = entryID
	s.log.Info("registered housekeeping task", slog.String("name", name), slog.Duration("interval", interval))
	return nil
}

func (s *Scheduler) runTask(name string, task TaskFunc) {
	start := time.Now()
	s.log.Debug("running housekeeping task", slog.String("name", name))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := task(ctx); err != nil {
		s.log.Error("housekeeping task failed",
			slog.String("name", name),
			logger.Error(err),
			slog.Duration("duration", time.Since(start)))
		return
	}

	s.log.Debug("housekeeping task completed",
		slog.String("name", name),
		slog.Duration("duration", time.Since(start)))
}

// ListTasks returns the names of every registered task.
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

// IsRunning reports whether the scheduler has been started.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
