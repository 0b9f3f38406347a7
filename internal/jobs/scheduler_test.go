package jobs

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestScheduler_IsRunning(t *testing.T) {
	s := NewScheduler(slog.Default())

	if s.IsRunning() {
		t.Error("new scheduler should not be running")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !s.IsRunning() {
		t.Error("scheduler should be running after Start")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if s.IsRunning() {
		t.Error("scheduler should not be running after Stop")
	}
}

func TestScheduler_AddIntervalTask_ReplacesExisting(t *testing.T) {
	s := NewScheduler(slog.Default())

	if err := s.AddIntervalTask("sweep", time.Hour, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("first AddIntervalTask returned error: %v", err)
	}
	if err := s.AddIntervalTask("sweep", 2*time.Hour, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("second AddIntervalTask returned error: %v", err)
	}

	tasks := s.ListTasks()
	if len(tasks) != 1 {
		t.Errorf("ListTasks() = %d entries, want 1 after re-registering the same name", len(tasks))
	}
}

func TestScheduler_RunTask_Executes(t *testing.T) {
	s := NewScheduler(slog.Default())

	ran := make(chan struct{}, 1)
	s.runTask("probe", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	})

	select {
	case <-ran:
	default:
		t.Error("runTask did not invoke the task synchronously")
	}
}
