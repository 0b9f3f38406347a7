package sse

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/orchestrator/domain/eventbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func TestStreamProject_StopsOnBusClose(t *testing.T) {
	bus := eventbus.New(testLogger())
	rec := newMockFlusher()
	w := NewWriter(rec)

	done := make(chan error, 1)
	go func() {
		done <- StreamProject(context.Background(), bus, "p1", w)
	}()

	require.Eventually(t, func() bool { return bus.SubscriberCount("p1") == 1 }, time.Second, time.Millisecond)

	bus.Publish("p1", eventbus.Event{Type: eventbus.TypeTaskStatusChanged, Data: eventbus.TaskStatusChangedData{TaskID: "t1", Status: "running"}})
	bus.Close("p1")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("StreamProject did not return after bus close")
	}

	body := rec.Body.String()
	assert.Contains(t, body, "event: taskStatusChanged")
	assert.Contains(t, body, "event: projectStatusChanged")
	assert.Contains(t, body, `"status":"closed"`)
}

func TestStreamProject_StopsOnContextCancel(t *testing.T) {
	bus := eventbus.New(testLogger())
	rec := newMockFlusher()
	w := NewWriter(rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StreamProject(ctx, bus, "p1", w)
	}()

	require.Eventually(t, func() bool { return bus.SubscriberCount("p1") == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("StreamProject did not return after context cancel")
	}
	require.Eventually(t, func() bool { return bus.SubscriberCount("p1") == 0 }, time.Second, time.Millisecond)
}
