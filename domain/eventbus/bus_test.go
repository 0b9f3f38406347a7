package eventbus

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func TestBus_FIFOPerSubscriber(t *testing.T) {
	b := New(testLogger())
	ch, cancel := b.Subscribe("p1")
	defer cancel()

	for i := 0; i < 10; i++ {
		b.Publish("p1", Event{Type: TypePartDelta, Data: i})
	}

	for i := 0; i < 10; i++ {
		select {
		case ev := <-ch:
			require.Equal(t, i, ev.Data)
			require.Equal(t, "p1", ev.ProjectID)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestBus_NoSubscribersIsNoop(t *testing.T) {
	b := New(testLogger())
	assert.NotPanics(t, func() {
		b.Publish("nobody-home", Event{Type: TypeLogEntry})
	})
}

func TestBus_OverflowDropsOldestAndWarns(t *testing.T) {
	b := New(testLogger())
	b.bufferSize = 4
	ch, cancel := b.Subscribe("p1")
	defer cancel()

	// Flood far past capacity before anything is read, forcing drops.
	for i := 0; i < 50; i++ {
		b.Publish("p1", Event{Type: TypePartDelta, Data: i})
	}

	var sawLag bool
	lastSeen := -1
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == TypeLogEntry {
				sawLag = true
				continue
			}
			v := ev.Data.(int)
			assert.Greater(t, v, lastSeen, "events must remain in publish order for this subscriber")
			lastSeen = v
		case <-deadline:
			assert.True(t, sawLag, "expected at least one subscriber-lag logEntry")
			assert.Equal(t, 49, lastSeen, "the most recent event must survive the drop")
			return
		}
	}
}

func TestBus_CloseSendsTerminalEvent(t *testing.T) {
	b := New(testLogger())
	ch, cancel := b.Subscribe("p1")
	defer cancel()

	b.Publish("p1", Event{Type: TypePartDelta, Data: "hello"})
	b.Close("p1")

	first := <-ch
	assert.Equal(t, TypePartDelta, first.Type)

	terminal := <-ch
	assert.Equal(t, TypeProjectStatusChanged, terminal.Type)
	data, ok := terminal.Data.(ProjectStatusChangedData)
	require.True(t, ok)
	assert.Equal(t, "closed", data.Status)
}

func TestBus_SlowSubscriberDoesNotBlockOthersOrPublisher(t *testing.T) {
	b := New(testLogger())
	b.bufferSize = 4

	const n = 200

	slow, cancelSlow := b.Subscribe("p1")
	defer cancelSlow()
	// The fast subscriber's queue holds every event, so none of its events
	// are dropped while the publisher runs ahead of the reads below.
	b.bufferSize = n
	fast, cancelFast := b.Subscribe("p1")
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			b.Publish("p1", Event{Type: TypePartDelta, Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	received := 0
	for {
		select {
		case <-fast:
			received++
			if received == n {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("fast subscriber only received %d/%d events", received, n)
		}
	}
	_ = slow
}

func TestBus_ConcurrentSubscribePublishUnsubscribe(t *testing.T) {
	b := New(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			projectID := fmt.Sprintf("proj-%d", i%5)
			ch, cancel := b.Subscribe(projectID)
			defer cancel()
			go func() {
				for range ch {
				}
			}()
			for j := 0; j < 20; j++ {
				b.Publish(projectID, Event{Type: TypePartDelta, Data: j})
			}
		}(i)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent subscribe/publish/unsubscribe deadlocked")
	}
}
