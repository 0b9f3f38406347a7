package sse

import (
	"context"
	"time"

	"github.com/emergent-company/orchestrator/domain/eventbus"
)

// HeartbeatInterval is how often a keep-alive comment is sent on an
// otherwise idle stream.
const HeartbeatInterval = 30 * time.Second

// StreamProject pipes a project's EventBus subscription to w until the
// client disconnects (ctx done) or the bus emits its terminal
// projectStatusChanged{status=closed} event, per §6's "stream terminates
// with a sentinel event after which no further events are produced."
// Grounded on the teacher's domain/events.Handler.HandleStream (channel
// subscribe, heartbeat ticker, select on ctx-done vs event channel), adapted
// from its callback-based Service.Subscribe to eventbus.Bus's channel-based
// one.
func StreamProject(ctx context.Context, bus *eventbus.Bus, projectID string, w *Writer) error {
	if err := w.Start(); err != nil {
		return err
	}

	events, cancel := bus.Subscribe(projectID)
	defer cancel()

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := w.WriteComment("keepalive"); err != nil {
				return err
			}

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.WriteEvent(string(ev.Type), ev); err != nil {
				return err
			}
			if isTerminal(ev) {
				return nil
			}
		}
	}
}

func isTerminal(ev eventbus.Event) bool {
	if ev.Type != eventbus.TypeProjectStatusChanged {
		return false
	}
	data, ok := ev.Data.(eventbus.ProjectStatusChangedData)
	return ok && data.Status == "closed"
}
