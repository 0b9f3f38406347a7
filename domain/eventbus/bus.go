package eventbus

import (
	"log/slog"
	"sync"

	"go.uber.org/fx"

	"github.com/emergent-company/orchestrator/pkg/logger"
	"github.com/emergent-company/orchestrator/pkg/metrics"
)

// DefaultBufferSize is the per-subscriber bounded queue size (§4.A).
const DefaultBufferSize = 256

// Module wires the bus as a singleton behind fx, following the teacher's
// one-fx.Provide-per-service convention (domain/events/module.go).
var Module = fx.Module("eventbus",
	fx.Provide(New),
)

// Bus fans typed Events out to per-project subscribers. Each subscription
// owns an independent bounded queue fed by a single dedicated pump
// goroutine, so delivery to one subscriber is strictly FIFO and a slow
// subscriber never blocks Publish or any other subscriber.
type Bus struct {
	log        *slog.Logger
	bufferSize int

	mu       sync.Mutex
	projects map[string]*topic
}

// New constructs a Bus with the default buffer size. Accepts *slog.Logger
// for fx injection the way every other domain constructor in this repo does.
func New(log *slog.Logger) *Bus {
	return &Bus{
		log:        log.With(logger.Scope("eventbus")),
		bufferSize: DefaultBufferSize,
		projects:   make(map[string]*topic),
	}
}

type topic struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// subscriber owns a capped FIFO queue drained by one long-lived goroutine
// into out. Publish only ever touches the queue under the mutex and never
// waits on the consumer.
type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	cap    int
	out    chan Event
	closed bool
}

func newSubscriber(cap int) *subscriber {
	s := &subscriber{cap: cap, out: make(chan Event)}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// push enqueues ev, dropping the oldest unread event (and enqueuing a
// subscriber-lag warning in its place) when the queue is already at cap.
func (s *subscriber) push(projectID string, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.queue) >= s.cap {
		s.queue = s.queue[1:]
		if len(s.queue) >= s.cap {
			s.queue = s.queue[1:]
		}
		s.queue = append(s.queue, subscriberLagEvent(projectID))
		metrics.EventBusDroppedTotal.WithLabelValues(projectID).Inc()
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

// pump is the subscription's sole consumer of queue; it runs for the
// subscription's whole lifetime so FIFO order is never at risk from
// concurrent senders racing on the output channel.
func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.out <- ev
	}
}

func (s *subscriber) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

// Subscribe opens a new bounded subscription for projectID. The returned
// cancel func unsubscribes; it is safe to call multiple times.
func (b *Bus) Subscribe(projectID string) (<-chan Event, func()) {
	b.mu.Lock()
	t, ok := b.projects[projectID]
	if !ok {
		t = &topic{subs: make(map[int]*subscriber)}
		b.projects[projectID] = t
	}
	b.mu.Unlock()

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	sub := newSubscriber(b.bufferSize)
	if t.closed {
		t.mu.Unlock()
		sub.shutdown()
		return sub.out, func() {}
	}
	t.subs[id] = sub
	t.mu.Unlock()
	metrics.EventBusSubscribers.WithLabelValues(projectID).Inc()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			sub.shutdown()
			metrics.EventBusSubscribers.WithLabelValues(projectID).Dec()
		})
	}

	return sub.out, cancel
}

// Publish fans ev out to every current subscriber of projectID. Never blocks.
func (b *Bus) Publish(projectID string, ev Event) {
	ev.ProjectID = projectID
	b.mu.Lock()
	t, ok := b.projects[projectID]
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	subs := make([]*subscriber, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		s.push(projectID, ev)
	}
}

// Close publishes a terminal projectStatusChanged{status=closed} event and
// then unblocks every subscriber with end-of-stream.
func (b *Bus) Close(projectID string) {
	b.mu.Lock()
	t, ok := b.projects[projectID]
	if ok {
		delete(b.projects, projectID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	t.closed = true
	subs := make([]*subscriber, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.subs = nil
	t.mu.Unlock()

	ev := closedEvent(projectID)
	for _, s := range subs {
		s.push(projectID, ev)
		s.shutdown()
	}
	metrics.EventBusSubscribers.DeleteLabelValues(projectID)
}

// SubscriberCount reports the number of active subscriptions for a project.
func (b *Bus) SubscriberCount(projectID string) int {
	b.mu.Lock()
	t, ok := b.projects[projectID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
