package events

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/models"
)

// Sink receives progress events for one subscriber. Send must not block
// indefinitely; a failed send removes only that sink.
type Sink interface {
	Send(event models.ProgressEvent) error
}

type queuedEvent struct {
	jobID string
	event models.ProgressEvent
}

// Broadcaster fans audit progress out to per-job subscribers. Producers
// enqueue without blocking into an unbounded queue drained by a single
// goroutine, which preserves per-job event order.
type Broadcaster struct {
	logger arbor.ILogger

	mu    sync.Mutex
	sinks map[string][]Sink

	queueMu sync.Mutex
	queue   []queuedEvent
	cond    *sync.Cond
	closed  bool
	done    chan struct{}
}

// NewBroadcaster creates a broadcaster and starts its drain goroutine.
func NewBroadcaster(logger arbor.ILogger) *Broadcaster {
	b := &Broadcaster{
		logger: logger,
		sinks:  make(map[string][]Sink),
		done:   make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.queueMu)
	go b.drain()
	return b
}

// Subscribe registers a sink for a job's progress events.
func (b *Broadcaster) Subscribe(jobID string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sinks[jobID] = append(b.sinks[jobID], sink)
	b.logger.Debug().
		Str("job_id", jobID).
		Int("subscriber_count", len(b.sinks[jobID])).
		Msg("Progress subscriber added")
}

// Unsubscribe removes a sink for a job.
func (b *Broadcaster) Unsubscribe(jobID string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeSinkLocked(jobID, sink)
}

func (b *Broadcaster) removeSinkLocked(jobID string, sink Sink) {
	sinks := b.sinks[jobID]
	for i, s := range sinks {
		if s == sink {
			b.sinks[jobID] = append(sinks[:i], sinks[i+1:]...)
			break
		}
	}
	if len(b.sinks[jobID]) == 0 {
		delete(b.sinks, jobID)
	}
}

// Enqueue queues a progress event for delivery. Never blocks, so it is safe
// to call while holding registry locks.
func (b *Broadcaster) Enqueue(jobID, stage string, progress int, status string) {
	event := models.ProgressEvent{
		Stage:     stage,
		Progress:  progress,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}

	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, queuedEvent{jobID: jobID, event: event})
	b.cond.Signal()
}

// drain delivers queued events one at a time.
func (b *Broadcaster) drain() {
	defer close(b.done)
	for {
		b.queueMu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 && b.closed {
			b.queueMu.Unlock()
			return
		}
		item := b.queue[0]
		b.queue = b.queue[1:]
		b.queueMu.Unlock()

		b.deliver(item.jobID, item.event)
	}
}

func (b *Broadcaster) deliver(jobID string, event models.ProgressEvent) {
	b.mu.Lock()
	sinks := append([]Sink(nil), b.sinks[jobID]...)
	b.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Send(event); err != nil {
			b.logger.Debug().
				Err(err).
				Str("job_id", jobID).
				Msg("Progress send failed, removing subscriber")
			b.mu.Lock()
			b.removeSinkLocked(jobID, sink)
			b.mu.Unlock()
		}
	}
}

// SubscriberCount returns the number of sinks registered for a job.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sinks[jobID])
}

// Close stops the drain goroutine after delivering already-queued events.
func (b *Broadcaster) Close() {
	b.queueMu.Lock()
	if b.closed {
		b.queueMu.Unlock()
		return
	}
	b.closed = true
	b.cond.Signal()
	b.queueMu.Unlock()
	<-b.done
}
