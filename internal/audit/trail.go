package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventFallback  EventType = "fallback"
	EventConsensus EventType = "consensus"
	EventReset     EventType = "reset"
)

// Event is one audit record. Backend-related fields are optional depending
// on the event type.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Backend   string    `json:"backend,omitempty"`
	Backends  []string  `json:"backends,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Agreement float64   `json:"agreement,omitempty"`
	CostUSD   float64   `json:"cost_usd,omitempty"`
}

// maxRetained bounds the in-memory and persisted audit history.
const maxRetained = 100

// Trail collects audit events off the request path. Events are sent over a
// buffered channel and folded into a bounded history by a dedicated
// goroutine; emission never blocks the caller.
type Trail struct {
	eventCh chan Event
	mutex   sync.RWMutex
	events  []Event
	logger  *slog.Logger
	done    chan struct{}
}

func NewTrail(bufferSize int, logger *slog.Logger) *Trail {
	return &Trail{
		eventCh: make(chan Event, bufferSize),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the collector goroutine. It runs until ctx is cancelled,
// draining any queued events before exiting.
func (t *Trail) Start(ctx context.Context) {
	go t.run(ctx)
}

// Done is closed once the collector has drained and stopped.
func (t *Trail) Done() <-chan struct{} {
	return t.done
}

// Emit records an event without blocking. If the buffer is full the event
// is dropped with a warning; audit is best-effort, never back-pressure.
func (t *Trail) Emit(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case t.eventCh <- event:
	default:
		t.logger.Warn("audit buffer full, dropping event",
			slog.String("type", string(event.Type)))
	}
}

// Recent returns the retained events, oldest first.
func (t *Trail) Recent() []Event {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return append([]Event(nil), t.events...)
}

// Restore seeds the history from a persisted snapshot.
func (t *Trail) Restore(events []Event) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.events = append([]Event(nil), events...)
	if len(t.events) > maxRetained {
		t.events = t.events[len(t.events)-maxRetained:]
	}
}

func (t *Trail) run(ctx context.Context) {
	t.logger.Info("audit trail started")
	defer t.logger.Info("audit trail stopped")
	defer close(t.done)

	for {
		select {
		case event := <-t.eventCh:
			t.retain(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			t.drain()
			return
		}
	}
}

func (t *Trail) retain(event Event) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.events = append(t.events, event)
	if len(t.events) > maxRetained {
		t.events = t.events[1:]
	}
}

func (t *Trail) drain() {
	for {
		select {
		case event := <-t.eventCh:
			t.retain(event)
		default:
			return
		}
	}
}
