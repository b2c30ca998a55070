package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ever/pkg/requestcontext"
)

// Sink persists audit events. Implementations must tolerate concurrent
// appends.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Publisher annotates and forwards events to a sink. It is append-only and
// sink failures are logged, not returned, so identity operations never fail
// on an audit problem.
type Publisher struct {
	sink   Sink
	logger *slog.Logger
}

func NewPublisher(sink Sink, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{sink: sink, logger: logger}
}

// Emit stamps the event with request-scoped metadata and timestamp, then
// appends it to the sink.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if p == nil || p.sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.RequestID = requestcontext.RequestID(ctx)
	event.ClientIP = requestcontext.ClientIP(ctx)
	event = event.WithClient(requestcontext.UserAgent(ctx))

	if err := p.sink.Append(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "audit append failed",
			"event", string(event.Type),
			"error", err,
		)
	}
}

// MemorySink keeps events in memory. Default sink when no brokers are
// configured; tests read events back through List.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns a copy of all recorded events in append order.
func (s *MemorySink) List() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events...)
}
