package events

import (
	"context"
	"log/slog"
	"sync"
)

// Publisher is the interface for publishing usage events.
// Implementations may be no-op, logging, or in-memory channel-backed.
type Publisher interface {
	// Publish sends an event. Returns error only for transport failures,
	// never for event content.
	Publish(ctx context.Context, event Event) error

	// PublishAsync sends an event without waiting. Loss under pressure
	// is acceptable; blocking the caller is not.
	PublishAsync(event Event)

	// Close releases resources.
	Close() error
}

// NoopPublisher discards all events.
type NoopPublisher struct{}

// NewNoopPublisher creates a publisher that silently discards events.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

func (p *NoopPublisher) Publish(ctx context.Context, event Event) error { return nil }

func (p *NoopPublisher) PublishAsync(event Event) {}

func (p *NoopPublisher) Close() error { return nil }

// LoggingPublisher logs events at debug level. Useful in development.
type LoggingPublisher struct {
	logger *slog.Logger
}

// NewLoggingPublisher creates a publisher that logs events.
func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, event Event) error {
	p.log(event)
	return nil
}

func (p *LoggingPublisher) PublishAsync(event Event) {
	p.log(event)
}

func (p *LoggingPublisher) log(event Event) {
	p.logger.Debug("event published",
		"subject", event.Subject(),
		"type", event.EventType,
		"provider", event.Provider,
		"key", event.Key,
	)
}

func (p *LoggingPublisher) Close() error { return nil }

// ChannelPublisher buffers events on a channel for a local consumer.
// Events are dropped, not blocked on, when the buffer is full.
type ChannelPublisher struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped int64
}

// NewChannelPublisher creates a publisher buffering up to size events.
func NewChannelPublisher(size int) *ChannelPublisher {
	return &ChannelPublisher{ch: make(chan Event, size)}
}

// Events returns the consumer side of the buffer.
func (p *ChannelPublisher) Events() <-chan Event {
	return p.ch
}

// DroppedCount returns how many events were discarded on a full buffer.
func (p *ChannelPublisher) DroppedCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *ChannelPublisher) Publish(ctx context.Context, event Event) error {
	p.PublishAsync(event)
	return nil
}

func (p *ChannelPublisher) PublishAsync(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- event:
	default:
		p.dropped++
	}
}

func (p *ChannelPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}

// MultiPublisher fans events out to several publishers.
type MultiPublisher struct {
	publishers []Publisher
}

// NewMultiPublisher creates a publisher delegating to all given ones.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

func (p *MultiPublisher) Publish(ctx context.Context, event Event) error {
	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (p *MultiPublisher) PublishAsync(event Event) {
	for _, pub := range p.publishers {
		pub.PublishAsync(event)
	}
}

func (p *MultiPublisher) Close() error {
	var firstErr error
	for _, pub := range p.publishers {
		if err := pub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
