// Package transport abstracts delivery of location events to a single
// client. A Channel may be a direct in-process callback or a buffered
// queue standing in for an out-of-process messaging channel; either way
// liveness loss surfaces as ErrChannelClosed so disconnects and explicit
// unregistration share one removal path.
package transport

import (
	"errors"
	"sync"

	"github.com/sebas/waypoint/internal/locationd/types"
)

// ErrChannelClosed marks a terminal delivery failure. The owner removes
// the registration and never retries.
var ErrChannelClosed = errors.New("transport: channel closed")

// Channel delivers location events to one client.
type Channel interface {
	// DeliverLocations hands the client a batch of fixes. The slice and
	// its elements must not be retained by the caller afterwards.
	DeliverLocations(locations []*types.Location) error

	// DeliverProviderEnabledChanged informs the client that a provider
	// was enabled or disabled for its user.
	DeliverProviderEnabledChanged(provider string, enabled bool) error

	// SetOnClosed registers fn to run once when the client side goes
	// away. The owner uses it to unregister the associated registration.
	SetOnClosed(fn func())

	// Close releases the channel from the owner side. It never fires the
	// OnClosed callback.
	Close() error
}

// CallbackChannel invokes in-process callbacks directly.
type CallbackChannel struct {
	mu         sync.Mutex
	onLocation func([]*types.Location)
	onEnabled  func(provider string, enabled bool)
	onClosed   func()
	closed     bool
}

// NewCallbackChannel wraps the given callbacks. Either callback may be
// nil, in which case the corresponding events are discarded.
func NewCallbackChannel(onLocation func([]*types.Location), onEnabled func(provider string, enabled bool)) *CallbackChannel {
	return &CallbackChannel{onLocation: onLocation, onEnabled: onEnabled}
}

func (c *CallbackChannel) DeliverLocations(locations []*types.Location) error {
	c.mu.Lock()
	closed, fn := c.closed, c.onLocation
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	if fn != nil {
		fn(locations)
	}
	return nil
}

func (c *CallbackChannel) DeliverProviderEnabledChanged(provider string, enabled bool) error {
	c.mu.Lock()
	closed, fn := c.closed, c.onEnabled
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	if fn != nil {
		fn(provider, enabled)
	}
	return nil
}

func (c *CallbackChannel) SetOnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// Disconnect simulates the client side going away. Subsequent deliveries
// fail terminally and the OnClosed callback fires exactly once.
func (c *CallbackChannel) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClosed
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *CallbackChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Message is one event read from a BufferedChannel.
type Message struct {
	Locations       []*types.Location
	ProviderEnabled *ProviderEnabledChange
}

// ProviderEnabledChange reports a provider enabled-state flip.
type ProviderEnabledChange struct {
	Provider string
	Enabled  bool
}

// BufferedChannel queues events for a consumer goroutine, modeling a
// messaging channel that crosses a process boundary. When the buffer is
// full new events are dropped and counted rather than blocking the
// delivery path.
type BufferedChannel struct {
	mu       sync.Mutex
	ch       chan Message
	onClosed func()
	closed   bool
	dropped  int64
}

// NewBufferedChannel creates a channel buffering up to size messages.
func NewBufferedChannel(size int) *BufferedChannel {
	return &BufferedChannel{ch: make(chan Message, size)}
}

// Messages returns the consumer side of the channel. It is closed when
// the channel is closed or disconnected.
func (c *BufferedChannel) Messages() <-chan Message {
	return c.ch
}

// DroppedCount returns how many messages were discarded on a full buffer.
func (c *BufferedChannel) DroppedCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *BufferedChannel) DeliverLocations(locations []*types.Location) error {
	return c.send(Message{Locations: locations})
}

func (c *BufferedChannel) DeliverProviderEnabledChanged(provider string, enabled bool) error {
	return c.send(Message{ProviderEnabled: &ProviderEnabledChange{Provider: provider, Enabled: enabled}})
}

func (c *BufferedChannel) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.ch <- msg:
	default:
		c.dropped++
	}
	return nil
}

func (c *BufferedChannel) SetOnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// Disconnect simulates the consumer going away. The OnClosed callback
// fires exactly once on the caller's goroutine.
func (c *BufferedChannel) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClosed
	close(c.ch)
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *BufferedChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}
