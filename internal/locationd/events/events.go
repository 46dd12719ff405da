// Package events provides fire-and-forget usage logging for the
// location daemon. Publishing must never block or fail back into the
// core: the Channel publisher drops on a full buffer and counts drops.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sebas/waypoint/internal/locationd/types"
)

// EventType identifies what happened.
type EventType string

const (
	RegistrationAdded      EventType = "registration.added"
	RegistrationRemoved    EventType = "registration.removed"
	LocationDelivered      EventType = "location.delivered"
	LocationRejected       EventType = "location.rejected"
	ProviderRequestChanged EventType = "provider.request.changed"
	ProviderEnabledChanged EventType = "provider.enabled.changed"
)

// Event is one usage record. Fields are omitted when not applicable to
// the event type.
type Event struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`

	Provider string `json:"provider,omitempty"`
	Key      string `json:"key,omitempty"`
	Package  string `json:"package,omitempty"`
	UID      int    `json:"uid,omitempty"`
	UserID   int    `json:"user_id,omitempty"`
	Reason   string `json:"reason,omitempty"`

	IntervalMillis int64 `json:"interval_ms,omitempty"`
	Enabled        *bool `json:"enabled,omitempty"`
	Mock           bool  `json:"mock,omitempty"`
}

// Subject returns the dotted routing subject for the event, e.g.
// "waypoint.providers.gps.location.delivered".
func (e Event) Subject() string {
	return fmt.Sprintf("waypoint.providers.%s.%s", e.Provider, e.EventType)
}

// Builder stamps events with node identity and unique IDs.
type Builder struct {
	nodeID string
}

// NewBuilder creates a builder for the given node.
func NewBuilder(nodeID string) *Builder {
	return &Builder{nodeID: nodeID}
}

func (b *Builder) base(t EventType, provider string) Event {
	return Event{
		EventID:   uuid.NewString(),
		EventType: t,
		NodeID:    b.nodeID,
		Timestamp: time.Now(),
		Provider:  provider,
	}
}

// RegistrationAdded records a new client subscription.
func (b *Builder) RegistrationAdded(provider, key string, identity types.Identity, intervalMillis int64) Event {
	e := b.base(RegistrationAdded, provider)
	e.Key = key
	e.Package = identity.Package
	e.UID = identity.UID
	e.UserID = identity.UserID
	e.IntervalMillis = intervalMillis
	return e
}

// RegistrationRemoved records an ended subscription and why it ended.
func (b *Builder) RegistrationRemoved(provider, key, reason string) Event {
	e := b.base(RegistrationRemoved, provider)
	e.Key = key
	e.Reason = reason
	return e
}

// LocationDelivered records one accepted delivery.
func (b *Builder) LocationDelivered(provider, key string, identity types.Identity, mock bool) Event {
	e := b.base(LocationDelivered, provider)
	e.Key = key
	e.Package = identity.Package
	e.UID = identity.UID
	e.UserID = identity.UserID
	e.Mock = mock
	return e
}

// LocationRejected records a fix dropped at ingestion.
func (b *Builder) LocationRejected(provider, reason string) Event {
	e := b.base(LocationRejected, provider)
	e.Reason = reason
	return e
}

// ProviderRequestChanged records a new upstream request installation.
func (b *Builder) ProviderRequestChanged(provider string, intervalMillis int64) Event {
	e := b.base(ProviderRequestChanged, provider)
	e.IntervalMillis = intervalMillis
	return e
}

// ProviderEnabledChanged records an enabled-state flip for a user.
func (b *Builder) ProviderEnabledChanged(provider string, userID int, enabled bool) Event {
	e := b.base(ProviderEnabledChanged, provider)
	e.UserID = userID
	e.Enabled = &enabled
	return e
}
