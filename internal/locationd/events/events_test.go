package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebas/waypoint/internal/locationd/types"
)

func TestSubject(t *testing.T) {
	b := NewBuilder("node-1")
	e := b.LocationDelivered("gps", "key-1", types.Identity{}, false)
	want := "waypoint.providers.gps.location.delivered"
	if got := e.Subject(); got != want {
		t.Errorf("Subject() = %q, want %q", got, want)
	}
}

func TestBuilderStampsEvents(t *testing.T) {
	b := NewBuilder("node-1")
	identity := types.Identity{UID: 1000, UserID: 0, Package: "com.example.app"}

	e := b.RegistrationAdded("gps", "key-1", identity, 5000)
	if e.EventID == "" {
		t.Error("EventID is empty")
	}
	if e.NodeID != "node-1" {
		t.Errorf("NodeID = %q, want %q", e.NodeID, "node-1")
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
	if e.EventType != RegistrationAdded {
		t.Errorf("EventType = %q, want %q", e.EventType, RegistrationAdded)
	}
	if e.IntervalMillis != 5000 {
		t.Errorf("IntervalMillis = %d, want 5000", e.IntervalMillis)
	}
	if e.Package != "com.example.app" {
		t.Errorf("Package = %q, want %q", e.Package, "com.example.app")
	}

	e2 := b.RegistrationAdded("gps", "key-2", identity, 5000)
	if e.EventID == e2.EventID {
		t.Error("consecutive events share an EventID")
	}
}

func TestEventJSONOmitsEmptyFields(t *testing.T) {
	b := NewBuilder("node-1")
	e := b.LocationRejected("gps", "incomplete")

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	for _, want := range []string{"event_id", "event_type", "node_id", "timestamp", "provider", "reason"} {
		if _, ok := fields[want]; !ok {
			t.Errorf("field %q missing from JSON", want)
		}
	}
	for _, absent := range []string{"key", "package", "interval_ms", "enabled", "mock"} {
		if _, ok := fields[absent]; ok {
			t.Errorf("field %q should be omitted from JSON", absent)
		}
	}
}

func TestProviderEnabledChangedCarriesExplicitFalse(t *testing.T) {
	b := NewBuilder("node-1")
	e := b.ProviderEnabledChanged("gps", 0, false)

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	enabled, ok := fields["enabled"]
	if !ok {
		t.Fatal("enabled field missing: false must not be omitted")
	}
	if enabled != false {
		t.Errorf("enabled = %v, want false", enabled)
	}
}

func TestChannelPublisherBuffersAndDrops(t *testing.T) {
	p := NewChannelPublisher(2)
	b := NewBuilder("node-1")

	p.PublishAsync(b.LocationRejected("gps", "one"))
	p.PublishAsync(b.LocationRejected("gps", "two"))
	p.PublishAsync(b.LocationRejected("gps", "three"))

	if got := p.DroppedCount(); got != 1 {
		t.Errorf("DroppedCount() = %d, want 1", got)
	}
	e := <-p.Events()
	if e.Reason != "one" {
		t.Errorf("first event reason = %q, want %q", e.Reason, "one")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Publishing after close is a silent no-op.
	p.PublishAsync(b.LocationRejected("gps", "late"))
}

func TestMultiPublisherFansOut(t *testing.T) {
	a := NewChannelPublisher(1)
	b := NewChannelPublisher(1)
	multi := NewMultiPublisher(a, b)

	if err := multi.Publish(context.Background(), NewBuilder("n").LocationRejected("gps", "r")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Error("event not fanned out to all publishers")
	}
	if err := multi.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
