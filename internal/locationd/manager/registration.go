package manager

import (
	"time"

	"github.com/sebas/waypoint/internal/locationd/transport"
	"github.com/sebas/waypoint/internal/locationd/types"
)

// Key uniquely identifies one registration within a manager. Callers may
// supply their own (a channel token); absent one a random key is issued.
type Key string

// Kind selects the registration's behavior at construction instead of a
// subclass hierarchy.
type Kind int

const (
	// KindListener is a continuous subscription to location updates.
	KindListener Kind = iota
	// KindGetCurrent is a one-shot request satisfied by a sufficiently
	// fresh cached fix or the next provider report, whichever is first.
	KindGetCurrent
)

func (k Kind) String() string {
	switch k {
	case KindListener:
		return "listener"
	case KindGetCurrent:
		return "get_current"
	default:
		return "unknown"
	}
}

// Registration is one client's live subscription. All mutable fields are
// guarded by the owning manager's lock.
type Registration struct {
	key             Key
	kind            Kind
	identity        types.Identity
	permissionLevel types.PermissionLevel
	request         types.LocationRequest
	channel         transport.Channel

	// Guarded by the manager lock.
	effective     types.LocationRequest // provider-adjusted, derived from request
	permitted     bool
	foreground    bool
	lastDelivered *types.Location
	numDeliveries int
	expireAt      time.Time // zero means no expiration
	cancelExpiry  func()
	removed       bool
}

// RegistrationSnapshot is an immutable view for diagnostics.
type RegistrationSnapshot struct {
	Key             string                `json:"key"`
	Kind            string                `json:"kind"`
	Identity        types.Identity        `json:"identity"`
	PermissionLevel string                `json:"permission_level"`
	Request         types.LocationRequest `json:"request"`
	Effective       types.LocationRequest `json:"effective"`
	Active          bool                  `json:"active"`
	Permitted       bool                  `json:"permitted"`
	Foreground      bool                  `json:"foreground"`
	NumDeliveries   int                   `json:"num_deliveries"`
	LastDelivered   *types.Location       `json:"last_delivered,omitempty"`
}

func (r *Registration) snapshotLocked(active bool) RegistrationSnapshot {
	return RegistrationSnapshot{
		Key:             string(r.key),
		Kind:            r.kind.String(),
		Identity:        r.identity,
		PermissionLevel: r.permissionLevel.String(),
		Request:         r.request,
		Effective:       r.effective,
		Active:          active,
		Permitted:       r.permitted,
		Foreground:      r.foreground,
		NumDeliveries:   r.numDeliveries,
		LastDelivered:   r.lastDelivered.Copy(),
	}
}
