// Package helpers defines the external collaborators the location core
// consumes: settings, permissions, app state, power policy, alarms,
// app-ops, and wake locks. Each is an explicitly constructed dependency
// injected at manager construction with its own subscribe lifecycle; no
// global registries.
package helpers

import (
	"sync"
	"time"

	"github.com/sebas/waypoint/internal/locationd/types"
)

// Settings exposes user and policy settings plus change notifications.
// Persistence of these values across restarts belongs to whoever
// implements this interface, not to the location core.
type Settings interface {
	// BackgroundThrottleIntervalMillis is the interval floor applied to
	// backgrounded, non-exempt requests.
	BackgroundThrottleIntervalMillis() int64
	// IsBackgroundThrottleExempt reports whether pkg is allow-listed out
	// of background throttling.
	IsBackgroundThrottleExempt(pkg string) bool
	// IsIgnoreSettingsAllowlisted reports whether pkg may bypass the
	// user's location toggle.
	IsIgnoreSettingsAllowlisted(pkg string) bool
	// IsLocationEnabled reports the user's location toggle.
	IsLocationEnabled(userID int) bool
	// CurrentUserID is the foreground user.
	CurrentUserID() int

	SubscribeLocationEnabled(fn func(userID int)) (cancel func())
	SubscribeCurrentUser(fn func(oldUser, newUser int)) (cancel func())
}

// Permissions answers location permission queries.
type Permissions interface {
	HasLocationPermission(level types.PermissionLevel, identity types.Identity) bool
	Subscribe(fn func(uid int)) (cancel func())
}

// AppForeground tracks which uids are foreground.
type AppForeground interface {
	IsForeground(uid int) bool
	Subscribe(fn func(uid int, foreground bool)) (cancel func())
}

// PowerModeKind is the location power-save policy in effect.
type PowerModeKind int

const (
	PowerModeNoChange PowerModeKind = iota
	PowerModeForegroundOnly
	PowerModeGPSDisabledScreenOff
	PowerModeThrottleScreenOff
	PowerModeAllDisabledScreenOff
)

func (k PowerModeKind) String() string {
	switch k {
	case PowerModeNoChange:
		return "no_change"
	case PowerModeForegroundOnly:
		return "foreground_only"
	case PowerModeGPSDisabledScreenOff:
		return "gps_disabled_screen_off"
	case PowerModeThrottleScreenOff:
		return "throttle_screen_off"
	case PowerModeAllDisabledScreenOff:
		return "all_disabled_screen_off"
	default:
		return "unknown"
	}
}

// PowerMode exposes the current power-save policy.
type PowerMode interface {
	Mode() PowerModeKind
	Subscribe(fn func(PowerModeKind)) (cancel func())
}

// ScreenInteractive exposes whether the screen is interactive.
type ScreenInteractive interface {
	Interactive() bool
	Subscribe(fn func(interactive bool)) (cancel func())
}

// Alarms schedules one-shot callbacks. The callback fires exactly once
// on an unspecified timer goroutine unless cancelled first.
type Alarms interface {
	Schedule(delay time.Duration, fn func(), ws types.WorkSource) (cancel func())
}

// AppOps notes an operation against a caller at delivery time.
type AppOps interface {
	NoteOp(op string, identity types.Identity) bool
}

// Op names for app-ops notes, one per permission level.
const (
	OpFineLocation   = "location:fine"
	OpCoarseLocation = "location:coarse"
)

// OpForPermission maps a permission level to its app-ops op.
func OpForPermission(level types.PermissionLevel) string {
	if level >= types.PermissionFine {
		return OpFineLocation
	}
	return OpCoarseLocation
}

// WakeLock keeps the system awake until released.
type WakeLock interface {
	Release()
}

// WakeLocks hands out reference-counted wake locks attributed to the
// requester's work source.
type WakeLocks interface {
	Acquire(ws types.WorkSource) WakeLock
}

// notifier is a small subscription registry shared by the static helper
// implementations. Callbacks run outside the registry lock.
type notifier[T any] struct {
	mu   sync.Mutex
	seq  int
	subs map[int]func(T)
}

func (n *notifier[T]) subscribe(fn func(T)) (cancel func()) {
	n.mu.Lock()
	if n.subs == nil {
		n.subs = make(map[int]func(T))
	}
	n.seq++
	id := n.seq
	n.subs[id] = fn
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

func (n *notifier[T]) notify(v T) {
	n.mu.Lock()
	fns := make([]func(T), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
