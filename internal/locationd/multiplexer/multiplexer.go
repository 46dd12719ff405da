// Package multiplexer tracks a keyed collection of client registrations,
// decides which subset is active under an owner-supplied policy, merges
// the active set into a single upstream request, and dispatches events
// to active registrations. It is generic over the key, registration, and
// merged-request types; owners specialize behavior through hook fields
// rather than subclassing.
package multiplexer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sebas/waypoint/internal/locationd/transport"
)

// Operation is one deferred delivery against a single registration's
// transport. Operations run outside the multiplexer lock; a terminal
// transport failure removes the registration, any other failure is a
// programming error and panics.
type Operation func() error

// Hooks are the owner-supplied policy and lifecycle callbacks. IsActive,
// Merge and MergedEqual are required; the rest are optional. All hooks
// run while the multiplexer lock is held, so they may touch owner state
// guarded by the same lock but must not call back into the multiplexer.
type Hooks[K comparable, R any, M any] struct {
	// IsActive decides whether a registration is eligible for delivery.
	IsActive func(reg R) bool

	// Merge folds the active registrations into the upstream request.
	Merge func(actives []R) M

	// MergedEqual reports whether two merged requests are equivalent, to
	// suppress redundant upstream churn.
	MergedEqual func(a, b M) bool

	// Service propagation. Register installs the first merged request,
	// Reregister replaces an installed one (and may debounce), Unregister
	// clears it when the active set empties.
	RegisterWithService   func(merged M, actives []R) error
	ReregisterWithService func(old, merged M, actives []R) error
	UnregisterWithService func()

	// OnRegister fires when the collection becomes non-empty,
	// OnUnregister when it empties again. Owners use the pair to bind
	// and release change-notification sources they only need while
	// serving clients.
	OnRegister   func()
	OnUnregister func()

	OnAdded    func(key K, reg R)
	OnReplaced func(key K, old, new R)
	OnRemoved  func(key K, reg R)

	// OnActive fires on the inactive-to-active transition and may return
	// an operation to run immediately (historical delivery). OnInactive
	// fires on the reverse transition.
	OnActive   func(key K, reg R) Operation
	OnInactive func(key K, reg R)
}

// Multiplexer is the generic registration collection. A single mutex
// guards all bookkeeping; see New for sharing it with the owner.
type Multiplexer[K comparable, R any, M any] struct {
	name  string
	mu    *sync.Mutex
	hooks Hooks[K, R, M]

	registrations map[K]R
	active        map[K]bool
	order         []K

	serviceRegistered bool
	merged            M
}

type boundOp[K comparable] struct {
	key K
	op  Operation
}

// New creates a multiplexer. If lock is non-nil the multiplexer shares
// it with the owner so hooks can read owner state without re-locking;
// the owner must then never hold the lock when calling public methods.
func New[K comparable, R any, M any](name string, lock *sync.Mutex, hooks Hooks[K, R, M]) *Multiplexer[K, R, M] {
	if hooks.IsActive == nil || hooks.Merge == nil || hooks.MergedEqual == nil {
		panic("multiplexer: IsActive, Merge and MergedEqual hooks are required")
	}
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Multiplexer[K, R, M]{
		name:          name,
		mu:            lock,
		hooks:         hooks,
		registrations: make(map[K]R),
		active:        make(map[K]bool),
	}
}

// Add registers reg under key. An existing registration under the same
// key is replaced, never duplicated; the OnReplaced hook lets the owner
// carry state (such as the last delivered location) forward.
func (m *Multiplexer[K, R, M]) Add(key K, reg R) {
	m.mu.Lock()
	old, existed := m.registrations[key]
	if existed {
		if m.active[key] {
			delete(m.active, key)
			if m.hooks.OnInactive != nil {
				m.hooks.OnInactive(key, old)
			}
		}
	} else {
		m.order = append(m.order, key)
		if len(m.registrations) == 0 && m.hooks.OnRegister != nil {
			m.hooks.OnRegister()
		}
	}
	m.registrations[key] = reg
	if m.hooks.OnAdded != nil {
		m.hooks.OnAdded(key, reg)
	}
	if existed && m.hooks.OnReplaced != nil {
		m.hooks.OnReplaced(key, old, reg)
	}

	var pending []boundOp[K]
	if op, _ := m.evaluateLocked(key); op != nil {
		pending = append(pending, boundOp[K]{key, op})
	}
	m.updateServiceLocked()
	m.mu.Unlock()

	m.execute(pending)
}

// Remove unregisters key. Safe to call from within a delivery callback.
func (m *Multiplexer[K, R, M]) Remove(key K) bool {
	m.mu.Lock()
	removed := m.removeLocked(key)
	if removed {
		m.updateServiceLocked()
	}
	m.mu.Unlock()
	return removed
}

// RemoveIf unregisters every registration matching pred.
func (m *Multiplexer[K, R, M]) RemoveIf(pred func(key K, reg R) bool) {
	m.mu.Lock()
	var matched []K
	for _, key := range m.order {
		if pred(key, m.registrations[key]) {
			matched = append(matched, key)
		}
	}
	removed := false
	for _, key := range matched {
		removed = m.removeLocked(key) || removed
	}
	if removed {
		m.updateServiceLocked()
	}
	m.mu.Unlock()
}

func (m *Multiplexer[K, R, M]) removeLocked(key K) bool {
	reg, ok := m.registrations[key]
	if !ok {
		return false
	}
	if m.active[key] {
		delete(m.active, key)
		if m.hooks.OnInactive != nil {
			m.hooks.OnInactive(key, reg)
		}
	}
	delete(m.registrations, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.hooks.OnRemoved != nil {
		m.hooks.OnRemoved(key, reg)
	}
	if len(m.registrations) == 0 && m.hooks.OnUnregister != nil {
		m.hooks.OnUnregister()
	}
	return true
}

// UpdateRegistrations invokes update on every registration and
// re-evaluates the active state of those for which it returns true.
// Owners call this after any policy-affecting external signal.
func (m *Multiplexer[K, R, M]) UpdateRegistrations(update func(key K, reg R) bool) {
	m.mu.Lock()
	var pending []boundOp[K]
	changed := false
	for _, key := range append([]K(nil), m.order...) {
		reg, ok := m.registrations[key]
		if !ok {
			continue
		}
		if !update(key, reg) {
			continue
		}
		changed = true
		if op, _ := m.evaluateLocked(key); op != nil {
			pending = append(pending, boundOp[K]{key, op})
		}
	}
	if changed {
		m.updateServiceLocked()
	}
	m.mu.Unlock()

	m.execute(pending)
}

// DeliverToListeners builds a per-listener operation for every active
// registration via factory (which may decline by returning nil) and
// executes the operations against the registrations' transports. Each
// active registration that the factory accepts receives the event
// exactly once per call, in a stable per-snapshot order.
func (m *Multiplexer[K, R, M]) DeliverToListeners(factory func(key K, reg R) Operation) {
	m.mu.Lock()
	var ops []boundOp[K]
	for _, key := range m.order {
		if !m.active[key] {
			continue
		}
		if op := factory(key, m.registrations[key]); op != nil {
			ops = append(ops, boundOp[K]{key, op})
		}
	}
	m.mu.Unlock()

	m.execute(ops)
}

// Get returns the registration under key.
func (m *Multiplexer[K, R, M]) Get(key K) (R, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.registrations[key]
	return reg, ok
}

// Len returns the number of registrations, active or not.
func (m *Multiplexer[K, R, M]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.registrations)
}

// ForEach visits every registration in insertion order until fn returns
// false. fn runs under the multiplexer lock.
func (m *Multiplexer[K, R, M]) ForEach(fn func(key K, reg R, active bool) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range m.order {
		if !fn(key, m.registrations[key], m.active[key]) {
			return
		}
	}
}

// Merged returns the currently installed merged request, if any.
func (m *Multiplexer[K, R, M]) Merged() (M, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.merged, m.serviceRegistered
}

// evaluateLocked recomputes the active state of key. Returns an optional
// immediate-delivery operation from OnActive and whether state changed.
func (m *Multiplexer[K, R, M]) evaluateLocked(key K) (Operation, bool) {
	reg := m.registrations[key]
	want := m.hooks.IsActive(reg)
	if want == m.active[key] {
		return nil, false
	}
	if want {
		m.active[key] = true
		if m.hooks.OnActive != nil {
			return m.hooks.OnActive(key, reg), true
		}
		return nil, true
	}
	delete(m.active, key)
	if m.hooks.OnInactive != nil {
		m.hooks.OnInactive(key, reg)
	}
	return nil, true
}

// updateServiceLocked recomputes the merged request from the active set
// and propagates it upstream only when it actually changed.
func (m *Multiplexer[K, R, M]) updateServiceLocked() {
	var actives []R
	for _, key := range m.order {
		if m.active[key] {
			actives = append(actives, m.registrations[key])
		}
	}

	if len(actives) == 0 {
		if m.serviceRegistered {
			if m.hooks.UnregisterWithService != nil {
				m.hooks.UnregisterWithService()
			}
			m.serviceRegistered = false
			var zero M
			m.merged = zero
		}
		return
	}

	merged := m.hooks.Merge(actives)
	if m.serviceRegistered && m.hooks.MergedEqual(merged, m.merged) {
		return
	}

	var err error
	if !m.serviceRegistered {
		if m.hooks.RegisterWithService != nil {
			err = m.hooks.RegisterWithService(merged, actives)
		}
	} else {
		if m.hooks.ReregisterWithService != nil {
			err = m.hooks.ReregisterWithService(m.merged, merged, actives)
		}
	}
	if err != nil {
		slog.Warn("[Multiplexer] Service registration failed", "name", m.name, "error", err)
		m.serviceRegistered = false
		var zero M
		m.merged = zero
		return
	}
	m.merged = merged
	m.serviceRegistered = true
}

// execute runs operations outside the lock. A terminal transport failure
// silently unregisters the affected registration and is never surfaced
// to other clients; any other failure is an unrecoverable logic error.
func (m *Multiplexer[K, R, M]) execute(ops []boundOp[K]) {
	for _, b := range ops {
		err := b.op()
		if err == nil {
			continue
		}
		if errors.Is(err, transport.ErrChannelClosed) {
			slog.Debug("[Multiplexer] Listener channel closed, removing", "name", m.name, "key", b.key)
			m.Remove(b.key)
			continue
		}
		panic(fmt.Sprintf("multiplexer %s: unexpected delivery failure for key %v: %v", m.name, b.key, err))
	}
}
