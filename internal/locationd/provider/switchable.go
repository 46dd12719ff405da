package provider

import (
	"log/slog"
	"sync"

	"github.com/sebas/waypoint/internal/locationd/types"
)

// Switchable wraps a mutable reference to either a hardware-backed or a
// simulated provider and exposes the same surface regardless of which is
// installed. Switching resets the installed request on both sides so no
// state leaks between mock and real.
type Switchable struct {
	mu       sync.Mutex
	current  Provider
	listener Listener
}

// NewSwitchable wraps the initial provider.
func NewSwitchable(initial Provider) *Switchable {
	s := &Switchable{current: initial}
	if initial != nil {
		initial.SetListener(&forwarding{owner: s})
	}
	return s
}

// forwarding relays the current provider's callbacks to the owner's
// listener, so swapping providers never requires re-registration.
type forwarding struct {
	owner *Switchable
}

func (f *forwarding) OnReportLocation(locations []*types.Location) {
	f.owner.mu.Lock()
	l := f.owner.listener
	f.owner.mu.Unlock()
	if l != nil {
		l.OnReportLocation(locations)
	}
}

func (f *forwarding) OnStateChanged(old, new State) {
	f.owner.mu.Lock()
	l := f.owner.listener
	f.owner.mu.Unlock()
	if l != nil {
		l.OnStateChanged(old, new)
	}
}

// SetProvider swaps the underlying provider. The outgoing provider's
// request is cleared and its listener detached; the incoming provider
// starts from an empty request. The owner's listener observes the state
// transition between the two providers.
func (s *Switchable) SetProvider(p Provider) {
	s.mu.Lock()
	old := s.current
	listener := s.listener
	s.current = p
	s.mu.Unlock()

	var oldState, newState State
	if old != nil {
		oldState = old.State()
		old.SetListener(nil)
		if err := old.SetRequest(types.EmptyProviderRequest); err != nil {
			slog.Warn("[Provider] Failed to clear request on outgoing provider", "error", err)
		}
	}
	if p != nil {
		if err := p.SetRequest(types.EmptyProviderRequest); err != nil {
			slog.Warn("[Provider] Failed to reset request on incoming provider", "error", err)
		}
		p.SetListener(&forwarding{owner: s})
		newState = p.State()
	}
	if listener != nil {
		listener.OnStateChanged(oldState, newState)
	}
}

// Current returns the installed provider.
func (s *Switchable) Current() Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// IsMock reports whether a mock provider is installed.
func (s *Switchable) IsMock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.current.(*Mock)
	return ok
}

func (s *Switchable) State() State {
	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	if p == nil {
		return State{}
	}
	return p.State()
}

func (s *Switchable) SetRequest(req types.ProviderRequest) error {
	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.SetRequest(req)
}

func (s *Switchable) SendExtraCommand(command string, args map[string]string) error {
	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.SendExtraCommand(command, args)
}

func (s *Switchable) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}
