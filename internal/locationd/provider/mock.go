package provider

import (
	"sync"
	"time"

	"github.com/sebas/waypoint/internal/locationd/types"
)

// Mock is a scriptable provider. Injected fixes are always flagged as
// mock so downstream consumers can tell them apart from driver output.
type Mock struct {
	mu       sync.Mutex
	name     string
	state    State
	listener Listener
	request  types.ProviderRequest
	commands []MockCommand
}

// MockCommand records one extra command sent to the mock.
type MockCommand struct {
	Command string
	Args    map[string]string
}

// NewMock creates an allowed mock provider reporting under name.
func NewMock(name string, identity types.Identity) *Mock {
	return &Mock{
		name: name,
		state: State{
			Allowed:  true,
			Identity: identity,
		},
		request: types.EmptyProviderRequest,
	}
}

func (m *Mock) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mock) SetRequest(req types.ProviderRequest) error {
	m.mu.Lock()
	m.request = req
	m.mu.Unlock()
	return nil
}

// LastRequest returns the most recently installed request.
func (m *Mock) LastRequest() types.ProviderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.request
}

func (m *Mock) SendExtraCommand(command string, args map[string]string) error {
	m.mu.Lock()
	m.commands = append(m.commands, MockCommand{Command: command, Args: args})
	m.mu.Unlock()
	return nil
}

// Commands returns the extra commands received so far.
func (m *Mock) Commands() []MockCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCommand(nil), m.commands...)
}

func (m *Mock) SetListener(l Listener) {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
}

// SetAllowed flips the provider's allowed state and notifies the
// listener of the transition.
func (m *Mock) SetAllowed(allowed bool) {
	m.mu.Lock()
	old := m.state
	m.state.Allowed = allowed
	new := m.state
	l := m.listener
	m.mu.Unlock()
	if l != nil && old != new {
		l.OnStateChanged(old, new)
	}
}

// SetProperties replaces the provider properties.
func (m *Mock) SetProperties(p Properties) {
	m.mu.Lock()
	old := m.state
	m.state.Properties = p
	new := m.state
	l := m.listener
	m.mu.Unlock()
	if l != nil && old != new {
		l.OnStateChanged(old, new)
	}
}

// Inject reports a fix through the provider. The fix is copied, stamped
// with the provider name, flagged as mock, and given the current time if
// it has none.
func (m *Mock) Inject(loc *types.Location) {
	out := loc.Copy()
	out.Provider = m.name
	out.Mock = true
	if out.Time.IsZero() {
		out.Time = time.Now()
	}
	m.mu.Lock()
	l := m.listener
	m.mu.Unlock()
	if l != nil {
		l.OnReportLocation([]*types.Location{out})
	}
}
