package provider

import (
	"sync"

	"github.com/sebas/waypoint/internal/locationd/types"
)

// Null is a provider that never produces fixes and accepts any request.
// The passive manager sits on top of one: its fixes arrive by forwarding
// from the other managers, not from a driver.
type Null struct {
	mu    sync.Mutex
	state State
}

// NewNull creates an always-allowed provider that does nothing.
func NewNull(identity types.Identity) *Null {
	return &Null{state: State{Allowed: true, Identity: identity}}
}

func (n *Null) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Null) SetRequest(types.ProviderRequest) error { return nil }

func (n *Null) SendExtraCommand(string, map[string]string) error { return nil }

func (n *Null) SetListener(Listener) {}
