// Package provider defines the upstream location provider surface the
// manager talks to, plus the mock/real indirection that swaps a
// simulated provider in and out without the manager noticing.
package provider

import (
	"github.com/sebas/waypoint/internal/locationd/types"
)

// Properties describe what a provider needs to produce fixes.
type Properties struct {
	HasNetworkRequirement   bool `json:"has_network_requirement"`
	HasSatelliteRequirement bool `json:"has_satellite_requirement"`
}

// State is a provider's externally visible condition.
type State struct {
	// Allowed reports whether the provider is currently able and willing
	// to produce fixes.
	Allowed    bool           `json:"allowed"`
	Properties Properties     `json:"properties"`
	Identity   types.Identity `json:"identity"`
}

// Listener receives provider callbacks. Implementations must tolerate
// calls from arbitrary goroutines.
type Listener interface {
	// OnReportLocation delivers one or more new fixes.
	OnReportLocation(locations []*types.Location)
	// OnStateChanged reports allowed/capability transitions.
	OnStateChanged(old, new State)
}

// Provider is the upstream surface consumed by the manager. Errors from
// the underlying driver are opaque to the caller; the manager only
// reflects whatever state the provider last reported.
type Provider interface {
	State() State
	SetRequest(req types.ProviderRequest) error
	SendExtraCommand(command string, args map[string]string) error
	SetListener(l Listener)
}
