package provider

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sebas/waypoint/internal/locationd/types"
)

// Simulated is a self-contained provider that produces random-walk fixes
// at the installed request interval. It stands in for a hardware driver
// so the daemon is fully functional without one.
type Simulated struct {
	mu       sync.Mutex
	name     string
	state    State
	listener Listener
	request  types.ProviderRequest

	lat, lon  float64
	accuracyM float64
	rng       *rand.Rand

	stopCh chan struct{} // nil when no emit loop is running
}

// SimulatedConfig configures a simulated provider.
type SimulatedConfig struct {
	Name            string
	OriginLatitude  float64
	OriginLongitude float64
	AccuracyM       float64
	Satellite       bool
	Identity        types.Identity
}

// NewSimulated creates a simulated provider at the given origin.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	accuracy := cfg.AccuracyM
	if accuracy <= 0 {
		accuracy = 10
	}
	return &Simulated{
		name: cfg.Name,
		state: State{
			Allowed: true,
			Properties: Properties{
				HasSatelliteRequirement: cfg.Satellite,
			},
			Identity: cfg.Identity,
		},
		request:   types.EmptyProviderRequest,
		lat:       cfg.OriginLatitude,
		lon:       cfg.OriginLongitude,
		accuracyM: accuracy,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulated) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Simulated) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// SetRequest reconfigures the emit loop to the request interval. An
// inactive request stops the loop.
func (s *Simulated) SetRequest(req types.ProviderRequest) error {
	s.mu.Lock()
	s.request = req
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	if req.IsActive() {
		stop := make(chan struct{})
		s.stopCh = stop
		interval := time.Duration(req.IntervalMillis) * time.Millisecond
		go s.emitLoop(interval, stop)
	}
	s.mu.Unlock()
	slog.Debug("[Provider] Simulated request installed",
		"provider", s.name,
		"active", req.IsActive(),
		"interval_ms", req.IntervalMillis,
	)
	return nil
}

func (s *Simulated) SendExtraCommand(command string, args map[string]string) error {
	slog.Debug("[Provider] Simulated extra command ignored", "provider", s.name, "command", command)
	return nil
}

// Close stops any running emit loop.
func (s *Simulated) Close() {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.mu.Unlock()
}

func (s *Simulated) emitLoop(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.emit()
		case <-stop:
			return
		}
	}
}

func (s *Simulated) emit() {
	s.mu.Lock()
	// Random walk of up to ~20m per step.
	s.lat += (s.rng.Float64() - 0.5) * 0.0004
	s.lon += (s.rng.Float64() - 0.5) * 0.0004
	loc := &types.Location{
		Provider:  s.name,
		Latitude:  s.lat,
		Longitude: s.lon,
		AccuracyM: s.accuracyM * (0.5 + s.rng.Float64()),
		Time:      time.Now(),
	}
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.OnReportLocation([]*types.Location{loc})
	}
}
