// Package app assembles the location daemon: helpers, providers,
// per-provider managers, the passive fan-out, the event publisher, and
// the HTTP control API.
package app

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/waypoint/internal/locationd/config"
	"github.com/sebas/waypoint/internal/locationd/events"
	"github.com/sebas/waypoint/internal/locationd/fudger"
	"github.com/sebas/waypoint/internal/locationd/helpers"
	"github.com/sebas/waypoint/internal/locationd/manager"
	"github.com/sebas/waypoint/internal/locationd/provider"
	"github.com/sebas/waypoint/internal/locationd/server"
	"github.com/sebas/waypoint/internal/locationd/types"
)

// App owns every component of the daemon.
type App struct {
	config    *config.Config
	settings  *helpers.StaticSettings
	publisher events.Publisher
	apiServer *server.Server

	mu        sync.Mutex
	order     []string
	managers  map[string]*manager.Manager
	real      map[string]provider.Provider
	simulated []*provider.Simulated
	passive   *manager.Manager
}

// New wires the daemon from its configuration. Nothing observes
// anything until Start.
func New(cfg *config.Config) (*App, error) {
	settings := helpers.NewStaticSettings()
	seedSettings(settings, cfg.Settings)

	var publisher events.Publisher = events.NewLoggingPublisher(slog.Default())
	if cfg.EventBuffer > 0 {
		publisher = events.NewMultiPublisher(publisher, events.NewChannelPublisher(cfg.EventBuffer))
	}

	policy := manager.Policy{
		CoarseIntervalFloorMillis:     cfg.Policy.CoarseIntervalFloorMillis,
		MinRequestDelayMillis:         cfg.Policy.MinRequestDelayMillis,
		MaxCurrentLocationAgeMillis:   cfg.Policy.MaxCurrentLocationAgeMillis,
		MaxUpdateIntervalJitterMillis: cfg.Policy.MaxUpdateIntervalJitterMillis,
		GetCurrentTimeoutMillis:       cfg.Policy.GetCurrentTimeoutMillis,
	}
	deps := manager.Deps{
		Settings: settings,
		Fudger:   fudger.New(cfg.Policy.CoarseAccuracyM),
		Events:   publisher,
		NodeID:   cfg.NodeID,
	}

	a := &App{
		config:    cfg,
		settings:  settings,
		publisher: publisher,
		managers:  make(map[string]*manager.Manager, len(cfg.Providers)),
		real:      make(map[string]provider.Provider, len(cfg.Providers)),
	}

	a.passive = manager.NewPassive(deps, policy)
	a.managers["passive"] = a.passive
	a.order = append(a.order, "passive")

	a.apiServer = server.NewServer(cfg.HTTPAddr, a, settings,
		time.Duration(cfg.RecentFixTTLSeconds)*time.Second)

	for _, pc := range cfg.Providers {
		sim := provider.NewSimulated(provider.SimulatedConfig{
			Name:            pc.Name,
			OriginLatitude:  pc.OriginLatitude,
			OriginLongitude: pc.OriginLongitude,
			AccuracyM:       pc.AccuracyM,
			Satellite:       pc.Satellite,
			Identity:        types.Identity{Package: "waypointd"},
		})
		a.simulated = append(a.simulated, sim)
		a.real[pc.Name] = sim

		mgr := manager.New(pc.Name, provider.NewSwitchable(sim), deps, policy)
		mgr.SetReportSink(&reportSink{name: pc.Name, passive: a.passive, server: a.apiServer})
		a.managers[pc.Name] = mgr
		a.order = append(a.order, pc.Name)
		slog.Info("[App] Provider configured",
			"provider", pc.Name,
			"satellite", pc.Satellite,
			"accuracy_m", pc.AccuracyM,
		)
	}

	return a, nil
}

// reportSink forwards every accepted fix to the passive manager and the
// recent-fixes store.
type reportSink struct {
	name    string
	passive *manager.Manager
	server  *server.Server
}

func (s *reportSink) OnReportLocation(locations []*types.Location) {
	for _, loc := range locations {
		s.server.RecordFix(s.name, loc)
	}
	s.passive.OnReportLocation(locations)
}

// Start brings the managers up and begins serving the control API.
func (a *App) Start() error {
	a.mu.Lock()
	managers := a.orderedLocked()
	a.mu.Unlock()

	for _, mgr := range managers {
		mgr.Start()
	}
	return a.apiServer.Start()
}

// Close tears everything down in reverse of Start.
func (a *App) Close() error {
	if err := a.apiServer.Stop(); err != nil {
		slog.Warn("[App] API server stop failed", "error", err)
	}

	a.mu.Lock()
	managers := a.orderedLocked()
	simulated := a.simulated
	a.mu.Unlock()

	for _, mgr := range managers {
		mgr.Stop()
	}
	for _, sim := range simulated {
		sim.Close()
	}
	return a.publisher.Close()
}

// Managers returns every manager, passive included, in a stable order.
func (a *App) Managers() []*manager.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.orderedLocked()
}

func (a *App) orderedLocked() []*manager.Manager {
	out := make([]*manager.Manager, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.managers[name])
	}
	return out
}

// Manager returns the manager for the named provider slot.
func (a *App) Manager(name string) (*manager.Manager, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mgr, ok := a.managers[name]
	return mgr, ok
}

// InstallMock swaps a mock provider into the named slot.
func (a *App) InstallMock(name string) error {
	mgr, ok := a.Manager(name)
	if !ok {
		return fmt.Errorf("unknown provider %q", name)
	}
	if name == "passive" {
		return fmt.Errorf("the passive slot cannot be mocked")
	}
	if mgr.IsMock() {
		return fmt.Errorf("provider %q already mocked", name)
	}
	mgr.SetMockProvider(provider.NewMock(name, types.Identity{Package: "waypointd.mock"}))
	slog.Info("[App] Mock provider installed", "provider", name)
	return nil
}

// RemoveMock restores the real provider in the named slot.
func (a *App) RemoveMock(name string) error {
	mgr, ok := a.Manager(name)
	if !ok {
		return fmt.Errorf("unknown provider %q", name)
	}
	if !mgr.IsMock() {
		return fmt.Errorf("provider %q is not mocked", name)
	}
	a.mu.Lock()
	real := a.real[name]
	a.mu.Unlock()
	mgr.SetRealProvider(real)
	slog.Info("[App] Mock provider removed", "provider", name)
	return nil
}

// Settings exposes the mutable settings for the control surface.
func (a *App) Settings() *helpers.StaticSettings {
	return a.settings
}

// Events returns the event publisher, for consumers wanting the stream.
func (a *App) Events() events.Publisher {
	return a.publisher
}

func seedSettings(s *helpers.StaticSettings, cfg config.SettingsConfig) {
	if cfg.LocationEnabled != nil {
		s.SetLocationEnabled(cfg.CurrentUser, *cfg.LocationEnabled)
	}
	if cfg.CurrentUser != 0 {
		s.SetCurrentUser(cfg.CurrentUser)
	}
	if cfg.BackgroundThrottleIntervalMillis > 0 {
		s.SetBackgroundThrottleIntervalMillis(cfg.BackgroundThrottleIntervalMillis)
	}
	for _, pkg := range cfg.ThrottleExemptPackages {
		s.SetBackgroundThrottleExempt(pkg, true)
	}
	for _, pkg := range cfg.IgnoreSettingsAllowlist {
		s.SetIgnoreSettingsAllowlisted(pkg, true)
	}
}
