// Package manager implements the per-provider registration engine: it
// accepts client subscriptions, derives a provider-adjusted request for
// each, merges the active set into a single upstream request, and fans
// provider fixes back out through permission, freshness, and displacement
// gates. One Manager owns one provider slot.
package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sebas/waypoint/internal/locationd/events"
	"github.com/sebas/waypoint/internal/locationd/fudger"
	"github.com/sebas/waypoint/internal/locationd/helpers"
	"github.com/sebas/waypoint/internal/locationd/multiplexer"
	"github.com/sebas/waypoint/internal/locationd/provider"
	"github.com/sebas/waypoint/internal/locationd/transport"
	"github.com/sebas/waypoint/internal/locationd/types"
)

var (
	// ErrPermissionDenied is returned when the caller lacks the location
	// permission it claims.
	ErrPermissionDenied = errors.New("manager: location permission denied")

	// ErrNoMockProvider is returned by mock controls when the real
	// provider is installed.
	ErrNoMockProvider = errors.New("manager: no mock provider installed")
)

// Policy carries the tunable thresholds of the delivery pipeline. The
// zero value of any field is replaced by its default.
type Policy struct {
	// CoarseIntervalFloorMillis is the minimum interval granted to
	// coarse-permission registrations.
	CoarseIntervalFloorMillis int64
	// MinRequestDelayMillis is the shortest delay worth debouncing a
	// provider re-registration for; anything below applies immediately.
	MinRequestDelayMillis int64
	// MaxCurrentLocationAgeMillis bounds how stale a cached fix may be
	// and still satisfy a get-current request.
	MaxCurrentLocationAgeMillis int64
	// MaxUpdateIntervalJitterMillis caps the slack subtracted from the
	// min-update-interval gate.
	MaxUpdateIntervalJitterMillis int64
	// GetCurrentTimeoutMillis bounds how long a get-current registration
	// stays alive waiting for a fix.
	GetCurrentTimeoutMillis int64
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		CoarseIntervalFloorMillis:     10 * 60 * 1000,
		MinRequestDelayMillis:         30 * 1000,
		MaxCurrentLocationAgeMillis:   10 * 1000,
		MaxUpdateIntervalJitterMillis: 5 * 1000,
		GetCurrentTimeoutMillis:       30 * 1000,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.CoarseIntervalFloorMillis <= 0 {
		p.CoarseIntervalFloorMillis = d.CoarseIntervalFloorMillis
	}
	if p.MinRequestDelayMillis <= 0 {
		p.MinRequestDelayMillis = d.MinRequestDelayMillis
	}
	if p.MaxCurrentLocationAgeMillis <= 0 {
		p.MaxCurrentLocationAgeMillis = d.MaxCurrentLocationAgeMillis
	}
	if p.MaxUpdateIntervalJitterMillis <= 0 {
		p.MaxUpdateIntervalJitterMillis = d.MaxUpdateIntervalJitterMillis
	}
	if p.GetCurrentTimeoutMillis <= 0 {
		p.GetCurrentTimeoutMillis = d.GetCurrentTimeoutMillis
	}
	return p
}

// defaultGetCurrentIntervalMillis is the upstream interval requested on
// behalf of a get-current registration with no interval of its own.
const defaultGetCurrentIntervalMillis int64 = 1000

// Deps are the injected collaborators. Nil fields fall back to the
// static in-process implementations so tests and the daemon construct
// managers the same way.
type Deps struct {
	Settings    helpers.Settings
	Permissions helpers.Permissions
	Foreground  helpers.AppForeground
	PowerMode   helpers.PowerMode
	Screen      helpers.ScreenInteractive
	Alarms      helpers.Alarms
	AppOps      helpers.AppOps
	WakeLocks   helpers.WakeLocks
	Fudger      *fudger.Fudger
	Events      events.Publisher
	NodeID      string
}

func (d Deps) withDefaults() Deps {
	if d.Settings == nil {
		d.Settings = helpers.NewStaticSettings()
	}
	if d.Permissions == nil {
		d.Permissions = helpers.NewStaticPermissions()
	}
	if d.Foreground == nil {
		d.Foreground = helpers.NewStaticAppForeground()
	}
	if d.PowerMode == nil {
		d.PowerMode = helpers.NewStaticPowerMode()
	}
	if d.Screen == nil {
		d.Screen = helpers.NewStaticScreen()
	}
	if d.Alarms == nil {
		d.Alarms = helpers.NewTimerAlarms()
	}
	if d.AppOps == nil {
		d.AppOps = helpers.NewStaticAppOps()
	}
	if d.WakeLocks == nil {
		d.WakeLocks = helpers.NewCountingWakeLocks()
	}
	if d.Fudger == nil {
		d.Fudger = fudger.New(fudger.DefaultAccuracyM)
	}
	if d.Events == nil {
		d.Events = events.NewNoopPublisher()
	}
	if d.NodeID == "" {
		d.NodeID = "waypointd"
	}
	return d
}

// ReportSink receives every fix a manager accepts from its provider. The
// passive manager is wired in as the sink of all real managers.
type ReportSink interface {
	OnReportLocation(locations []*types.Location)
}

// lastLocation caches the freshest fix per user in both permission
// variants. The bypass variants survive the user's location toggle; the
// plain variants are cleared when the provider becomes disabled.
type lastLocation struct {
	fine         *types.Location
	coarse       *types.Location
	fineBypass   *types.Location
	coarseBypass *types.Location
}

// Manager multiplexes client registrations onto one provider slot.
type Manager struct {
	name    string
	policy  Policy
	passive bool

	provider *provider.Switchable

	settings    helpers.Settings
	permissions helpers.Permissions
	foreground  helpers.AppForeground
	powerMode   helpers.PowerMode
	screen      helpers.ScreenInteractive
	alarms      helpers.Alarms
	appOps      helpers.AppOps
	wakeLocks   helpers.WakeLocks
	fudger      *fudger.Fudger

	events  events.Publisher
	builder *events.Builder

	// lock is shared with the multiplexer, so hooks may read manager
	// state without re-locking. Never hold it while calling a public
	// multiplexer method.
	lock sync.Mutex
	mux  *multiplexer.Multiplexer[Key, *Registration, types.ProviderRequest]

	// Guarded by lock.
	started       bool
	enabled       map[int]bool
	lastLocations map[int]*lastLocation
	delayGen      uint64
	delayCancel   func()
	startCancels  []func()
	lazyCancels   []func()
	sink          ReportSink
	enabledSubs   map[int]func(provider string, userID int, enabled bool)
	enabledSeq    int
}

// New creates a manager for the given provider slot. The manager does
// not observe settings or provider callbacks until Start.
func New(name string, prov *provider.Switchable, deps Deps, policy Policy) *Manager {
	deps = deps.withDefaults()
	m := &Manager{
		name:          name,
		policy:        policy.withDefaults(),
		provider:      prov,
		settings:      deps.Settings,
		permissions:   deps.Permissions,
		foreground:    deps.Foreground,
		powerMode:     deps.PowerMode,
		screen:        deps.Screen,
		alarms:        deps.Alarms,
		appOps:        deps.AppOps,
		wakeLocks:     deps.WakeLocks,
		fudger:        deps.Fudger,
		events:        deps.Events,
		builder:       events.NewBuilder(deps.NodeID),
		enabled:       make(map[int]bool),
		lastLocations: make(map[int]*lastLocation),
		enabledSubs:   make(map[int]func(string, int, bool)),
	}
	m.mux = multiplexer.New(name, &m.lock, multiplexer.Hooks[Key, *Registration, types.ProviderRequest]{
		IsActive:              m.isActiveLocked,
		Merge:                 m.mergeRegistrationsLocked,
		MergedEqual:           types.ProviderRequest.Equal,
		RegisterWithService:   m.registerWithServiceLocked,
		ReregisterWithService: m.reregisterWithServiceLocked,
		UnregisterWithService: m.unregisterWithServiceLocked,
		OnRegister:            m.onFirstRegistrationLocked,
		OnUnregister:          m.onLastUnregistrationLocked,
		OnAdded:               m.onAddedLocked,
		OnReplaced:            m.onReplacedLocked,
		OnRemoved:             m.onRemovedLocked,
		OnActive:              m.onActiveLocked,
	})
	return m
}

// NewPassive creates the passive manager: it accepts registrations like
// any other but never asks its provider for anything; its fixes arrive
// through OnReportLocation forwarding from the real managers.
func NewPassive(deps Deps, policy Policy) *Manager {
	prov := provider.NewSwitchable(provider.NewNull(types.Identity{Package: "waypointd"}))
	m := New("passive", prov, deps, policy)
	m.passive = true
	return m
}

// Name returns the provider slot name.
func (m *Manager) Name() string { return m.name }

// Start binds the manager to its provider and settings sources.
func (m *Manager) Start() {
	m.lock.Lock()
	if m.started {
		m.lock.Unlock()
		return
	}
	m.started = true
	m.lock.Unlock()

	m.provider.SetListener(m)

	cancelEnabled := m.settings.SubscribeLocationEnabled(func(userID int) {
		m.onEnabledChanged(userID)
	})
	cancelUser := m.settings.SubscribeCurrentUser(func(oldUser, newUser int) {
		m.onEnabledChanged(oldUser)
		m.onEnabledChanged(newUser)
	})
	m.lock.Lock()
	m.startCancels = append(m.startCancels, cancelEnabled, cancelUser)
	m.lock.Unlock()

	// Seed the enabled state for the current user. The first observation
	// is recorded silently.
	m.IsEnabled(m.settings.CurrentUserID())
	slog.Info("[Manager] Started", "provider", m.name)
}

// Stop unwinds everything Start and registration set up: all
// registrations are removed, the provider request cleared, and cached
// state dropped.
func (m *Manager) Stop() {
	m.lock.Lock()
	if !m.started {
		m.lock.Unlock()
		return
	}
	cancels := m.startCancels
	m.startCancels = nil
	m.lock.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.provider.SetListener(nil)
	m.mux.RemoveIf(func(Key, *Registration) bool { return true })

	m.lock.Lock()
	m.started = false
	m.cancelDelayedLocked()
	m.enabled = make(map[int]bool)
	m.lastLocations = make(map[int]*lastLocation)
	m.lock.Unlock()
	slog.Info("[Manager] Stopped", "provider", m.name)
}

// SetReportSink installs the downstream observer of accepted fixes.
func (m *Manager) SetReportSink(sink ReportSink) {
	m.lock.Lock()
	m.sink = sink
	m.lock.Unlock()
}

// RegisterListener adds a continuous subscription. An empty key is
// replaced by a generated one; registering an existing key replaces
// that registration, carrying its last delivered fix forward so the
// spacing gates keep working across the swap.
func (m *Manager) RegisterListener(key Key, identity types.Identity, level types.PermissionLevel, request types.LocationRequest, channel transport.Channel) (Key, error) {
	return m.register(key, KindListener, identity, level, request, channel)
}

// GetCurrentLocation adds a one-shot registration. A cached fix fresher
// than MaxCurrentLocationAge satisfies it immediately; otherwise the
// next provider report does, or the registration expires.
func (m *Manager) GetCurrentLocation(identity types.Identity, level types.PermissionLevel, request types.LocationRequest, channel transport.Channel) (Key, error) {
	request.MaxUpdates = 1
	if request.IntervalMillis <= 0 {
		request.IntervalMillis = defaultGetCurrentIntervalMillis
	}
	if request.DurationMillis <= 0 || request.DurationMillis > m.policy.GetCurrentTimeoutMillis {
		request.DurationMillis = m.policy.GetCurrentTimeoutMillis
	}
	return m.register("", KindGetCurrent, identity, level, request, channel)
}

func (m *Manager) register(key Key, kind Kind, identity types.Identity, level types.PermissionLevel, request types.LocationRequest, channel transport.Channel) (Key, error) {
	if channel == nil {
		return "", fmt.Errorf("%w: nil channel", types.ErrInvalidRequest)
	}
	if level <= types.PermissionNone {
		return "", ErrPermissionDenied
	}
	if err := request.Validate(); err != nil {
		return "", err
	}
	if request.Quality == 0 {
		request.Quality = types.QualityAccuracyBlock
	}
	if key == "" {
		key = Key(uuid.NewString())
	}
	reg := &Registration{
		key:             key,
		kind:            kind,
		identity:        identity,
		permissionLevel: level,
		request:         request.Copy(),
		channel:         channel,
	}
	if request.DurationMillis > 0 {
		reg.expireAt = time.Now().Add(time.Duration(request.DurationMillis) * time.Millisecond)
	}
	k := key
	channel.SetOnClosed(func() {
		m.unregister(k, "channel closed")
	})
	m.mux.Add(key, reg)
	m.events.PublishAsync(m.builder.RegistrationAdded(m.name, string(key), identity, request.IntervalMillis))
	slog.Debug("[Manager] Registration added",
		"provider", m.name,
		"key", key,
		"caller", identity.String(),
		"kind", kind.String(),
		"interval_ms", request.IntervalMillis,
	)
	return key, nil
}

// Unregister removes the registration under key.
func (m *Manager) Unregister(key Key) bool {
	return m.unregister(key, "unregistered")
}

func (m *Manager) unregister(key Key, reason string) bool {
	if !m.mux.Remove(key) {
		return false
	}
	m.events.PublishAsync(m.builder.RegistrationRemoved(m.name, string(key), reason))
	slog.Debug("[Manager] Registration removed", "provider", m.name, "key", key, "reason", reason)
	return true
}

// GetLastLocation returns a copy of the freshest cached fix visible to
// the caller, or nil when nothing is cached, the provider is disabled
// for the caller's user, or the app-op is denied.
func (m *Manager) GetLastLocation(identity types.Identity, level types.PermissionLevel, bypass bool) (*types.Location, error) {
	if level <= types.PermissionNone || !m.permissions.HasLocationPermission(level, identity) {
		return nil, ErrPermissionDenied
	}
	if bypass && !m.settings.IsIgnoreSettingsAllowlisted(identity.Package) {
		bypass = false
	}
	if !m.appOps.NoteOp(helpers.OpForPermission(level), identity) {
		return nil, nil
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if !bypass && !m.enabledLocked(identity.UserID) {
		return nil, nil
	}
	return m.lastLocationLocked(identity.UserID, level, bypass).Copy(), nil
}

// IsEnabled reports whether the provider is usable for userID. The first
// query for a user records the state without broadcasting it.
func (m *Manager) IsEnabled(userID int) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.enabledLocked(userID)
}

// AddEnabledListener subscribes to enabled-state flips across users.
func (m *Manager) AddEnabledListener(fn func(provider string, userID int, enabled bool)) (cancel func()) {
	m.lock.Lock()
	m.enabledSeq++
	id := m.enabledSeq
	m.enabledSubs[id] = fn
	m.lock.Unlock()
	return func() {
		m.lock.Lock()
		delete(m.enabledSubs, id)
		m.lock.Unlock()
	}
}

// SetMockProvider swaps the mock in. Both providers' requests are reset
// by the swap and the enabled state is re-derived.
func (m *Manager) SetMockProvider(mock *provider.Mock) {
	m.provider.SetProvider(mock)
}

// SetRealProvider installs the real (driver-backed) provider.
func (m *Manager) SetRealProvider(p provider.Provider) {
	m.provider.SetProvider(p)
}

// IsMock reports whether a mock provider is installed.
func (m *Manager) IsMock() bool {
	return m.provider.IsMock()
}

// SetMockProviderAllowed flips the mock's allowed state.
func (m *Manager) SetMockProviderAllowed(allowed bool) error {
	mock, ok := m.provider.Current().(*provider.Mock)
	if !ok {
		return ErrNoMockProvider
	}
	mock.SetAllowed(allowed)
	return nil
}

// SetMockProviderLocation injects a fix through the mock.
func (m *Manager) SetMockProviderLocation(loc *types.Location) error {
	mock, ok := m.provider.Current().(*provider.Mock)
	if !ok {
		return ErrNoMockProvider
	}
	if loc == nil {
		return fmt.Errorf("%w: nil location", types.ErrInvalidRequest)
	}
	mock.Inject(loc)
	return nil
}

// SendExtraCommand forwards an opaque command to the provider.
func (m *Manager) SendExtraCommand(command string, args map[string]string) error {
	return m.provider.SendExtraCommand(command, args)
}

// State returns the installed provider's state.
func (m *Manager) State() provider.State {
	return m.provider.State()
}

// Snapshot is an immutable diagnostic view of the manager.
type Snapshot struct {
	Name          string                 `json:"name"`
	Started       bool                   `json:"started"`
	Mock          bool                   `json:"mock"`
	Allowed       bool                   `json:"allowed"`
	Passive       bool                   `json:"passive,omitempty"`
	Merged        *types.ProviderRequest `json:"merged,omitempty"`
	EnabledUsers  map[int]bool           `json:"enabled_users"`
	Registrations []RegistrationSnapshot `json:"registrations"`
}

// Snapshot captures the manager state for the control API.
func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		Name:    m.name,
		Mock:    m.provider.IsMock(),
		Allowed: m.provider.State().Allowed,
		Passive: m.passive,
	}
	m.lock.Lock()
	s.Started = m.started
	s.EnabledUsers = make(map[int]bool, len(m.enabled))
	for userID, enabled := range m.enabled {
		s.EnabledUsers[userID] = enabled
	}
	m.lock.Unlock()

	if merged, ok := m.mux.Merged(); ok {
		s.Merged = &merged
	}
	m.mux.ForEach(func(_ Key, reg *Registration, active bool) bool {
		s.Registrations = append(s.Registrations, reg.snapshotLocked(active))
		return true
	})
	return s
}

// OnReportLocation ingests a batch of fixes from the provider: it drops
// incomplete fixes and non-mock (0, 0) sentinels, refreshes the per-user
// cache, fans out to active registrations, and forwards to the sink.
// Implements provider.Listener.
func (m *Manager) OnReportLocation(locations []*types.Location) {
	valid := locations[:0:0]
	for _, loc := range locations {
		switch {
		case !loc.IsComplete():
			slog.Warn("[Manager] Dropping incomplete location", "provider", m.name)
			m.events.PublishAsync(m.builder.LocationRejected(m.name, "incomplete"))
		case loc.IsZeroCoordinate() && !loc.Mock:
			slog.Warn("[Manager] Dropping 0,0 location", "provider", m.name)
			m.events.PublishAsync(m.builder.LocationRejected(m.name, "zero coordinate"))
		default:
			valid = append(valid, loc)
		}
	}
	if len(valid) == 0 {
		return
	}

	m.lock.Lock()
	if !m.started {
		m.lock.Unlock()
		return
	}
	for _, loc := range valid {
		m.updateLastLocationLocked(loc)
	}
	sink := m.sink
	m.lock.Unlock()

	for _, loc := range valid {
		fix := loc
		m.mux.DeliverToListeners(func(key Key, reg *Registration) multiplexer.Operation {
			return m.acceptLocationChangeLocked(key, reg, fix, false)
		})
	}

	if sink != nil {
		sink.OnReportLocation(valid)
	}
}

// OnStateChanged re-derives the enabled state for every tracked user
// after an allowed or properties flip. Implements provider.Listener.
func (m *Manager) OnStateChanged(old, new provider.State) {
	m.lock.Lock()
	if !m.started {
		m.lock.Unlock()
		return
	}
	users := make([]int, 0, len(m.enabled)+1)
	for userID := range m.enabled {
		users = append(users, userID)
	}
	if _, ok := m.enabled[m.settings.CurrentUserID()]; !ok {
		users = append(users, m.settings.CurrentUserID())
	}
	m.lock.Unlock()

	slog.Info("[Manager] Provider state changed",
		"provider", m.name,
		"allowed", new.Allowed,
		"identity", new.Identity.String(),
	)
	for _, userID := range users {
		m.onEnabledChanged(userID)
	}
	if old.Properties != new.Properties {
		m.mux.UpdateRegistrations(func(Key, *Registration) bool { return true })
	}
}

// onEnabledChanged recomputes the enabled state for one user and, when
// it flipped, clears the non-bypass cache on disable, notifies enabled
// listeners and the user's registrations, and re-evaluates the active
// set. The first observation for a user is never broadcast.
func (m *Manager) onEnabledChanged(userID int) {
	m.lock.Lock()
	enabled := m.computeEnabledLocked(userID)
	prev, known := m.enabled[userID]
	if known && prev == enabled {
		m.lock.Unlock()
		return
	}
	m.enabled[userID] = enabled
	if !known {
		m.lock.Unlock()
		return
	}
	if !enabled {
		if cache := m.lastLocations[userID]; cache != nil {
			cache.fine, cache.coarse = nil, nil
		}
	}
	subs := make([]func(string, int, bool), 0, len(m.enabledSubs))
	for _, fn := range m.enabledSubs {
		subs = append(subs, fn)
	}
	m.lock.Unlock()

	slog.Info("[Manager] Provider enabled changed",
		"provider", m.name,
		"user", userID,
		"enabled", enabled,
	)
	m.events.PublishAsync(m.builder.ProviderEnabledChanged(m.name, userID, enabled))
	for _, fn := range subs {
		fn(m.name, userID, enabled)
	}

	type target struct {
		key     Key
		channel transport.Channel
	}
	var targets []target
	m.mux.ForEach(func(key Key, reg *Registration, _ bool) bool {
		if reg.identity.UserID == userID {
			targets = append(targets, target{key, reg.channel})
		}
		return true
	})
	for _, t := range targets {
		if err := t.channel.DeliverProviderEnabledChanged(m.name, enabled); err != nil {
			if errors.Is(err, transport.ErrChannelClosed) {
				m.unregister(t.key, "channel closed")
				continue
			}
			panic(fmt.Sprintf("manager %s: unexpected enabled delivery failure for key %v: %v", m.name, t.key, err))
		}
	}

	m.mux.UpdateRegistrations(func(_ Key, reg *Registration) bool {
		return reg.identity.UserID == userID
	})
}

func (m *Manager) computeEnabledLocked(userID int) bool {
	return m.started &&
		m.provider.State().Allowed &&
		userID == m.settings.CurrentUserID() &&
		m.settings.IsLocationEnabled(userID)
}

func (m *Manager) enabledLocked(userID int) bool {
	if enabled, ok := m.enabled[userID]; ok {
		return enabled
	}
	enabled := m.computeEnabledLocked(userID)
	m.enabled[userID] = enabled
	return enabled
}

// Registration lifecycle hooks. All run under the shared lock.

func (m *Manager) onAddedLocked(key Key, reg *Registration) {
	reg.permitted = m.permissions.HasLocationPermission(reg.permissionLevel, reg.identity)
	reg.foreground = m.foreground.IsForeground(reg.identity.UID)
	reg.effective = m.calculateProviderRequestLocked(reg)
	if !reg.expireAt.IsZero() {
		k := key
		reg.cancelExpiry = m.alarms.Schedule(time.Until(reg.expireAt), func() {
			m.unregister(k, "expired")
		}, reg.effective.WorkSource)
	}
}

func (m *Manager) onReplacedLocked(_ Key, old, reg *Registration) {
	// Carry the delivery history forward so the spacing gates keep
	// working across the swap. The update count restarts with the new
	// request's MaxUpdates budget.
	reg.lastDelivered = old.lastDelivered.Copy()
	old.removed = true
	if old.cancelExpiry != nil {
		old.cancelExpiry()
		old.cancelExpiry = nil
	}
	if old.channel != reg.channel {
		old.channel.Close()
	}
}

func (m *Manager) onRemovedLocked(_ Key, reg *Registration) {
	reg.removed = true
	if reg.cancelExpiry != nil {
		reg.cancelExpiry()
		reg.cancelExpiry = nil
	}
	reg.channel.Close()
}

// onFirstRegistrationLocked binds the change sources only needed while
// serving clients; onLastUnregistrationLocked releases them again.
func (m *Manager) onFirstRegistrationLocked() {
	m.lazyCancels = append(m.lazyCancels,
		m.permissions.Subscribe(func(uid int) {
			m.onPermissionsChanged(uid)
		}),
		m.foreground.Subscribe(func(uid int, foreground bool) {
			m.onForegroundChanged(uid, foreground)
		}),
		m.powerMode.Subscribe(func(helpers.PowerModeKind) {
			m.onPowerPolicyChanged()
		}),
		m.screen.Subscribe(func(bool) {
			m.onPowerPolicyChanged()
		}),
	)
}

func (m *Manager) onLastUnregistrationLocked() {
	for _, cancel := range m.lazyCancels {
		cancel()
	}
	m.lazyCancels = nil
}

func (m *Manager) onPermissionsChanged(uid int) {
	m.mux.UpdateRegistrations(func(_ Key, reg *Registration) bool {
		if reg.identity.UID != uid {
			return false
		}
		permitted := m.permissions.HasLocationPermission(reg.permissionLevel, reg.identity)
		if permitted == reg.permitted {
			return false
		}
		reg.permitted = permitted
		return true
	})
}

func (m *Manager) onForegroundChanged(uid int, foreground bool) {
	m.mux.UpdateRegistrations(func(_ Key, reg *Registration) bool {
		if reg.identity.UID != uid || reg.foreground == foreground {
			return false
		}
		reg.foreground = foreground
		reg.effective = m.calculateProviderRequestLocked(reg)
		return true
	})
}

func (m *Manager) onPowerPolicyChanged() {
	m.mux.UpdateRegistrations(func(_ Key, reg *Registration) bool {
		reg.effective = m.calculateProviderRequestLocked(reg)
		return true
	})
}
