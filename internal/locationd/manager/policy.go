package manager

import (
	"log/slog"
	"time"

	"github.com/sebas/waypoint/internal/locationd/helpers"
	"github.com/sebas/waypoint/internal/locationd/multiplexer"
	"github.com/sebas/waypoint/internal/locationd/types"
)

// calculateProviderRequestLocked derives the provider-adjusted request
// from the raw one: permission coarsening, bypass eligibility, and
// throttling. It is a pure function of the raw request plus current
// policy inputs, so recomputing it is always safe.
func (m *Manager) calculateProviderRequestLocked(reg *Registration) types.LocationRequest {
	req := reg.request.Copy()

	if reg.permissionLevel < types.PermissionFine {
		req.Quality = coarsenQuality(req.Quality)
		if req.IntervalMillis < m.policy.CoarseIntervalFloorMillis {
			req.IntervalMillis = m.policy.CoarseIntervalFloorMillis
		}
		// An explicit spacing gate below the floor would never fire;
		// clear it so the default (the interval itself) applies.
		if req.MinUpdateIntervalMillis > 0 && req.MinUpdateIntervalMillis < m.policy.CoarseIntervalFloorMillis {
			req.MinUpdateIntervalMillis = 0
		}
	}

	if req.LocationSettingsIgnored {
		providerPkg := m.provider.State().Identity.Package
		allowed := m.settings.IsIgnoreSettingsAllowlisted(reg.identity.Package) ||
			(providerPkg != "" && providerPkg == reg.identity.Package)
		if !allowed {
			req.LocationSettingsIgnored = false
		}
	}

	if !req.IsPassive() && !m.settings.IsBackgroundThrottleExempt(reg.identity.Package) {
		throttled := !reg.foreground
		if !throttled && !req.LocationSettingsIgnored {
			throttled = m.powerMode.Mode() == helpers.PowerModeThrottleScreenOff && !m.screen.Interactive()
		}
		if throttled {
			if floor := m.settings.BackgroundThrottleIntervalMillis(); req.IntervalMillis < floor {
				req.IntervalMillis = floor
			}
		}
	}

	if req.WorkSource.IsEmpty() {
		req.WorkSource = types.NewWorkSource(reg.identity.UID, reg.identity.Package)
	}
	return req
}

func coarsenQuality(q types.Quality) types.Quality {
	switch q {
	case types.QualityAccuracyFine:
		return types.QualityAccuracyBlock
	case types.QualityPowerHigh:
		return types.QualityPowerLow
	default:
		return q
	}
}

// isActiveLocked is the multiplexer's activity policy: permission, the
// user's location toggle (unless bypassing), and the power-save mode.
func (m *Manager) isActiveLocked(reg *Registration) bool {
	if reg.removed || !reg.permitted {
		return false
	}
	if !reg.effective.LocationSettingsIgnored && !m.enabledLocked(reg.identity.UserID) {
		return false
	}
	switch m.powerMode.Mode() {
	case helpers.PowerModeForegroundOnly:
		if !reg.foreground {
			return false
		}
	case helpers.PowerModeGPSDisabledScreenOff:
		if !m.screen.Interactive() && m.provider.State().Properties.HasSatelliteRequirement {
			return false
		}
	case helpers.PowerModeAllDisabledScreenOff:
		if !m.screen.Interactive() {
			return false
		}
	}
	return true
}

// mergeRegistrationsLocked folds the active registrations into one
// upstream request: the tightest interval wins, bypass is an OR,
// low-power an AND, and quality the most demanding. Work sources are
// attributed only to contributors whose interval is close enough to the
// winning one that they meaningfully drive the provider.
func (m *Manager) mergeRegistrationsLocked(actives []*Registration) types.ProviderRequest {
	if m.passive {
		return types.EmptyProviderRequest
	}

	interval := types.PassiveInterval
	for _, reg := range actives {
		if reg.effective.IntervalMillis < interval {
			interval = reg.effective.IntervalMillis
		}
	}
	if interval == types.PassiveInterval {
		return types.EmptyProviderRequest
	}

	threshold := interval + interval/2 + 1000
	if threshold < interval || threshold >= types.PassiveInterval {
		threshold = types.PassiveInterval - 1
	}

	merged := types.ProviderRequest{
		IntervalMillis: interval,
		Quality:        types.QualityPowerLow,
		LowPower:       true,
	}
	for _, reg := range actives {
		eff := reg.effective
		if eff.IsPassive() {
			continue
		}
		if eff.Quality < merged.Quality {
			merged.Quality = eff.Quality
		}
		merged.LowPower = merged.LowPower && eff.LowPower
		merged.LocationSettingsIgnored = merged.LocationSettingsIgnored || eff.LocationSettingsIgnored
		if eff.IntervalMillis <= threshold {
			merged.WorkSource = merged.WorkSource.Union(eff.WorkSource)
		}
		merged.Requests = append(merged.Requests, eff.Copy())
	}
	return merged
}

// Service propagation hooks. All run under the shared lock.

func (m *Manager) registerWithServiceLocked(merged types.ProviderRequest, _ []*Registration) error {
	m.cancelDelayedLocked()
	m.setProviderRequestLocked(merged)
	return nil
}

// reregisterWithServiceLocked replaces the installed provider request.
// A broadening interval is debounced: installing it is deferred until
// the still-active contributors would be owed a fix anyway, so brief
// churn (a tight registration leaving and returning) never power-cycles
// the provider. Tightening, and bypass turning on, apply immediately.
func (m *Manager) reregisterWithServiceLocked(old, merged types.ProviderRequest, actives []*Registration) error {
	m.cancelDelayedLocked()

	var delayMillis int64
	bypassTurningOn := merged.LocationSettingsIgnored && !old.LocationSettingsIgnored
	if !bypassTurningOn && merged.IntervalMillis > old.IntervalMillis {
		delayMillis = m.calculateRequestDelayLocked(merged.IntervalMillis, actives)
	}
	if delayMillis < m.policy.MinRequestDelayMillis {
		m.setProviderRequestLocked(merged)
		return nil
	}

	gen := m.delayGen
	slog.Debug("[Manager] Delaying provider request",
		"provider", m.name,
		"delay_ms", delayMillis,
		"interval_ms", merged.IntervalMillis,
	)
	m.delayCancel = m.alarms.Schedule(time.Duration(delayMillis)*time.Millisecond, func() {
		m.applyDelayedRequest(gen, merged)
	}, merged.WorkSource)
	return nil
}

func (m *Manager) unregisterWithServiceLocked() {
	m.cancelDelayedLocked()
	m.setProviderRequestLocked(types.EmptyProviderRequest)
}

// calculateRequestDelayLocked returns how long the new interval can wait
// before any active contributor is owed a fix. A contributor that never
// received one is treated as having received the best cached fix, unless
// it bypasses settings; with nothing to go by the answer is zero.
func (m *Manager) calculateRequestDelayLocked(newIntervalMillis int64, actives []*Registration) int64 {
	delayMillis := newIntervalMillis
	now := time.Now()
	for _, reg := range actives {
		if reg.effective.IsPassive() {
			continue
		}
		last := reg.lastDelivered
		if last == nil && !reg.effective.LocationSettingsIgnored {
			last = m.lastLocationLocked(reg.identity.UserID, reg.permissionLevel, false)
		}
		var regDelayMillis int64
		if last != nil {
			regDelayMillis = reg.effective.IntervalMillis - last.AgeAt(now).Milliseconds()
			if regDelayMillis < 0 {
				regDelayMillis = 0
			}
		}
		if regDelayMillis < delayMillis {
			delayMillis = regDelayMillis
		}
	}
	if delayMillis < 0 {
		return 0
	}
	return delayMillis
}

func (m *Manager) cancelDelayedLocked() {
	m.delayGen++
	if m.delayCancel != nil {
		m.delayCancel()
		m.delayCancel = nil
	}
}

func (m *Manager) applyDelayedRequest(gen uint64, merged types.ProviderRequest) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if gen != m.delayGen || !m.started {
		return
	}
	m.delayCancel = nil
	m.setProviderRequestLocked(merged)
}

func (m *Manager) setProviderRequestLocked(req types.ProviderRequest) {
	if err := m.provider.SetRequest(req); err != nil {
		slog.Warn("[Manager] Failed to set provider request", "provider", m.name, "error", err)
		return
	}
	slog.Debug("[Manager] Provider request set",
		"provider", m.name,
		"active", req.IsActive(),
		"interval_ms", req.IntervalMillis,
	)
	m.events.PublishAsync(m.builder.ProviderRequestChanged(m.name, req.IntervalMillis))
}

// onActiveLocked delivers a cached fix to a registration that just
// became active, if one is fresh enough. The cached variant already
// matches the registration's permission level, so it is never fudged a
// second time.
func (m *Manager) onActiveLocked(key Key, reg *Registration) multiplexer.Operation {
	loc := m.historicalLocationLocked(reg)
	if loc == nil {
		return nil
	}
	return m.acceptLocationChangeLocked(key, reg, loc, true)
}

func (m *Manager) historicalLocationLocked(reg *Registration) *types.Location {
	if reg.kind == KindListener && reg.effective.IsPassive() {
		return nil
	}
	last := m.lastLocationLocked(reg.identity.UserID, reg.permissionLevel, reg.effective.LocationSettingsIgnored)
	if last == nil {
		return nil
	}
	maxAgeMillis := reg.effective.IntervalMillis
	if reg.kind == KindGetCurrent {
		maxAgeMillis = m.policy.MaxCurrentLocationAgeMillis
	}
	if last.AgeAt(time.Now()).Milliseconds() > maxAgeMillis {
		return nil
	}
	if reg.lastDelivered != nil && !last.Time.After(reg.lastDelivered.Time) {
		return nil
	}
	return last
}

// acceptLocationChangeLocked applies the per-registration delivery gates
// to one fix and, when it passes, returns the delivery operation to run
// outside the lock. alreadyCoarsened marks a fix that went through the
// fudger once; coarsening is not idempotent, so it must never be applied
// twice.
func (m *Manager) acceptLocationChangeLocked(key Key, reg *Registration, fix *types.Location, alreadyCoarsened bool) multiplexer.Operation {
	if !reg.expireAt.IsZero() && time.Now().After(reg.expireAt) {
		k := key
		return func() error {
			m.unregister(k, "expired")
			return nil
		}
	}

	loc := fix
	if !alreadyCoarsened && reg.permissionLevel < types.PermissionFine {
		loc = m.fudger.CreateCoarse(fix)
	}

	if reg.lastDelivered != nil {
		if minIntervalMillis := reg.effective.EffectiveMinUpdateIntervalMillis(); minIntervalMillis > 0 {
			jitterMillis := minIntervalMillis / 10
			if jitterMillis > m.policy.MaxUpdateIntervalJitterMillis {
				jitterMillis = m.policy.MaxUpdateIntervalJitterMillis
			}
			deltaMillis := loc.Time.Sub(reg.lastDelivered.Time).Milliseconds()
			if deltaMillis < minIntervalMillis-jitterMillis {
				return nil
			}
		}
		if minDistanceM := reg.effective.MinUpdateDistanceM; minDistanceM > 0 {
			if loc.DistanceM(reg.lastDelivered) < minDistanceM {
				return nil
			}
		}
	}

	if !m.appOps.NoteOp(helpers.OpForPermission(reg.permissionLevel), reg.identity) {
		slog.Warn("[Manager] Delivery blocked by app op",
			"provider", m.name,
			"key", key,
			"caller", reg.identity.String(),
		)
		return nil
	}

	delivered := loc.Copy()
	ws := reg.effective.WorkSource
	k := key
	return func() error {
		if !delivered.Mock {
			wl := m.wakeLocks.Acquire(ws)
			defer wl.Release()
		}
		if err := reg.channel.DeliverLocations([]*types.Location{delivered}); err != nil {
			return err
		}
		// Bookkeep a copy: the delivered instance belongs to the client
		// now, and a mutation there must not skew the delivery gates.
		m.recordDelivery(k, reg, delivered.Copy())
		return nil
	}
}

// recordDelivery updates the registration's delivery bookkeeping after
// a successful handoff and retires it once its update budget is spent.
func (m *Manager) recordDelivery(key Key, reg *Registration, loc *types.Location) {
	m.lock.Lock()
	if reg.removed {
		m.lock.Unlock()
		return
	}
	reg.lastDelivered = loc
	reg.numDeliveries++
	maxed := reg.request.MaxUpdates > 0 && reg.numDeliveries >= reg.request.MaxUpdates
	m.lock.Unlock()

	m.events.PublishAsync(m.builder.LocationDelivered(m.name, string(key), reg.identity, loc.Mock))
	if maxed {
		m.unregister(key, "max updates reached")
	}
}

// updateLastLocationLocked refreshes the per-user cache with a new fix.
// The bypass variants always update; the plain variants only while the
// provider is enabled for the user, so a disabled provider never leaks
// fresh positions through the cache.
func (m *Manager) updateLastLocationLocked(fine *types.Location) {
	coarse := m.fudger.CreateCoarse(fine)

	users := make(map[int]struct{}, len(m.enabled)+1)
	for userID := range m.enabled {
		users[userID] = struct{}{}
	}
	users[m.settings.CurrentUserID()] = struct{}{}

	for userID := range users {
		cache := m.lastLocations[userID]
		if cache == nil {
			cache = &lastLocation{}
			m.lastLocations[userID] = cache
		}
		cache.fineBypass = fine
		cache.coarseBypass = coarse
		if m.enabledLocked(userID) {
			cache.fine = fine
			cache.coarse = coarse
		}
	}
}

func (m *Manager) lastLocationLocked(userID int, level types.PermissionLevel, bypass bool) *types.Location {
	cache := m.lastLocations[userID]
	if cache == nil {
		return nil
	}
	if bypass {
		if level >= types.PermissionFine {
			return cache.fineBypass
		}
		return cache.coarseBypass
	}
	if level >= types.PermissionFine {
		return cache.fine
	}
	return cache.coarse
}
