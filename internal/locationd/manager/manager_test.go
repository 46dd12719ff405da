package manager

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/waypoint/internal/locationd/fudger"
	"github.com/sebas/waypoint/internal/locationd/helpers"
	"github.com/sebas/waypoint/internal/locationd/provider"
	"github.com/sebas/waypoint/internal/locationd/transport"
	"github.com/sebas/waypoint/internal/locationd/types"
)

var testCaller = types.Identity{PID: 1, UID: 1000, UserID: 0, Package: "com.example.app"}

type testEnv struct {
	mgr        *Manager
	mock       *provider.Mock
	settings   *helpers.StaticSettings
	perms      *helpers.StaticPermissions
	foreground *helpers.StaticAppForeground
	power      *helpers.StaticPowerMode
	screen     *helpers.StaticScreen
	alarms     *helpers.ManualAlarms
	appOps     *helpers.StaticAppOps
	wakeLocks  *helpers.CountingWakeLocks
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		mock:       provider.NewMock("gps", types.Identity{Package: "waypointd"}),
		settings:   helpers.NewStaticSettings(),
		perms:      helpers.NewStaticPermissions(),
		foreground: helpers.NewStaticAppForeground(),
		power:      helpers.NewStaticPowerMode(),
		screen:     helpers.NewStaticScreen(),
		alarms:     helpers.NewManualAlarms(),
		appOps:     helpers.NewStaticAppOps(),
		wakeLocks:  helpers.NewCountingWakeLocks(),
	}
	env.mgr = New("gps", provider.NewSwitchable(env.mock), Deps{
		Settings:    env.settings,
		Permissions: env.perms,
		Foreground:  env.foreground,
		PowerMode:   env.power,
		Screen:      env.screen,
		Alarms:      env.alarms,
		AppOps:      env.appOps,
		WakeLocks:   env.wakeLocks,
		Fudger:      fudger.NewWithEpoch(fudger.DefaultAccuracyM, time.Hour, 1),
	}, DefaultPolicy())
	env.mgr.Start()
	t.Cleanup(env.mgr.Stop)
	return env
}

// recorder collects everything one channel receives.
type recorder struct {
	mu        sync.Mutex
	locations []*types.Location
	enabled   []bool
}

func newRecorder() (*recorder, *transport.CallbackChannel) {
	r := &recorder{}
	ch := transport.NewCallbackChannel(
		func(locs []*types.Location) {
			r.mu.Lock()
			r.locations = append(r.locations, locs...)
			r.mu.Unlock()
		},
		func(_ string, enabled bool) {
			r.mu.Lock()
			r.enabled = append(r.enabled, enabled)
			r.mu.Unlock()
		},
	)
	return r, ch
}

func (r *recorder) locationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locations)
}

func (r *recorder) lastLocation() *types.Location {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.locations) == 0 {
		return nil
	}
	return r.locations[len(r.locations)-1]
}

func (r *recorder) enabledChanges() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.enabled...)
}

func fixAt(lat, lon float64, at time.Time) *types.Location {
	return &types.Location{Latitude: lat, Longitude: lon, AccuracyM: 10, Time: at}
}

func TestRegisterAndDeliver(t *testing.T) {
	env := newTestEnv(t)
	rec, ch := newRecorder()

	key, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, ch)
	require.NoError(t, err)
	require.NotEmpty(t, key)

	assert.Equal(t, int64(1000), env.mock.LastRequest().IntervalMillis)

	env.mock.Inject(fixAt(37.4, -122.1, time.Now()))

	require.Equal(t, 1, rec.locationCount())
	got := rec.lastLocation()
	assert.Equal(t, "gps", got.Provider)
	assert.True(t, got.Mock)
	assert.InDelta(t, 37.4, got.Latitude, 1e-9)

	require.True(t, env.mgr.Unregister(key))
	assert.False(t, env.mock.LastRequest().IsActive())
}

func TestRegisterRejectsInvalidRequests(t *testing.T) {
	env := newTestEnv(t)
	_, ch := newRecorder()

	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 0}, ch)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = env.mgr.RegisterListener("", testCaller, types.PermissionNone,
		types.LocationRequest{IntervalMillis: 1000}, ch)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, nil)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestMinUpdateIntervalGate(t *testing.T) {
	env := newTestEnv(t)
	rec, ch := newRecorder()

	// interval 1000 defaults the spacing gate to 1000 with 100ms jitter
	// slack: anything under 900ms apart is suppressed.
	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, ch)
	require.NoError(t, err)

	base := time.Now()
	env.mock.Inject(fixAt(37.40, -122.10, base))
	env.mock.Inject(fixAt(37.41, -122.10, base.Add(500*time.Millisecond)))
	env.mock.Inject(fixAt(37.42, -122.10, base.Add(1100*time.Millisecond)))

	require.Equal(t, 2, rec.locationCount())
	assert.InDelta(t, 37.42, rec.lastLocation().Latitude, 1e-9)
}

func TestClientMutationOfDeliveredFixDoesNotSkewGates(t *testing.T) {
	env := newTestEnv(t)
	rec, ch := newRecorder()

	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, ch)
	require.NoError(t, err)

	base := time.Now()
	env.mock.Inject(fixAt(37.40, -122.10, base))
	require.Equal(t, 1, rec.locationCount())

	// An in-process client rewriting the fix it was handed must not
	// reach the spacing bookkeeping: 500ms later is still suppressed.
	rec.lastLocation().Time = base.Add(-time.Hour)
	env.mock.Inject(fixAt(37.41, -122.10, base.Add(500*time.Millisecond)))
	assert.Equal(t, 1, rec.locationCount())
}

func TestMinUpdateDistanceGate(t *testing.T) {
	env := newTestEnv(t)
	rec, ch := newRecorder()

	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{
			IntervalMillis:          1000,
			MinUpdateIntervalMillis: 1,
			MinUpdateDistanceM:      100,
		}, ch)
	require.NoError(t, err)

	base := time.Now()
	env.mock.Inject(fixAt(37.0, -122.0, base))
	// ~50m north: suppressed.
	env.mock.Inject(fixAt(37.00045, -122.0, base.Add(time.Second)))
	// ~150m north of the last delivery: passes.
	env.mock.Inject(fixAt(37.00135, -122.0, base.Add(2*time.Second)))

	require.Equal(t, 2, rec.locationCount())
	assert.InDelta(t, 37.00135, rec.lastLocation().Latitude, 1e-9)
}

func TestCoarsePermissionFloorsIntervalAndFudgesFixes(t *testing.T) {
	env := newTestEnv(t)
	rec, ch := newRecorder()

	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionCoarse,
		types.LocationRequest{IntervalMillis: 1000}, ch)
	require.NoError(t, err)

	// The upstream request never goes below the coarse floor.
	assert.Equal(t, DefaultPolicy().CoarseIntervalFloorMillis, env.mock.LastRequest().IntervalMillis)

	at := time.Date(2026, 8, 23, 12, 30, 47, 0, time.UTC)
	env.mock.Inject(fixAt(37.421998, -122.084001, at))

	require.Equal(t, 1, rec.locationCount())
	got := rec.lastLocation()
	assert.GreaterOrEqual(t, got.AccuracyM, fudger.DefaultAccuracyM)
	assert.Equal(t, at.Truncate(time.Minute), got.Time)
	assert.NotEqual(t, 37.421998, got.Latitude)
}

func TestReplaceCarriesLastDeliveredForward(t *testing.T) {
	env := newTestEnv(t)
	oldRec, oldCh := newRecorder()

	key := Key("client-token")
	_, err := env.mgr.RegisterListener(key, testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, oldCh)
	require.NoError(t, err)

	base := time.Now()
	env.mock.Inject(fixAt(37.40, -122.10, base))
	require.Equal(t, 1, oldRec.locationCount())

	newRec, newCh := newRecorder()
	_, err = env.mgr.RegisterListener(key, testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, newCh)
	require.NoError(t, err)

	// Too soon after the fix the replaced registration already received.
	env.mock.Inject(fixAt(37.41, -122.10, base.Add(200*time.Millisecond)))
	assert.Equal(t, 0, newRec.locationCount())

	env.mock.Inject(fixAt(37.42, -122.10, base.Add(1500*time.Millisecond)))
	assert.Equal(t, 1, newRec.locationCount())
	// The old channel saw only the first fix.
	assert.Equal(t, 1, oldRec.locationCount())
}

func TestBroadeningRequestIsDebounced(t *testing.T) {
	env := newTestEnv(t)
	recA, chA := newRecorder()
	_, chB := newRecorder()

	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 60000}, chA)
	require.NoError(t, err)
	require.Equal(t, int64(60000), env.mock.LastRequest().IntervalMillis)

	// A fix delivered 10s ago leaves A owed one in ~50s.
	env.mock.Inject(fixAt(37.4, -122.1, time.Now().Add(-10*time.Second)))
	require.Equal(t, 1, recA.locationCount())

	// Tightening applies immediately.
	keyB, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, chB)
	require.NoError(t, err)
	require.Equal(t, int64(1000), env.mock.LastRequest().IntervalMillis)

	// Broadening back to 60000 is debounced, bounded by A's next due fix.
	require.True(t, env.mgr.Unregister(keyB))
	assert.Equal(t, int64(1000), env.mock.LastRequest().IntervalMillis)

	pending := env.alarms.Pending()
	require.Len(t, pending, 1)
	assert.LessOrEqual(t, pending[0].Delay, 50*time.Second)
	assert.GreaterOrEqual(t, pending[0].Delay,
		time.Duration(DefaultPolicy().MinRequestDelayMillis)*time.Millisecond)

	require.True(t, env.alarms.Fire(pending[0].ID))
	assert.Equal(t, int64(60000), env.mock.LastRequest().IntervalMillis)
}

func TestCalculateRequestDelay(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	regA := &Registration{
		identity:        testCaller,
		permissionLevel: types.PermissionFine,
		effective:       types.LocationRequest{IntervalMillis: 60000},
		lastDelivered:   fixAt(37.4, -122.1, now.Add(-10*time.Second)),
	}
	regB := &Registration{
		identity:        testCaller,
		permissionLevel: types.PermissionFine,
		effective:       types.LocationRequest{IntervalMillis: 60000},
	}

	env.mgr.lock.Lock()
	delay := env.mgr.calculateRequestDelayLocked(60000, []*Registration{regA})
	env.mgr.lock.Unlock()
	assert.InDelta(t, 50000, delay, 1000)

	// A never-delivered contributor with nothing cached forces immediacy.
	env.mgr.lock.Lock()
	delay = env.mgr.calculateRequestDelayLocked(60000, []*Registration{regA, regB})
	env.mgr.lock.Unlock()
	assert.Equal(t, int64(0), delay)

	// Once a fix is cached, the never-delivered contributor is treated
	// as if it had received it.
	env.mgr.lock.Lock()
	env.mgr.updateLastLocationLocked(fixAt(37.4, -122.1, now.Add(-10*time.Second)))
	delay = env.mgr.calculateRequestDelayLocked(60000, []*Registration{regA, regB})
	env.mgr.lock.Unlock()
	assert.InDelta(t, 50000, delay, 1000)
	assert.Greater(t, delay, int64(0))
}

func TestMergeRegistrations(t *testing.T) {
	env := newTestEnv(t)

	mk := func(uid int, interval int64, quality types.Quality, lowPower, bypass bool) *Registration {
		return &Registration{
			identity:        types.Identity{UID: uid, Package: "com.example.app"},
			permissionLevel: types.PermissionFine,
			effective: types.LocationRequest{
				IntervalMillis:          interval,
				Quality:                 quality,
				LowPower:                lowPower,
				LocationSettingsIgnored: bypass,
				WorkSource:              types.NewWorkSource(uid, "com.example.app"),
			},
		}
	}

	env.mgr.lock.Lock()
	defer env.mgr.lock.Unlock()

	// All-passive merges to nothing.
	passive := mk(1000, types.PassiveInterval, types.QualityAccuracyBlock, false, false)
	merged := env.mgr.mergeRegistrationsLocked([]*Registration{passive})
	assert.False(t, merged.IsActive())

	// Tightest interval wins; quality takes the most demanding; low power
	// holds only when everyone asks for it; bypass is an OR.
	a := mk(1000, 1000, types.QualityAccuracyFine, true, false)
	b := mk(2000, 60000, types.QualityPowerLow, false, true)
	merged = env.mgr.mergeRegistrationsLocked([]*Registration{a, b, passive})
	assert.Equal(t, int64(1000), merged.IntervalMillis)
	assert.Equal(t, types.QualityAccuracyFine, merged.Quality)
	assert.False(t, merged.LowPower)
	assert.True(t, merged.LocationSettingsIgnored)

	// Work is attributed only to contributors near the winning interval:
	// 60000 is far beyond 1000 + 500 + 1000.
	assert.Equal(t, []int{1000}, merged.WorkSource.UIDs())
}

func TestProviderRequestCalculationIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	reg := &Registration{
		identity:        testCaller,
		permissionLevel: types.PermissionCoarse,
		foreground:      true,
		request: types.LocationRequest{
			IntervalMillis:          1000,
			MinUpdateIntervalMillis: 500,
			Quality:                 types.QualityAccuracyFine,
		},
	}

	env.mgr.lock.Lock()
	defer env.mgr.lock.Unlock()

	once := env.mgr.calculateProviderRequestLocked(reg)
	assert.Equal(t, types.QualityAccuracyBlock, once.Quality)
	assert.Equal(t, env.mgr.policy.CoarseIntervalFloorMillis, once.IntervalMillis)
	// A spacing gate below the floor is cleared rather than floored.
	assert.Equal(t, int64(0), once.MinUpdateIntervalMillis)

	// Recalculating from an already-adjusted request must change nothing.
	reg.request = once
	twice := env.mgr.calculateProviderRequestLocked(reg)
	assert.Equal(t, once, twice)
}

func TestMergedIntervalNeverBroadensWithMoreRegistrations(t *testing.T) {
	env := newTestEnv(t)

	mk := func(uid int, interval int64) *Registration {
		return &Registration{
			identity:        types.Identity{UID: uid, Package: "com.example.app"},
			permissionLevel: types.PermissionFine,
			effective: types.LocationRequest{
				IntervalMillis: interval,
				Quality:        types.QualityAccuracyBlock,
				WorkSource:     types.NewWorkSource(uid, "com.example.app"),
			},
		}
	}
	a := mk(1000, 60000)
	b := mk(2000, 5000)
	c := mk(3000, types.PassiveInterval)

	env.mgr.lock.Lock()
	defer env.mgr.lock.Unlock()

	// Growing the registration set can only hold or tighten the merge.
	prev := env.mgr.mergeRegistrationsLocked([]*Registration{a}).IntervalMillis
	for _, set := range [][]*Registration{{a, b}, {a, b, c}} {
		got := env.mgr.mergeRegistrationsLocked(set).IntervalMillis
		assert.LessOrEqual(t, got, prev)
		prev = got
	}
	assert.Equal(t, int64(5000), prev)
}

func TestEnabledChangeNotifiesAndClearsCache(t *testing.T) {
	env := newTestEnv(t)
	rec, ch := newRecorder()

	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, ch)
	require.NoError(t, err)

	env.mock.Inject(fixAt(37.4, -122.1, time.Now()))
	loc, err := env.mgr.GetLastLocation(testCaller, types.PermissionFine, false)
	require.NoError(t, err)
	require.NotNil(t, loc)

	// No enabled change has been broadcast yet: the initial observation
	// at startup is silent.
	assert.Empty(t, rec.enabledChanges())

	env.settings.SetLocationEnabled(0, false)
	assert.Equal(t, []bool{false}, rec.enabledChanges())
	assert.False(t, env.mgr.IsEnabled(0))
	assert.False(t, env.mock.LastRequest().IsActive())

	loc, err = env.mgr.GetLastLocation(testCaller, types.PermissionFine, false)
	require.NoError(t, err)
	assert.Nil(t, loc)

	env.settings.SetLocationEnabled(0, true)
	assert.Equal(t, []bool{false, true}, rec.enabledChanges())
	assert.True(t, env.mgr.IsEnabled(0))
}

func TestGetCurrentLocationServedFromFreshCache(t *testing.T) {
	env := newTestEnv(t)

	env.mock.Inject(fixAt(37.4, -122.1, time.Now()))

	rec, ch := newRecorder()
	_, err := env.mgr.GetCurrentLocation(testCaller, types.PermissionFine,
		types.LocationRequest{}, ch)
	require.NoError(t, err)

	require.Equal(t, 1, rec.locationCount())
	// One-shot: the registration retired itself after delivery.
	assert.Empty(t, env.mgr.Snapshot().Registrations)
}

func TestGetCurrentLocationWaitsForNextFix(t *testing.T) {
	env := newTestEnv(t)

	rec, ch := newRecorder()
	_, err := env.mgr.GetCurrentLocation(testCaller, types.PermissionFine,
		types.LocationRequest{}, ch)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.locationCount())

	env.mock.Inject(fixAt(37.4, -122.1, time.Now()))
	require.Equal(t, 1, rec.locationCount())
	assert.Empty(t, env.mgr.Snapshot().Registrations)
}

func TestGetCurrentLocationExpires(t *testing.T) {
	env := newTestEnv(t)

	rec, ch := newRecorder()
	_, err := env.mgr.GetCurrentLocation(testCaller, types.PermissionFine,
		types.LocationRequest{}, ch)
	require.NoError(t, err)

	pending := env.alarms.Pending()
	require.Len(t, pending, 1)
	require.True(t, env.alarms.Fire(pending[0].ID))

	assert.Empty(t, env.mgr.Snapshot().Registrations)
	assert.Equal(t, 0, rec.locationCount())
}

func TestMaxUpdatesRetiresRegistration(t *testing.T) {
	env := newTestEnv(t)
	rec, ch := newRecorder()

	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000, MaxUpdates: 2}, ch)
	require.NoError(t, err)

	base := time.Now()
	env.mock.Inject(fixAt(37.40, -122.1, base))
	env.mock.Inject(fixAt(37.41, -122.1, base.Add(2*time.Second)))
	env.mock.Inject(fixAt(37.42, -122.1, base.Add(4*time.Second)))

	assert.Equal(t, 2, rec.locationCount())
	assert.Empty(t, env.mgr.Snapshot().Registrations)
}

func TestPermissionRevokedDeactivates(t *testing.T) {
	env := newTestEnv(t)
	rec, ch := newRecorder()

	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, ch)
	require.NoError(t, err)
	require.True(t, env.mock.LastRequest().IsActive())

	env.perms.SetMaxLevel(testCaller.UID, types.PermissionNone)
	assert.False(t, env.mock.LastRequest().IsActive())

	env.mock.Inject(fixAt(37.4, -122.1, time.Now()))
	assert.Equal(t, 0, rec.locationCount())

	env.perms.SetMaxLevel(testCaller.UID, types.PermissionFine)
	assert.True(t, env.mock.LastRequest().IsActive())
}

func TestAppOpDeniedBlocksDeliveryButKeepsRegistration(t *testing.T) {
	env := newTestEnv(t)
	rec, ch := newRecorder()

	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, ch)
	require.NoError(t, err)

	env.appOps.SetDenied(testCaller.UID, true)
	env.mock.Inject(fixAt(37.4, -122.1, time.Now()))

	assert.Equal(t, 0, rec.locationCount())
	assert.Len(t, env.mgr.Snapshot().Registrations, 1)
}

func TestBackgroundThrottleFloorsInterval(t *testing.T) {
	env := newTestEnv(t)
	_, ch := newRecorder()

	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, ch)
	require.NoError(t, err)
	require.Equal(t, int64(1000), env.mock.LastRequest().IntervalMillis)

	env.foreground.SetForeground(testCaller.UID, false)
	assert.Equal(t, env.settings.BackgroundThrottleIntervalMillis(),
		env.mock.LastRequest().IntervalMillis)

	env.foreground.SetForeground(testCaller.UID, true)
	assert.Equal(t, int64(1000), env.mock.LastRequest().IntervalMillis)
}

func TestZeroCoordinateRejectedUnlessMock(t *testing.T) {
	env := newTestEnv(t)
	rec, ch := newRecorder()

	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, ch)
	require.NoError(t, err)

	env.mgr.OnReportLocation([]*types.Location{
		{Provider: "gps", Latitude: 0, Longitude: 0, AccuracyM: 10, Time: time.Now()},
	})
	assert.Equal(t, 0, rec.locationCount())

	// The same coordinates injected through the mock pass: test scripts
	// may legitimately sit on (0, 0).
	env.mock.Inject(fixAt(0, 0, time.Now()))
	assert.Equal(t, 1, rec.locationCount())
}

func TestChannelDisconnectRemovesRegistration(t *testing.T) {
	env := newTestEnv(t)
	_, ch := newRecorder()

	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, ch)
	require.NoError(t, err)
	require.True(t, env.mock.LastRequest().IsActive())

	ch.Disconnect()
	assert.Empty(t, env.mgr.Snapshot().Registrations)
	assert.False(t, env.mock.LastRequest().IsActive())
}

func TestMockProviderAllowedFlipsEnabled(t *testing.T) {
	env := newTestEnv(t)
	rec, ch := newRecorder()

	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, ch)
	require.NoError(t, err)

	require.NoError(t, env.mgr.SetMockProviderAllowed(false))
	assert.False(t, env.mgr.IsEnabled(0))
	assert.Equal(t, []bool{false}, rec.enabledChanges())

	require.NoError(t, env.mgr.SetMockProviderAllowed(true))
	assert.True(t, env.mgr.IsEnabled(0))
	assert.Equal(t, []bool{false, true}, rec.enabledChanges())
}

func TestGetLastLocationCoarseVariant(t *testing.T) {
	env := newTestEnv(t)

	at := time.Date(2026, 8, 23, 9, 15, 42, 0, time.UTC)
	env.mock.Inject(fixAt(37.421998, -122.084001, at))

	fine, err := env.mgr.GetLastLocation(testCaller, types.PermissionFine, false)
	require.NoError(t, err)
	require.NotNil(t, fine)
	assert.InDelta(t, 37.421998, fine.Latitude, 1e-9)

	coarse, err := env.mgr.GetLastLocation(testCaller, types.PermissionCoarse, false)
	require.NoError(t, err)
	require.NotNil(t, coarse)
	assert.GreaterOrEqual(t, coarse.AccuracyM, fudger.DefaultAccuracyM)
	assert.NotEqual(t, fine.Latitude, coarse.Latitude)
	assert.Equal(t, at.Truncate(time.Minute), coarse.Time)
}

func TestGetLastLocationPermissionDenied(t *testing.T) {
	env := newTestEnv(t)
	env.perms.SetMaxLevel(testCaller.UID, types.PermissionNone)

	_, err := env.mgr.GetLastLocation(testCaller, types.PermissionFine, false)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestPassiveManagerObservesForwardedFixes(t *testing.T) {
	env := newTestEnv(t)

	passive := NewPassive(Deps{Settings: env.settings}, DefaultPolicy())
	passive.Start()
	t.Cleanup(passive.Stop)
	env.mgr.SetReportSink(passive)

	rec, ch := newRecorder()
	_, err := passive.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: types.PassiveInterval}, ch)
	require.NoError(t, err)

	// The passive manager never asks its provider for anything.
	if merged, ok := passive.mux.Merged(); ok {
		assert.False(t, merged.IsActive())
	}

	env.mock.Inject(fixAt(37.4, -122.1, time.Now()))
	require.Equal(t, 1, rec.locationCount())
	assert.Equal(t, "gps", rec.lastLocation().Provider)
}

func TestHistoricalDeliveryOnActivation(t *testing.T) {
	env := newTestEnv(t)

	at := time.Now()
	env.mock.Inject(fixAt(37.4, -122.1, at))

	// A fresh registration whose interval exceeds the cached fix's age
	// receives it immediately.
	rec, ch := newRecorder()
	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 60000}, ch)
	require.NoError(t, err)
	require.Equal(t, 1, rec.locationCount())
	assert.Equal(t, at.Unix(), rec.lastLocation().Time.Unix())
}

func TestWakeLocksSkippedForMockFixes(t *testing.T) {
	env := newTestEnv(t)
	rec, ch := newRecorder()

	_, err := env.mgr.RegisterListener("", testCaller, types.PermissionFine,
		types.LocationRequest{IntervalMillis: 1000}, ch)
	require.NoError(t, err)

	env.mock.Inject(fixAt(37.4, -122.1, time.Now()))
	require.Equal(t, 1, rec.locationCount())
	assert.Equal(t, int64(0), env.wakeLocks.Acquired())

	env.mgr.OnReportLocation([]*types.Location{
		{Provider: "gps", Latitude: 37.5, Longitude: -122.1, AccuracyM: 10, Time: time.Now().Add(2 * time.Second)},
	})
	require.Equal(t, 2, rec.locationCount())
	assert.Equal(t, int64(1), env.wakeLocks.Acquired())
	assert.Equal(t, int64(0), env.wakeLocks.Held())
}
