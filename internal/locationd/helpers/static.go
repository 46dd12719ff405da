package helpers

import (
	"sync"
	"time"

	"github.com/sebas/waypoint/internal/locationd/types"
)

// StaticSettings is a mutable in-memory Settings implementation. The
// daemon mutates it through the control API; tests drive it directly.
type StaticSettings struct {
	mu                 sync.Mutex
	throttleIntervalMs int64
	throttleExempt     map[string]bool
	ignoreAllowlist    map[string]bool
	locationEnabled    map[int]bool
	defaultEnabled     bool
	currentUser        int

	enabledNotifier notifier[int]
	userNotifier    notifier[[2]int]
}

// NewStaticSettings returns settings with location enabled for every
// user by default and a 30 minute background throttle interval.
func NewStaticSettings() *StaticSettings {
	return &StaticSettings{
		throttleIntervalMs: (30 * time.Minute).Milliseconds(),
		throttleExempt:     make(map[string]bool),
		ignoreAllowlist:    make(map[string]bool),
		locationEnabled:    make(map[int]bool),
		defaultEnabled:     true,
	}
}

func (s *StaticSettings) BackgroundThrottleIntervalMillis() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throttleIntervalMs
}

func (s *StaticSettings) SetBackgroundThrottleIntervalMillis(ms int64) {
	s.mu.Lock()
	s.throttleIntervalMs = ms
	s.mu.Unlock()
}

func (s *StaticSettings) IsBackgroundThrottleExempt(pkg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throttleExempt[pkg]
}

func (s *StaticSettings) SetBackgroundThrottleExempt(pkg string, exempt bool) {
	s.mu.Lock()
	s.throttleExempt[pkg] = exempt
	s.mu.Unlock()
}

func (s *StaticSettings) IsIgnoreSettingsAllowlisted(pkg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ignoreAllowlist[pkg]
}

func (s *StaticSettings) SetIgnoreSettingsAllowlisted(pkg string, allowed bool) {
	s.mu.Lock()
	s.ignoreAllowlist[pkg] = allowed
	s.mu.Unlock()
}

func (s *StaticSettings) IsLocationEnabled(userID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.locationEnabled[userID]; ok {
		return v
	}
	return s.defaultEnabled
}

// SetLocationEnabled flips the user's toggle and notifies subscribers.
func (s *StaticSettings) SetLocationEnabled(userID int, enabled bool) {
	s.mu.Lock()
	prev, known := s.locationEnabled[userID]
	s.locationEnabled[userID] = enabled
	s.mu.Unlock()
	if !known || prev != enabled {
		s.enabledNotifier.notify(userID)
	}
}

func (s *StaticSettings) CurrentUserID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentUser
}

// SetCurrentUser switches the foreground user and notifies subscribers.
func (s *StaticSettings) SetCurrentUser(userID int) {
	s.mu.Lock()
	old := s.currentUser
	s.currentUser = userID
	s.mu.Unlock()
	if old != userID {
		s.userNotifier.notify([2]int{old, userID})
	}
}

func (s *StaticSettings) SubscribeLocationEnabled(fn func(userID int)) (cancel func()) {
	return s.enabledNotifier.subscribe(fn)
}

func (s *StaticSettings) SubscribeCurrentUser(fn func(oldUser, newUser int)) (cancel func()) {
	return s.userNotifier.subscribe(func(v [2]int) { fn(v[0], v[1]) })
}

// StaticPermissions grants everything unless a uid has been restricted.
type StaticPermissions struct {
	mu       sync.Mutex
	maxLevel map[int]types.PermissionLevel
	notif    notifier[int]
}

func NewStaticPermissions() *StaticPermissions {
	return &StaticPermissions{maxLevel: make(map[int]types.PermissionLevel)}
}

func (p *StaticPermissions) HasLocationPermission(level types.PermissionLevel, identity types.Identity) bool {
	if level <= types.PermissionNone {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	max, ok := p.maxLevel[identity.UID]
	if !ok {
		return true
	}
	return level <= max
}

// SetMaxLevel caps the uid's permission and notifies subscribers.
func (p *StaticPermissions) SetMaxLevel(uid int, level types.PermissionLevel) {
	p.mu.Lock()
	p.maxLevel[uid] = level
	p.mu.Unlock()
	p.notif.notify(uid)
}

func (p *StaticPermissions) Subscribe(fn func(uid int)) (cancel func()) {
	return p.notif.subscribe(fn)
}

// StaticAppForeground treats every uid as foreground until told otherwise.
type StaticAppForeground struct {
	mu         sync.Mutex
	background map[int]bool
	notif      notifier[[2]int] // uid, foreground(1/0)
}

func NewStaticAppForeground() *StaticAppForeground {
	return &StaticAppForeground{background: make(map[int]bool)}
}

func (a *StaticAppForeground) IsForeground(uid int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.background[uid]
}

func (a *StaticAppForeground) SetForeground(uid int, foreground bool) {
	a.mu.Lock()
	a.background[uid] = !foreground
	a.mu.Unlock()
	fg := 0
	if foreground {
		fg = 1
	}
	a.notif.notify([2]int{uid, fg})
}

func (a *StaticAppForeground) Subscribe(fn func(uid int, foreground bool)) (cancel func()) {
	return a.notif.subscribe(func(v [2]int) { fn(v[0], v[1] == 1) })
}

// StaticPowerMode holds the current power-save policy.
type StaticPowerMode struct {
	mu    sync.Mutex
	mode  PowerModeKind
	notif notifier[PowerModeKind]
}

func NewStaticPowerMode() *StaticPowerMode {
	return &StaticPowerMode{mode: PowerModeNoChange}
}

func (p *StaticPowerMode) Mode() PowerModeKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *StaticPowerMode) SetMode(mode PowerModeKind) {
	p.mu.Lock()
	changed := p.mode != mode
	p.mode = mode
	p.mu.Unlock()
	if changed {
		p.notif.notify(mode)
	}
}

func (p *StaticPowerMode) Subscribe(fn func(PowerModeKind)) (cancel func()) {
	return p.notif.subscribe(fn)
}

// StaticScreen holds the screen interactive state.
type StaticScreen struct {
	mu          sync.Mutex
	interactive bool
	notif       notifier[bool]
}

func NewStaticScreen() *StaticScreen {
	return &StaticScreen{interactive: true}
}

func (s *StaticScreen) Interactive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interactive
}

func (s *StaticScreen) SetInteractive(interactive bool) {
	s.mu.Lock()
	changed := s.interactive != interactive
	s.interactive = interactive
	s.mu.Unlock()
	if changed {
		s.notif.notify(interactive)
	}
}

func (s *StaticScreen) Subscribe(fn func(bool)) (cancel func()) {
	return s.notif.subscribe(fn)
}

// TimerAlarms schedules callbacks on real timers.
type TimerAlarms struct{}

func NewTimerAlarms() *TimerAlarms {
	return &TimerAlarms{}
}

func (a *TimerAlarms) Schedule(delay time.Duration, fn func(), ws types.WorkSource) (cancel func()) {
	t := time.AfterFunc(delay, fn)
	return func() { t.Stop() }
}

// ManualAlarms records scheduled alarms and only fires them when told
// to, so tests control time.
type ManualAlarms struct {
	mu     sync.Mutex
	seq    int
	alarms map[int]*ManualAlarm
}

// ManualAlarm is one scheduled, not-yet-fired alarm.
type ManualAlarm struct {
	ID        int
	Delay     time.Duration
	Work      types.WorkSource
	fn        func()
	cancelled bool
}

func NewManualAlarms() *ManualAlarms {
	return &ManualAlarms{alarms: make(map[int]*ManualAlarm)}
}

func (a *ManualAlarms) Schedule(delay time.Duration, fn func(), ws types.WorkSource) (cancel func()) {
	a.mu.Lock()
	a.seq++
	id := a.seq
	a.alarms[id] = &ManualAlarm{ID: id, Delay: delay, Work: ws, fn: fn}
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		if al, ok := a.alarms[id]; ok {
			al.cancelled = true
			delete(a.alarms, id)
		}
		a.mu.Unlock()
	}
}

// Pending returns the alarms scheduled and not yet fired or cancelled,
// in scheduling order.
func (a *ManualAlarms) Pending() []*ManualAlarm {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*ManualAlarm, 0, len(a.alarms))
	for id := 1; id <= a.seq; id++ {
		if al, ok := a.alarms[id]; ok {
			out = append(out, al)
		}
	}
	return out
}

// Fire runs the alarm with the given id on the calling goroutine.
func (a *ManualAlarms) Fire(id int) bool {
	a.mu.Lock()
	al, ok := a.alarms[id]
	if ok {
		delete(a.alarms, id)
	}
	a.mu.Unlock()
	if !ok {
		return false
	}
	al.fn()
	return true
}

// StaticAppOps allows every op unless the uid has been denied.
type StaticAppOps struct {
	mu     sync.Mutex
	denied map[int]bool
	notes  []NotedOp
}

// NotedOp records one app-ops note for inspection.
type NotedOp struct {
	Op       string
	Identity types.Identity
}

func NewStaticAppOps() *StaticAppOps {
	return &StaticAppOps{denied: make(map[int]bool)}
}

func (o *StaticAppOps) NoteOp(op string, identity types.Identity) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notes = append(o.notes, NotedOp{Op: op, Identity: identity})
	return !o.denied[identity.UID]
}

func (o *StaticAppOps) SetDenied(uid int, denied bool) {
	o.mu.Lock()
	o.denied[uid] = denied
	o.mu.Unlock()
}

func (o *StaticAppOps) Notes() []NotedOp {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]NotedOp(nil), o.notes...)
}

// CountingWakeLocks tracks acquire/release balance.
type CountingWakeLocks struct {
	mu       sync.Mutex
	acquired int64
	held     int64
}

func NewCountingWakeLocks() *CountingWakeLocks {
	return &CountingWakeLocks{}
}

func (w *CountingWakeLocks) Acquire(ws types.WorkSource) WakeLock {
	w.mu.Lock()
	w.acquired++
	w.held++
	w.mu.Unlock()
	return &countedLock{owner: w}
}

// Acquired returns the total number of acquisitions.
func (w *CountingWakeLocks) Acquired() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.acquired
}

// Held returns the number of currently held locks.
func (w *CountingWakeLocks) Held() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.held
}

type countedLock struct {
	owner *CountingWakeLocks
	once  sync.Once
}

func (l *countedLock) Release() {
	l.once.Do(func() {
		l.owner.mu.Lock()
		l.owner.held--
		l.owner.mu.Unlock()
	})
}
