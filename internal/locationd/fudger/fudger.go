// Package fudger degrades precise fixes for coarse-permission clients.
// Coarsening applies a random offset that rotates once per epoch, snaps
// the result to a grid sized to the coarse accuracy, and buckets the fix
// time, so repeated queries within an epoch cannot be averaged back to
// the true position.
package fudger

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sebas/waypoint/internal/locationd/types"
)

const (
	// DefaultAccuracyM is the accuracy floor reported on coarse fixes.
	DefaultAccuracyM = 2000.0
	// DefaultOffsetEpoch is how long an offset stays fixed.
	DefaultOffsetEpoch = time.Hour
	// timeBucket quantizes coarse fix timestamps.
	timeBucket = time.Minute

	metersPerDegreeLatitude = 111000.0
)

// Fudger produces privacy-degraded coarse variants of fine locations.
// Output is deterministic for a given input within one offset epoch.
type Fudger struct {
	mu         sync.Mutex
	accuracyM  float64
	epoch      time.Duration
	rng        *rand.Rand
	offsetLatM float64
	offsetLonM float64
	nextRotate time.Time
}

// New creates a fudger with the given coarse accuracy in meters.
func New(accuracyM float64) *Fudger {
	return NewWithEpoch(accuracyM, DefaultOffsetEpoch, time.Now().UnixNano())
}

// NewWithEpoch allows tests to pin the epoch length and offset seed.
func NewWithEpoch(accuracyM float64, epoch time.Duration, seed int64) *Fudger {
	if accuracyM <= 0 {
		accuracyM = DefaultAccuracyM
	}
	f := &Fudger{
		accuracyM: accuracyM,
		epoch:     epoch,
		rng:       rand.New(rand.NewSource(seed)),
	}
	f.rotateOffsetLocked(time.Now())
	return f
}

// AccuracyM returns the coarse accuracy floor.
func (f *Fudger) AccuracyM() float64 {
	return f.accuracyM
}

// CreateCoarse returns a coarsened copy of loc. The input is never
// mutated. Must not be called twice on an already-coarsened fix; the
// offset would be applied again.
func (f *Fudger) CreateCoarse(loc *types.Location) *types.Location {
	f.mu.Lock()
	now := time.Now()
	if now.After(f.nextRotate) {
		f.rotateOffsetLocked(now)
	}
	offLatM, offLonM := f.offsetLatM, f.offsetLonM
	f.mu.Unlock()

	out := loc.Copy()

	lat := loc.Latitude + offLatM/metersPerDegreeLatitude
	lon := loc.Longitude + offLonM/metersPerDegreeLongitude(loc.Latitude)

	// Snap to a grid sized to the coarse accuracy. The grid quantization
	// is what actually hides the fine position; the offset prevents grid
	// edges from leaking movement across a boundary.
	gridLat := f.accuracyM / metersPerDegreeLatitude
	gridLon := f.accuracyM / metersPerDegreeLongitude(loc.Latitude)
	lat = math.Round(lat/gridLat) * gridLat
	lon = math.Round(lon/gridLon) * gridLon

	out.Latitude = clampLatitude(lat)
	out.Longitude = wrapLongitude(lon)
	out.AccuracyM = math.Max(loc.AccuracyM, f.accuracyM)
	out.Time = loc.Time.Truncate(timeBucket)
	return out
}

func (f *Fudger) rotateOffsetLocked(now time.Time) {
	// Uniform offset within half the coarse accuracy per axis.
	f.offsetLatM = (f.rng.Float64() - 0.5) * f.accuracyM
	f.offsetLonM = (f.rng.Float64() - 0.5) * f.accuracyM
	f.nextRotate = now.Add(f.epoch)
}

func metersPerDegreeLongitude(latitude float64) float64 {
	m := metersPerDegreeLatitude * math.Cos(latitude*math.Pi/180)
	if m < 1 {
		m = 1 // degenerate at the poles
	}
	return m
}

func clampLatitude(lat float64) float64 {
	return math.Max(-90, math.Min(90, lat))
}

func wrapLongitude(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
