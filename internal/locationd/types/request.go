package types

import (
	"errors"
	"math"
)

// PassiveInterval is the sentinel interval meaning "observe fixes other
// requests cause, contribute nothing to the merged provider request".
const PassiveInterval int64 = math.MaxInt64

// Quality expresses the accuracy/power tradeoff a request asks for.
// Lower values are more demanding.
type Quality int

const (
	QualityAccuracyFine  Quality = 100
	QualityAccuracyBlock Quality = 102
	QualityAccuracyCity  Quality = 104
	QualityPowerHigh     Quality = 200
	QualityPowerLow      Quality = 204
)

func (q Quality) String() string {
	switch q {
	case QualityAccuracyFine:
		return "accuracy_fine"
	case QualityAccuracyBlock:
		return "accuracy_block"
	case QualityAccuracyCity:
		return "accuracy_city"
	case QualityPowerHigh:
		return "power_high"
	case QualityPowerLow:
		return "power_low"
	default:
		return "quality_unknown"
	}
}

// ErrInvalidRequest is returned when a malformed request is rejected
// synchronously at registration time.
var ErrInvalidRequest = errors.New("invalid location request")

// LocationRequest is the raw request a client registers with. A
// provider-adjusted request is always derived from the raw request by
// applying permission coarsening, bypass eligibility, and background
// throttling, never the inverse.
type LocationRequest struct {
	IntervalMillis          int64      `json:"interval_ms"`
	MinUpdateIntervalMillis int64      `json:"min_update_interval_ms,omitempty"`
	MinUpdateDistanceM      float64    `json:"min_update_distance_m,omitempty"`
	DurationMillis          int64      `json:"duration_ms,omitempty"`
	MaxUpdates              int        `json:"max_updates,omitempty"`
	Quality                 Quality    `json:"quality,omitempty"`
	LowPower                bool       `json:"low_power,omitempty"`
	LocationSettingsIgnored bool       `json:"settings_ignored,omitempty"`
	WorkSource              WorkSource `json:"-"`
}

// IsPassive reports whether the request only observes others' fixes.
func (r LocationRequest) IsPassive() bool {
	return r.IntervalMillis == PassiveInterval
}

// EffectiveMinUpdateIntervalMillis returns the spacing gate applied
// between deliveries. Unset defaults to the interval itself; passive
// requests default to no gate.
func (r LocationRequest) EffectiveMinUpdateIntervalMillis() int64 {
	if r.MinUpdateIntervalMillis > 0 {
		return r.MinUpdateIntervalMillis
	}
	if r.IsPassive() {
		return 0
	}
	return r.IntervalMillis
}

// Validate rejects structurally malformed requests.
func (r LocationRequest) Validate() error {
	if r.IntervalMillis <= 0 {
		return ErrInvalidRequest
	}
	if r.MinUpdateIntervalMillis < 0 || r.MinUpdateDistanceM < 0 ||
		r.DurationMillis < 0 || r.MaxUpdates < 0 {
		return ErrInvalidRequest
	}
	return nil
}

// Copy returns an independent copy of the request.
func (r LocationRequest) Copy() LocationRequest {
	out := r
	out.WorkSource = r.WorkSource.Copy()
	return out
}

// ProviderRequest is the single merged request installed upstream on
// behalf of every active contributing registration.
type ProviderRequest struct {
	IntervalMillis          int64             `json:"interval_ms"`
	Quality                 Quality           `json:"quality,omitempty"`
	LowPower                bool              `json:"low_power,omitempty"`
	LocationSettingsIgnored bool              `json:"settings_ignored,omitempty"`
	WorkSource              WorkSource        `json:"-"`
	Requests                []LocationRequest `json:"requests,omitempty"`
}

// EmptyProviderRequest asks the provider for nothing.
var EmptyProviderRequest = ProviderRequest{IntervalMillis: PassiveInterval}

// IsActive reports whether the request asks the provider to produce fixes.
func (p ProviderRequest) IsActive() bool {
	return p.IntervalMillis != PassiveInterval
}

// Equal compares the fields that matter to the upstream provider. The
// contributing request list is diagnostic only and deliberately ignored,
// so churn among contributors that leaves the merge unchanged does not
// reinstall the request.
func (p ProviderRequest) Equal(other ProviderRequest) bool {
	return p.IntervalMillis == other.IntervalMillis &&
		p.Quality == other.Quality &&
		p.LowPower == other.LowPower &&
		p.LocationSettingsIgnored == other.LocationSettingsIgnored &&
		p.WorkSource.Equal(other.WorkSource)
}
