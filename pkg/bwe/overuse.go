package bwe

import "math"

// maxNumDeltas caps how many samples contribute to the detector's scaled
// threshold comparison, per the original algorithm's T = min(N, 60) * offset.
const maxNumDeltas = 60

// StateChangeCallback is called when bandwidth usage state changes.
// The callback receives the previous state and the new state.
type StateChangeCallback func(old, new BandwidthUsage)

// OveruseConfig contains configuration parameters for the overuse detector.
// These parameters control the adaptive threshold behavior and overuse
// detection timing.
type OveruseConfig struct {
	// InitialThreshold is the initial value for the adaptive threshold in
	// milliseconds.
	InitialThreshold float64

	// MinThreshold and MaxThreshold clamp the adaptive threshold.
	MinThreshold float64
	MaxThreshold float64

	// KUp is the threshold increase rate coefficient, used when the scaled
	// estimate exceeds the threshold.
	KUp float64

	// KDown is the threshold decrease rate coefficient, used when the
	// scaled estimate is below the threshold. Larger than KUp, so the
	// threshold rises slowly but relaxes quickly.
	KDown float64

	// MaxAdaptOffsetMs disables threshold adaptation entirely for a sample
	// whose scaled estimate exceeds threshold+MaxAdaptOffsetMs.
	MaxAdaptOffsetMs float64

	// OveruseTimeThreshMs is the minimum accumulated over-threshold time
	// before signaling overuse. This prevents false positives from
	// transient delay spikes.
	OveruseTimeThreshMs int64
}

// DefaultOveruseConfig returns an OveruseConfig with default values.
func DefaultOveruseConfig() OveruseConfig {
	return OveruseConfig{
		InitialThreshold:    12.5,
		MinThreshold:        6.0,
		MaxThreshold:        600.0,
		KUp:                 0.0087,
		KDown:               0.039,
		MaxAdaptOffsetMs:    15.0,
		OveruseTimeThreshMs: 10,
	}
}

// OveruseDetector determines network congestion state by comparing a
// delta-count-scaled delay offset estimate against an adaptive threshold.
// It implements the hysteretic three-state detector:
//   - Adaptive threshold using asymmetric K_up/K_down coefficients
//   - Sustained overuse requirement before signaling
//   - Signal suppression when the offset is decreasing
//   - State change callbacks for application notification
type OveruseDetector struct {
	config OveruseConfig

	threshold      float64
	lastUpdateMs   int64 // -1 until first updateThreshold call
	timeOverUsing  int64 // -1 denotes "not currently accumulating"
	overuseCounter int
	prevOffset     float64
	hypothesis     BandwidthUsage
	callback       StateChangeCallback
}

// NewOveruseDetector creates a new OveruseDetector with the given
// configuration.
func NewOveruseDetector(config OveruseConfig) *OveruseDetector {
	return &OveruseDetector{
		config:        config,
		threshold:     config.InitialThreshold,
		lastUpdateMs:  -1,
		timeOverUsing: -1,
		hypothesis:    BwNormal,
	}
}

// SetCallback registers a callback function that will be invoked whenever
// the bandwidth usage state changes. Pass nil to disable callbacks.
func (d *OveruseDetector) SetCallback(cb StateChangeCallback) {
	d.callback = cb
}

// Detect processes a filtered delay offset estimate (from the Kalman
// filter), the send-time delta in milliseconds of the sample that produced
// it, the filter's lifetime delta count, and the current time, and returns
// the updated bandwidth usage state.
//
// numOfDeltas < 2 is treated as "not enough history yet" and always
// reports BwNormal without touching the threshold.
func (d *OveruseDetector) Detect(offset float64, tsDeltaMs float64, numOfDeltas int, nowMs int64) BandwidthUsage {
	if numOfDeltas < 2 {
		d.hypothesis = BwNormal
		return d.hypothesis
	}

	n := numOfDeltas
	if n > maxNumDeltas {
		n = maxNumDeltas
	}
	scaled := float64(n) * offset

	oldHypothesis := d.hypothesis

	switch {
	case scaled > d.threshold:
		if d.timeOverUsing == -1 {
			d.timeOverUsing = int64(tsDeltaMs / 2)
		} else {
			d.timeOverUsing += int64(tsDeltaMs)
		}
		d.overuseCounter++
		if d.timeOverUsing > d.config.OveruseTimeThreshMs && d.overuseCounter > 1 {
			if offset >= d.prevOffset {
				d.timeOverUsing = 0
				d.overuseCounter = 0
				d.hypothesis = BwOverusing
			}
		}
	case scaled < -d.threshold:
		d.timeOverUsing = -1
		d.overuseCounter = 0
		d.hypothesis = BwUnderusing
	default:
		d.timeOverUsing = -1
		d.overuseCounter = 0
		d.hypothesis = BwNormal
	}

	d.prevOffset = offset
	d.updateThreshold(scaled, nowMs)

	if d.hypothesis != oldHypothesis && d.callback != nil {
		d.callback(oldHypothesis, d.hypothesis)
	}

	return d.hypothesis
}

// updateThreshold adapts the threshold toward the scaled estimate's
// magnitude at a rate determined by asymmetric coefficients: KUp when the
// estimate is above threshold, KDown when below.
func (d *OveruseDetector) updateThreshold(scaledOffset float64, nowMs int64) {
	if d.lastUpdateMs == -1 {
		d.lastUpdateMs = nowMs
	}

	absScaled := math.Abs(scaledOffset)
	if absScaled > d.threshold+d.config.MaxAdaptOffsetMs {
		d.lastUpdateMs = nowMs
		return
	}

	k := d.config.KDown
	if absScaled > d.threshold {
		k = d.config.KUp
	}

	deltaMs := nowMs - d.lastUpdateMs
	if deltaMs > 100 {
		deltaMs = 100
	}

	d.threshold += k * (absScaled - d.threshold) * float64(deltaMs)
	if d.threshold < d.config.MinThreshold {
		d.threshold = d.config.MinThreshold
	}
	if d.threshold > d.config.MaxThreshold {
		d.threshold = d.config.MaxThreshold
	}
	d.lastUpdateMs = nowMs
}

// State returns the current bandwidth usage state without processing a new
// estimate.
func (d *OveruseDetector) State() BandwidthUsage {
	return d.hypothesis
}

// Threshold returns the current adaptive threshold value.
func (d *OveruseDetector) Threshold() float64 {
	return d.threshold
}

// Reset resets the detector to its initial state. The configuration is
// preserved.
func (d *OveruseDetector) Reset() {
	d.threshold = d.config.InitialThreshold
	d.hypothesis = BwNormal
	d.lastUpdateMs = -1
	d.timeOverUsing = -1
	d.overuseCounter = 0
	d.prevOffset = 0
}
