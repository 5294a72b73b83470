package bwe

import "math"

const (
	// deltaCounterMax caps the lifetime sample counter used to switch the
	// noise-estimate smoothing coefficient to its slower, steady-state value.
	deltaCounterMax = 1000

	// minFramePeriodHistoryLength bounds the rolling window used to find the
	// minimum send-time delta, a proxy for the frame period.
	minFramePeriodHistoryLength = 60
)

// KalmanConfig holds tunable parameters for the Kalman filter.
type KalmanConfig struct {
	// InitialOffsetVariance and InitialSlopeVariance seed the diagonal of
	// the 2x2 error-covariance matrix, whose state is ordered
	// (size-coefficient, offset): InitialOffsetVariance seeds e[0][0], the
	// size-coefficient entry, and InitialSlopeVariance seeds e[1][1], the
	// offset entry.
	InitialOffsetVariance float64
	InitialSlopeVariance  float64

	// OffsetProcessNoise and SlopeProcessNoise are the process-noise
	// variances added to the covariance matrix every update:
	// OffsetProcessNoise to e[0][0] (size coefficient) and
	// SlopeProcessNoise to e[1][1] (offset).
	OffsetProcessNoise float64
	SlopeProcessNoise  float64

	// InitialSlope seeds the slope state, expressed in ms per byte.
	InitialSlope float64

	// InitialVarNoise seeds the measurement-noise variance.
	InitialVarNoise float64
}

// DefaultKalmanConfig returns the default configuration.
func DefaultKalmanConfig() KalmanConfig {
	return KalmanConfig{
		InitialOffsetVariance: 100,
		InitialSlopeVariance:  1e-1,
		OffsetProcessNoise:    1e-13,
		SlopeProcessNoise:     1e-3,
		InitialSlope:          8.0 / 512.0,
		InitialVarNoise:       50.0,
	}
}

// KalmanFilter is a 2x2-matrix Kalman filter tracking delay offset and its
// slope (drift per byte) from noisy (arrival-delta, send-delta, size-delta)
// triples. It takes the place of a pure scalar filter because the dominant
// noise source here correlates with packet size, not time alone.
//
// The filter tracks the TREND of delay, not absolute delay. A positive
// offset estimate means delay is increasing (queue building up); negative
// means decreasing (queue draining).
type KalmanFilter struct {
	config KalmanConfig

	numOfDeltas int
	offset      float64
	prevOffset  float64
	slope       float64

	// e is the 2x2 error-covariance matrix over (size-coefficient, offset).
	e [2][2]float64

	varNoise float64
	avgNoise float64

	tsDeltaHist []float64
}

// NewKalmanFilter creates a new Kalman filter with the given configuration.
func NewKalmanFilter(config KalmanConfig) *KalmanFilter {
	k := &KalmanFilter{
		config:   config,
		slope:    config.InitialSlope,
		varNoise: config.InitialVarNoise,
	}
	k.e[0][0] = config.InitialOffsetVariance
	k.e[1][1] = config.InitialSlopeVariance
	return k
}

// Update processes one inter-group delay sample and returns the updated
// offset estimate. arrivalDeltaMs and sendDeltaTicks come from a GroupDelta;
// currentHypothesis is the detector's hypothesis as of the previous sample,
// used to decide whether to inflate process noise this round.
func (k *KalmanFilter) Update(arrivalDeltaMs int64, sendDeltaTicks uint32, sizeDelta int, currentHypothesis BandwidthUsage, nowMs int64) float64 {
	tsDeltaMs := ticksToMs(int64(sendDeltaTicks))
	minFramePeriod := k.updateMinFramePeriod(float64(tsDeltaMs))

	residualInput := float64(arrivalDeltaMs) - float64(tsDeltaMs)
	fsDelta := float64(sizeDelta)

	k.numOfDeltas++
	if k.numOfDeltas > deltaCounterMax {
		k.numOfDeltas = deltaCounterMax
	}

	k.e[0][0] += k.config.OffsetProcessNoise
	k.e[1][1] += k.config.SlopeProcessNoise

	if (currentHypothesis == BwOverusing && k.offset < k.prevOffset) ||
		(currentHypothesis == BwUnderusing && k.offset > k.prevOffset) {
		k.e[1][1] += 10 * k.config.SlopeProcessNoise
	}

	h0, h1 := fsDelta, 1.0
	eh0 := k.e[0][0]*h0 + k.e[0][1]*h1
	eh1 := k.e[1][0]*h0 + k.e[1][1]*h1

	residual := residualInput - k.slope*h0 - k.offset

	inStableState := currentHypothesis == BwNormal
	maxResidual := 3 * math.Sqrt(k.varNoise)
	switch {
	case math.Abs(residual) < maxResidual:
		k.updateNoiseEstimate(residual, minFramePeriod, inStableState)
	case residual < 0:
		k.updateNoiseEstimate(-maxResidual, minFramePeriod, inStableState)
	default:
		k.updateNoiseEstimate(maxResidual, minFramePeriod, inStableState)
	}

	denom := k.varNoise + h0*eh0 + h1*eh1
	gain0 := eh0 / denom
	gain1 := eh1 / denom

	ikh00 := 1 - gain0*h0
	ikh01 := -gain0 * h1
	ikh10 := -gain1 * h0
	ikh11 := 1 - gain1*h1

	e00, e01 := k.e[0][0], k.e[0][1]
	e10, e11 := k.e[1][0], k.e[1][1]
	k.e[0][0] = e00*ikh00 + e10*ikh01
	k.e[0][1] = e01*ikh00 + e11*ikh01
	k.e[1][0] = e00*ikh10 + e10*ikh11
	k.e[1][1] = e01*ikh10 + e11*ikh11

	positiveSemiDefinite := k.e[0][0]+k.e[1][1] >= 0 &&
		k.e[0][0]*k.e[1][1]-k.e[0][1]*k.e[1][0] >= 0 &&
		k.e[0][0] >= 0
	if !positiveSemiDefinite {
		return k.offset
	}

	k.slope += gain0 * residual
	k.prevOffset = k.offset
	k.offset += gain1 * residual

	return k.offset
}

// Offset returns the current delay offset estimate without updating.
func (k *KalmanFilter) Offset() float64 {
	return k.offset
}

// NumOfDeltas returns the lifetime (capped) count of processed samples.
func (k *KalmanFilter) NumOfDeltas() int {
	return k.numOfDeltas
}

func (k *KalmanFilter) updateMinFramePeriod(tsDeltaMs float64) float64 {
	minFramePeriod := tsDeltaMs
	if len(k.tsDeltaHist) >= minFramePeriodHistoryLength {
		k.tsDeltaHist = k.tsDeltaHist[1:]
	}
	for _, v := range k.tsDeltaHist {
		if v < minFramePeriod {
			minFramePeriod = v
		}
	}
	k.tsDeltaHist = append(k.tsDeltaHist, tsDeltaMs)
	return minFramePeriod
}

func (k *KalmanFilter) updateNoiseEstimate(residual, tsDeltaMs float64, stableState bool) {
	if !stableState {
		return
	}
	alpha := 0.01
	if k.numOfDeltas > 10*30 {
		alpha = 0.002
	}
	beta := math.Pow(1-alpha, tsDeltaMs*30/1000)
	k.avgNoise = beta*k.avgNoise + (1-beta)*residual
	k.varNoise = beta*k.varNoise + (1-beta)*(k.avgNoise-residual)*(k.avgNoise-residual)
	if k.varNoise < 1 {
		k.varNoise = 1
	}
}

// Reset reinitializes the filter state to initial conditions. Call this
// when switching streams or after long gaps.
func (k *KalmanFilter) Reset() {
	k.numOfDeltas = 0
	k.offset = 0
	k.prevOffset = 0
	k.slope = k.config.InitialSlope
	k.e = [2][2]float64{}
	k.e[0][0] = k.config.InitialOffsetVariance
	k.e[1][1] = k.config.InitialSlopeVariance
	k.varNoise = k.config.InitialVarNoise
	k.avgNoise = 0
	k.tsDeltaHist = nil
}
