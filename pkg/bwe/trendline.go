package bwe

// TrendlineConfig contains configuration parameters for the trendline
// estimator, an alternate delay filter to the default Kalman filter.
type TrendlineConfig struct {
	// WindowSize is the number of samples in the regression window.
	WindowSize int

	// SmoothingCoef is the exponential smoothing coefficient for
	// accumulated delay. Higher values (closer to 1.0) give more weight to
	// history.
	SmoothingCoef float64

	// ThresholdGain scales the regression slope into the same rough range
	// the Kalman offset occupies, so it can be fed to OveruseDetector.Detect
	// unmodified.
	ThresholdGain float64
}

// DefaultTrendlineConfig returns the default configuration.
func DefaultTrendlineConfig() TrendlineConfig {
	return TrendlineConfig{
		WindowSize:    20,
		SmoothingCoef: 0.9,
		ThresholdGain: 4.0,
	}
}

// trendSample is a single (time, smoothed-delay) point in the regression
// window.
type trendSample struct {
	arrivalMs     float64
	smoothedDelay float64
}

// TrendlineEstimator estimates delay trends using linear regression over a
// sliding window of samples, as an alternative to Kalman filtering.
//
// Unlike KalmanFilter.Update, which returns a raw offset that
// OveruseDetector.Detect scales by min(numOfDeltas, 60) itself, Update here
// returns the already-gain-scaled slope so the two filters stay
// interchangeable behind the same numOfDeltas-scaling step in Detect: this
// estimator tracks its own numOfDeltas via NumOfDeltas and leaves the
// min(n,60) scaling to the caller, same as Kalman.
type TrendlineEstimator struct {
	config        TrendlineConfig
	history       []trendSample
	smoothedDelay float64
	numDeltas     int
	firstArrival  int64
	haveFirst     bool
}

// NewTrendlineEstimator creates a new trendline estimator. If WindowSize is
// less than 2, it defaults to 20.
func NewTrendlineEstimator(config TrendlineConfig) *TrendlineEstimator {
	if config.WindowSize < 2 {
		config.WindowSize = 20
	}
	return &TrendlineEstimator{
		config:  config,
		history: make([]trendSample, 0, config.WindowSize),
	}
}

// Update processes a new delay sample and returns the gain-scaled
// regression slope: positive when delays are increasing (congestion
// building), negative when decreasing (queue draining). nowMs is the
// packet's arrival time in milliseconds on any monotonic scale; only
// deltas between calls matter.
func (t *TrendlineEstimator) Update(nowMs int64, delayVariationMs float64) float64 {
	if !t.haveFirst {
		t.firstArrival = nowMs
		t.haveFirst = true
	}
	arrivalMs := float64(nowMs - t.firstArrival)

	t.smoothedDelay = t.config.SmoothingCoef*t.smoothedDelay + (1-t.config.SmoothingCoef)*delayVariationMs

	t.history = append(t.history, trendSample{arrivalMs, t.smoothedDelay})
	if len(t.history) > t.config.WindowSize {
		t.history = t.history[1:]
	}

	t.numDeltas++

	return t.linearFitSlope() * t.config.ThresholdGain
}

// NumOfDeltas returns the number of samples processed so far.
func (t *TrendlineEstimator) NumOfDeltas() int {
	return t.numDeltas
}

// linearFitSlope computes the slope of the best-fit line through the
// sample history using ordinary least squares linear regression, in units
// of smoothedDelay per millisecond.
func (t *TrendlineEstimator) linearFitSlope() float64 {
	n := len(t.history)
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXX, sumXY float64
	for _, s := range t.history {
		sumX += s.arrivalMs
		sumY += s.smoothedDelay
		sumXX += s.arrivalMs * s.arrivalMs
		sumXY += s.arrivalMs * s.smoothedDelay
	}

	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (nf*sumXY - sumX*sumY) / denom
}

// Reset clears the estimator state, allowing it to be reused. Call this
// when switching streams or after a long pause.
func (t *TrendlineEstimator) Reset() {
	t.history = t.history[:0]
	t.smoothedDelay = 0
	t.numDeltas = 0
	t.haveFirst = false
	t.firstArrival = 0
}
