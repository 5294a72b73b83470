package bwe

// FilterType specifies which delay filter DelayEstimator uses.
type FilterType int

const (
	// FilterKalman uses the 2x2-matrix Kalman filter. This is the default.
	FilterKalman FilterType = iota

	// FilterTrendline uses linear-regression trendline estimation instead.
	FilterTrendline
)

// DelayEstimatorConfig holds configuration for the delay-based estimation
// pipeline (InterArrival + filter + OveruseDetector).
type DelayEstimatorConfig struct {
	// FilterType selects which delay filter to use.
	FilterType FilterType

	// BurstGrouping enables InterArrivalCalculator's frame-burst heuristic;
	// true is appropriate for multi-packet video frames.
	BurstGrouping bool

	// KalmanConfig is used if FilterType == FilterKalman.
	KalmanConfig KalmanConfig

	// TrendlineConfig is used if FilterType == FilterTrendline.
	TrendlineConfig TrendlineConfig

	// OveruseConfig configures the overuse detector behavior.
	OveruseConfig OveruseConfig
}

// DefaultDelayEstimatorConfig returns the default configuration: Kalman
// filter with burst grouping enabled.
func DefaultDelayEstimatorConfig() DelayEstimatorConfig {
	return DelayEstimatorConfig{
		FilterType:      FilterKalman,
		BurstGrouping:   true,
		KalmanConfig:    DefaultKalmanConfig(),
		TrendlineConfig: DefaultTrendlineConfig(),
		OveruseConfig:   DefaultOveruseConfig(),
	}
}

// delayFilter abstracts Kalman and Trendline filters behind a common
// signature: both take an inter-group delay sample and the detector's
// current hypothesis, and return a raw offset plus the filter's own
// lifetime sample count, leaving the min(numOfDeltas,60) scaling to
// OveruseDetector.Detect.
type delayFilter interface {
	Update(delta GroupDelta, hypothesis BandwidthUsage, nowMs int64) (offset float64, numOfDeltas int)
	Reset()
}

type kalmanAdapter struct {
	filter *KalmanFilter
}

func (k *kalmanAdapter) Update(delta GroupDelta, hypothesis BandwidthUsage, nowMs int64) (float64, int) {
	offset := k.filter.Update(delta.ArrivalDeltaMs, delta.SendDeltaTicks, delta.SizeDelta, hypothesis, nowMs)
	return offset, k.filter.NumOfDeltas()
}

func (k *kalmanAdapter) Reset() { k.filter.Reset() }

type trendlineAdapter struct {
	estimator *TrendlineEstimator
}

func (t *trendlineAdapter) Update(delta GroupDelta, _ BandwidthUsage, nowMs int64) (float64, int) {
	delayMs := float64(delta.ArrivalDeltaMs) - float64(ticksToMs(int64(delta.SendDeltaTicks)))
	offset := t.estimator.Update(nowMs, delayMs)
	return offset, t.estimator.NumOfDeltas()
}

func (t *trendlineAdapter) Reset() { t.estimator.Reset() }

// DelayEstimator orchestrates the delay-based estimation pipeline:
// InterArrivalCalculator for burst grouping and inter-group delta
// computation, a delayFilter (Kalman by default) for noise reduction, and
// OveruseDetector for congestion state detection.
type DelayEstimator struct {
	config       DelayEstimatorConfig
	interarrival *InterArrivalCalculator
	filter       delayFilter
	detector     *OveruseDetector
}

// NewDelayEstimator creates a new DelayEstimator with the given
// configuration.
func NewDelayEstimator(config DelayEstimatorConfig) *DelayEstimator {
	interarrival := NewInterArrivalCalculator(config.BurstGrouping)

	var filter delayFilter
	switch config.FilterType {
	case FilterTrendline:
		filter = &trendlineAdapter{estimator: NewTrendlineEstimator(config.TrendlineConfig)}
	default:
		filter = &kalmanAdapter{filter: NewKalmanFilter(config.KalmanConfig)}
	}

	return &DelayEstimator{
		config:       config,
		interarrival: interarrival,
		filter:       filter,
		detector:     NewOveruseDetector(config.OveruseConfig),
	}
}

// OnPacket processes one packet's send timestamp (raw internal ticks),
// arrival time, and size, and returns the current bandwidth usage state.
// arrivalMs and nowMs are both in milliseconds on the caller's clock; they
// are usually equal, but nowMs exists separately to match the original
// module's arrival-vs-system-time drift check in InterArrival.
func (e *DelayEstimator) OnPacket(sendTicks uint32, arrivalMs, nowMs int64, size int) BandwidthUsage {
	delta, ok := e.interarrival.ComputeDeltas(sendTicks, arrivalMs, nowMs, size)
	if !ok {
		return e.detector.State()
	}

	offset, numOfDeltas := e.filter.Update(delta, e.detector.State(), nowMs)
	return e.detector.Detect(offset, float64(ticksToMs(int64(delta.SendDeltaTicks))), numOfDeltas, nowMs)
}

// State returns the current bandwidth usage state without processing a
// packet.
func (e *DelayEstimator) State() BandwidthUsage {
	return e.detector.State()
}

// SetCallback registers a callback invoked when bandwidth usage state
// changes. Pass nil to disable callbacks.
func (e *DelayEstimator) SetCallback(cb StateChangeCallback) {
	e.detector.SetCallback(cb)
}

// Reset resets all components, including the overuse detector's threshold
// and hysteresis state, to their initial state. Call this when switching
// streams or after extended silence.
func (e *DelayEstimator) Reset() {
	e.interarrival.Reset()
	e.filter.Reset()
	e.detector.Reset()
}

// ResetFilters resets InterArrival and the delay filter (Kalman or
// Trendline) but leaves the overuse detector's adaptive threshold and
// hysteresis state untouched. This matches the coordinator's SSRC-timeout
// behavior: the detector's congestion memory outlives any single stream
// going silent, only the per-stream delay-tracking state is discarded.
func (e *DelayEstimator) ResetFilters() {
	e.interarrival.Reset()
	e.filter.Reset()
}
