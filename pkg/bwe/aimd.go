package bwe

import (
	"math"
	"time"
)

// RateControlState represents the AIMD state machine state. The state
// machine transitions based on congestion signals (BandwidthUsage) from
// the delay detector.
type RateControlState int

const (
	// RateHold indicates the rate should be maintained (no change). This is
	// the initial state and serves as a transition buffer between Decrease
	// and Increase states.
	RateHold RateControlState = iota
	// RateIncrease indicates the rate can grow (additively or
	// multiplicatively, depending on whether a link-capacity estimate
	// exists).
	RateIncrease
	// RateDecrease indicates congestion detected - apply multiplicative
	// decrease.
	RateDecrease
)

// String returns a string representation of the RateControlState.
func (s RateControlState) String() string {
	switch s {
	case RateHold:
		return "Hold"
	case RateIncrease:
		return "Increase"
	case RateDecrease:
		return "Decrease"
	default:
		return "Unknown"
	}
}

// AimdRateControllerConfig configures the AIMD rate controller.
type AimdRateControllerConfig struct {
	// MinBitrate and MaxBitrate bound every estimate the controller emits.
	MinBitrate int64
	MaxBitrate int64

	// InitialBitrate is the starting bitrate estimate in bits per second.
	InitialBitrate int64

	// Beta is the multiplicative decrease factor applied during congestion:
	// new_rate = beta * incoming_rate.
	Beta float64

	// RTT is used by the near-max additive-increase rate calculation; it
	// stands in for a measured round-trip time when no RTT feedback path is
	// wired up.
	RTT time.Duration
}

// DefaultAimdRateControllerConfig returns the default configuration.
func DefaultAimdRateControllerConfig() AimdRateControllerConfig {
	return AimdRateControllerConfig{
		MinBitrate:     10_000,
		MaxBitrate:     30_000_000,
		InitialBitrate: 300_000,
		Beta:           0.85,
		RTT:            200 * time.Millisecond,
	}
}

// AimdRateController implements AIMD (Additive Increase Multiplicative
// Decrease) rate control.
//
// The controller maintains three states:
//   - Hold: maintain current rate (transition buffer)
//   - Increase: additive increase once a link-capacity estimate exists
//     (near-max region), otherwise multiplicative increase (max-unknown
//     region, 1.08^elapsed)
//   - Decrease: multiplicative decrease off the measured incoming rate,
//     beta*incoming_rate, falling back to beta*link-capacity-estimate when
//     the incoming-rate sample would otherwise increase the bitrate
//
// State transitions:
//
//	Signal     | Hold     | Increase | Decrease
//	-----------+----------+----------+----------
//	Overusing  | Decrease | Decrease | (stay)
//	Normal     | Increase | (stay)   | Hold
//	Underusing | (stay)   | Hold     | Hold
type AimdRateController struct {
	config AimdRateControllerConfig

	state                RateControlState
	bitrateIsInitialized bool
	currentBitrate       int64
	latestThroughput     int64
	lastDecrease         int64

	timeLastBitrateChangeMs   int64
	timeLastBitrateDecreaseMs int64

	linkCapacity *LinkCapacityEstimator
}

// NewAimdRateController creates a new rate controller with the given
// configuration.
func NewAimdRateController(config AimdRateControllerConfig) *AimdRateController {
	if config.MinBitrate <= 0 {
		config.MinBitrate = 10_000
	}
	if config.MaxBitrate <= 0 {
		config.MaxBitrate = 30_000_000
	}
	if config.InitialBitrate <= 0 {
		config.InitialBitrate = 300_000
	}
	if config.Beta <= 0 || config.Beta >= 1.0 {
		config.Beta = 0.85
	}
	if config.RTT <= 0 {
		config.RTT = 200 * time.Millisecond
	}

	return &AimdRateController{
		config:         config,
		state:          RateHold,
		currentBitrate: config.InitialBitrate,
		linkCapacity:   NewLinkCapacityEstimator(),
	}
}

// Update processes a congestion signal and incoming rate measurement (the
// measured throughput from RateCounter, in bits per second), returning the
// new bandwidth estimate in bits per second.
func (c *AimdRateController) Update(signal BandwidthUsage, incomingRateBps int64, nowMs int64) int64 {
	c.latestThroughput = incomingRateBps

	if !c.bitrateIsInitialized && signal != BwOverusing {
		return c.currentBitrate
	}

	c.transitionState(signal)

	var newBitrate int64
	switch c.state {
	case RateIncrease:
		newBitrate = c.increase(incomingRateBps, nowMs)
	case RateDecrease:
		newBitrate = c.decrease(incomingRateBps, nowMs)
	case RateHold:
		newBitrate = 0
	}

	if newBitrate != 0 {
		c.currentBitrate = c.clamp(newBitrate)
	}

	return c.currentBitrate
}

// transitionState applies the state transition table above.
func (c *AimdRateController) transitionState(signal BandwidthUsage) {
	switch c.state {
	case RateHold:
		switch signal {
		case BwOverusing:
			c.state = RateDecrease
		case BwNormal:
			c.state = RateIncrease
		case BwUnderusing:
		}
	case RateIncrease:
		switch signal {
		case BwOverusing:
			c.state = RateDecrease
		case BwNormal:
		case BwUnderusing:
			c.state = RateHold
		}
	case RateDecrease:
		switch signal {
		case BwOverusing:
		case BwNormal, BwUnderusing:
			c.state = RateHold
		}
	}
}

// increase applies additive increase when a link-capacity estimate exists
// (the near-max region) or multiplicative increase otherwise (max-unknown),
// capped at 1.5x the measured incoming throughput plus a 10kbps margin.
func (c *AimdRateController) increase(incomingRateBps, nowMs int64) int64 {
	throughputLimit := int64(1.5*float64(incomingRateBps) + 0.5 + 10_000)

	if incomingRateBps > c.linkCapacity.UpperBound() {
		c.linkCapacity.Reset()
	}

	if c.currentBitrate >= throughputLimit {
		c.timeLastBitrateChangeMs = nowMs
		if incomingRateBps > 0 {
			return throughputLimit
		}
		return 0
	}

	var increased int64
	if c.linkCapacity.HasEstimate() {
		increased = c.currentBitrate + c.additiveRateIncrease(nowMs)
	} else {
		increased = c.currentBitrate + c.multiplicativeRateIncrease(nowMs)
	}

	newBitrate := throughputLimit
	if increased < throughputLimit {
		newBitrate = increased
	}

	c.timeLastBitrateChangeMs = nowMs
	return newBitrate
}

// decrease applies multiplicative decrease off the measured incoming rate,
// falling back to the link-capacity estimate if the incoming-rate sample
// would otherwise raise the bitrate, per the exact rule spelled out in the
// original module: the controller must never decrease toward a rate higher
// than what it already holds.
func (c *AimdRateController) decrease(incomingRateBps, nowMs int64) int64 {
	decreased := int64(float64(incomingRateBps) * c.config.Beta)
	if decreased > c.currentBitrate && c.linkCapacity.HasEstimate() {
		decreased = int64(c.config.Beta * float64(c.linkCapacity.Estimate()))
	}

	var newBitrate int64
	if decreased < c.currentBitrate {
		newBitrate = decreased
	}

	if c.bitrateIsInitialized && incomingRateBps < c.currentBitrate {
		if newBitrate == 0 {
			c.lastDecrease = 0
		} else {
			c.lastDecrease = c.currentBitrate - newBitrate
		}
	}

	if incomingRateBps < c.linkCapacity.LowerBound() {
		c.linkCapacity.Reset()
	}

	c.bitrateIsInitialized = true
	c.linkCapacity.OnOveruseDetected(incomingRateBps)
	c.state = RateHold
	c.timeLastBitrateChangeMs = nowMs
	c.timeLastBitrateDecreaseMs = nowMs

	return newBitrate
}

func (c *AimdRateController) additiveRateIncrease(nowMs int64) int64 {
	periodSec := float64(nowMs-c.timeLastBitrateChangeMs) / 1000
	return int64(float64(c.nearMaxIncreaseRateBpsPerSecond()) * periodSec)
}

func (c *AimdRateController) multiplicativeRateIncrease(nowMs int64) int64 {
	alpha := 1.08
	if c.timeLastBitrateChangeMs > 0 {
		elapsedSec := math.Min(float64(nowMs-c.timeLastBitrateChangeMs)/1000, 1.0)
		alpha = math.Pow(alpha, elapsedSec)
	}
	const minIncrease = 1000
	inc := int64(float64(c.currentBitrate) * (alpha - 1))
	if inc < minIncrease {
		return minIncrease
	}
	return inc
}

// nearMaxIncreaseRateBpsPerSecond estimates how fast the bitrate can grow,
// per second, near the link capacity: one average-sized packet (a 30fps
// frame at the current bitrate split into packets of at most 1200 bytes)
// per response time (RTT + 100ms), with a floor of 4000 bps.
func (c *AimdRateController) nearMaxIncreaseRateBpsPerSecond() int64 {
	if c.currentBitrate == 0 {
		return 0
	}
	const (
		packetSize = 1200
		minRate    = 4000
	)
	frameIntervalSec := 1.0 / 30.0
	frameSizeBytes := float64(c.currentBitrate) * frameIntervalSec / 8
	packetsPerFrame := math.Ceil(frameSizeBytes / packetSize)
	avgPacketSize := frameSizeBytes / packetsPerFrame

	responseTime := c.config.RTT + 100*time.Millisecond
	rate := int64(avgPacketSize * 8 / responseTime.Seconds())
	if rate > minRate {
		return rate
	}
	return minRate
}

// TimeToReduceFurther reports whether enough time has passed since the last
// decrease that a further decrease in response to continued overuse is
// allowed, rather than waiting for the previous decrease to take effect.
func (c *AimdRateController) TimeToReduceFurther(nowMs int64, incomingRateBps int64) bool {
	halfFeedbackIntervalMs := c.FeedbackInterval().Milliseconds() / 2
	if nowMs-c.timeLastBitrateDecreaseMs < halfFeedbackIntervalMs {
		return false
	}
	const additionalHeadroomBps = 10_000
	return float64(c.currentBitrate) > 1.5*float64(incomingRateBps)+additionalHeadroomBps
}

// ExpectedBandwidthPeriod estimates how long it will take to recover the
// last decrease at the current near-max increase rate, clamped to [2s,
// 50s]. Not load-bearing for any estimator invariant; exposed for callers
// that want to pace probing or REMB scheduling around recovery time.
func (c *AimdRateController) ExpectedBandwidthPeriod() time.Duration {
	const (
		minPeriod     = 2 * time.Second
		defaultPeriod = 3 * time.Second
		maxPeriod     = 50 * time.Second
	)
	bps := c.nearMaxIncreaseRateBpsPerSecond()
	if c.lastDecrease == 0 || bps == 0 {
		return defaultPeriod
	}
	recoverSeconds := float64(c.lastDecrease) / float64(bps)
	period := time.Duration(recoverSeconds * float64(time.Second))
	if period < minPeriod {
		return minPeriod
	}
	if period > maxPeriod {
		return maxPeriod
	}
	return period
}

// FeedbackInterval returns how often REMB feedback should be sent for the
// current estimate: 500*ln(400kbps/current)+500 milliseconds, so the
// interval shrinks logarithmically as the bitrate grows, clamped to
// [200ms, 1s].
func (c *AimdRateController) FeedbackInterval() time.Duration {
	if c.currentBitrate <= 0 {
		return time.Second
	}
	ms := 500*math.Log(400_000/float64(c.currentBitrate)) + 500
	interval := time.Duration(ms * float64(time.Millisecond))
	if interval < 200*time.Millisecond {
		return 200 * time.Millisecond
	}
	if interval > time.Second {
		return time.Second
	}
	return interval
}

// SetEstimate forcibly sets the current bitrate (used when seeding from a
// probe result), clamped to configured bounds.
func (c *AimdRateController) SetEstimate(bitrateBps int64, nowMs int64) {
	c.bitrateIsInitialized = true
	prev := c.currentBitrate
	c.currentBitrate = c.clamp(bitrateBps)
	c.timeLastBitrateChangeMs = nowMs
	if c.currentBitrate < prev {
		c.timeLastBitrateDecreaseMs = nowMs
	}
}

// SetRTT updates the round-trip time used by the near-max additive-increase
// calculation. Call this from OnRTTUpdate when real RTT feedback becomes
// available.
func (c *AimdRateController) SetRTT(rtt time.Duration) {
	if rtt > 0 {
		c.config.RTT = rtt
	}
}

// SetStartBitrate seeds the controller's starting bitrate and marks the
// estimate as valid, without touching the bitrate-change timestamps.
func (c *AimdRateController) SetStartBitrate(bitrateBps int64) {
	c.currentBitrate = c.clamp(bitrateBps)
	c.latestThroughput = c.currentBitrate
	c.bitrateIsInitialized = true
}

// SetMinBitrate raises or lowers the controller's minimum bitrate bound and
// re-clamps the current estimate to it.
func (c *AimdRateController) SetMinBitrate(minBitrateBps int64) {
	if minBitrateBps <= 0 {
		return
	}
	c.config.MinBitrate = minBitrateBps
	c.currentBitrate = c.clamp(c.currentBitrate)
}

// ValidEstimate reports whether the controller has produced at least one
// validated bitrate (via overuse detection or SetEstimate/SetStartBitrate).
func (c *AimdRateController) ValidEstimate() bool {
	return c.bitrateIsInitialized
}

// State returns the current rate control state.
func (c *AimdRateController) State() RateControlState {
	return c.state
}

// LatestEstimate returns the current bandwidth estimate without updating.
func (c *AimdRateController) LatestEstimate() int64 {
	return c.currentBitrate
}

func (c *AimdRateController) clamp(bitrateBps int64) int64 {
	if bitrateBps < c.config.MinBitrate {
		return c.config.MinBitrate
	}
	if bitrateBps > c.config.MaxBitrate {
		return c.config.MaxBitrate
	}
	return bitrateBps
}

// Reset resets the controller to its initial state. Call this when
// switching streams or after extended silence.
func (c *AimdRateController) Reset() {
	c.state = RateHold
	c.bitrateIsInitialized = false
	c.currentBitrate = c.config.InitialBitrate
	c.latestThroughput = 0
	c.lastDecrease = 0
	c.timeLastBitrateChangeMs = 0
	c.timeLastBitrateDecreaseMs = 0
	c.linkCapacity.Reset()
}
