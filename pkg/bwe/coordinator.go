package bwe

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/flowmesh/gccbwe/pkg/rtpheader"
)

const ssrcTimeoutMs = 2000

// RemoteBitrateObserver is invoked every time DelayBasedBwe accepts a new
// bitrate estimate. ssrcs is the full active SSRC set at the moment of
// computation; bitrateBps is 0 iff that set was empty at snapshot time.
type RemoteBitrateObserver func(ssrcs []uint32, bitrateBps uint32)

// BandwidthEstimatorConfig configures the complete bandwidth estimator.
type BandwidthEstimatorConfig struct {
	// DelayConfig configures the delay-based detector (InterArrival, the
	// Kalman/Trendline filter, and OveruseDetector).
	DelayConfig DelayEstimatorConfig

	// RateStatsConfig configures incoming rate measurement.
	RateStatsConfig RateStatsConfig

	// AimdConfig configures the AIMD rate controller.
	AimdConfig AimdRateControllerConfig
}

// DefaultBandwidthEstimatorConfig returns default configuration.
func DefaultBandwidthEstimatorConfig() BandwidthEstimatorConfig {
	return BandwidthEstimatorConfig{
		DelayConfig:     DefaultDelayEstimatorConfig(),
		RateStatsConfig: DefaultRateStatsConfig(),
		AimdConfig:      DefaultAimdRateControllerConfig(),
	}
}

// BandwidthEstimatorOption configures a DelayBasedBwe at construction time.
type BandwidthEstimatorOption func(*DelayBasedBwe)

// WithLoggerFactory derives the coordinator's scoped logger from f instead
// of the default logger factory.
func WithLoggerFactory(f logging.LoggerFactory) BandwidthEstimatorOption {
	return func(e *DelayBasedBwe) {
		e.log = f.NewLogger("bwe")
	}
}

// WithObserver registers the callback invoked on every accepted bitrate
// update. Equivalent to calling SetObserver after construction.
func WithObserver(observer RemoteBitrateObserver) BandwidthEstimatorOption {
	return func(e *DelayBasedBwe) {
		e.observer = observer
	}
}

// DelayBasedBwe is the coordinator: it owns the InterArrival/filter/
// OveruseDetector pipeline, incoming-rate measurement, probe analysis, and
// the AIMD rate controller, and drives them from the per-packet ingress
// path under a single exclusive section. It implements
// RemoteBitrateEstimatorAbsSendTime from the original module.
type DelayBasedBwe struct {
	mu sync.Mutex

	config BandwidthEstimatorConfig
	log    logging.LeveledLogger

	delay     *DelayEstimator
	rateStats *RateStats
	aimd      *AimdRateController
	probes    *ProbeAnalyzer

	ssrcLastSeenMs map[uint32]int64

	firstPacketTimeMs int64 // -1 until the first packet is ingested
	lastUpdateMs      int64 // -1 until the first accepted estimate

	observer RemoteBitrateObserver
}

// NewDelayBasedBwe creates a new coordinator. By default it logs through
// pion/logging's default logger factory, scoped to "bwe"; pass
// WithLoggerFactory to override.
func NewDelayBasedBwe(config BandwidthEstimatorConfig, opts ...BandwidthEstimatorOption) *DelayBasedBwe {
	e := &DelayBasedBwe{
		config:            config,
		log:               logging.NewDefaultLoggerFactory().NewLogger("bwe"),
		delay:             NewDelayEstimator(config.DelayConfig),
		rateStats:         NewRateStats(config.RateStatsConfig),
		aimd:              NewAimdRateController(config.AimdConfig),
		probes:            NewProbeAnalyzer(),
		ssrcLastSeenMs:    make(map[uint32]int64),
		firstPacketTimeMs: -1,
		lastUpdateMs:      -1,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.log.Infof("RemoteBitrateEstimatorAbsSendTime: Instantiating.")
	return e
}

// SetObserver registers (or replaces) the callback invoked on every
// accepted bitrate update. Pass nil to disable callbacks.
func (e *DelayBasedBwe) SetObserver(observer RemoteBitrateObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = observer
}

// OnPacketFeedback ingests one packet's feedback and updates the estimate
// in place. This is the primary entry point; OnPacket and
// OnPacketFeedbackVector both funnel into it.
func (e *DelayBasedBwe) OnPacketFeedback(feedback PacketFeedback) {
	nowMs := feedback.ArrivalTime.UnixMilli()

	e.mu.Lock()

	if e.firstPacketTimeMs == -1 {
		e.firstPacketTimeMs = nowMs
	}

	e.timeoutInactiveSSRCs(nowMs)
	e.ssrcLastSeenMs[feedback.SSRC] = nowMs

	e.rateStats.Update(int64(feedback.Size), feedback.ArrivalTime)

	mustUpdateEstimate := false
	if feedback.ProbeClusterID != NotAProbe && feedback.Size > minProbePacketSize {
		msSinceFirst := nowMs - e.firstPacketTimeMs
		if e.probes.ShouldTrack(feedback.ProbeClusterID, feedback.Size, e.aimd.ValidEstimate(), msSinceFirst) {
			e.probes.AddProbe(int64(ticksToMs(int64(AbsSendTimeToInternalTicks(feedback.SendTime)))), nowMs, feedback.Size, feedback.ProbeClusterID)
			bps, result := e.probes.ProcessClusters(e.aimd.ValidEstimate(), e.aimd.LatestEstimate())
			if result == ProbeBitrateUpdated {
				e.aimd.SetEstimate(bps, nowMs)
				mustUpdateEstimate = true
				e.log.Tracef("bwe: probe cluster %d produced bitrate %d bps", feedback.ProbeClusterID, bps)
			}
		}
	}

	state := e.delay.OnPacket(AbsSendTimeToInternalTicks(feedback.SendTime), nowMs, nowMs, feedback.Size)

	shouldUpdate := mustUpdateEstimate
	if !shouldUpdate {
		if e.lastUpdateMs == -1 || nowMs-e.lastUpdateMs > e.aimd.FeedbackInterval().Milliseconds() {
			shouldUpdate = true
		} else if state == BwOverusing {
			if rate, ok := e.rateStats.Rate(feedback.ArrivalTime); ok && e.aimd.TimeToReduceFurther(nowMs, rate) {
				shouldUpdate = true
			}
		}
	}

	var (
		snapshotSSRCs []uint32
		target        int64
		fire          bool
	)
	if shouldUpdate {
		incomingRate, _ := e.rateStats.Rate(feedback.ArrivalTime)
		target = e.aimd.Update(state, incomingRate, nowMs)
		if e.aimd.ValidEstimate() {
			e.lastUpdateMs = nowMs
			snapshotSSRCs = e.activeSSRCsLocked()
			fire = true
		}
	}

	observer := e.observer
	e.mu.Unlock()

	if fire && observer != nil {
		observer(snapshotSSRCs, uint32(target))
	}
}

// OnPacketFeedbackVector ingests a batch of packet feedback in order.
func (e *DelayBasedBwe) OnPacketFeedbackVector(feedbacks []PacketFeedback) {
	for _, f := range feedbacks {
		e.OnPacketFeedback(f)
	}
}

// OnPacket is the single-packet ingress variant that accepts a parsed RTP
// header instead of a pre-extracted PacketFeedback. If the header lacks the
// absolute-send-time extension, the packet is dropped and a warning is
// logged with the exact text downstream tooling depends on.
func (e *DelayBasedBwe) OnPacket(arrivalMs int64, payloadSize int, header *rtpheader.Header, probeClusterID ProbeClusterID) {
	if header == nil || !header.Extension.HasAbsoluteSendTime {
		e.log.Warnf("RemoteBitrateEstimatorAbsSendTime: Incoming packet is missing absolute send time extension!")
		return
	}

	e.OnPacketFeedback(PacketFeedback{
		ArrivalTime:    time.UnixMilli(arrivalMs),
		SendTime:       header.Extension.AbsoluteSendTime,
		Size:           payloadSize,
		SSRC:           header.SSRC,
		ProbeClusterID: probeClusterID,
	})
}

// OnRTTUpdate updates the RTT estimate used by the near-max additive
// increase calculation. maxRtt is accepted for interface parity with the
// original module but isn't currently consumed separately from avgRtt.
func (e *DelayBasedBwe) OnRTTUpdate(avgRTT, maxRTT time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aimd.SetRTT(avgRTT)
}

// RemoveStream drops ssrc from the liveness map immediately, without
// waiting for it to time out.
func (e *DelayBasedBwe) RemoveStream(ssrc uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.ssrcLastSeenMs, ssrc)
}

// LatestEstimate returns the most recent accepted (ssrcs, bitrateBps) pair.
// ok is false until the AIMD controller has produced at least one valid
// estimate; once valid, bitrateBps is 0 iff the active SSRC set is empty.
func (e *DelayBasedBwe) LatestEstimate() (ssrcs []uint32, bitrateBps int64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.aimd.ValidEstimate() {
		return nil, 0, false
	}
	active := e.activeSSRCsLocked()
	if len(active) == 0 {
		return active, 0, true
	}
	return active, e.aimd.LatestEstimate(), true
}

// ActiveSSRCs returns a snapshot of the currently-live SSRC set, regardless
// of whether the AIMD controller has produced a valid estimate yet. Useful
// for diagnostics and tests; LatestEstimate is the primary API for callers
// that want the set paired with a bitrate.
func (e *DelayBasedBwe) ActiveSSRCs() []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeSSRCsLocked()
}

// CurrentEstimate returns the AIMD controller's bitrate unconditionally,
// including the unvalidated initial value before any overuse/probe event
// has occurred. LatestEstimate is the primary API; this exists for callers
// that want a number even before D.valid() would be true.
func (e *DelayBasedBwe) CurrentEstimate() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aimd.LatestEstimate()
}

// SetMinBitrate sets the floor the AIMD controller will never estimate
// below.
func (e *DelayBasedBwe) SetMinBitrate(bitrateBps int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aimd.SetMinBitrate(bitrateBps)
}

// FeedbackInterval returns the AIMD controller's current minimum spacing
// between updates (§4.D). Collaborators that schedule their own periodic
// traffic off the estimate, such as a REMB sender, should use this instead
// of an interval of their own choosing so their cadence tracks the
// estimator's.
func (e *DelayBasedBwe) FeedbackInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aimd.FeedbackInterval()
}

// Process and TimeUntilNextProcess exist for interface parity with the
// original module's periodic-tick entry points. This implementation is
// purely event-driven: every state change happens inside OnPacketFeedback,
// so these are documented no-ops.
func (e *DelayBasedBwe) Process() {}

// TimeUntilNextProcess always reports the core as not needing a periodic
// tick.
func (e *DelayBasedBwe) TimeUntilNextProcess() time.Duration {
	return time.Second
}

// timeoutInactiveSSRCs drops any SSRC silent for more than ssrcTimeoutMs.
// If doing so empties the set, InterArrival and the overuse filter are
// reset in place via ResetFilters, since the original module treats this
// as equivalent to a brand-new stream; first_packet_time_ms is left alone
// so probing timing is unaffected.
func (e *DelayBasedBwe) timeoutInactiveSSRCs(nowMs int64) {
	for ssrc, lastSeen := range e.ssrcLastSeenMs {
		if nowMs-lastSeen > ssrcTimeoutMs {
			delete(e.ssrcLastSeenMs, ssrc)
		}
	}
	if len(e.ssrcLastSeenMs) == 0 {
		e.delay.ResetFilters()
	}
}

// activeSSRCsLocked returns a snapshot slice of the currently-live SSRC
// set. Callers must hold e.mu.
func (e *DelayBasedBwe) activeSSRCsLocked() []uint32 {
	out := make([]uint32, 0, len(e.ssrcLastSeenMs))
	for ssrc := range e.ssrcLastSeenMs {
		out = append(out, ssrc)
	}
	return out
}
