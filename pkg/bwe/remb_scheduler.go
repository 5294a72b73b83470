package bwe

import (
	"time"
)

// REMBSchedulerConfig configures REMB packet scheduling.
type REMBSchedulerConfig struct {
	// DecreaseThreshold is the minimum relative decrease to trigger an
	// immediate REMB outside the regular cadence. Default: 0.03 (a 3%
	// decrease triggers an immediate send).
	DecreaseThreshold float64

	// SenderSSRC is the SSRC to use in REMB packets (the receiver's SSRC).
	SenderSSRC uint32
}

// DefaultREMBSchedulerConfig returns default scheduler configuration.
func DefaultREMBSchedulerConfig() REMBSchedulerConfig {
	return REMBSchedulerConfig{
		DecreaseThreshold: 0.03, // 3%
		SenderSSRC:        0,    // will be set by the transport
	}
}

// REMBScheduler manages REMB packet timing. Unlike a fixed-rate ticker, its
// regular cadence is driven by the interval the caller passes at each
// call — in practice DelayBasedBwe.FeedbackInterval(), so REMB traffic
// tracks the same logarithmic-in-bitrate spacing (spec §4.D) the AIMD loop
// itself uses, rather than an interval chosen independently of the
// estimator. It also sends immediately on a significant decrease.
type REMBScheduler struct {
	config    REMBSchedulerConfig
	lastSent  time.Time
	lastValue int64
}

// NewREMBScheduler creates a new REMB scheduler.
func NewREMBScheduler(config REMBSchedulerConfig) *REMBScheduler {
	return &REMBScheduler{
		config: config,
	}
}

// ShouldSendREMB determines if a REMB packet should be sent now. Returns
// true if either:
//   - the estimate decreased by >= DecreaseThreshold (e.g. 3%) since the
//     last send, or
//   - at least interval has elapsed since the last send.
//
// interval is expected to come from the estimator's own FeedbackInterval,
// not a value the scheduler picks on its own.
func (s *REMBScheduler) ShouldSendREMB(estimate int64, interval time.Duration, now time.Time) bool {
	if s.lastValue > 0 {
		decrease := float64(s.lastValue-estimate) / float64(s.lastValue)
		if decrease >= s.config.DecreaseThreshold {
			return true
		}
	}

	return s.lastSent.IsZero() || now.Sub(s.lastSent) >= interval
}

// BuildAndRecordREMB creates a REMB packet and records the send. Call this
// after ShouldSendREMB returns true.
func (s *REMBScheduler) BuildAndRecordREMB(estimate int64, ssrcs []uint32, now time.Time) ([]byte, error) {
	data, err := BuildREMB(s.config.SenderSSRC, estimate, ssrcs)
	if err != nil {
		return nil, err
	}

	s.lastSent = now
	s.lastValue = estimate
	return data, nil
}

// MaybeSendREMB combines ShouldSendREMB and BuildAndRecordREMB. Returns
// (packet, true) if a REMB should be sent, (nil, false) otherwise. This is
// the primary API for the scheduler.
func (s *REMBScheduler) MaybeSendREMB(estimate int64, ssrcs []uint32, interval time.Duration, now time.Time) ([]byte, bool, error) {
	if !s.ShouldSendREMB(estimate, interval, now) {
		return nil, false, nil
	}

	data, err := s.BuildAndRecordREMB(estimate, ssrcs, now)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// LastSentValue returns the last estimate value that was sent in a REMB.
// Returns 0 if no REMB has been sent yet.
func (s *REMBScheduler) LastSentValue() int64 {
	return s.lastValue
}

// LastSentTime returns when the last REMB was sent. Returns the zero time
// if no REMB has been sent yet.
func (s *REMBScheduler) LastSentTime() time.Time {
	return s.lastSent
}

// Reset clears scheduler state (last sent time and value).
func (s *REMBScheduler) Reset() {
	s.lastSent = time.Time{}
	s.lastValue = 0
}
