package bwe

// This file converts the wire 24-bit abs-send-time value into the internal
// 32-bit tick space InterArrival and the Kalman filter operate in, and
// performs wrap-aware arithmetic on both representations. Ticks are used
// instead of time.Duration so that the 32-bit wraparound behaves exactly as
// it does in the wire format: shifting the 24-bit value left by
// interArrivalUpshift bits turns the 64-second wraparound period into a
// roughly 171-minute one.

// toInternalTicks upshifts a raw 24-bit abs-send-time value into the 32-bit
// tick space used throughout InterArrival and the Kalman filter.
func toInternalTicks(sendTime24 uint32) uint32 {
	return (sendTime24 & (AbsSendTimeMax - 1)) << interArrivalUpshift
}

// ticksToMs converts a signed delta expressed in internal 32-bit ticks to
// milliseconds, rounded to the nearest millisecond (halves away from zero).
func ticksToMs(ticks int64) int64 {
	if ticks < 0 {
		return -ticksToMs(-ticks)
	}
	return (ticks*1000 + ticksPerSecond/2) / ticksPerSecond
}

// msToTicks converts a millisecond duration to internal 32-bit ticks.
func msToTicks(ms int64) int64 {
	return (ms * ticksPerSecond) / 1000
}

// unwrapTicks computes the signed delta between two internal 32-bit tick
// values, treating the 32-bit space as wrapping. It uses half-range
// comparison: a raw difference of more than half the 32-bit range is
// reinterpreted as having wrapped the other way.
func unwrapTicks(prev, curr uint32) int64 {
	diff := int64(int32(curr - prev))
	return diff
}

// AbsSendTimeToInternalTicks is the exported conversion used by collaborators
// (the RTP header parser, interceptor adapter) that only see the raw 24-bit
// wire value and need to hand InterArrival a value in its tick space.
func AbsSendTimeToInternalTicks(sendTime24 uint32) uint32 {
	return toInternalTicks(sendTime24)
}

// =============================================================================
// Abs-Capture-Time (64-bit UQ32.32 format)
// =============================================================================

// AbsCaptureTimeResolution is the time resolution of one abs-capture-time unit.
// The UQ32.32 format has 32 bits for the fractional part: 1/2^32 seconds (~233 picoseconds).
const AbsCaptureTimeResolution = 1.0 / (1 << 32)

// AbsCaptureTimeToAbsSendTime downconverts a 64-bit UQ32.32 abs-capture-time
// value to the 24-bit 6.18 abs-send-time representation, used when a stream
// signals abs-capture-time but not abs-send-time.
func AbsCaptureTimeToAbsSendTime(value uint64) uint32 {
	seconds := value >> 32
	fraction := value & 0xFFFFFFFF
	// 6.18 fixed point: integer seconds modulo 64 in the top 6 bits, the
	// fraction rescaled from 32 bits down to 18.
	sec6 := uint32(seconds) & 0x3F
	frac18 := uint32(fraction >> (32 - 18))
	return (sec6 << 18) | frac18
}

// unwrapAbsCaptureTime computes the signed delta between two 64-bit
// abs-capture-time values. The range (~136 years) makes wraparound within
// any practical session a non-issue, so plain signed subtraction suffices.
func unwrapAbsCaptureTime(prev, curr uint64) int64 {
	return int64(curr) - int64(prev)
}
