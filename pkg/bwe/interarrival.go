package bwe

const (
	// timestampGroupLengthTicks is the maximum send-time span of a single
	// packet group, expressed in internal 32-bit ticks (5ms).
	timestampGroupLengthTicks = uint32(5 * ticksPerSecond / 1000)

	// arrivalTimeOffsetThresholdMs bounds how far the receive-side clock and
	// the send-side clock are allowed to drift apart before InterArrival
	// gives up and resets.
	arrivalTimeOffsetThresholdMs = 3000

	// reorderedResetThresholdPackets is the number of consecutive
	// out-of-order groups that trigger a reset.
	reorderedResetThresholdPackets = 3

	// burstDeltaThresholdMs and maxBurstDurationMs gate whether a packet
	// that would otherwise start a new group is folded into the current one
	// because it looks like part of the same burst (e.g. a multi-packet
	// video frame) rather than a new delay sample.
	burstDeltaThresholdMs = 5
	maxBurstDurationMs    = 100
)

// PacketGroup represents a group of packets whose send timestamps fall
// within timestampGroupLengthTicks of each other (or that were folded into
// the group by the burst heuristic).
type PacketGroup struct {
	// Timestamp is the latest (wrap-aware maximum) send timestamp seen in
	// the group, in internal ticks.
	Timestamp uint32

	// FirstTimestamp is the send timestamp of the first packet in the group.
	FirstTimestamp uint32

	// FirstArrivalMs is the arrival time of the first packet, in
	// milliseconds since the InterArrival instance's reference point.
	FirstArrivalMs int64

	// CompleteTimeMs is the arrival time of the most recently added packet.
	// -1 denotes a group with no packets yet.
	CompleteTimeMs int64

	// LastSystemTimeMs is the wall/monotonic arrival time (in ms) of the
	// most recently added packet, used for the arrival/send drift check.
	LastSystemTimeMs int64

	// Size is the accumulated payload size of the group, in bytes.
	Size int
}

func newPacketGroup() *PacketGroup {
	return &PacketGroup{CompleteTimeMs: -1, FirstArrivalMs: -1}
}

func (g *PacketGroup) isEmpty() bool {
	return g.CompleteTimeMs == -1
}

// GroupDelta is the inter-group delay sample InterArrival produces once two
// consecutive groups have completed: the send-time delta, the arrival-time
// delta, and the payload-size delta between them.
type GroupDelta struct {
	// SendDeltaTicks is the send-timestamp delta between the two groups, in
	// internal ticks.
	SendDeltaTicks uint32

	// ArrivalDeltaMs is the arrival-time delta between the two groups, in
	// milliseconds.
	ArrivalDeltaMs int64

	// SizeDelta is the payload-size delta between the two groups, in bytes.
	// Negative values mean the later group was smaller.
	SizeDelta int
}

// InterArrivalCalculator accumulates packets into timestamp groups and
// produces a GroupDelta once consecutive groups both complete. Positive
// arrival-minus-send delay variation indicates queue building (congestion);
// negative indicates queue draining.
type InterArrivalCalculator struct {
	currentGroup *PacketGroup
	prevGroup    *PacketGroup

	numConsecutiveReordered int

	// burstGrouping enables the arrival-time/send-time heuristic that folds
	// packets from the same video frame into one group even when their send
	// timestamps span more than timestampGroupLengthTicks.
	burstGrouping bool
}

// NewInterArrivalCalculator creates an InterArrivalCalculator. burstGrouping
// should be true for video streams made of multi-packet frames and false
// for single-packet-per-frame audio streams.
func NewInterArrivalCalculator(burstGrouping bool) *InterArrivalCalculator {
	return &InterArrivalCalculator{
		currentGroup:  newPacketGroup(),
		prevGroup:     newPacketGroup(),
		burstGrouping: burstGrouping,
	}
}

// ComputeDeltas processes one packet, identified by its send timestamp in
// internal ticks, arrival time, and capture-relative "now", and returns the
// inter-group delta if this packet completed a new group.
func (c *InterArrivalCalculator) ComputeDeltas(sendTicks uint32, arrivalMs, nowMs int64, size int) (GroupDelta, bool) {
	var delta GroupDelta
	var ok bool

	switch {
	case c.currentGroup.isEmpty():
		c.currentGroup.Timestamp = sendTicks
		c.currentGroup.FirstTimestamp = sendTicks
		c.currentGroup.FirstArrivalMs = arrivalMs

	case !c.packetInOrder(sendTicks):
		return GroupDelta{}, false

	case c.newTimestampGroup(arrivalMs, sendTicks):
		if !c.prevGroup.isEmpty() {
			sendDelta := c.currentGroup.Timestamp - c.prevGroup.Timestamp
			arrivalDelta := c.currentGroup.CompleteTimeMs - c.prevGroup.CompleteTimeMs
			systemDelta := c.currentGroup.LastSystemTimeMs - c.prevGroup.LastSystemTimeMs

			if arrivalDelta-systemDelta >= arrivalTimeOffsetThresholdMs {
				c.Reset()
				return GroupDelta{}, false
			}
			if arrivalDelta < 0 {
				c.numConsecutiveReordered++
				if c.numConsecutiveReordered >= reorderedResetThresholdPackets {
					c.Reset()
				}
				return GroupDelta{}, false
			}
			c.numConsecutiveReordered = 0
			delta = GroupDelta{
				SendDeltaTicks: sendDelta,
				ArrivalDeltaMs: arrivalDelta,
				SizeDelta:      c.currentGroup.Size - c.prevGroup.Size,
			}
			ok = true
		}

		c.prevGroup = c.currentGroup
		c.currentGroup = newPacketGroup()
		c.currentGroup.FirstTimestamp = sendTicks
		c.currentGroup.Timestamp = sendTicks
		c.currentGroup.FirstArrivalMs = arrivalMs
		c.numConsecutiveReordered = 0

	default:
		c.currentGroup.Timestamp = latestTimestamp(c.currentGroup.Timestamp, sendTicks)
	}

	c.currentGroup.Size += size
	c.currentGroup.CompleteTimeMs = arrivalMs
	c.currentGroup.LastSystemTimeMs = nowMs

	return delta, ok
}

// packetInOrder reports whether sendTicks is not-older than the current
// group's first timestamp, using wrap-aware unsigned comparison.
func (c *InterArrivalCalculator) packetInOrder(sendTicks uint32) bool {
	if c.currentGroup.isEmpty() {
		return true
	}
	diff := sendTicks - c.currentGroup.FirstTimestamp
	return diff < 0x80000000
}

// newTimestampGroup decides whether sendTicks/arrivalMs starts a new group,
// folding it into the current one instead if the burst heuristic applies.
func (c *InterArrivalCalculator) newTimestampGroup(arrivalMs int64, sendTicks uint32) bool {
	if c.currentGroup.isEmpty() {
		return false
	}
	if c.belongsToBurst(arrivalMs, sendTicks) {
		return false
	}
	diff := sendTicks - c.currentGroup.FirstTimestamp
	return diff > timestampGroupLengthTicks
}

// belongsToBurst implements the frame-burst heuristic: a packet whose send
// timestamp would otherwise start a new group is folded into the current
// one when its send time rounds to the same millisecond as the group's
// first packet, or when it arrived no more than burstDeltaThresholdMs after
// the group's last packet, with a negative propagation delta, and less than
// maxBurstDurationMs after the group's first packet.
func (c *InterArrivalCalculator) belongsToBurst(arrivalMs int64, sendTicks uint32) bool {
	if !c.burstGrouping || c.currentGroup.CompleteTimeMs < 0 {
		return false
	}

	arrivalDeltaMs := arrivalMs - c.currentGroup.CompleteTimeMs
	tsDiff := sendTicks - c.currentGroup.FirstTimestamp
	tsDeltaMs := ticksToMs(int64(tsDiff))
	if tsDeltaMs == 0 {
		return true
	}

	propagationDeltaMs := arrivalDeltaMs - tsDeltaMs
	if propagationDeltaMs < 0 &&
		arrivalDeltaMs <= burstDeltaThresholdMs &&
		arrivalMs-c.currentGroup.FirstArrivalMs < maxBurstDurationMs {
		return true
	}
	return false
}

// latestTimestamp returns whichever of a, b is "later" under wrap-aware
// unsigned comparison, breaking exact half-range ties in favor of the
// numerically larger value.
func latestTimestamp(a, b uint32) uint32 {
	const breakPoint = uint32(1) << 31
	switch {
	case a-b == breakPoint:
		if a > b {
			return a
		}
		return b
	case a == b:
		return a
	case a-b < breakPoint:
		return a
	default:
		return b
	}
}

// Reset clears all accumulated state. Call this on a large arrival/send
// clock-drift detection, repeated reordering, or when switching streams.
func (c *InterArrivalCalculator) Reset() {
	c.numConsecutiveReordered = 0
	c.currentGroup = newPacketGroup()
	c.prevGroup = newPacketGroup()
}

// CurrentGroup returns the group currently being accumulated.
func (c *InterArrivalCalculator) CurrentGroup() *PacketGroup {
	return c.currentGroup
}

// PreviousGroup returns the last completed group.
func (c *InterArrivalCalculator) PreviousGroup() *PacketGroup {
	return c.prevGroup
}
