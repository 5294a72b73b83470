package interceptor

import (
	"sync"
	"time"

	"github.com/flowmesh/gccbwe/pkg/bwe"
)

// packetFeedbackPool is a sync.Pool for reusing PacketFeedback objects.
// This reduces GC pressure when processing high volumes of RTP packets.
var packetFeedbackPool = sync.Pool{
	New: func() any {
		return &bwe.PacketFeedback{}
	},
}

// getPacketFeedback retrieves a PacketFeedback from the pool.
// The returned PacketFeedback has all fields at their zero values, except
// that one recycled through putPacketFeedback has ProbeClusterID set to
// bwe.NotAProbe.
func getPacketFeedback() *bwe.PacketFeedback {
	return packetFeedbackPool.Get().(*bwe.PacketFeedback)
}

// putPacketFeedback returns a PacketFeedback to the pool after resetting its
// fields. This ensures the next Get() returns a clean object.
func putPacketFeedback(pkt *bwe.PacketFeedback) {
	pkt.ArrivalTime = time.Time{}
	pkt.SendTime = 0
	pkt.Size = 0
	pkt.SSRC = 0
	pkt.ProbeClusterID = bwe.NotAProbe
	packetFeedbackPool.Put(pkt)
}
