package bwe

import (
	"github.com/pion/rtcp"
)

// REMBPacket is a convenience wrapper around pion/rtcp's
// ReceiverEstimatedMaximumBitrate, the wire message the coordinator's
// (ssrcs, bitrateBps) output ultimately populates (spec §1, GLOSSARY
// "REMB"). BitrateBps mirrors the int64 bits-per-second type the rest of
// the estimator uses rather than rtcp's float32, so callers don't need a
// conversion at the boundary.
type REMBPacket struct {
	// SenderSSRC is the SSRC of the sender of this REMB packet (us, the
	// receiver). Typically set by the transport layer.
	SenderSSRC uint32

	// BitrateBps is the estimated maximum bitrate in bits per second.
	BitrateBps int64

	// SSRCs is the list of media source SSRCs this estimate applies to.
	SSRCs []uint32
}

// BuildREMB marshals a REMB RTCP packet for the given sender SSRC,
// bitrate, and set of media SSRCs the estimate applies to. The mantissa
// plus exponent encoding is handled by pion/rtcp.
func BuildREMB(senderSSRC uint32, bitrateBps int64, mediaSSRCs []uint32) ([]byte, error) {
	if bitrateBps < 0 {
		bitrateBps = 0
	}
	pkt := &rtcp.ReceiverEstimatedMaximumBitrate{
		SenderSSRC: senderSSRC,
		Bitrate:    float32(bitrateBps),
		SSRCs:      mediaSSRCs,
	}
	return pkt.Marshal()
}

// ParseREMB parses a REMB packet from raw bytes. Useful for testing and for
// a collaborator on the other side of the wire that wants to read back what
// was sent.
func ParseREMB(data []byte) (*REMBPacket, error) {
	pkt := &rtcp.ReceiverEstimatedMaximumBitrate{}
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return &REMBPacket{
		SenderSSRC: pkt.SenderSSRC,
		BitrateBps: int64(pkt.Bitrate),
		SSRCs:      pkt.SSRCs,
	}, nil
}

// Marshal marshals a REMBPacket to bytes.
func (p *REMBPacket) Marshal() ([]byte, error) {
	return BuildREMB(p.SenderSSRC, p.BitrateBps, p.SSRCs)
}
