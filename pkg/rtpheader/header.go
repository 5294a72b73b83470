package rtpheader

const (
	rtpExpectedVersion  = 2
	rtpMinParseLength   = 12
	rtcpExpectedVersion = 2
	rtcpMinHeaderLength = 4
	rtcpMinParseLength  = 8

	oneByteExtensionProfile = 0xBEDE
)

// Header is the fixed RTP header plus the subset of one-byte extensions
// this module cares about.
type Header struct {
	Version        uint8
	Padding        bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32
	PaddingLength  uint8
	HeaderLength   int

	Extension Extension
}

// Parse parses the RTP fixed header and, if present, its one-byte header
// extensions, from data. It returns ok=false for anything too short or
// version-mismatched to be a valid RTP packet; it never panics or reads
// past the end of data.
func Parse(data []byte) (*Header, bool) {
	if len(data) < rtpMinParseLength {
		return nil, false
	}

	r := newByteReader(data)

	b0, _ := r.byte()
	version := b0 >> 6
	padding := b0&0x20 != 0
	extensionBit := b0&0x10 != 0
	csrcCount := int(b0 & 0x0f)

	if version != rtpExpectedVersion {
		return nil, false
	}

	b1, _ := r.byte()
	marker := b1&0x80 != 0
	payloadType := b1 & 0x7f

	seq, _ := r.uint16()
	ts, _ := r.uint32()
	ssrc, _ := r.uint32()

	csrcOctets := csrcCount * 4
	if r.remaining() < csrcOctets {
		return nil, false
	}
	csrcs := make([]uint32, csrcCount)
	for i := 0; i < csrcCount; i++ {
		csrcs[i], _ = r.uint32()
	}

	h := &Header{
		Version:        version,
		Padding:        padding,
		Marker:         marker,
		PayloadType:    payloadType,
		SequenceNumber: seq,
		Timestamp:      ts,
		SSRC:           ssrc,
		CSRC:           csrcs,
		HeaderLength:   12 + csrcOctets,
	}
	if padding {
		h.PaddingLength = data[len(data)-1]
	}

	if extensionBit {
		profile, ok := r.uint16()
		if !ok {
			return nil, false
		}
		xlenWords, ok := r.uint16()
		if !ok {
			return nil, false
		}
		xlenBytes := int(xlenWords) * 4
		h.HeaderLength += 4

		extData, ok := r.take(xlenBytes)
		if !ok {
			return nil, false
		}
		if profile == oneByteExtensionProfile {
			h.Extension = parseOneByteExtensions(extData)
		}
		h.HeaderLength += xlenBytes
	}

	if h.HeaderLength+int(h.PaddingLength) > len(data) {
		return nil, false
	}

	return h, true
}

// IsRTCP reports whether data looks like an RTCP packet based on its
// version and payload-type byte, without fully parsing it.
func IsRTCP(data []byte) bool {
	if len(data) < rtcpMinHeaderLength {
		return false
	}
	if data[0]>>6 != rtcpExpectedVersion {
		return false
	}
	switch data[1] {
	case 192, 195, 200, 201, 202, 203, 204, 205, 206, 207:
		return true
	default:
		return false
	}
}

// RTCPHeader is the minimal SSRC/payload-type/length information ParseRTCP
// extracts from the first RTCP packet in a compound packet.
type RTCPHeader struct {
	PayloadType  uint8
	SSRC         uint32
	HeaderLength int
}

// ParseRTCP extracts the first RTCP sub-packet's payload type, SSRC, and
// total length (including the 4-byte common header) from data.
func ParseRTCP(data []byte) (*RTCPHeader, bool) {
	if len(data) < rtcpMinParseLength {
		return nil, false
	}
	r := newByteReader(data)

	b0, _ := r.byte()
	if b0>>6 != rtcpExpectedVersion {
		return nil, false
	}
	pt, _ := r.byte()
	length, _ := r.uint16()
	ssrc, ok := r.uint32()
	if !ok {
		return nil, false
	}

	return &RTCPHeader{
		PayloadType:  pt,
		SSRC:         ssrc,
		HeaderLength: 4 + int(length)*4,
	}, true
}
