// Package voice implements the voice control channel state machine and the
// RTP audio pipeline (spec §4.3, §4.4): Opus encode/decode, RTP framing,
// AEAD seal/open (optionally double-wrapped by DAVE end-to-end encryption),
// send pacing, a per-speaker reorder buffer, gain ramp, and track markers.
//
// Grounded on arikawa's voice/udp connection (RTP header layout, secretbox
// nonce discipline, IP discovery) and glyphoxa's pkg/audio/discord (Opus
// wrapping) and pkg/audio/mixer (priority-queue dispatch pattern, reused
// here for the receive-side reorder buffer).
package voice

import "encoding/binary"

// RTP header layout used by the platform's voice media (spec §6.2): version
// 2, payload type 0x78 (Opus), no extension/CSRC in the frames this package
// emits.
const (
	rtpVersionFlags = 0x80 // version=2, no padding/extension/CSRC
	rtpPayloadType  = 0x78
	rtpHeaderSize   = 12
)

// Header is the fixed 12-byte RTP header (spec §3.2 "RTP-framed").
type Header struct {
	VersionFlags byte
	PayloadType  byte
	Sequence     uint16
	Timestamp    uint32
	SSRC         uint32
}

// Encode writes h in network byte order to a freshly allocated 12-byte
// buffer.
func (h Header) Encode() []byte {
	buf := make([]byte, rtpHeaderSize)
	buf[0] = h.VersionFlags
	buf[1] = h.PayloadType
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)
	return buf
}

// DecodeHeader parses the leading 12 bytes of an RTP packet. Returns
// ok=false if b is too short.
func DecodeHeader(b []byte) (h Header, ok bool) {
	if len(b) < rtpHeaderSize {
		return Header{}, false
	}
	h.VersionFlags = b[0]
	h.PayloadType = b[1]
	h.Sequence = binary.BigEndian.Uint16(b[2:4])
	h.Timestamp = binary.BigEndian.Uint32(b[4:8])
	h.SSRC = binary.BigEndian.Uint32(b[8:12])
	return h, true
}

// sequencer generates the strictly-increasing (mod 2^16) sequence numbers
// and timestamps for one outbound RTP stream (spec §3.2 invariants:
// "Sequence and timestamp are incremented exactly once per emitted RTP
// frame").
type sequencer struct {
	ssrc uint32
	seq  uint16
	ts   uint32
}

// next returns the header for the next frame of sampleCount samples per
// channel, advancing seq by 1 and ts by sampleCount.
func (s *sequencer) next(sampleCount uint32) Header {
	h := Header{
		VersionFlags: rtpVersionFlags,
		PayloadType:  rtpPayloadType,
		Sequence:     s.seq,
		Timestamp:    s.ts,
		SSRC:         s.ssrc,
	}
	s.seq++
	s.ts += sampleCount
	return h
}
