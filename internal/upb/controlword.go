package upb

import "fmt"

// Control word bit layout (16 bits, stored big-endian on the wire):
//
//	Byte 0 (high): [LNK][REP1][REP0][LEN4..LEN0]
//	Byte 1 (low):  [RSV][ACK][IDP][PUL][RSV][RSV][SEQ1][SEQ0]
//
// LNK selects link (scene) addressing over direct device addressing.
// LEN is the total packet length in bytes including the checksum.
// ACK requests an acknowledgement message, IDP an ID pulse and PUL an
// acknowledgement pulse from the addressed device.
const (
	ctlLink       uint16 = 0x8000
	ctlRepeatMask uint16 = 0x6000
	ctlLenMask    uint16 = 0x1F00
	ctlAckMessage uint16 = 0x0040
	ctlIDPulse    uint16 = 0x0020
	ctlAckPulse   uint16 = 0x0010
	ctlSeqMask    uint16 = 0x0003

	ctlRepeatShift = 13
	ctlLenShift    = 8

	// maxPacketLength is the largest value the 5-bit length field holds.
	maxPacketLength = 31

	// maxRepeat and maxSequence bound the 2-bit repeat/sequence fields.
	maxRepeat   = 3
	maxSequence = 3
)

// ControlWord is the packed 16-bit header field of a UPB packet.
// It is immutable once built; construct one per outgoing message.
type ControlWord uint16

// AckFlags describes the acknowledgement behaviour requested from the
// addressed device.
type AckFlags struct {
	// Pulse requests a single acknowledgement pulse after the message
	// is acted on. This is the flag the transaction engine keys its
	// Stage B expectation on.
	Pulse bool

	// Message requests a full acknowledgement response message.
	Message bool

	// IDPulse requests an ID pulse.
	IDPulse bool
}

// BuildControlWord constructs a control word for an outgoing packet.
//
// Parameters:
//   - link: true for link (scene) addressing, false for direct
//   - packetLen: total packet length in bytes, including checksum (0-31)
//   - repeat: repeat count (0-3)
//   - seq: sequence number (0-3)
//   - ack: requested acknowledgement flags
//
// Returns:
//   - ControlWord: packed header field
//   - error: ErrEncoding if a field exceeds its bit range
func BuildControlWord(link bool, packetLen, repeat, seq int, ack AckFlags) (ControlWord, error) {
	if packetLen < 0 || packetLen > maxPacketLength {
		return 0, fmt.Errorf("%w: packet length %d out of range 0-%d", ErrEncoding, packetLen, maxPacketLength)
	}
	if repeat < 0 || repeat > maxRepeat {
		return 0, fmt.Errorf("%w: repeat count %d out of range 0-%d", ErrEncoding, repeat, maxRepeat)
	}
	if seq < 0 || seq > maxSequence {
		return 0, fmt.Errorf("%w: sequence %d out of range 0-%d", ErrEncoding, seq, maxSequence)
	}

	w := uint16(packetLen)<<ctlLenShift | uint16(repeat)<<ctlRepeatShift | uint16(seq)&ctlSeqMask
	if link {
		w |= ctlLink
	}
	if ack.Pulse {
		w |= ctlAckPulse
	}
	if ack.Message {
		w |= ctlAckMessage
	}
	if ack.IDPulse {
		w |= ctlIDPulse
	}

	return ControlWord(w), nil
}

// IsLink reports whether link (scene) addressing is selected.
func (c ControlWord) IsLink() bool {
	return uint16(c)&ctlLink != 0
}

// PacketLength returns the total packet length carried in the length
// field, including the checksum byte.
func (c ControlWord) PacketLength() int {
	return int(uint16(c) & ctlLenMask >> ctlLenShift)
}

// Repeat returns the repeat count (0-3).
func (c ControlWord) Repeat() int {
	return int(uint16(c) & ctlRepeatMask >> ctlRepeatShift)
}

// Sequence returns the sequence number (0-3).
func (c ControlWord) Sequence() int {
	return int(uint16(c) & ctlSeqMask)
}

// Ack returns the acknowledgement flags requested by this control word.
func (c ControlWord) Ack() AckFlags {
	return AckFlags{
		Pulse:   uint16(c)&ctlAckPulse != 0,
		Message: uint16(c)&ctlAckMessage != 0,
		IDPulse: uint16(c)&ctlIDPulse != 0,
	}
}

// High returns the high (first on the wire) byte.
func (c ControlWord) High() byte {
	return byte(c >> 8)
}

// Low returns the low (second on the wire) byte.
func (c ControlWord) Low() byte {
	return byte(c)
}

// String returns a compact human-readable form for logs.
func (c ControlWord) String() string {
	mode := "direct"
	if c.IsLink() {
		mode = "link"
	}
	return fmt.Sprintf("ControlWord{%s, len:%d, rep:%d, seq:%d, ack:%+v}",
		mode, c.PacketLength(), c.Repeat(), c.Sequence(), c.Ack())
}
