package upb

import (
	"fmt"
)

// Packet framing constants.
const (
	// MaxArguments is the maximum number of argument bytes a UPB packet
	// may carry.
	MaxArguments = 16

	// headerSize is the fixed prefix before the message data ID:
	// control word (2) + network ID + destination ID + source ID.
	headerSize = 5

	// minPacketSize is the smallest complete packet: the 5-byte header,
	// the message data ID and the trailing checksum.
	minPacketSize = headerSize + 2

	// maxByteValue bounds the one-byte address and ID fields.
	maxByteValue = 255
)

// Packet is a decoded UPB message.
//
// A packet is constructed, serialised and discarded within a single
// transmission; it carries no connection or transaction state.
type Packet struct {
	// Control is the packed 16-bit control word.
	Control ControlWord

	// NetworkID identifies the powerline network (0-255).
	NetworkID byte

	// DestinationID is the target device ID, or the link ID when the
	// control word selects link addressing.
	DestinationID byte

	// SourceID is the sending device's ID.
	SourceID byte

	// MessageDataID is the combined message set ID (top 3 bits) and
	// message ID (bottom 5 bits).
	MessageDataID byte

	// Arguments holds 0-16 argument bytes following the message data ID.
	Arguments []byte
}

// MessageSetID returns the top three bits of the message data ID,
// selecting the taxonomy branch.
func (p Packet) MessageSetID() byte {
	return p.MessageDataID >> 5
}

// MessageID returns the bottom five bits of the message data ID.
func (p Packet) MessageID() byte {
	return p.MessageDataID & 0x1F
}

// String returns a compact representation for logs.
func (p Packet) String() string {
	return fmt.Sprintf("Packet{net:%d dst:%d src:%d mdid:0x%02X args:%X}",
		p.NetworkID, p.DestinationID, p.SourceID, p.MessageDataID, p.Arguments)
}

// Checksum returns the byte that makes the unsigned sum of data plus
// the checksum itself zero modulo 256 (two's complement of the sum).
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return -sum
}

// Encode serialises a packet to wire bytes.
//
// Layout: [ctlHi][ctlLo][networkId][destinationId][sourceId]
// [messageDataId][...args][checksum], with the checksum chosen so the
// byte sum of the whole buffer is zero modulo 256.
//
// Parameters:
//   - control: control word built for this message
//   - networkID, destinationID, sourceID, messageDataID: byte-range fields
//   - args: 0-16 argument bytes
//
// Returns:
//   - []byte: complete packet including checksum
//   - error: ErrEncoding if args exceed MaxArguments or a field exceeds
//     its byte range
func Encode(control ControlWord, networkID, destinationID, sourceID, messageDataID int, args []byte) ([]byte, error) {
	if len(args) > MaxArguments {
		return nil, fmt.Errorf("%w: %d argument bytes exceeds maximum %d", ErrEncoding, len(args), MaxArguments)
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"network ID", networkID},
		{"destination ID", destinationID},
		{"source ID", sourceID},
		{"message data ID", messageDataID},
	} {
		if f.value < 0 || f.value > maxByteValue {
			return nil, fmt.Errorf("%w: %s %d out of byte range", ErrEncoding, f.name, f.value)
		}
	}

	buf := make([]byte, 0, headerSize+1+len(args)+1)
	buf = append(buf, control.High(), control.Low(),
		byte(networkID), byte(destinationID), byte(sourceID), byte(messageDataID))
	buf = append(buf, args...)
	buf = append(buf, Checksum(buf))

	return buf, nil
}

// Decode parses wire bytes into a Packet.
//
// It requires a complete packet (header, message data ID, checksum)
// and verifies the checksum before splitting out the fields. The
// input is not retained; argument bytes are copied.
//
// Returns:
//   - Packet: decoded packet
//   - error: ErrTooShort if the buffer cannot hold a complete packet,
//     ErrChecksum if the byte sum is non-zero modulo 256
func Decode(data []byte) (Packet, error) {
	if len(data) < minPacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrTooShort, len(data), minPacketSize)
	}

	var sum byte
	for _, b := range data {
		sum += b
	}
	if sum != 0 {
		return Packet{}, fmt.Errorf("%w: byte sum 0x%02X", ErrChecksum, sum)
	}

	var args []byte
	if body := data[headerSize+1 : len(data)-1]; len(body) > 0 {
		args = make([]byte, len(body))
		copy(args, body)
	}

	return Packet{
		Control:       ControlWord(uint16(data[0])<<8 | uint16(data[1])),
		NetworkID:     data[2],
		DestinationID: data[3],
		SourceID:      data[4],
		MessageDataID: data[5],
		Arguments:     args,
	}, nil
}
