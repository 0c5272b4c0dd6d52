package pim

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hollandpark/upb-bridge/internal/upb"
)

// Wire framing constants for the PIM's ASCII line protocol.
const (
	// Terminator ends every frame in both directions.
	Terminator byte = 0x0D

	// Outgoing command bytes.
	cmdReadRegister  byte = 0x12
	cmdTransmit      byte = 0x14
	cmdWriteRegister byte = 0x17

	// typeCodeLen is the length of the two-character inbound type code.
	typeCodeLen = 2

	// maxRegisterValues bounds a single register write.
	maxRegisterValues = 16

	// maxRegisterCount bounds a single register read.
	maxRegisterCount = 16
)

// MessageType is the closed set of inbound frame types the PIM emits.
// It is decoded once by Unframe and matched exhaustively by the
// dispatcher; raw type-code strings do not travel further.
type MessageType int

// Inbound frame types.
const (
	MessageUnknown MessageType = iota
	MessageAccept              // PA: PIM accepted the transmission
	MessageBusy                // PB: PIM busy, retry later
	MessageReject              // PE: PIM rejected the transmission
	MessageAck                 // PK: remote device acknowledged
	MessageNak                 // PN: remote device did not acknowledge
	MessageRegisterReport      // PR: PIM register contents
	MessageReport              // PU: UPB packet received from the powerline
)

// String returns the wire type code, or "??" for unknown.
func (m MessageType) String() string {
	switch m {
	case MessageAccept:
		return "PA"
	case MessageBusy:
		return "PB"
	case MessageReject:
		return "PE"
	case MessageAck:
		return "PK"
	case MessageNak:
		return "PN"
	case MessageRegisterReport:
		return "PR"
	case MessageReport:
		return "PU"
	default:
		return "??"
	}
}

func parseMessageType(code string) MessageType {
	switch code {
	case "PA":
		return MessageAccept
	case "PB":
		return MessageBusy
	case "PE":
		return MessageReject
	case "PK":
		return MessageAck
	case "PN":
		return MessageNak
	case "PR":
		return MessageRegisterReport
	case "PU":
		return MessageReport
	default:
		return MessageUnknown
	}
}

// FrameTransmit wraps an encoded UPB packet (checksum included) for
// transmission: command byte, upper-case ASCII hex, terminator.
func FrameTransmit(packet []byte) []byte {
	return frame(cmdTransmit, packet)
}

// FrameRegisterWrite builds a register-write frame. The register
// packet {register, values..., checksum} carries its own
// two's-complement checksum, independent of any UPB packet checksum.
//
// Returns ErrInvalidArgument if values is empty or exceeds the
// maximum register payload.
func FrameRegisterWrite(register byte, values []byte) ([]byte, error) {
	if len(values) == 0 || len(values) > maxRegisterValues {
		return nil, fmt.Errorf("%w: %d register values, want 1-%d", ErrInvalidArgument, len(values), maxRegisterValues)
	}

	pkt := make([]byte, 0, len(values)+2)
	pkt = append(pkt, register)
	pkt = append(pkt, values...)
	pkt = append(pkt, upb.Checksum(pkt))

	return frame(cmdWriteRegister, pkt), nil
}

// FrameRegisterRead builds a register-read frame requesting count
// bytes starting at register.
//
// Returns ErrInvalidArgument if count is out of range.
func FrameRegisterRead(register byte, count int) ([]byte, error) {
	if count < 1 || count > maxRegisterCount {
		return nil, fmt.Errorf("%w: register count %d, want 1-%d", ErrInvalidArgument, count, maxRegisterCount)
	}

	pkt := []byte{register, byte(count)}
	pkt = append(pkt, upb.Checksum(pkt))

	return frame(cmdReadRegister, pkt), nil
}

func frame(cmd byte, payload []byte) []byte {
	encoded := strings.ToUpper(hex.EncodeToString(payload))

	buf := make([]byte, 0, len(encoded)+2)
	buf = append(buf, cmd)
	buf = append(buf, encoded...)
	buf = append(buf, Terminator)
	return buf
}

// Unframe parses a raw inbound frame into its type and payload.
//
// The frame must end with the terminator and carry a two-character
// type code. For MessageReport and MessageRegisterReport the
// remainder is ASCII hex and is decoded to bytes; all other types
// pass the remainder through unchanged.
//
// Returns:
//   - MessageType: decoded frame type (MessageUnknown for codes
//     outside the known set; the caller decides whether to drop)
//   - []byte: payload bytes (nil when the frame carries none)
//   - error: ErrNoTerminator, ErrFrameTooShort or ErrPayloadDecode
func Unframe(raw []byte) (MessageType, []byte, error) {
	if len(raw) == 0 || raw[len(raw)-1] != Terminator {
		return MessageUnknown, nil, fmt.Errorf("%w: % X", ErrNoTerminator, raw)
	}

	body := raw[:len(raw)-1]
	if len(body) < typeCodeLen {
		return MessageUnknown, nil, fmt.Errorf("%w: %d bytes before terminator", ErrFrameTooShort, len(body))
	}

	mt := parseMessageType(string(body[:typeCodeLen]))
	rest := body[typeCodeLen:]

	switch mt {
	case MessageReport, MessageRegisterReport:
		payload, err := hex.DecodeString(string(rest))
		if err != nil {
			return mt, nil, fmt.Errorf("%w: %q: %w", ErrPayloadDecode, rest, err)
		}
		return mt, payload, nil
	default:
		if len(rest) == 0 {
			return mt, nil, nil
		}
		payload := make([]byte, len(rest))
		copy(payload, rest)
		return mt, payload, nil
	}
}
