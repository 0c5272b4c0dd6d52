package upb

import "errors"

// Domain errors for the UPB packet codec.
var (
	// ErrEncoding is returned when a packet field is out of range or the
	// argument payload exceeds the maximum length.
	ErrEncoding = errors.New("upb: encoding failed")

	// ErrTooShort is returned when a buffer is too small to hold a
	// complete UPB packet.
	ErrTooShort = errors.New("upb: packet too short")

	// ErrChecksum is returned when a packet's byte sum is non-zero
	// modulo 256.
	ErrChecksum = errors.New("upb: checksum mismatch")
)
