package pim

import "errors"

// Domain errors for the PIM transaction engine.
var (
	// ErrNoTerminator is returned when an inbound frame does not end
	// with the carriage-return terminator.
	ErrNoTerminator = errors.New("pim: frame missing terminator")

	// ErrFrameTooShort is returned when an inbound frame is too small
	// to carry a two-character type code.
	ErrFrameTooShort = errors.New("pim: frame too short")

	// ErrPayloadDecode is returned when a report payload is not valid
	// ASCII hex.
	ErrPayloadDecode = errors.New("pim: payload decode failed")

	// ErrInvalidArgument is returned for out-of-range caller input
	// (register counts, value lengths).
	ErrInvalidArgument = errors.New("pim: invalid argument")

	// ErrRejected is returned when the PIM rejects a transmission.
	// Rejection is terminal; it is not retried.
	ErrRejected = errors.New("pim: transmission rejected")

	// ErrAckMismatch is returned when the remote acknowledgement does
	// not match the control word's request: a nak when an ack pulse was
	// requested, or an unexpected ack when none was.
	ErrAckMismatch = errors.New("pim: acknowledgement mismatch")

	// ErrReportMismatch is returned when a data report arrives from a
	// different device than the one addressed.
	ErrReportMismatch = errors.New("pim: report from unexpected device")

	// ErrRegisterMismatch is returned when a register report does not
	// match the requested register or length.
	ErrRegisterMismatch = errors.New("pim: register report mismatch")

	// ErrMaxRetries is returned when the attempt budget is exhausted on
	// sustained busy responses or timeouts.
	ErrMaxRetries = errors.New("pim: max retries exceeded")

	// ErrNotConnected is returned when a send is attempted while the
	// transport is not connected.
	ErrNotConnected = errors.New("pim: not connected")

	// ErrConnectionFailed is returned when the connection to the PIM
	// cannot be established.
	ErrConnectionFailed = errors.New("pim: connection failed")

	// ErrTransport is returned when writing to the byte stream fails.
	ErrTransport = errors.New("pim: transport send failed")
)
