// Package upb implements the Universal Powerline Bus packet codec.
//
// It covers the 16-bit control word, the UPB packet layout
// (control word, network ID, destination, source, message data ID,
// arguments, checksum) and the two-level message taxonomy carried in
// the message data ID (message set ID in the top three bits, message
// ID in the bottom five).
//
// The codec is pure: encoding and decoding have no side effects and
// no dependencies on the transport or transaction layers. The PIM
// framing that wraps these packets for the wire lives in the pim
// package.
package upb
