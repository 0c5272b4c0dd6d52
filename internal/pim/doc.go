// Package pim implements the Powerline Interface Module transaction
// engine: the ASCII-hex line framing used on the PIM's byte stream,
// the TCP transport adapter with reconnect policy, the
// pending-transaction table, the three-stage transaction engine and
// the inbound dispatcher.
//
// The engine turns the PIM's asynchronous half-duplex wire protocol
// into synchronous calls: Transact sends a framed UPB packet, waits
// for the PIM to accept it, waits for the remote device's
// acknowledgement and optionally for a data report, retrying on busy
// and timeout up to a configured budget. Transactions against the
// same target are strictly serialised by a per-target lock;
// transactions against different targets may share the line
// concurrently.
//
// Unsolicited reports (link activations, device state reports) are
// handed to a NotificationSink asynchronously via the Scheduler so
// that sink work can itself issue outbound calls without deadlocking
// the receive path.
package pim
