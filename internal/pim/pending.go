package pim

import (
	"fmt"
	"sync"

	"github.com/hollandpark/upb-bridge/internal/upb"
)

// TargetID identifies the logical link a transaction runs against:
// a network plus either a direct device ID or a link (scene) ID.
type TargetID struct {
	NetworkID byte
	UnitID    byte
	Link      bool
}

// String returns a compact form used in logs.
func (t TargetID) String() string {
	mode := "unit"
	if t.Link {
		mode = "link"
	}
	return fmt.Sprintf("%d/%s:%d", t.NetworkID, mode, t.UnitID)
}

// pimTarget is the reserved identity used for register transactions
// against the PIM itself.
var pimTarget = TargetID{NetworkID: 0, UnitID: 0}

// pending holds the state of one in-flight transaction. Each stage has
// a capacity-1 channel: one send, one bounded receive, drained when the
// entry is replaced. Signals with no waiter are lost by design; the
// dispatcher pairs every signal with an exact stage match.
type pending struct {
	target TargetID

	pimResp  chan MessageType // Stage A: accept/busy/reject
	remote   chan MessageType // Stage B: ack/nak
	report   chan upb.Packet  // Stage C: matched data report
	register chan []byte      // register-read report payload
}

func newPending(target TargetID) *pending {
	return &pending{
		target:   target,
		pimResp:  make(chan MessageType, 1),
		remote:   make(chan MessageType, 1),
		report:   make(chan upb.Packet, 1),
		register: make(chan []byte, 1),
	}
}

// Table is the pending-transaction table: at most one entry per
// target at any instant. It is written by transaction-initiating
// calls and read by the inbound dispatch path; the table serialises
// nothing beyond its own map access; concurrent opens for the same
// target are serialised by the engine's per-target lock.
type Table struct {
	mu      sync.Mutex
	entries map[TargetID]*pending

	// current is the entry most recently opened and therefore the one
	// awaiting PIM-level responses. PA/PB/PE/PK/PN frames carry no
	// addressing; on the shared half-duplex line they can only be
	// attributed to the narrow per-target window that is open.
	current *pending
}

// NewTable creates an empty pending-transaction table.
func NewTable() *Table {
	return &Table{entries: make(map[TargetID]*pending)}
}

// Open creates (or replaces) the entry for target and marks it as the
// one currently awaiting a PIM response. Replacing discards any stale
// signals from a previous attempt because the stage channels are new.
func (t *Table) Open(target TargetID) *pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := newPending(target)
	t.entries[target] = p
	t.current = p
	return p
}

// Close removes the entry for target. It is invoked on every exit
// path of a transaction; no entry may outlive its issuing call.
func (t *Table) Close(target TargetID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.entries[target]; ok {
		delete(t.entries, target)
		if t.current == p {
			t.current = nil
		}
	}
}

// Len returns the number of in-flight entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// SignalPIMResponse delivers a Stage A response (accept/busy/reject)
// to the current pending entry. No-op when nothing is pending: an
// unsolicited accept/busy/reject is discarded, not an error.
func (t *Table) SignalPIMResponse(mt MessageType) bool {
	t.mu.Lock()
	p := t.current
	t.mu.Unlock()

	if p == nil {
		return false
	}
	return signal(p.pimResp, mt)
}

// SignalRemote delivers a Stage B acknowledgement (ack/nak) to the
// current pending entry.
func (t *Table) SignalRemote(mt MessageType) bool {
	t.mu.Lock()
	p := t.current
	t.mu.Unlock()

	if p == nil {
		return false
	}
	return signal(p.remote, mt)
}

// SignalReport delivers a decoded UPB report to the pending entry
// whose addressing matches the report's (network, source) pair.
// Returns false if no matching transaction is waiting, in which case
// the caller forwards the report to the notification sink instead.
func (t *Table) SignalReport(pkt upb.Packet) bool {
	t.mu.Lock()
	p, ok := t.entries[TargetID{NetworkID: pkt.NetworkID, UnitID: pkt.SourceID}]
	t.mu.Unlock()

	if !ok {
		return false
	}
	return signal(p.report, pkt)
}

// SignalRegisterReport delivers a register report payload to the
// register-transaction entry if one is in flight.
func (t *Table) SignalRegisterReport(payload []byte) bool {
	t.mu.Lock()
	p, ok := t.entries[pimTarget]
	t.mu.Unlock()

	if !ok {
		return false
	}
	return signal(p.register, payload)
}

// signal performs the non-blocking capacity-1 send. A full channel
// means a stale unconsumed signal; dropping is correct because each
// wait is paired with a fresh Open.
func signal[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}
