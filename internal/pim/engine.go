package pim

import (
	"fmt"
	"sync"
	"time"

	"github.com/hollandpark/upb-bridge/internal/upb"
)

// Engine configuration bounds and defaults. These mirror the
// collaborator-owned configuration surface: the engine validates but
// does not persist them.
const (
	// DefaultMaxRetry is the default attempt budget per transaction.
	DefaultMaxRetry = 10
	minMaxRetry     = 1
	maxMaxRetry     = 60

	// DefaultMaxProcessingTime bounds each stage wait.
	DefaultMaxProcessingTime = 10 * time.Second
	maxMaxProcessingTime     = 60 * time.Second

	// DefaultRetryDelay is the fixed inter-attempt delay after a busy
	// response.
	DefaultRetryDelay = 250 * time.Millisecond

	// DefaultSourceID is the source address stamped on outgoing
	// packets when the configuration does not name one.
	DefaultSourceID = 0xFF
)

// Sender is the outbound half of the transport boundary the engine
// consumes. The full transport (connect/close/receive) is owned by
// the Client; the engine only ever writes framed bytes.
type Sender interface {
	Send(data []byte) error
}

// Logger is the narrow logging interface the pim package consumes.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// EngineConfig holds the transaction engine's retry and timeout
// policy.
type EngineConfig struct {
	// MaxRetry is the attempt budget per transaction (1-60).
	MaxRetry int

	// MaxProcessingTime bounds each stage wait (up to 60s).
	MaxProcessingTime time.Duration

	// RetryDelay is the fixed delay applied between attempts after a
	// busy response.
	RetryDelay time.Duration

	// SourceID is the source address for outgoing packets.
	SourceID byte
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.MaxRetry < minMaxRetry || c.MaxRetry > maxMaxRetry {
		c.MaxRetry = DefaultMaxRetry
	}
	if c.MaxProcessingTime <= 0 || c.MaxProcessingTime > maxMaxProcessingTime {
		c.MaxProcessingTime = DefaultMaxProcessingTime
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.SourceID == 0 {
		c.SourceID = DefaultSourceID
	}
	return c
}

// Engine drives the multi-stage PIM handshake and guarantees at most
// one in-flight transaction per target.
//
// Thread Safety: all methods are safe for concurrent use. Calls
// against the same target are strictly serialised; calls against
// different targets proceed concurrently over the shared line.
type Engine struct {
	cfg    EngineConfig
	sender Sender
	table  *Table
	sched  Scheduler

	// Per-target locks. Entries live until RemoveTarget; explicit
	// lifecycle rather than a garbage-collected global.
	locks   map[TargetID]*sync.Mutex
	locksMu sync.Mutex

	// seq is the rotating 2-bit sequence stamped on control words.
	seq   int
	seqMu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewEngine creates a transaction engine over the given sender and
// pending-transaction table. The table must be the same one the
// inbound dispatcher signals.
func NewEngine(sender Sender, table *Table, sched Scheduler, cfg EngineConfig) *Engine {
	if sched == nil {
		sched = TimerScheduler{}
	}
	return &Engine{
		cfg:    cfg.withDefaults(),
		sender: sender,
		table:  table,
		sched:  sched,
		locks:  make(map[TargetID]*sync.Mutex),
	}
}

// SetLogger sets the engine's logger.
func (e *Engine) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	e.logger = logger
	e.loggerMu.Unlock()
}

// Table returns the engine's pending-transaction table, for wiring
// the dispatcher.
func (e *Engine) Table() *Table {
	return e.table
}

// Transact sends a logical UPB command to target and runs the full
// handshake.
//
// Stage A waits for the PIM to accept the framed packet (busy is
// retried after a fixed delay, reject is terminal, timeout consumes
// an attempt). Stage B waits for the remote acknowledgement: with an
// ack pulse requested an ack is success and a nak terminal failure;
// without one a nak is the expected outcome and an ack a terminal
// unexpected-response failure. Stage C, only when expectReport is
// set, waits for a data report from the addressed device and returns
// its argument bytes.
//
// The pending-table entry for target is cleared on every exit path.
//
// Parameters:
//   - target: logical link (network + unit or link ID)
//   - ack: acknowledgement flags for the control word
//   - messageDataID: combined MSID/MID opcode
//   - args: 0-16 argument bytes
//   - expectReport: whether Stage C applies
//
// Returns:
//   - []byte: report arguments when expectReport is set, else nil
//   - error: nil on success; upb.ErrEncoding for invalid input;
//     ErrRejected, ErrAckMismatch, ErrReportMismatch or ErrMaxRetries
//     otherwise
func (e *Engine) Transact(target TargetID, ack upb.AckFlags, messageDataID byte, args []byte, expectReport bool) ([]byte, error) {
	packetLen := len(args) + 7 // header + MDID + checksum
	cw, err := upb.BuildControlWord(target.Link, packetLen, 0, e.nextSeq(), ack)
	if err != nil {
		return nil, err
	}

	raw, err := upb.Encode(cw, int(target.NetworkID), int(target.UnitID), int(e.cfg.SourceID), int(messageDataID), args)
	if err != nil {
		return nil, err
	}
	framed := FrameTransmit(raw)

	lock := e.lockFor(target)
	lock.Lock()
	defer lock.Unlock()
	defer e.table.Close(target)

	for attempt := 1; attempt <= e.cfg.MaxRetry; attempt++ {
		p := e.table.Open(target)

		if err := e.sender.Send(framed); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		// Stage A: PIM acceptance.
		resp, ok := waitMessage(p.pimResp, e.cfg.MaxProcessingTime)
		if !ok {
			e.logDebug("stage A timeout", "target", target.String(), "attempt", attempt)
			continue
		}
		switch resp {
		case MessageBusy:
			e.logDebug("pim busy", "target", target.String(), "attempt", attempt)
			e.sleep(e.cfg.RetryDelay)
			continue
		case MessageReject:
			return nil, fmt.Errorf("%w: target %s", ErrRejected, target)
		case MessageAccept:
			// Proceed to Stage B.
		default:
			continue
		}

		// Stage B: remote acknowledgement.
		remote, ok := waitMessage(p.remote, e.cfg.MaxProcessingTime)
		if !ok {
			e.logDebug("stage B timeout", "target", target.String(), "attempt", attempt)
			continue
		}
		if ack.Pulse {
			if remote == MessageNak {
				return nil, fmt.Errorf("%w: device did not acknowledge", ErrAckMismatch)
			}
		} else if remote == MessageAck {
			return nil, fmt.Errorf("%w: unexpected ack pulse", ErrAckMismatch)
		}

		if !expectReport {
			return nil, nil
		}

		// Stage C: data report.
		pkt, ok := waitPacket(p.report, e.cfg.MaxProcessingTime)
		if !ok {
			e.logDebug("stage C timeout", "target", target.String(), "attempt", attempt)
			continue
		}
		if pkt.NetworkID != target.NetworkID || pkt.SourceID != target.UnitID {
			return nil, fmt.Errorf("%w: report from %d/%d, expected %s",
				ErrReportMismatch, pkt.NetworkID, pkt.SourceID, target)
		}
		return pkt.Arguments, nil
	}

	return nil, fmt.Errorf("%w: %d attempts against %s", ErrMaxRetries, e.cfg.MaxRetry, target)
}

// Well-known PIM setup register addresses.
const (
	// RegisterNetworkID holds the network ID the PIM transmits on.
	RegisterNetworkID byte = 0x00

	// RegisterUnitID holds the PIM's own unit address.
	RegisterUnitID byte = 0x01

	// RegisterPIMOptions selects the PIM's reporting mode. Writing
	// 0x02 puts the PIM in message mode, which this engine requires.
	RegisterPIMOptions byte = 0x70
)

// WriteRegister writes values to a PIM register. The register
// protocol is two-stage: only the PIM's accept/busy/reject applies;
// there is no remote device to acknowledge.
func (e *Engine) WriteRegister(register byte, values []byte) error {
	framed, err := FrameRegisterWrite(register, values)
	if err != nil {
		return err
	}

	_, err = e.registerTransaction(framed, func(*pending) ([]byte, bool, error) {
		return nil, true, nil
	})
	return err
}

// ReadRegister reads count bytes starting at register and validates
// the returned register identity and length against the request.
func (e *Engine) ReadRegister(register byte, count int) ([]byte, error) {
	framed, err := FrameRegisterRead(register, count)
	if err != nil {
		return nil, err
	}

	return e.registerTransaction(framed, func(p *pending) ([]byte, bool, error) {
		payload, ok := waitBytes(p.register, e.cfg.MaxProcessingTime)
		if !ok {
			return nil, false, nil // timeout, retry the attempt
		}
		if len(payload) < 1 || payload[0] != register {
			return nil, true, fmt.Errorf("%w: got register 0x%02X, want 0x%02X",
				ErrRegisterMismatch, first(payload), register)
		}
		if len(payload)-1 != count {
			return nil, true, fmt.Errorf("%w: got %d bytes, want %d",
				ErrRegisterMismatch, len(payload)-1, count)
		}
		return payload[1:], true, nil
	})
}

// registerTransaction runs the shared two-stage register skeleton:
// Stage A against the PIM, then a caller-supplied completion step.
// complete returns (payload, done, err); done=false retries the
// attempt.
func (e *Engine) registerTransaction(framed []byte, complete func(*pending) ([]byte, bool, error)) ([]byte, error) {
	lock := e.lockFor(pimTarget)
	lock.Lock()
	defer lock.Unlock()
	defer e.table.Close(pimTarget)

	for attempt := 1; attempt <= e.cfg.MaxRetry; attempt++ {
		p := e.table.Open(pimTarget)

		if err := e.sender.Send(framed); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		resp, ok := waitMessage(p.pimResp, e.cfg.MaxProcessingTime)
		if !ok {
			continue
		}
		switch resp {
		case MessageBusy:
			e.sleep(e.cfg.RetryDelay)
			continue
		case MessageReject:
			return nil, fmt.Errorf("%w: register transaction", ErrRejected)
		case MessageAccept:
		default:
			continue
		}

		payload, done, err := complete(p)
		if !done {
			continue
		}
		return payload, err
	}

	return nil, fmt.Errorf("%w: %d attempts against PIM registers", ErrMaxRetries, e.cfg.MaxRetry)
}

// RemoveTarget drops the per-target lock and any pending entry for a
// target that is no longer registered. Callers must ensure no
// transaction against the target is in flight.
func (e *Engine) RemoveTarget(target TargetID) {
	e.locksMu.Lock()
	delete(e.locks, target)
	e.locksMu.Unlock()

	e.table.Close(target)
}

// lockFor returns the mutex serialising transactions against target,
// creating it on first use.
func (e *Engine) lockFor(target TargetID) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	if m, ok := e.locks[target]; ok {
		return m
	}
	m := &sync.Mutex{}
	e.locks[target] = m
	return m
}

// nextSeq rotates the 2-bit control-word sequence number.
func (e *Engine) nextSeq() int {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	e.seq = (e.seq + 1) % 4
	return e.seq
}

// sleep blocks for d via the scheduler so back-off timing stays on
// the injected clock.
func (e *Engine) sleep(d time.Duration) {
	done := make(chan struct{})
	e.sched.ScheduleAfter(d, func() { close(done) })
	<-done
}

func (e *Engine) logDebug(msg string, keysAndValues ...any) {
	e.loggerMu.RLock()
	logger := e.logger
	e.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// waitMessage performs one bounded receive on a stage channel.
func waitMessage(ch chan MessageType, timeout time.Duration) (MessageType, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case mt := <-ch:
		return mt, true
	case <-timer.C:
		return MessageUnknown, false
	}
}

func waitPacket(ch chan upb.Packet, timeout time.Duration) (upb.Packet, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p := <-ch:
		return p, true
	case <-timer.C:
		return upb.Packet{}, false
	}
}

func waitBytes(ch chan []byte, timeout time.Duration) ([]byte, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case b := <-ch:
		return b, true
	case <-timer.C:
		return nil, false
	}
}

func first(b []byte) byte {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}
