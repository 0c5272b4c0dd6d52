package pim

import (
	"sync"
	"sync/atomic"

	"github.com/hollandpark/upb-bridge/internal/upb"
)

// NotificationSink receives decoded bus events that no transaction
// was waiting on. Implementations are invoked asynchronously (via the
// Scheduler) and may themselves issue outbound calls.
type NotificationSink interface {
	// OnLinkEvent reports a link (scene) activation or deactivation
	// observed on the powerline.
	OnLinkEvent(networkID, sourceID, linkID byte, activated bool)

	// OnDeviceReport reports a device's state or status report.
	OnDeviceReport(networkID, sourceID, destinationID byte, args []byte)
}

// DispatcherStats holds counters for the inbound path.
type DispatcherStats struct {
	FramesIn        uint64
	FramesMalformed uint64
	ReportsMatched  uint64 // reports consumed by a waiting transaction
	ReportsForwarded uint64 // reports forwarded to the notification sink
	Dropped         uint64 // unsolicited responses with no pending entry
}

// Dispatcher routes inbound frames either to a waiting transaction
// stage or to the notification sink. It runs on the transport's
// single receive goroutine and never blocks: stage signalling is
// non-blocking and sink dispatch is deferred through the scheduler.
type Dispatcher struct {
	table *Table
	sink  NotificationSink
	sched Scheduler

	framesIn         atomic.Uint64
	framesMalformed  atomic.Uint64
	reportsMatched   atomic.Uint64
	reportsForwarded atomic.Uint64
	dropped          atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewDispatcher creates a dispatcher over the shared
// pending-transaction table. sink may be nil, in which case
// unsolicited reports are counted and dropped.
func NewDispatcher(table *Table, sink NotificationSink, sched Scheduler) *Dispatcher {
	if sched == nil {
		sched = TimerScheduler{}
	}
	return &Dispatcher{table: table, sink: sink, sched: sched}
}

// SetLogger sets the dispatcher's logger.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

// OnFrame handles one raw inbound frame (terminator included).
// Malformed frames are logged and dropped; they never propagate as
// errors to the transport layer and never corrupt a pending entry;
// matching is always by explicit addressing, never arrival order
// alone.
func (d *Dispatcher) OnFrame(raw []byte) {
	d.framesIn.Add(1)

	mt, payload, err := Unframe(raw)
	if err != nil {
		d.framesMalformed.Add(1)
		d.logWarn("dropping malformed frame", "error", err)
		return
	}

	switch mt {
	case MessageAccept, MessageBusy, MessageReject:
		if !d.table.SignalPIMResponse(mt) {
			d.dropped.Add(1)
			d.logDebug("unsolicited PIM response discarded", "type", mt.String())
		}
	case MessageAck, MessageNak:
		if !d.table.SignalRemote(mt) {
			d.dropped.Add(1)
			d.logDebug("unsolicited acknowledgement discarded", "type", mt.String())
		}
	case MessageRegisterReport:
		if !d.table.SignalRegisterReport(payload) {
			d.dropped.Add(1)
			d.logDebug("register report with no waiter discarded")
		}
	case MessageReport:
		d.handleReport(payload)
	default:
		d.framesMalformed.Add(1)
		d.logWarn("unknown frame type discarded", "frame", string(raw))
	}
}

// handleReport decodes a PU payload and either satisfies a waiting
// Stage C or schedules classification and sink dispatch. Scheduling
// is mandatory: classification may itself invoke outbound calls that
// would deadlock if run synchronously on the receive path while a
// per-target lock is held.
func (d *Dispatcher) handleReport(payload []byte) {
	pkt, err := upb.Decode(payload)
	if err != nil {
		d.framesMalformed.Add(1)
		d.logWarn("dropping malformed report packet", "error", err)
		return
	}

	if d.table.SignalReport(pkt) {
		d.reportsMatched.Add(1)
		return
	}

	d.sched.ScheduleAfter(0, func() { d.forwardReport(pkt) })
}

// forwardReport classifies an unsolicited report and hands it to the
// notification sink. Runs off the receive path.
func (d *Dispatcher) forwardReport(pkt upb.Packet) {
	if d.sink == nil {
		d.dropped.Add(1)
		return
	}

	label := upb.ClassifyPacket(pkt)

	switch {
	case pkt.Control.IsLink() && pkt.MessageDataID == upb.MDIDActivateLink:
		d.reportsForwarded.Add(1)
		d.sink.OnLinkEvent(pkt.NetworkID, pkt.SourceID, pkt.DestinationID, true)
	case pkt.Control.IsLink() && pkt.MessageDataID == upb.MDIDDeactivateLink:
		d.reportsForwarded.Add(1)
		d.sink.OnLinkEvent(pkt.NetworkID, pkt.SourceID, pkt.DestinationID, false)
	case label.Class == upb.ClassCoreReport || label.Class == upb.ClassDeviceControl:
		d.reportsForwarded.Add(1)
		d.sink.OnDeviceReport(pkt.NetworkID, pkt.SourceID, pkt.DestinationID, pkt.Arguments)
	default:
		d.dropped.Add(1)
		d.logDebug("report outside sink taxonomy discarded",
			"class", label.Class.String(), "name", label.Name)
	}
}

// Stats returns current dispatch counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		FramesIn:         d.framesIn.Load(),
		FramesMalformed:  d.framesMalformed.Load(),
		ReportsMatched:   d.reportsMatched.Load(),
		ReportsForwarded: d.reportsForwarded.Load(),
		Dropped:          d.dropped.Load(),
	}
}

func (d *Dispatcher) logDebug(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logWarn(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
