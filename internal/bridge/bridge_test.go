package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hollandpark/upb-bridge/internal/infrastructure/mqtt"
	"github.com/hollandpark/upb-bridge/internal/pim"
	"github.com/hollandpark/upb-bridge/internal/upb"
)

// publishRecord captures one Publish call.
type publishRecord struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakeMQTT records publishes and captures subscription handlers so
// tests can inject inbound messages.
type fakeMQTT struct {
	mu        sync.Mutex
	published []publishRecord
	handlers  map[string]mqtt.MessageHandler
	connected bool
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{
		handlers:  make(map[string]mqtt.MessageHandler),
		connected: true,
	}
}

func (f *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishRecord{topic, payload, qos, retained})
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeMQTT) IsConnected() bool { return f.connected }

// dispatch delivers a payload to the handler registered for topic.
func (f *fakeMQTT) dispatch(t *testing.T, topic string, payload string) {
	t.Helper()
	f.mu.Lock()
	handler, ok := f.handlers[topic]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no handler subscribed for %s", topic)
	}
	if err := handler(topic, []byte(payload)); err != nil {
		t.Fatalf("handler(%s) error = %v", topic, err)
	}
}

// find returns the first publish whose topic starts with prefix.
func (f *fakeMQTT) find(prefix string) (publishRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.published {
		if strings.HasPrefix(rec.topic, prefix) {
			return rec, true
		}
	}
	return publishRecord{}, false
}

// waitFor polls for a publish whose topic starts with prefix.
func (f *fakeMQTT) waitFor(t *testing.T, prefix string) publishRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := f.find(prefix); ok {
			return rec
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no publish to %s*", prefix)
	return publishRecord{}
}

// transactCall captures one Transact invocation.
type transactCall struct {
	target       pim.TargetID
	ack          upb.AckFlags
	mdid         byte
	args         []byte
	expectReport bool
}

// fakeTransactor records calls and returns a scripted result.
type fakeTransactor struct {
	mu     sync.Mutex
	calls  []transactCall
	report []byte
	err    error
}

func (f *fakeTransactor) Transact(target pim.TargetID, ack upb.AckFlags, messageDataID byte, args []byte, expectReport bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transactCall{target, ack, messageDataID, args, expectReport})
	return f.report, f.err
}

func (f *fakeTransactor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransactor) lastCall(t *testing.T) transactCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no Transact calls recorded")
	}
	return f.calls[len(f.calls)-1]
}

// recordedEvent captures one EventRecorder invocation.
type recordedEvent struct {
	kind          string
	networkID     byte
	sourceID      byte
	destinationID byte
	activated     bool
	args          []byte
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeRecorder) RecordLinkEvent(_ context.Context, networkID, sourceID, linkID byte, activated bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{"link", networkID, sourceID, linkID, activated, nil})
	return nil
}

func (f *fakeRecorder) RecordDeviceReport(_ context.Context, networkID, sourceID, destinationID byte, args []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{"report", networkID, sourceID, destinationID, false, args})
	return nil
}

type metricCall struct {
	kind    string
	target  string
	outcome string
}

type fakeMetrics struct {
	mu    sync.Mutex
	calls []metricCall
}

func (f *fakeMetrics) WriteTransactionMetric(target string, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, metricCall{"transaction", target, outcome})
}

func (f *fakeMetrics) WriteLinkEvent(networkID, sourceID, linkID byte, activated bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, metricCall{kind: "link"})
}

func (f *fakeMetrics) WriteDeviceReport(networkID, sourceID byte, level int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, metricCall{kind: "report"})
}

// newTestBridge builds a started bridge over fakes.
func newTestBridge(t *testing.T, fm *fakeMQTT, ft *fakeTransactor, opts ...func(*Options)) *Bridge {
	t.Helper()

	o := Options{
		MQTT:           fm,
		Engine:         ft,
		NetworkID:      12,
		Version:        "test",
		HealthInterval: time.Hour, // periodic reporting stays out of the way
	}
	for _, opt := range opts {
		opt(&o)
	}

	b, err := New(o)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func decodeResponse(t *testing.T, rec publishRecord) ResponseMessage {
	t.Helper()
	var resp ResponseMessage
	if err := json.Unmarshal(rec.payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{Engine: &fakeTransactor{}}); err == nil {
		t.Error("New() without MQTT client should fail")
	}
	if _, err := New(Options{MQTT: newFakeMQTT()}); err == nil {
		t.Error("New() without engine should fail")
	}
}

func TestStartSubscribesToCommands(t *testing.T) {
	fm := newFakeMQTT()
	newTestBridge(t, fm, &fakeTransactor{})

	topics := mqtt.Topics{}
	for _, topic := range []string{
		topics.CommandTransmit(),
		topics.CommandLinkActivate(),
		topics.CommandLinkDeactivate(),
		topics.CommandDeviceGoto(),
		topics.CommandReportState(),
	} {
		fm.mu.Lock()
		_, ok := fm.handlers[topic]
		fm.mu.Unlock()
		if !ok {
			t.Errorf("not subscribed to %s", topic)
		}
	}

	// Starting and healthy statuses are published on the health topic.
	if _, ok := fm.find(topics.Health()); !ok {
		t.Error("no health status published on start")
	}
}

func TestLinkActivateCommand(t *testing.T) {
	fm := newFakeMQTT()
	ft := &fakeTransactor{}
	newTestBridge(t, fm, ft)

	fm.dispatch(t, "upb/command/link/activate", `{"id":"cmd-1","link_id":5}`)

	resp := decodeResponse(t, fm.waitFor(t, "upb/response/cmd-1"))
	if !resp.Success {
		t.Fatalf("response not successful: %+v", resp.Error)
	}

	call := ft.lastCall(t)
	want := pim.TargetID{NetworkID: 12, UnitID: 5, Link: true}
	if call.target != want {
		t.Errorf("target = %v, want %v", call.target, want)
	}
	if call.mdid != upb.MDIDActivateLink {
		t.Errorf("mdid = %#x, want %#x", call.mdid, upb.MDIDActivateLink)
	}
	if call.ack.Pulse {
		t.Error("link command should not request an ack pulse")
	}
}

func TestLinkDeactivateUsesExplicitNetwork(t *testing.T) {
	fm := newFakeMQTT()
	ft := &fakeTransactor{}
	newTestBridge(t, fm, ft)

	fm.dispatch(t, "upb/command/link/deactivate", `{"id":"cmd-2","network_id":30,"link_id":9}`)

	resp := decodeResponse(t, fm.waitFor(t, "upb/response/cmd-2"))
	if !resp.Success {
		t.Fatalf("response not successful: %+v", resp.Error)
	}

	call := ft.lastCall(t)
	want := pim.TargetID{NetworkID: 30, UnitID: 9, Link: true}
	if call.target != want {
		t.Errorf("target = %v, want %v", call.target, want)
	}
	if call.mdid != upb.MDIDDeactivateLink {
		t.Errorf("mdid = %#x, want %#x", call.mdid, upb.MDIDDeactivateLink)
	}
}

func TestGotoCommand(t *testing.T) {
	fm := newFakeMQTT()
	ft := &fakeTransactor{}
	newTestBridge(t, fm, ft)

	fm.dispatch(t, "upb/command/device/goto",
		`{"id":"cmd-3","unit_id":7,"level":80,"fade_rate":2}`)

	resp := decodeResponse(t, fm.waitFor(t, "upb/response/cmd-3"))
	if !resp.Success {
		t.Fatalf("response not successful: %+v", resp.Error)
	}

	call := ft.lastCall(t)
	want := pim.TargetID{NetworkID: 12, UnitID: 7}
	if call.target != want {
		t.Errorf("target = %v, want %v", call.target, want)
	}
	if call.mdid != upb.MDIDGoto {
		t.Errorf("mdid = %#x, want %#x", call.mdid, upb.MDIDGoto)
	}
	if len(call.args) != 2 || call.args[0] != 80 || call.args[1] != 2 {
		t.Errorf("args = %v, want [80 2]", call.args)
	}
	if !call.ack.Pulse {
		t.Error("goto should request an ack pulse")
	}
}

func TestGotoCommandRejectsBadLevel(t *testing.T) {
	fm := newFakeMQTT()
	ft := &fakeTransactor{}
	newTestBridge(t, fm, ft)

	fm.dispatch(t, "upb/command/device/goto", `{"id":"cmd-4","unit_id":7,"level":150}`)

	resp := decodeResponse(t, fm.waitFor(t, "upb/response/cmd-4"))
	if resp.Success {
		t.Fatal("out-of-range level should fail")
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidParameters {
		t.Errorf("error = %+v, want code %s", resp.Error, ErrCodeInvalidParameters)
	}
	if ft.callCount() != 0 {
		t.Errorf("Transact calls = %d, want 0", ft.callCount())
	}
}

func TestReportStateCommand(t *testing.T) {
	fm := newFakeMQTT()
	ft := &fakeTransactor{report: []byte{0x55, 0x01}}
	newTestBridge(t, fm, ft)

	fm.dispatch(t, "upb/command/device/report_state", `{"id":"cmd-5","unit_id":7}`)

	resp := decodeResponse(t, fm.waitFor(t, "upb/response/cmd-5"))
	if !resp.Success {
		t.Fatalf("response not successful: %+v", resp.Error)
	}
	if resp.Data["arguments"] != "5501" {
		t.Errorf("arguments = %v, want 5501", resp.Data["arguments"])
	}
	if level, ok := resp.Data["level"].(float64); !ok || level != 0x55 {
		t.Errorf("level = %v, want %d", resp.Data["level"], 0x55)
	}

	call := ft.lastCall(t)
	if call.mdid != upb.MDIDReportState {
		t.Errorf("mdid = %#x, want %#x", call.mdid, upb.MDIDReportState)
	}
	if !call.expectReport {
		t.Error("report_state should expect a report")
	}
}

func TestTransmitCommand(t *testing.T) {
	fm := newFakeMQTT()
	ft := &fakeTransactor{report: []byte{0x64}}
	newTestBridge(t, fm, ft)

	fm.dispatch(t, "upb/command/transmit",
		`{"id":"cmd-6","network_id":30,"destination_id":8,"mdid":48,"arguments":"FF01","ack":{"pulse":true},"expect_report":true}`)

	resp := decodeResponse(t, fm.waitFor(t, "upb/response/cmd-6"))
	if !resp.Success {
		t.Fatalf("response not successful: %+v", resp.Error)
	}
	if resp.Data["report"] != "64" {
		t.Errorf("report = %v, want 64", resp.Data["report"])
	}

	call := ft.lastCall(t)
	want := pim.TargetID{NetworkID: 30, UnitID: 8}
	if call.target != want {
		t.Errorf("target = %v, want %v", call.target, want)
	}
	if call.mdid != 48 {
		t.Errorf("mdid = %d, want 48", call.mdid)
	}
	if len(call.args) != 2 || call.args[0] != 0xFF || call.args[1] != 0x01 {
		t.Errorf("args = %v, want [255 1]", call.args)
	}
	if !call.ack.Pulse {
		t.Error("ack pulse flag not carried through")
	}
	if !call.expectReport {
		t.Error("expect_report flag not carried through")
	}
}

func TestTransactionErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"rejected", pim.ErrRejected, ErrCodeRejected},
		{"ack mismatch", pim.ErrAckMismatch, ErrCodeAckMismatch},
		{"report mismatch", pim.ErrReportMismatch, ErrCodeReportMismatch},
		{"max retries", pim.ErrMaxRetries, ErrCodeMaxRetries},
		{"transport", pim.ErrTransport, ErrCodeTransport},
		{"encoding", upb.ErrEncoding, ErrCodeInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm := newFakeMQTT()
			ft := &fakeTransactor{err: tt.err}
			newTestBridge(t, fm, ft)

			fm.dispatch(t, "upb/command/link/activate", `{"id":"cmd-err","link_id":1}`)

			resp := decodeResponse(t, fm.waitFor(t, "upb/response/cmd-err"))
			if resp.Success {
				t.Fatal("failed transaction should produce a failed response")
			}
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %s", resp.Error, tt.code)
			}
		})
	}
}

func TestMalformedCommandStillResponds(t *testing.T) {
	fm := newFakeMQTT()
	ft := &fakeTransactor{}
	newTestBridge(t, fm, ft)

	fm.dispatch(t, "upb/command/device/goto", `{not json`)

	// A fresh request ID is generated so the failure is observable.
	resp := decodeResponse(t, fm.waitFor(t, "upb/response/"))
	if resp.Success {
		t.Fatal("malformed command should fail")
	}
	if resp.RequestID == "" {
		t.Error("response missing generated request ID")
	}
	if ft.callCount() != 0 {
		t.Errorf("Transact calls = %d, want 0", ft.callCount())
	}
}

func TestCommandIDGeneratedWhenOmitted(t *testing.T) {
	fm := newFakeMQTT()
	ft := &fakeTransactor{}
	newTestBridge(t, fm, ft)

	fm.dispatch(t, "upb/command/link/activate", `{"link_id":3}`)

	resp := decodeResponse(t, fm.waitFor(t, "upb/response/"))
	if !resp.Success {
		t.Fatalf("response not successful: %+v", resp.Error)
	}
	if resp.RequestID == "" {
		t.Error("response missing generated request ID")
	}
}

func TestOnLinkEvent(t *testing.T) {
	fm := newFakeMQTT()
	rec := &fakeRecorder{}
	metrics := &fakeMetrics{}
	b := newTestBridge(t, fm, &fakeTransactor{}, func(o *Options) {
		o.Events = rec
		o.Metrics = metrics
	})

	b.OnLinkEvent(12, 7, 5, true)

	pub := fm.waitFor(t, "upb/event/link/5")
	if pub.retained {
		t.Error("link events should not be retained")
	}
	var msg LinkEventMessage
	if err := json.Unmarshal(pub.payload, &msg); err != nil {
		t.Fatalf("unmarshal link event: %v", err)
	}
	if msg.NetworkID != 12 || msg.SourceID != 7 || msg.LinkID != 5 {
		t.Errorf("event = %+v", msg)
	}
	if msg.State != "activated" {
		t.Errorf("state = %q, want activated", msg.State)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 || rec.events[0].kind != "link" || !rec.events[0].activated {
		t.Errorf("recorded events = %+v", rec.events)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.calls) != 1 || metrics.calls[0].kind != "link" {
		t.Errorf("metric calls = %+v", metrics.calls)
	}
}

func TestOnDeviceReport(t *testing.T) {
	fm := newFakeMQTT()
	rec := &fakeRecorder{}
	b := newTestBridge(t, fm, &fakeTransactor{}, func(o *Options) {
		o.Events = rec
	})

	b.OnDeviceReport(12, 7, 0xFF, []byte{0x64, 0x02})

	pub := fm.waitFor(t, "upb/event/device/7")
	if !pub.retained {
		t.Error("device reports should be retained")
	}
	var msg DeviceEventMessage
	if err := json.Unmarshal(pub.payload, &msg); err != nil {
		t.Fatalf("unmarshal device event: %v", err)
	}
	if msg.Arguments != "6402" {
		t.Errorf("arguments = %q, want 6402", msg.Arguments)
	}
	if msg.Level == nil || *msg.Level != 0x64 {
		t.Errorf("level = %v, want %d", msg.Level, 0x64)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 || rec.events[0].kind != "report" {
		t.Errorf("recorded events = %+v", rec.events)
	}
	if rec.events[0].destinationID != 0xFF {
		t.Errorf("destination = %d, want 255", rec.events[0].destinationID)
	}
}

func TestTransactionMetricOutcome(t *testing.T) {
	fm := newFakeMQTT()
	ft := &fakeTransactor{err: pim.ErrMaxRetries}
	metrics := &fakeMetrics{}
	newTestBridge(t, fm, ft, func(o *Options) {
		o.Metrics = metrics
	})

	fm.dispatch(t, "upb/command/link/activate", `{"id":"cmd-m","link_id":1}`)
	fm.waitFor(t, "upb/response/cmd-m")

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.calls) != 1 {
		t.Fatalf("metric calls = %d, want 1", len(metrics.calls))
	}
	if metrics.calls[0].outcome != "max_retries" {
		t.Errorf("outcome = %q, want max_retries", metrics.calls[0].outcome)
	}
}
