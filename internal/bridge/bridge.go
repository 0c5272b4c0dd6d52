package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hollandpark/upb-bridge/internal/infrastructure/mqtt"
	"github.com/hollandpark/upb-bridge/internal/pim"
	"github.com/hollandpark/upb-bridge/internal/upb"
)

// Bridge operation constants.
const (
	// commandQoS is the QoS used for command subscriptions and responses.
	commandQoS byte = 1

	// recordTimeout bounds each event history insert.
	recordTimeout = 5 * time.Second

	// maxLevel is the highest goto level (percent).
	maxLevel = 100
)

// Bridge translates between MQTT and the powerline. It handles:
//   - Receiving commands over MQTT and running them as PIM transactions
//   - Forwarding unsolicited powerline traffic to MQTT event topics
//   - Persisting observed events and reporting health
//
// It implements pim.NotificationSink for the dispatcher's unsolicited
// report path.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt      MQTTClient
	engine    Transactor
	transport StatsSource
	events    EventRecorder // optional
	metrics   MetricsWriter // optional
	health    *HealthReporter
	topics    mqtt.Topics

	networkID byte

	// Shutdown coordination
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the narrow logging interface the bridge consumes.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Transactor runs powerline transactions. Satisfied by *pim.Engine.
type Transactor interface {
	Transact(target pim.TargetID, ack upb.AckFlags, messageDataID byte, args []byte, expectReport bool) ([]byte, error)
}

// StatsSource exposes the PIM transport's connection state and
// counters. Satisfied by *pim.Client. Optional; when nil the health
// reporter treats the PIM as disconnected.
type StatsSource interface {
	IsConnected() bool
	Stats() pim.TransportStats
}

// EventRecorder persists observed powerline events. Satisfied by
// *EventStore. Optional; when nil events are published but not stored.
type EventRecorder interface {
	RecordLinkEvent(ctx context.Context, networkID, sourceID, linkID byte, activated bool) error
	RecordDeviceReport(ctx context.Context, networkID, sourceID, destinationID byte, args []byte) error
}

// MetricsWriter records time-series metrics. Satisfied by
// *influxdb.Client. Optional; when nil no metrics are written.
type MetricsWriter interface {
	WriteTransactionMetric(target string, outcome string, duration time.Duration)
	WriteLinkEvent(networkID, sourceID, linkID byte, activated bool)
	WriteDeviceReport(networkID, sourceID byte, level int)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// MQTT is the MQTT client. Required.
	MQTT MQTTClient

	// Engine runs powerline transactions. Required.
	Engine Transactor

	// Transport provides PIM connection state for health reporting.
	Transport StatsSource

	// Events is the optional event history store.
	Events EventRecorder

	// Metrics is the optional time-series writer.
	Metrics MetricsWriter

	// NetworkID is the default UPB network for commands that omit one.
	NetworkID byte

	// PIMAddress is the PIM's host:port, reported in health messages.
	PIMAddress string

	// Version is the bridge software version for health messages.
	Version string

	// HealthInterval is how often to publish health status.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// Logger is the optional structured logger.
	Logger Logger
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("transaction engine is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		mqtt:      opts.MQTT,
		engine:    opts.Engine,
		transport: opts.Transport,
		events:    opts.Events,
		metrics:   opts.Metrics,
		networkID: opts.NetworkID,
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:    opts.Version,
		Interval:   opts.HealthInterval,
		Publisher:  opts.MQTT,
		Transport:  opts.Transport,
		PIMAddress: opts.PIMAddress,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to the command topics and begins health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	subscriptions := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{b.topics.CommandTransmit(), b.handleTransmit},
		{b.topics.CommandLinkActivate(), b.handleLinkActivate},
		{b.topics.CommandLinkDeactivate(), b.handleLinkDeactivate},
		{b.topics.CommandDeviceGoto(), b.handleDeviceGoto},
		{b.topics.CommandReportState(), b.handleReportState},
	}
	for _, sub := range subscriptions {
		if err := b.mqtt.Subscribe(sub.topic, commandQoS, sub.handler); err != nil {
			return fmt.Errorf("subscribe to %s: %w", sub.topic, err)
		}
	}
	b.logInfo("subscribed to commands", "topics", len(subscriptions))

	b.health.Start(ctx)

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started", "network_id", b.networkID)
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		// Cancel bridge context to abort in-flight history writes
		b.ctxCancel()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		// Wait for pending command executions
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// Health returns the bridge's health reporter, used during wiring to
// configure the MQTT will message.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// =============================================================================
// Command handlers (MQTT → powerline)
// =============================================================================

// handleTransmit processes a raw transmit command.
func (b *Bridge) handleTransmit(topic string, payload []byte) error {
	var cmd TransmitCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.respondError("", ErrCodeInvalidParameters, fmt.Sprintf("parse command: %v", err))
		return nil
	}
	cmd.ID = ensureID(cmd.ID)

	if err := validateAddress(cmd.NetworkID, cmd.DestinationID); err != nil {
		b.respondError(cmd.ID, ErrCodeInvalidParameters, err.Error())
		return nil
	}
	if cmd.MessageDataID < 0 || cmd.MessageDataID > 255 {
		b.respondError(cmd.ID, ErrCodeInvalidParameters, "mdid must be 0-255")
		return nil
	}
	args, err := DecodeArguments(cmd.Arguments)
	if err != nil {
		b.respondError(cmd.ID, ErrCodeInvalidParameters, err.Error())
		return nil
	}

	b.logInfo("received transmit command",
		"command_id", cmd.ID,
		"network_id", cmd.NetworkID,
		"destination_id", cmd.DestinationID,
		"link", cmd.Link,
		"mdid", cmd.MessageDataID)

	target := pim.TargetID{
		NetworkID: byte(cmd.NetworkID),
		UnitID:    byte(cmd.DestinationID),
		Link:      cmd.Link,
	}
	ack := upb.AckFlags{
		Pulse:   cmd.Ack.Pulse,
		Message: cmd.Ack.Message,
		IDPulse: cmd.Ack.IDPulse,
	}

	b.execute(cmd.ID, target, ack, byte(cmd.MessageDataID), args, cmd.ExpectReport, nil)
	return nil
}

// handleLinkActivate processes a link activation command.
func (b *Bridge) handleLinkActivate(topic string, payload []byte) error {
	return b.handleLinkCommand(payload, upb.MDIDActivateLink)
}

// handleLinkDeactivate processes a link deactivation command.
func (b *Bridge) handleLinkDeactivate(topic string, payload []byte) error {
	return b.handleLinkCommand(payload, upb.MDIDDeactivateLink)
}

// handleLinkCommand runs a link activate or deactivate transaction.
// Link transmissions are one-to-many, so no acknowledgement pulse is
// requested and a silent bus is the expected outcome.
func (b *Bridge) handleLinkCommand(payload []byte, messageDataID byte) error {
	var cmd LinkCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.respondError("", ErrCodeInvalidParameters, fmt.Sprintf("parse command: %v", err))
		return nil
	}
	cmd.ID = ensureID(cmd.ID)

	networkID := b.resolveNetwork(cmd.NetworkID)
	if err := validateAddress(networkID, cmd.LinkID); err != nil {
		b.respondError(cmd.ID, ErrCodeInvalidParameters, err.Error())
		return nil
	}

	b.logInfo("received link command",
		"command_id", cmd.ID,
		"network_id", networkID,
		"link_id", cmd.LinkID,
		"mdid", messageDataID)

	target := pim.TargetID{NetworkID: byte(networkID), UnitID: byte(cmd.LinkID), Link: true}
	b.execute(cmd.ID, target, upb.AckFlags{}, messageDataID, nil, false, nil)
	return nil
}

// handleDeviceGoto processes a device goto command.
func (b *Bridge) handleDeviceGoto(topic string, payload []byte) error {
	var cmd GotoCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.respondError("", ErrCodeInvalidParameters, fmt.Sprintf("parse command: %v", err))
		return nil
	}
	cmd.ID = ensureID(cmd.ID)

	networkID := b.resolveNetwork(cmd.NetworkID)
	if err := validateAddress(networkID, cmd.UnitID); err != nil {
		b.respondError(cmd.ID, ErrCodeInvalidParameters, err.Error())
		return nil
	}
	if cmd.Level < 0 || cmd.Level > maxLevel {
		b.respondError(cmd.ID, ErrCodeInvalidParameters,
			fmt.Sprintf("level must be 0-%d, got %d", maxLevel, cmd.Level))
		return nil
	}

	args := []byte{byte(cmd.Level)}
	if cmd.FadeRate != nil {
		if *cmd.FadeRate < 0 || *cmd.FadeRate > 255 {
			b.respondError(cmd.ID, ErrCodeInvalidParameters, "fade_rate must be 0-255")
			return nil
		}
		args = append(args, byte(*cmd.FadeRate))
	}

	b.logInfo("received goto command",
		"command_id", cmd.ID,
		"network_id", networkID,
		"unit_id", cmd.UnitID,
		"level", cmd.Level)

	// Direct commands request an ack pulse so the transaction engine
	// can confirm the device acted on the message.
	target := pim.TargetID{NetworkID: byte(networkID), UnitID: byte(cmd.UnitID)}
	b.execute(cmd.ID, target, upb.AckFlags{Pulse: true}, upb.MDIDGoto, args, false, nil)
	return nil
}

// handleReportState processes a state report request.
func (b *Bridge) handleReportState(topic string, payload []byte) error {
	var cmd ReportStateCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.respondError("", ErrCodeInvalidParameters, fmt.Sprintf("parse command: %v", err))
		return nil
	}
	cmd.ID = ensureID(cmd.ID)

	networkID := b.resolveNetwork(cmd.NetworkID)
	if err := validateAddress(networkID, cmd.UnitID); err != nil {
		b.respondError(cmd.ID, ErrCodeInvalidParameters, err.Error())
		return nil
	}

	b.logInfo("received report_state command",
		"command_id", cmd.ID,
		"network_id", networkID,
		"unit_id", cmd.UnitID)

	target := pim.TargetID{NetworkID: byte(networkID), UnitID: byte(cmd.UnitID)}
	b.execute(cmd.ID, target, upb.AckFlags{}, upb.MDIDReportState, nil, true, reportData)
	return nil
}

// reportData shapes a state report's argument bytes into response data.
func reportData(report []byte) map[string]any {
	data := map[string]any{
		"arguments": EncodeArguments(report),
	}
	if len(report) > 0 {
		data["level"] = int(report[0])
	}
	return data
}

// execute runs a transaction asynchronously and publishes the response.
// shape, when non-nil, converts the returned report bytes into
// response data.
func (b *Bridge) execute(requestID string, target pim.TargetID, ack upb.AckFlags, messageDataID byte, args []byte, expectReport bool, shape func([]byte) map[string]any) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		start := time.Now()
		report, err := b.engine.Transact(target, ack, messageDataID, args, expectReport)
		duration := time.Since(start)

		outcome := outcomeFor(err)
		if b.metrics != nil {
			b.metrics.WriteTransactionMetric(target.String(), outcome, duration)
		}

		if err != nil {
			b.logError("transaction failed", err)
			b.respondError(requestID, codeFor(err), err.Error())
			return
		}

		var data map[string]any
		if shape != nil {
			data = shape(report)
		} else if expectReport {
			data = map[string]any{"report": EncodeArguments(report)}
		}
		b.respond(NewResponse(requestID, data))
	}()
}

// respondError publishes a failed response. An empty request ID means the
// command could not even be parsed; a fresh ID is generated so the
// failure is still observable.
func (b *Bridge) respondError(requestID, code, message string) {
	b.respond(NewErrorResponse(ensureID(requestID), code, message))

	b.logError("command failed",
		fmt.Errorf("code=%s message=%s", code, message))
}

// respond publishes a response message.
func (b *Bridge) respond(resp ResponseMessage) {
	payload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Response(resp.RequestID), payload, commandQoS, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

// =============================================================================
// Notification sink (powerline → MQTT)
// =============================================================================

// OnLinkEvent publishes and records a link activation or deactivation
// observed on the powerline.
func (b *Bridge) OnLinkEvent(networkID, sourceID, linkID byte, activated bool) {
	state := "deactivated"
	if activated {
		state = "activated"
	}

	msg := LinkEventMessage{
		Timestamp: time.Now().UTC(),
		NetworkID: int(networkID),
		SourceID:  int(sourceID),
		LinkID:    int(linkID),
		State:     state,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal link event", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.LinkEvent(linkID), payload, commandQoS, false); err != nil {
		b.logError("failed to publish link event", err)
	}

	if b.events != nil {
		ctx, cancel := context.WithTimeout(b.ctx, recordTimeout)
		defer cancel()
		if err := b.events.RecordLinkEvent(ctx, networkID, sourceID, linkID, activated); err != nil {
			b.logError("failed to record link event", err)
		}
	}

	if b.metrics != nil {
		b.metrics.WriteLinkEvent(networkID, sourceID, linkID, activated)
	}
}

// OnDeviceReport publishes and records an unsolicited device report.
// The event topic is retained so late subscribers see each device's
// last known report.
func (b *Bridge) OnDeviceReport(networkID, sourceID, destinationID byte, args []byte) {
	msg := DeviceEventMessage{
		Timestamp:     time.Now().UTC(),
		NetworkID:     int(networkID),
		SourceID:      int(sourceID),
		DestinationID: int(destinationID),
		Arguments:     EncodeArguments(args),
	}
	if len(args) > 0 {
		level := int(args[0])
		msg.Level = &level
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal device event", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.DeviceEvent(sourceID), payload, commandQoS, true); err != nil {
		b.logError("failed to publish device event", err)
	}

	if b.events != nil {
		ctx, cancel := context.WithTimeout(b.ctx, recordTimeout)
		defer cancel()
		if err := b.events.RecordDeviceReport(ctx, networkID, sourceID, destinationID, args); err != nil {
			b.logError("failed to record device report", err)
		}
	}

	if b.metrics != nil {
		level := 0
		if len(args) > 0 {
			level = int(args[0])
		}
		b.metrics.WriteDeviceReport(networkID, sourceID, level)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// resolveNetwork applies the bridge's default network for commands that
// omit one.
func (b *Bridge) resolveNetwork(networkID *int) int {
	if networkID == nil {
		return int(b.networkID)
	}
	return *networkID
}

// validateAddress checks a network/destination pair fits in bytes.
func validateAddress(networkID, destinationID int) error {
	if networkID < 0 || networkID > 255 {
		return fmt.Errorf("network_id must be 0-255, got %d", networkID)
	}
	if destinationID < 0 || destinationID > 255 {
		return fmt.Errorf("destination must be 0-255, got %d", destinationID)
	}
	return nil
}

// ensureID returns the ID unchanged, or a fresh UUID when empty.
func ensureID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// outcomeFor maps a transaction error to a metric outcome tag.
func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, pim.ErrRejected):
		return "rejected"
	case errors.Is(err, pim.ErrAckMismatch):
		return "ack_mismatch"
	case errors.Is(err, pim.ErrReportMismatch):
		return "report_mismatch"
	case errors.Is(err, pim.ErrMaxRetries):
		return "max_retries"
	case errors.Is(err, pim.ErrTransport):
		return "transport_error"
	default:
		return "error"
	}
}

// codeFor maps a transaction error to a response error code.
func codeFor(err error) string {
	switch {
	case errors.Is(err, pim.ErrRejected):
		return ErrCodeRejected
	case errors.Is(err, pim.ErrAckMismatch):
		return ErrCodeAckMismatch
	case errors.Is(err, pim.ErrReportMismatch):
		return ErrCodeReportMismatch
	case errors.Is(err, pim.ErrMaxRetries):
		return ErrCodeMaxRetries
	case errors.Is(err, pim.ErrTransport):
		return ErrCodeTransport
	case errors.Is(err, upb.ErrEncoding):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeBridgeError
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
