package bridge

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// MQTT message types exchanged between home-automation controllers and
// the UPB bridge. Commands arrive on upb/command/... topics; the bridge
// answers each on upb/response/{id} and publishes bus traffic it
// observes on upb/event/... topics.

// AckSpec selects the acknowledgement behaviour for a raw transmit.
type AckSpec struct {
	// Pulse requests an acknowledgement pulse from the receiving
	// device. The transaction fails if the device stays silent.
	Pulse bool `json:"pulse"`

	// Message requests a full acknowledgement response message.
	Message bool `json:"message"`

	// IDPulse requests an ID pulse.
	IDPulse bool `json:"id_pulse"`
}

// TransmitCommand is a raw powerline transmission request.
// Topic: upb/command/transmit
type TransmitCommand struct {
	// ID uniquely identifies this command for correlation with the response.
	// Generated by the bridge when omitted.
	ID string `json:"id"`

	// NetworkID is the UPB network to address (0-255).
	NetworkID int `json:"network_id"`

	// DestinationID is the device or link ID to address (0-255).
	DestinationID int `json:"destination_id"`

	// Link selects link (scene) addressing instead of direct addressing.
	Link bool `json:"link"`

	// MessageDataID is the combined message set and message ID (0-255).
	MessageDataID int `json:"mdid"`

	// Arguments carries 0-16 argument bytes as uppercase hex (e.g. "64FF").
	Arguments string `json:"arguments,omitempty"`

	// Ack selects the acknowledgement flags for the control word.
	Ack AckSpec `json:"ack"`

	// ExpectReport requests that the bridge wait for a data report from
	// the addressed device and return its argument bytes.
	ExpectReport bool `json:"expect_report"`
}

// LinkCommand activates or deactivates a link (scene).
// Topics: upb/command/link/activate, upb/command/link/deactivate
type LinkCommand struct {
	// ID uniquely identifies this command for correlation with the response.
	ID string `json:"id"`

	// NetworkID is the UPB network to address (0-255).
	// Defaults to the bridge's configured network when omitted.
	NetworkID *int `json:"network_id,omitempty"`

	// LinkID is the link to activate or deactivate (0-255).
	LinkID int `json:"link_id"`
}

// GotoCommand drives a device to a level, optionally over a fade.
// Topic: upb/command/device/goto
type GotoCommand struct {
	// ID uniquely identifies this command for correlation with the response.
	ID string `json:"id"`

	// NetworkID is the UPB network to address (0-255).
	// Defaults to the bridge's configured network when omitted.
	NetworkID *int `json:"network_id,omitempty"`

	// UnitID is the device to address (1-255).
	UnitID int `json:"unit_id"`

	// Level is the target level (0-100).
	Level int `json:"level"`

	// FadeRate is the optional fade rate code (0-255). When nil the
	// device uses its own default.
	FadeRate *int `json:"fade_rate,omitempty"`
}

// ReportStateCommand asks a device to report its current state.
// Topic: upb/command/device/report_state
type ReportStateCommand struct {
	// ID uniquely identifies this command for correlation with the response.
	ID string `json:"id"`

	// NetworkID is the UPB network to address (0-255).
	// Defaults to the bridge's configured network when omitted.
	NetworkID *int `json:"network_id,omitempty"`

	// UnitID is the device to address (1-255).
	UnitID int `json:"unit_id"`
}

// ResponseMessage is published for every processed command.
// Topic: upb/response/{id}
type ResponseMessage struct {
	// RequestID is the ID from the original command.
	RequestID string `json:"request_id"`

	// Timestamp is when the response was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Success indicates whether the transaction completed.
	Success bool `json:"success"`

	// Data contains the response payload (if successful).
	Data map[string]any `json:"data,omitempty"`

	// Error contains error details (if failed).
	Error *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed commands.
type ResponseError struct {
	// Code is the error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeRejected          = "REJECTED"
	ErrCodeAckMismatch       = "ACK_MISMATCH"
	ErrCodeReportMismatch    = "REPORT_MISMATCH"
	ErrCodeMaxRetries        = "MAX_RETRIES"
	ErrCodeTransport         = "TRANSPORT_ERROR"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// LinkEventMessage announces a link activation or deactivation observed
// on the powerline.
// Topic: upb/event/link/{link_id}
type LinkEventMessage struct {
	// Timestamp is when the event was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// NetworkID is the UPB network the event was observed on.
	NetworkID int `json:"network_id"`

	// SourceID is the device that transmitted the event.
	SourceID int `json:"source_id"`

	// LinkID is the link that changed.
	LinkID int `json:"link_id"`

	// State is "activated" or "deactivated".
	State string `json:"state"`
}

// DeviceEventMessage announces an unsolicited device report observed on
// the powerline.
// Topic: upb/event/device/{source_id}
// QoS: 1, Retained: Yes (latest report per device)
type DeviceEventMessage struct {
	// Timestamp is when the report was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// NetworkID is the UPB network the report was observed on.
	NetworkID int `json:"network_id"`

	// SourceID is the device that transmitted the report.
	SourceID int `json:"source_id"`

	// DestinationID is the report's destination address.
	DestinationID int `json:"destination_id"`

	// Arguments carries the report's argument bytes as uppercase hex.
	Arguments string `json:"arguments"`

	// Level is the first argument byte when present, typically a light
	// level or device state value.
	Level *int `json:"level,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: upb/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the bridge identifier ("upb").
	Bridge string `json:"bridge"`

	// Timestamp is when the status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Connection describes the PIM connection state.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics contains operational counters.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the PIM connection state.
type ConnectionStatus struct {
	// Status is "connected" or "disconnected".
	Status string `json:"status"`

	// Address is the PIM's host:port.
	Address string `json:"address,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	// FramesSent is the total number of frames sent to the PIM.
	FramesSent uint64 `json:"frames_sent"`

	// FramesReceived is the total number of frames received from the PIM.
	FramesReceived uint64 `json:"frames_received"`

	// Errors is the total number of transport errors.
	Errors uint64 `json:"errors"`

	// Reconnects is the total number of transport reconnections.
	Reconnects uint64 `json:"reconnects"`
}

// NewResponse creates a successful response for a command.
func NewResponse(requestID string, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

// NewErrorResponse creates a failed response for a command.
func NewErrorResponse(requestID, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error: &ResponseError{
			Code:    code,
			Message: message,
		},
	}
}

// NewLWTMessage creates the Last Will and Testament payload. The broker
// publishes it if the bridge disconnects unexpectedly.
func NewLWTMessage() HealthMessage {
	return HealthMessage{
		Bridge:    "upb",
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// EncodeArguments renders argument bytes as uppercase hex for message
// payloads and history rows.
func EncodeArguments(args []byte) string {
	return strings.ToUpper(hex.EncodeToString(args))
}

// DecodeArguments parses the uppercase hex argument encoding. Lowercase
// hex is accepted on input.
func DecodeArguments(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	args, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid argument hex: %w", err)
	}
	return args, nil
}
