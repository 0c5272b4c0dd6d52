package mqtt

import "fmt"

// Topic prefixes for the UPB bridge.
//
// All topics use the flat scheme: upb/{category}/{address_or_id}
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "upb"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "upb/system"
)

// Topics provides builders for UPB bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	eventTopic := topics.LinkEvent(12)
//	// Returns: "upb/event/link/12"
type Topics struct{}

// =============================================================================
// Event Topics (published by the bridge)
// =============================================================================

// LinkEvent returns the topic for link (scene) activation events
// observed on the powerline.
//
// Example: upb/event/link/12
func (Topics) LinkEvent(linkID byte) string {
	return fmt.Sprintf("%s/event/link/%d", TopicPrefix, linkID)
}

// DeviceEvent returns the topic for unsolicited device state reports.
//
// Example: upb/event/device/7
func (Topics) DeviceEvent(unitID byte) string {
	return fmt.Sprintf("%s/event/device/%d", TopicPrefix, unitID)
}

// Response returns the topic for responses to commands that carry a
// request ID.
//
// Example: upb/response/req-abc123
func (Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s", TopicPrefix, requestID)
}

// Health returns the retained bridge health topic.
//
// Example: upb/health
func (Topics) Health() string {
	return fmt.Sprintf("%s/health", TopicPrefix)
}

// =============================================================================
// Command Topics (subscribed by the bridge)
// =============================================================================

// CommandTransmit returns the topic for generic transmit commands.
//
// Example: upb/command/transmit
func (Topics) CommandTransmit() string {
	return fmt.Sprintf("%s/command/transmit", TopicPrefix)
}

// CommandLinkActivate returns the topic for link activation commands.
//
// Example: upb/command/link/activate
func (Topics) CommandLinkActivate() string {
	return fmt.Sprintf("%s/command/link/activate", TopicPrefix)
}

// CommandLinkDeactivate returns the topic for link deactivation commands.
//
// Example: upb/command/link/deactivate
func (Topics) CommandLinkDeactivate() string {
	return fmt.Sprintf("%s/command/link/deactivate", TopicPrefix)
}

// CommandDeviceGoto returns the topic for direct device level commands.
//
// Example: upb/command/device/goto
func (Topics) CommandDeviceGoto() string {
	return fmt.Sprintf("%s/command/device/goto", TopicPrefix)
}

// CommandReportState returns the topic for state report requests.
//
// Example: upb/command/device/report_state
func (Topics) CommandReportState() string {
	return fmt.Sprintf("%s/command/device/report_state", TopicPrefix)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic used for LWT and
// online/offline announcements.
//
// Example: upb/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllCommands returns a pattern matching every command topic.
//
// Pattern: upb/command/#
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/#", TopicPrefix)
}

// AllEvents returns a pattern matching every event topic.
//
// Pattern: upb/event/#
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/#", TopicPrefix)
}

// AllTopics returns a pattern matching all bridge topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: upb/#
func (Topics) AllTopics() string {
	return "upb/#"
}
