package upb

// Message data IDs used directly by the bridge.
const (
	// MDIDActivateLink activates a link (scene) on receiving devices.
	MDIDActivateLink byte = 0x20

	// MDIDDeactivateLink deactivates a link on receiving devices.
	MDIDDeactivateLink byte = 0x21

	// MDIDGoto commands a device to a level, optionally over a fade.
	MDIDGoto byte = 0x22

	// MDIDReportState asks a device to report its current state.
	MDIDReportState byte = 0x30

	// MDIDDeviceStateReport is the core report carrying a device's
	// state bytes.
	MDIDDeviceStateReport byte = 0x86
)

// MessageClass is the taxonomy branch a message set ID selects.
type MessageClass int

// Taxonomy branches of the UPB message-set space.
const (
	ClassUnknown MessageClass = iota
	ClassCoreCommand
	ClassDeviceControl
	ClassCoreReport
	ClassExtended
	ClassReserved
)

// String returns the branch name used in logs and published events.
func (c MessageClass) String() string {
	switch c {
	case ClassCoreCommand:
		return "core_command"
	case ClassDeviceControl:
		return "device_control_command"
	case ClassCoreReport:
		return "core_report"
	case ClassExtended:
		return "extended"
	case ClassReserved:
		return "reserved"
	default:
		return "unknown"
	}
}

// Label is the human-readable classification of a message.
type Label struct {
	Class MessageClass
	Name  string
}

// UnknownLabel is the sentinel returned for codes outside the known
// taxonomy. Classification never fails; unknown messages still flow
// through the dispatcher.
var UnknownLabel = Label{Class: ClassUnknown, Name: "unknown"}

// Message set IDs (top three bits of the message data ID).
const (
	setCoreCommand   byte = 0 // MDID 0x00-0x1F
	setDeviceControl byte = 1 // MDID 0x20-0x3F
	setReservedLow   byte = 2 // MDID 0x40-0x7F (two reserved sets)
	setReservedHigh  byte = 3
	setCoreReport    byte = 4 // MDID 0x80-0x9F
	setReserved5     byte = 5
	setReserved6     byte = 6
	setExtended      byte = 7 // MDID 0xE0-0xFF
)

var coreCommandNames = map[byte]string{
	0x00: "null",
	0x01: "write_enabled",
	0x02: "write_protect",
	0x03: "start_setup_mode",
	0x04: "stop_setup_mode",
	0x05: "request_setup_time",
	0x06: "auto_address",
	0x07: "request_device_status",
	0x0B: "set_device_control",
	0x10: "set_register_values",
	0x11: "request_register_values",
}

var deviceControlNames = map[byte]string{
	0x00: "activate_link",
	0x01: "deactivate_link",
	0x02: "goto",
	0x03: "fade_start",
	0x04: "fade_stop",
	0x05: "blink",
	0x06: "indicate",
	0x07: "toggle",
	0x10: "report_state",
	0x11: "store_state",
}

var coreReportNames = map[byte]string{
	0x00: "ack_response",
	0x05: "setup_time_report",
	0x06: "device_state_report",
	0x10: "device_status_report",
	0x11: "register_values_report",
}

// Classify maps a message set ID and message ID to a taxonomy label.
//
// Unknown codes return UnknownLabel rather than an error so that
// classification never blocks inbound processing.
func Classify(setID, messageID byte) Label {
	switch setID {
	case setCoreCommand:
		return lookup(ClassCoreCommand, coreCommandNames, messageID)
	case setDeviceControl:
		return lookup(ClassDeviceControl, deviceControlNames, messageID)
	case setCoreReport:
		return lookup(ClassCoreReport, coreReportNames, messageID)
	case setExtended:
		return Label{Class: ClassExtended, Name: "extended_message"}
	case setReservedLow, setReservedHigh, setReserved5, setReserved6:
		return Label{Class: ClassReserved, Name: "reserved"}
	default:
		return UnknownLabel
	}
}

// ClassifyPacket classifies a decoded packet by its message data ID.
func ClassifyPacket(p Packet) Label {
	return Classify(p.MessageSetID(), p.MessageID())
}

func lookup(class MessageClass, names map[byte]string, messageID byte) Label {
	if name, ok := names[messageID]; ok {
		return Label{Class: class, Name: name}
	}
	return Label{Class: class, Name: "unknown"}
}
