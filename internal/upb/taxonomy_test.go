package upb

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		setID     byte
		messageID byte
		wantClass MessageClass
		wantName  string
	}{
		{name: "core null", setID: 0, messageID: 0x00, wantClass: ClassCoreCommand, wantName: "null"},
		{name: "core start setup", setID: 0, messageID: 0x03, wantClass: ClassCoreCommand, wantName: "start_setup_mode"},
		{name: "activate link", setID: 1, messageID: 0x00, wantClass: ClassDeviceControl, wantName: "activate_link"},
		{name: "goto", setID: 1, messageID: 0x02, wantClass: ClassDeviceControl, wantName: "goto"},
		{name: "report state", setID: 1, messageID: 0x10, wantClass: ClassDeviceControl, wantName: "report_state"},
		{name: "device state report", setID: 4, messageID: 0x06, wantClass: ClassCoreReport, wantName: "device_state_report"},
		{name: "extended", setID: 7, messageID: 0x1F, wantClass: ClassExtended, wantName: "extended_message"},
		{name: "reserved set 2", setID: 2, messageID: 0x00, wantClass: ClassReserved, wantName: "reserved"},
		{name: "reserved set 6", setID: 6, messageID: 0x12, wantClass: ClassReserved, wantName: "reserved"},
		{name: "unknown core command", setID: 0, messageID: 0x1E, wantClass: ClassCoreCommand, wantName: "unknown"},
		{name: "unknown device control", setID: 1, messageID: 0x1F, wantClass: ClassDeviceControl, wantName: "unknown"},
		{name: "set ID outside 3 bits", setID: 8, messageID: 0x00, wantClass: ClassUnknown, wantName: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.setID, tt.messageID)

			if got.Class != tt.wantClass {
				t.Errorf("Class = %v, want %v", got.Class, tt.wantClass)
			}
			if got.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", got.Name, tt.wantName)
			}
		})
	}
}

func TestClassifyPacket(t *testing.T) {
	p := Packet{MessageDataID: MDIDActivateLink}
	got := ClassifyPacket(p)

	if got.Class != ClassDeviceControl || got.Name != "activate_link" {
		t.Errorf("ClassifyPacket() = %+v, want device control activate_link", got)
	}
}

func TestMessageClassString(t *testing.T) {
	tests := []struct {
		class MessageClass
		want  string
	}{
		{ClassCoreCommand, "core_command"},
		{ClassDeviceControl, "device_control_command"},
		{ClassCoreReport, "core_report"},
		{ClassExtended, "extended"},
		{ClassReserved, "reserved"},
		{ClassUnknown, "unknown"},
		{MessageClass(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.class.String(); got != tt.want {
			t.Errorf("MessageClass(%d).String() = %q, want %q", tt.class, got, tt.want)
		}
	}
}
