package bridge

import (
	"bytes"
	"testing"
)

func TestEncodeArguments(t *testing.T) {
	if got := EncodeArguments([]byte{0x0C, 0xFF, 0x01}); got != "0CFF01" {
		t.Errorf("EncodeArguments() = %q, want 0CFF01", got)
	}
	if got := EncodeArguments(nil); got != "" {
		t.Errorf("EncodeArguments(nil) = %q, want empty", got)
	}
}

func TestDecodeArguments(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{"uppercase", "0CFF01", []byte{0x0C, 0xFF, 0x01}, false},
		{"lowercase accepted", "0cff01", []byte{0x0C, 0xFF, 0x01}, false},
		{"empty", "", nil, false},
		{"odd length", "0CF", nil, true},
		{"not hex", "ZZ", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeArguments(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeArguments(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("DecodeArguments(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("req-1", ErrCodeRejected, "transmission rejected")

	if resp.Success {
		t.Error("error response should not be successful")
	}
	if resp.RequestID != "req-1" {
		t.Errorf("request ID = %q, want req-1", resp.RequestID)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeRejected {
		t.Errorf("error = %+v, want code %s", resp.Error, ErrCodeRejected)
	}
	if resp.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}
