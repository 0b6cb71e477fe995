package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeQueryStates(t *testing.T) {
	want := []byte{0x7E, 0x07, 0x06, 0x00, 0x00, 0x7F, 0x55}
	got := EncodeQueryStates()
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeQueryStates() = % 02X, want % 02X", got, want)
	}
}

func TestEncodeIndexOnOff(t *testing.T) {
	on := EncodeIndexOn(1)
	want := []byte{0x7E, 0x07, 0x01, 0x40, 0xFF, 0xC7, 0x55}
	if !bytes.Equal(on, want) {
		t.Errorf("EncodeIndexOn(1) = % 02X, want % 02X", on, want)
	}

	off := EncodeIndexOff(1)
	if off[4] != StateOff {
		t.Errorf("EncodeIndexOff state byte = 0x%02X, want 0x00", off[4])
	}
	if len(off) != 7 {
		t.Errorf("index frame length = %d, want 7", len(off))
	}
}

func TestEncodeHubFrame(t *testing.T) {
	frame := EncodeHubFrame(0x0B, true)
	want := []byte{0x7E, 0x08, 0x21, 0x0B, 0x10, 0xFF, 0xB3, 0x55}
	if !bytes.Equal(frame, want) {
		t.Errorf("EncodeHubFrame(0x0B, true) = % 02X, want % 02X", frame, want)
	}

	off := EncodeHubFrame(0x0B, false)
	if off[5] != StateOff {
		t.Errorf("hub off state byte = 0x%02X, want 0x00", off[5])
	}
	if len(off) != 8 {
		t.Errorf("hub frame length = %d, want 8", len(off))
	}
}

func TestEncodeBind(t *testing.T) {
	frame := EncodeBind(2, 0x0B)
	want := []byte{0x7E, 0x07, 0x20, 0x02, 0x0B, 0x50, 0x55}
	if !bytes.Equal(frame, want) {
		t.Errorf("EncodeBind(2, 0x0B) = % 02X, want % 02X", frame, want)
	}
}

// TestIndexFrameRoundTrip verifies decode(encode(x)) == x over the full
// range of valid inputs.
func TestIndexFrameRoundTrip(t *testing.T) {
	for index := byte(1); index <= 5; index++ {
		for _, state := range []byte{StateOn, StateOff} {
			frame := EncodeIndexFrame(index, ModeAll, state)
			gotIndex, gotMode, gotState, err := DecodeIndexFrame(frame)
			if err != nil {
				t.Fatalf("DecodeIndexFrame(% 02X) error: %v", frame, err)
			}
			if gotIndex != index || gotMode != ModeAll || gotState != state {
				t.Errorf("round trip (%d, 0x%02X, 0x%02X) = (%d, 0x%02X, 0x%02X)",
					index, ModeAll, state, gotIndex, gotMode, gotState)
			}
		}
	}
}

func TestHubFrameRoundTrip(t *testing.T) {
	for hub := 0; hub <= 0xFF; hub += 17 {
		for _, on := range []bool{true, false} {
			frame := EncodeHubFrame(byte(hub), on)
			gotHub, gotOn, err := DecodeHubFrame(frame)
			if err != nil {
				t.Fatalf("DecodeHubFrame(% 02X) error: %v", frame, err)
			}
			if gotHub != byte(hub) || gotOn != on {
				t.Errorf("round trip (0x%02X, %v) = (0x%02X, %v)", hub, on, gotHub, gotOn)
			}
		}
	}
}

func TestDecodeIndexFrameErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{
			name:  "too short",
			frame: []byte{0x7E, 0x07, 0x01},
			want:  ErrMalformedFrame,
		},
		{
			name:  "bad head",
			frame: []byte{0x00, 0x07, 0x01, 0x40, 0xFF, 0xC7, 0x55},
			want:  ErrMalformedFrame,
		},
		{
			name:  "bad end",
			frame: []byte{0x7E, 0x07, 0x01, 0x40, 0xFF, 0xC7, 0x00},
			want:  ErrMalformedFrame,
		},
		{
			name:  "bad checksum",
			frame: []byte{0x7E, 0x07, 0x01, 0x40, 0xFF, 0x00, 0x55},
			want:  ErrBadChecksum,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := DecodeIndexFrame(tt.frame)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeIndexFrame() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeHubFrameRejectsOddState(t *testing.T) {
	frame := []byte{0x7E, 0x08, 0x21, 0x0B, 0x10, 0x42}
	frame = append(frame, Checksum(frame), FrameEnd)
	if _, _, err := DecodeHubFrame(frame); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("DecodeHubFrame() error = %v, want ErrMalformedFrame", err)
	}
}

func TestDecodeStates(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{
			name: "five ports, two bound",
			raw:  "7e 0b 06 00 0b 1d 00 00 09 63 55",
			want: []string{"0b", "1d", "00", "00", "09"},
		},
		{
			name: "all free",
			raw:  "7e 0b 06 00 00 00 00 00 00 72 55",
			want: []string{"00", "00", "00", "00", "00"},
		},
		{
			name: "empty response",
			raw:  "",
			want: nil,
		},
		{
			name:    "truncated response",
			raw:     "7e 0b 06 00 0b",
			wantErr: true,
		},
		{
			name:    "garbage token width",
			raw:     "7e 0b 06 00 0b 1 00 00 09 63 55",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeStates(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedFrame) {
					t.Fatalf("DecodeStates(%q) error = %v, want ErrMalformedFrame", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeStates(%q) error: %v", tt.raw, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("DecodeStates(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("token[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEncodeSuccessResponse(t *testing.T) {
	frame := EncodeSuccessResponse(0x03)
	want := []byte{0x7E, 0xFF, 0x07, 0x03, 0x00, 0x85, 0x55}
	if !bytes.Equal(frame, want) {
		t.Errorf("EncodeSuccessResponse(0x03) = % 02X, want % 02X", frame, want)
	}
}
