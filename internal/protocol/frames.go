package protocol

import (
	"fmt"
	"strings"
)

// EncodeIndexFrame builds the 7-byte port-index control frame.
//
//	[HEAD][0x07][INDEX][MODE][STATE][XOR][END]
//
// With mode ModeAll and state StateOn/StateOff it powers a relay port on or
// off; other mode bytes address board-specific sub-functions.
func EncodeIndexFrame(index, mode, state byte) []byte {
	return seal([]byte{FrameHead, FrameLen7, index, mode, state})
}

// EncodeIndexOn builds the frame that powers the given relay port on.
func EncodeIndexOn(index byte) []byte {
	return EncodeIndexFrame(index, ModeAll, StateOn)
}

// EncodeIndexOff builds the frame that powers the given relay port off.
func EncodeIndexOff(index byte) []byte {
	return EncodeIndexFrame(index, ModeAll, StateOff)
}

// EncodeHubFrame builds the 8-byte hub-value control frame that connects or
// disconnects the USB line of the port whose state slot carries hub.
//
//	[HEAD][0x08][CTRL][HUB][CMD_USB][ON/OFF][XOR][END]
func EncodeHubFrame(hub byte, on bool) []byte {
	state := byte(StateOff)
	if on {
		state = StateOn
	}
	return seal([]byte{FrameHead, FrameLen8, CtrlHub, hub, CmdUSB, state})
}

// EncodeQueryStates returns the fixed query frame. The board answers with
// one state token per port.
func EncodeQueryStates() []byte {
	return []byte{FrameHead, FrameLen7, CmdQuery, 0x00, 0x00, 0x7F, FrameEnd}
}

// EncodeBind builds the frame that writes hub into the state slot of the
// given port. Writing zero frees the slot.
func EncodeBind(port, hub byte) []byte {
	return seal([]byte{FrameHead, FrameLen7, CmdBind, port, hub})
}

// EncodeSuccessResponse builds the 7-byte success frame the board sends
// after a control command. Only used by tests and board simulators.
func EncodeSuccessResponse(param byte) []byte {
	return seal([]byte{FrameHead, FrameResponse, FrameLen7, param, FrameSuccess})
}

// checkFrame validates the framing common to all 7/8-byte frames: head,
// length byte, end marker and checksum.
func checkFrame(frame []byte, lenByte byte) error {
	if len(frame) != int(lenByte) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedFrame, len(frame), lenByte)
	}
	if frame[0] != FrameHead {
		return fmt.Errorf("%w: head 0x%02X", ErrMalformedFrame, frame[0])
	}
	if frame[1] != lenByte {
		return fmt.Errorf("%w: length byte 0x%02X, want 0x%02X", ErrMalformedFrame, frame[1], lenByte)
	}
	if frame[len(frame)-1] != FrameEnd {
		return fmt.Errorf("%w: end 0x%02X", ErrMalformedFrame, frame[len(frame)-1])
	}
	want := Checksum(frame[:len(frame)-2])
	if got := frame[len(frame)-2]; got != want {
		return fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrBadChecksum, got, want)
	}
	return nil
}

// DecodeIndexFrame is the inverse of EncodeIndexFrame.
func DecodeIndexFrame(frame []byte) (index, mode, state byte, err error) {
	if err := checkFrame(frame, FrameLen7); err != nil {
		return 0, 0, 0, err
	}
	return frame[2], frame[3], frame[4], nil
}

// DecodeHubFrame is the inverse of EncodeHubFrame.
func DecodeHubFrame(frame []byte) (hub byte, on bool, err error) {
	if err := checkFrame(frame, FrameLen8); err != nil {
		return 0, false, err
	}
	if frame[2] != CtrlHub || frame[4] != CmdUSB {
		return 0, false, fmt.Errorf("%w: not a hub control frame", ErrMalformedFrame)
	}
	switch frame[5] {
	case StateOn:
		return frame[3], true, nil
	case StateOff:
		return frame[3], false, nil
	default:
		return 0, false, fmt.Errorf("%w: hub state 0x%02X", ErrMalformedFrame, frame[5])
	}
}

// DecodeStates extracts the per-port state tokens from a query response in
// its hex-string rendering. An empty response is a normal empty answer from
// the board and yields an empty token list, not an error.
func DecodeStates(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	fields := strings.Fields(raw)
	if len(fields) <= StateTokenLast {
		return nil, fmt.Errorf("%w: response has %d fields, need %d", ErrMalformedFrame, len(fields), StateTokenLast+1)
	}
	tokens := make([]string, 0, PortCount)
	for _, tok := range fields[StateTokenFirst : StateTokenLast+1] {
		if len(tok) != 2 {
			return nil, fmt.Errorf("%w: state token %q", ErrMalformedFrame, tok)
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}
