package protocol

// Frame framing constants.
const (
	// FrameHead is the first byte of every frame
	FrameHead = 0x7E

	// FrameEnd is the last byte of every frame
	FrameEnd = 0x55

	// FrameLen7 is the length byte for 7-byte frames
	FrameLen7 = 0x07

	// FrameLen8 is the length byte for the 8-byte hub control frame
	FrameLen8 = 0x08

	// FrameResponse marks a board-originated response frame
	FrameResponse = 0xFF

	// FrameSuccess is the success status byte inside a response frame
	FrameSuccess = 0x00
)

// Command bytes.
const (
	// CtrlHub selects hub-value addressing in the 8-byte control frame
	CtrlHub = 0x21

	// ModeAll is the port-index control mode covering both power and data lines
	ModeAll = 0x40

	// CmdUSB selects the USB line in the hub control frame
	CmdUSB = 0x10

	// CmdBind writes a hub token into a port's state slot
	CmdBind = 0x20

	// CmdQuery requests the state tokens of every port
	CmdQuery = 0x06

	// StateOn energizes the addressed line
	StateOn = 0xFF

	// StateOff de-energizes the addressed line
	StateOff = 0x00
)

// Response layout.
const (
	// StateTokenFirst is the index of the first port token in a decoded
	// query response (space-separated hex fields)
	StateTokenFirst = 4

	// StateTokenLast is the index of the last port token, inclusive
	StateTokenLast = 8

	// PortCount is the number of switched ports on the board
	PortCount = StateTokenLast - StateTokenFirst + 1
)
