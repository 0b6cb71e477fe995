package protocol

import "errors"

var (
	// ErrMalformedFrame indicates bytes that do not form a valid frame:
	// wrong length, missing head or end marker, or an unrecognized shape.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrBadChecksum indicates a structurally valid frame whose XOR byte
	// does not match its contents.
	ErrBadChecksum = errors.New("frame checksum mismatch")
)
