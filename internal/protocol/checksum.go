package protocol

import (
	"fmt"
	"strings"
)

// Checksum computes the XOR fold of data. The board expects this over all
// bytes preceding the checksum position.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// HexString renders frame bytes the way responses travel through the
// system: space-separated lowercase two-digit hex.
func HexString(data []byte) string {
	fields := make([]string, len(data))
	for i, b := range data {
		fields[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(fields, " ")
}

// seal appends the checksum and end marker to a partially built frame.
func seal(frame []byte) []byte {
	frame = append(frame, Checksum(frame))
	return append(frame, FrameEnd)
}
