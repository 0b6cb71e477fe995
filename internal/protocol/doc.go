// Package protocol implements the binary wire protocol spoken by the USB
// relay board over its serial line.
//
// # Frame shapes
//
// Every frame starts with a head marker and ends with an XOR checksum
// followed by an end marker:
//
//	Index frame (7 bytes):  [HEAD][LEN=0x07][INDEX][MODE][STATE][XOR][END]
//	Hub frame   (8 bytes):  [HEAD][LEN=0x08][CTRL][HUB][CMD_USB][ON/OFF][XOR][END]
//	Bind frame  (7 bytes):  [HEAD][LEN=0x07][CMD_BIND][PORT][HUB][XOR][END]
//	Query frame (7 bytes):  fixed literal 7E 07 06 00 00 7F 55
//	Success     (7 bytes):  [HEAD][RESP=0xFF][LEN][PARAM][0x00][XOR][END]
//
// The checksum is the XOR fold of every byte preceding it. It is always
// recomputed from the frame contents, never cached.
//
// # Responses
//
// The board answers the query frame with a frame whose bytes 4 through 8
// carry one state token per relay port. Responses travel through the rest
// of the system as space-separated lowercase hex strings (see HexString);
// DecodeStates extracts the port token window from that rendering.
package protocol
