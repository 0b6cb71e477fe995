package relay

import "fmt"

// FreeToken is the state token of an unbound relay port.
const FreeToken = "00"

// HubToken renders a hub value the way the board stores it in a port's
// state slot.
func HubToken(hub int) string {
	return fmt.Sprintf("%02x", hub)
}

// PortStates is the ordered token list returned by a GetStates request,
// one two-hex-digit token per physical port. Index 0 is port 1.
type PortStates []string

// FreePorts returns the 1-based indices of unbound ports, ascending.
func (s PortStates) FreePorts() []int {
	return s.PortsWith(FreeToken)
}

// PortsWith returns the 1-based indices of ports carrying token, ascending.
func (s PortStates) PortsWith(token string) []int {
	var ports []int
	for i, t := range s {
		if t == token {
			ports = append(ports, i+1)
		}
	}
	return ports
}

// OccupiedPorts returns the 1-based indices of bound ports with their
// tokens, ascending.
func (s PortStates) OccupiedPorts() []int {
	var ports []int
	for i, t := range s {
		if t != FreeToken {
			ports = append(ports, i+1)
		}
	}
	return ports
}

// Token returns the state token of the given 1-based port, or "" when the
// port is outside the list.
func (s PortStates) Token(port int) string {
	if port < 1 || port > len(s) {
		return ""
	}
	return s[port-1]
}
