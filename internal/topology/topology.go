// Package topology resolves a device's USB hub value: the integer
// identifying its upstream physical location on the host. The relay board
// stores that value in a port's state slot, making it the stable identity
// surrogate when a serial number alone cannot be matched to a port.
package topology

// Resolver maps a device serial number to its USB hub value.
type Resolver interface {
	// ResolveHubValue returns the hub value for the device, or ok=false
	// when the device is not visible on the bus.
	ResolveHubValue(serial string) (hub int, ok bool)
}

// StaticResolver answers from a fixed map. Used in tests and on stations
// whose topology is pinned in configuration.
type StaticResolver map[string]int

// ResolveHubValue implements Resolver.
func (s StaticResolver) ResolveHubValue(serial string) (int, bool) {
	hub, ok := s[serial]
	if !ok || hub == 0 {
		return 0, false
	}
	return hub, true
}
