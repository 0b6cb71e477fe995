//go:build linux

package topology

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Default returns the host's standard resolver.
func Default(log zerolog.Logger) Resolver {
	return NewSysfsResolver(log)
}

// SysfsResolver walks /sys/bus/usb/devices looking for the device whose
// serial attribute matches, then derives the hub value from the device's
// port path.
type SysfsResolver struct {
	root string
	log  zerolog.Logger
}

// NewSysfsResolver creates a resolver over the host's USB sysfs tree.
func NewSysfsResolver(log zerolog.Logger) *SysfsResolver {
	return &SysfsResolver{root: "/sys/bus/usb/devices", log: log}
}

// ResolveHubValue implements Resolver.
func (r *SysfsResolver) ResolveHubValue(serial string) (int, bool) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		r.log.Warn().Err(err).Str("root", r.root).Msg("cannot read usb sysfs tree")
		return 0, false
	}

	for _, entry := range entries {
		name := entry.Name()
		// Device entries look like "3-2.4.1"; skip root hubs ("usb3") and
		// interface entries ("3-2:1.0").
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.root, name, "serial"))
		if err != nil || strings.TrimSpace(string(data)) != serial {
			continue
		}

		if hub, ok := hubValueFromPortPath(name); ok {
			r.log.Debug().Str("serial", serial).Str("path", name).Int("hub", hub).Msg("resolved hub value")
			return hub, true
		}
	}
	return 0, false
}

// hubValueFromPortPath extracts the last non-zero port number from a sysfs
// device name like "3-2.4.1": the port on the hub the device actually
// hangs off, which is what the relay board is wired per.
func hubValueFromPortPath(name string) (int, bool) {
	// "3-2.4.1" -> bus 3, port chain 2.4.1
	_, chain, found := strings.Cut(name, "-")
	if !found {
		return 0, false
	}

	ports := strings.Split(chain, ".")
	for i := len(ports) - 1; i >= 0; i-- {
		n, err := strconv.Atoi(ports[i])
		if err != nil {
			return 0, false
		}
		if n != 0 {
			return n, true
		}
	}
	return 0, false
}
