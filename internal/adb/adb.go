// Package adb wraps the Android debug bridge command line tool behind a
// narrow interface. The binding engine only ever needs three things from
// it: a device's connection state, the list of attached serials, and a
// server restart.
package adb

import (
	"bytes"
	"os/exec"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Connection states as reported by `adb get-state`.
const (
	StateDevice  = "device"
	StateOffline = "offline"
)

// Runner is the ADB surface the binding engine depends on.
type Runner interface {
	// State returns the device's connection state: "device", "offline",
	// or "" when the device is not known to the ADB server.
	State(serial string) (string, error)

	// Devices lists the serial numbers currently in the "device" state.
	Devices() ([]string, error)

	// RestartServer kills and restarts the host ADB server. Side-effecting
	// for every device on the host; only used against "offline" devices.
	RestartServer() error
}

// ProcessChecker reports whether a named process is running. Used to
// detect an external flashing tool holding the USB bus exclusively.
type ProcessChecker interface {
	Exists(name string) bool
}

// allow tests to override command execution
var runCommand = func(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()
	return stdout.String(), err
}

var devicePattern = regexp.MustCompile(`(?m)^(\S+)\s+device\s*$`)

// ExecRunner shells out to the adb binary on PATH.
type ExecRunner struct {
	log zerolog.Logger
}

// NewExecRunner creates a Runner backed by the adb command line tool.
func NewExecRunner(log zerolog.Logger) *ExecRunner {
	return &ExecRunner{log: log}
}

// State runs `adb -s <serial> get-state`. ADB exits non-zero for unknown
// devices; that is the "absent" answer, not an error.
func (r *ExecRunner) State(serial string) (string, error) {
	out, err := runCommand("adb", "-s", serial, "get-state")
	state := strings.TrimSpace(out)
	if err != nil && state == "" {
		return "", nil
	}
	return state, nil
}

// Devices parses `adb devices` output into the list of connected serials.
func (r *ExecRunner) Devices() ([]string, error) {
	out, err := runCommand("adb", "devices")
	if err != nil {
		return nil, err
	}

	var serials []string
	for _, m := range devicePattern.FindAllStringSubmatch(out, -1) {
		// Skip the header line "List of devices attached".
		if m[1] == "List" {
			continue
		}
		serials = append(serials, m[1])
	}
	return serials, nil
}

// RestartServer issues kill-server followed by start-server.
func (r *ExecRunner) RestartServer() error {
	r.log.Info().Msg("restarting ADB server")
	if _, err := runCommand("adb", "kill-server"); err != nil {
		return err
	}
	_, err := runCommand("adb", "start-server")
	return err
}

// PgrepChecker detects processes by exact name via pgrep.
type PgrepChecker struct{}

// Exists reports whether a process with the given name is running. Any
// failure to ask counts as "not running" so a broken pgrep cannot wedge
// the binding engine's flash-wait loop forever.
func (PgrepChecker) Exists(name string) bool {
	out, err := runCommand("pgrep", "-x", name)
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) != ""
}
