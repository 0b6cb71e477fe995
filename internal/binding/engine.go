// Package binding finds and keeps the relay port a device is wired to.
//
// The engine talks to the arbiter as an ordinary client, proves which
// physical port a device hangs off by toggling power and watching ADB,
// and persists the result so later recovery runs can skip discovery.
package binding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaykit/relaykit/internal/adb"
	"github.com/relaykit/relaykit/internal/stats"
	"github.com/relaykit/relaykit/pkg/relay"
)

// Requester issues one task to the arbiter and returns its response.
// *relay.Client satisfies it; tests swap in a fake board.
type Requester interface {
	Do(task relay.Task) (*relay.Response, error)
}

// Config carries the engine's timing knobs. The defaults reflect how long
// real phones take to drop off and re-enumerate on the USB bus.
type Config struct {
	// BoardPorts is the number of relay ports on the board.
	BoardPorts int

	// ProbeSettle is how long to wait after cutting a port's power before
	// checking whether the device left the ADB device list.
	ProbeSettle time.Duration

	// ProbeADBTimeout bounds how long a probe waits for the device to
	// re-enumerate after power is restored.
	ProbeADBTimeout time.Duration

	// ADBPollInterval is the pause between ADB device-list polls.
	ADBPollInterval time.Duration

	// FreePortGap spaces out probes during the free-port scan so adjacent
	// ports do not flap at the same time.
	FreePortGap time.Duration

	// FlashProcess names the flashing tool whose presence pauses binding;
	// empty disables the check.
	FlashProcess string

	// FlashPollInterval is the pause between flashing-tool checks.
	FlashPollInterval time.Duration

	// ToggleGap is how long recovery leaves a port powered off before
	// powering it back on.
	ToggleGap time.Duration

	// BoundProbeAttempts is how many times to probe a port already
	// carrying the device's hub token before giving up on it.
	BoundProbeAttempts int

	// InvalidRecoveryAttempts bounds RecoverInvalidDevice's power cycles.
	InvalidRecoveryAttempts int
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		BoardPorts:              5,
		ProbeSettle:             2 * time.Second,
		ProbeADBTimeout:         90 * time.Second,
		ADBPollInterval:         time.Second,
		FreePortGap:             500 * time.Millisecond,
		FlashProcess:            "",
		FlashPollInterval:       15 * time.Second,
		ToggleGap:               time.Second,
		BoundProbeAttempts:      3,
		InvalidRecoveryAttempts: 2,
	}
}

// Deps are the engine's collaborators.
type Deps struct {
	Client   Requester
	ADB      adb.Runner
	Procs    adb.ProcessChecker
	Store    *Store
	Stats    stats.Store
	StatsKey stats.RowKey
	StatsRow stats.Row
}

// Engine implements port discovery and ADB connectivity recovery on top
// of the arbiter.
type Engine struct {
	client   Requester
	adb      adb.Runner
	procs    adb.ProcessChecker
	store    *Store
	stats    stats.Store
	statsKey stats.RowKey
	statsRow stats.Row
	cfg      Config
	log      zerolog.Logger
}

// NewEngine wires an engine from its collaborators. A nil Stats store is
// replaced with a no-op one.
func NewEngine(deps Deps, cfg Config, log zerolog.Logger) (*Engine, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("binding engine needs an arbiter client")
	}
	if deps.ADB == nil {
		return nil, fmt.Errorf("binding engine needs an ADB runner")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("binding engine needs a binding store")
	}
	if deps.Stats == nil {
		deps.Stats = stats.Nop{}
	}
	if cfg.BoardPorts < 1 {
		return nil, fmt.Errorf("board must have at least one port, got %d", cfg.BoardPorts)
	}
	return &Engine{
		client:   deps.Client,
		adb:      deps.ADB,
		procs:    deps.Procs,
		store:    deps.Store,
		stats:    deps.Stats,
		statsKey: deps.StatsKey,
		statsRow: deps.StatsRow,
		cfg:      cfg,
		log:      log,
	}, nil
}

// request sends one task to the arbiter and reports whether it was
// acknowledged. A transport failure is an error; "KO" is not.
func (e *Engine) request(kind relay.MessageKind, device relay.Device) (bool, error) {
	resp, err := e.client.Do(relay.NewTask(device, kind))
	if err != nil {
		return false, fmt.Errorf("%s failed: %w", kind, err)
	}
	return resp.OK(), nil
}

func (e *Engine) portStates() (relay.PortStates, error) {
	resp, err := e.client.Do(relay.NewTask(relay.Device{PortIndex: relay.NoPort}, relay.GetStates))
	if err != nil {
		return nil, fmt.Errorf("querying port states: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("arbiter refused the state query")
	}
	return relay.PortStates(resp.States), nil
}

// BindDevice discovers which relay port serial is wired to and persists
// the binding. It returns false without error when the device could not
// be proven on any port.
//
// Discovery runs in three passes: ports already carrying the device's hub
// token, then free ports, then occupied ports (stealing the binding). The
// occupied pass waits out any running flashing tool first, since cutting
// power mid-flash bricks devices.
func (e *Engine) BindDevice(serial string, hub int) (bool, error) {
	if hub <= 0 {
		return false, fmt.Errorf("device %s has no hub value to bind with", serial)
	}
	if err := e.ensureStatsRow(); err != nil {
		e.log.Warn().Err(err).Msg("stats row unavailable, continuing without")
	}

	states, err := e.portStates()
	if err != nil {
		return false, err
	}
	if len(states) == 0 {
		e.log.Error().Str("serial", serial).Msg("board returned no port states")
		return false, nil
	}

	token := relay.HubToken(hub)
	e.log.Info().
		Str("serial", serial).
		Str("token", token).
		Strs("states", states).
		Msg("starting port discovery")

	if matching := states.PortsWith(token); len(matching) > 0 {
		bound, err := e.bindOnTokenPorts(serial, hub, matching)
		if err != nil || bound {
			return bound, err
		}
	}

	for _, port := range states.FreePorts() {
		ok, err := e.probePort(serial, port, 1)
		if err != nil {
			return false, err
		}
		if ok {
			return true, e.claimPort(serial, hub, port, states)
		}
		time.Sleep(e.cfg.FreePortGap)
	}

	e.waitForFlashTool()

	for _, port := range states.OccupiedPorts() {
		if states.Token(port) == token {
			continue
		}
		ok, err := e.probePort(serial, port, 1)
		if err != nil {
			return false, err
		}
		if ok {
			return true, e.claimPort(serial, hub, port, states)
		}
		time.Sleep(e.cfg.FreePortGap)
	}

	e.log.Warn().Str("serial", serial).Msg("device not proven on any relay port")
	return false, nil
}

// bindOnTokenPorts probes the ports whose state slot already carries the
// device's hub token. The first proven port keeps its slot as-is; every
// other matching port is stale and gets freed so the token maps to one
// port only.
func (e *Engine) bindOnTokenPorts(serial string, hub int, ports []int) (bool, error) {
	bound := false
	for _, port := range ports {
		if !bound {
			ok, err := e.probePort(serial, port, e.cfg.BoundProbeAttempts)
			if err != nil {
				return false, err
			}
			if ok {
				if err := e.store.Put(serial, Entry{HubValue: hub, PortIndex: port}); err != nil {
					return false, err
				}
				e.log.Info().Str("serial", serial).Int("port", port).Msg("device confirmed on its bound port")
				bound = true
				continue
			}
		}
		if err := e.freePort(port); err != nil {
			return false, err
		}
	}
	return bound, nil
}

// claimPort writes the hub token into the port's state slot, persists the
// binding, and zeroes out whoever held the port before.
func (e *Engine) claimPort(serial string, hub, port int, states relay.PortStates) error {
	ok, err := e.request(relay.SetState, relay.Device{SerialNo: serial, PortIndex: port, HubValue: hub})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("board refused to mark port %d bound", port)
	}
	if states.Token(port) != relay.FreeToken {
		if err := e.zeroStoredPort(port, serial); err != nil {
			return err
		}
	}
	if err := e.store.Put(serial, Entry{HubValue: hub, PortIndex: port}); err != nil {
		return err
	}
	e.log.Info().Str("serial", serial).Int("port", port).Int("hub", hub).Msg("device bound")
	return nil
}

// freePort zeroes a port's state slot on the board and in the store.
func (e *Engine) freePort(port int) error {
	ok, err := e.request(relay.SetState, relay.Device{PortIndex: port, HubValue: 0})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("board refused to free port %d", port)
	}
	e.log.Debug().Int("port", port).Msg("freed stale port")
	return e.zeroStoredPort(port, "")
}

// zeroStoredPort zeroes every persisted binding that points at port,
// except the one belonging to keep.
func (e *Engine) zeroStoredPort(port int, keep string) error {
	all, err := e.store.All()
	if err != nil {
		return err
	}
	for sn, entry := range all {
		if sn == keep || entry.PortIndex != port || entry.HubValue == 0 {
			continue
		}
		if err := e.store.Put(sn, Entry{HubValue: 0, PortIndex: port}); err != nil {
			return err
		}
		e.log.Info().Str("serial", sn).Int("port", port).Msg("zeroed displaced binding")
	}
	return nil
}

// probePort proves (or disproves) that serial is wired to port by cutting
// the port's power, checking the device dropped off ADB, restoring power,
// and waiting for it to come back.
func (e *Engine) probePort(serial string, port, attempts int) (bool, error) {
	target := relay.Device{SerialNo: serial, PortIndex: port}
	for attempt := 1; attempt <= attempts; attempt++ {
		e.log.Debug().
			Str("serial", serial).
			Int("port", port).
			Int("attempt", attempt).
			Msg("probing port")

		if _, err := e.request(relay.DisconnectByIndex, target); err != nil {
			return false, err
		}
		time.Sleep(e.cfg.ProbeSettle)

		gone, err := e.deviceAbsent(serial)
		if err != nil {
			return false, err
		}
		if _, err := e.request(relay.ConnectByIndex, target); err != nil {
			return false, err
		}
		if !gone {
			// Power is off on this port yet the device is still talking,
			// so it hangs off some other port.
			e.log.Debug().Str("serial", serial).Int("port", port).Msg("device survived power cut, wrong port")
			continue
		}

		back, err := e.waitForADB(serial, e.cfg.ProbeADBTimeout)
		if err != nil {
			return false, err
		}
		if back {
			return true, nil
		}
		e.log.Warn().Str("serial", serial).Int("port", port).Msg("device vanished on power cut but never came back")
	}
	return false, nil
}

func (e *Engine) deviceAbsent(serial string) (bool, error) {
	serials, err := e.adb.Devices()
	if err != nil {
		return false, fmt.Errorf("listing ADB devices: %w", err)
	}
	for _, sn := range serials {
		if sn == serial {
			return false, nil
		}
	}
	return true, nil
}

// waitForADB polls the ADB device list until serial shows up or the
// timeout passes. The list is checked at least once.
func (e *Engine) waitForADB(serial string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		gone, err := e.deviceAbsent(serial)
		if err != nil {
			return false, err
		}
		if !gone {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(e.cfg.ADBPollInterval)
	}
}

// waitForFlashTool blocks while the configured flashing tool is running.
// Cutting a port's power mid-flash can brick the device on it.
func (e *Engine) waitForFlashTool() {
	if e.cfg.FlashProcess == "" || e.procs == nil {
		return
	}
	for e.procs.Exists(e.cfg.FlashProcess) {
		e.log.Info().Str("process", e.cfg.FlashProcess).Msg("flashing tool running, holding off port probes")
		time.Sleep(e.cfg.FlashPollInterval)
	}
}

// ReleaseDevice frees the port serial is bound to, on the board and in
// the store. Returns ErrNotBound when no binding is persisted.
func (e *Engine) ReleaseDevice(serial string) error {
	entry, err := e.store.Load(serial)
	if err != nil {
		return err
	}
	ok, err := e.request(relay.SetState, relay.Device{SerialNo: serial, PortIndex: entry.PortIndex, HubValue: 0})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("board refused to free port %d", entry.PortIndex)
	}
	if err := e.store.Put(serial, Entry{HubValue: 0, PortIndex: entry.PortIndex}); err != nil {
		return err
	}
	e.log.Info().Str("serial", serial).Int("port", entry.PortIndex).Msg("device released")
	return nil
}

// RecoverADB brings a device back to the "device" state by cycling the
// USB line of the port carrying its hub value. An "offline" device gets
// an ADB server restart before its power cycle. Already-healthy devices
// return success without touching the hardware.
func (e *Engine) RecoverADB(serial string, hub int, maxAttempts int, timeout time.Duration) (bool, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	target := relay.Device{SerialNo: serial, PortIndex: relay.NoPort, HubValue: hub}

	lost := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		state, err := e.adb.State(serial)
		if err != nil {
			return false, fmt.Errorf("reading ADB state: %w", err)
		}
		if state == adb.StateDevice {
			if lost {
				e.countRecovery()
			}
			return true, nil
		}
		if !lost {
			lost = true
			e.countLost()
		}
		if state == adb.StateOffline {
			if err := e.adb.RestartServer(); err != nil {
				e.log.Warn().Err(err).Msg("ADB server restart failed")
			}
		}

		e.log.Info().
			Str("serial", serial).
			Str("state", state).
			Int("attempt", attempt).
			Msg("cycling USB line")
		if _, err := e.request(relay.DisconnectByHub, target); err != nil {
			return false, err
		}
		time.Sleep(e.cfg.ToggleGap)
		if _, err := e.request(relay.ConnectByHub, target); err != nil {
			return false, err
		}

		back, err := e.waitForADB(serial, timeout)
		if err != nil {
			return false, err
		}
		if back {
			e.countRecovery()
			return true, nil
		}
	}
	e.log.Error().Str("serial", serial).Msg("device did not recover")
	return false, nil
}

// RecoverInvalidDevice power-cycles the port a device was last bound to.
// It covers the case where the device's serial changed (for example after
// a bad flash) so hub-value recovery cannot find it. Returns false when
// no usable binding is persisted.
func (e *Engine) RecoverInvalidDevice(serial string, timeout time.Duration) (bool, error) {
	entry, err := e.store.Load(serial)
	if err != nil {
		if errors.Is(err, ErrNotBound) {
			e.log.Warn().Str("serial", serial).Msg("no persisted binding to recover with")
			return false, nil
		}
		return false, err
	}
	if entry.HubValue == 0 {
		e.log.Warn().Str("serial", serial).Msg("binding was released, nothing to recover")
		return false, nil
	}

	e.countLost()
	target := relay.Device{SerialNo: serial, PortIndex: entry.PortIndex}
	for attempt := 1; attempt <= e.cfg.InvalidRecoveryAttempts; attempt++ {
		e.log.Info().
			Str("serial", serial).
			Int("port", entry.PortIndex).
			Int("attempt", attempt).
			Msg("power cycling last known port")
		if _, err := e.request(relay.DisconnectByIndex, target); err != nil {
			return false, err
		}
		time.Sleep(e.cfg.ToggleGap)
		if _, err := e.request(relay.ConnectByIndex, target); err != nil {
			return false, err
		}
		back, err := e.waitForADB(serial, timeout)
		if err != nil {
			return false, err
		}
		if back {
			e.countRecovery()
			return true, nil
		}
	}
	return false, nil
}

// ensureStatsRow creates today's statistics row on first use and bumps
// the run counter on later ones.
func (e *Engine) ensureStatsRow() error {
	ctx := context.Background()
	exists, err := e.stats.RowExists(ctx, e.statsKey)
	if err != nil {
		return err
	}
	if !exists {
		return e.stats.InsertRow(ctx, e.statsKey, e.statsRow)
	}
	return e.stats.IncrementRow(ctx, e.statsKey, stats.FieldTotalRun, 1)
}

func (e *Engine) countLost() {
	ctx := context.Background()
	if err := e.stats.IncrementRow(ctx, e.statsKey, stats.FieldTotalLost, 1); err != nil {
		e.log.Warn().Err(err).Msg("failed to count lost device")
		return
	}
	if err := e.stats.IncrementRow(ctx, e.statsKey, stats.FieldAdbLost, 1); err != nil {
		e.log.Warn().Err(err).Msg("failed to count lost device")
	}
}

func (e *Engine) countRecovery() {
	if err := e.stats.IncrementRow(context.Background(), e.statsKey, stats.FieldAdbRecovery, 1); err != nil {
		e.log.Warn().Err(err).Msg("failed to count recovery")
	}
}
