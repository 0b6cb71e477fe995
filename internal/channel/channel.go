// Package channel owns the single physical serial connection to the relay
// board and performs one write-then-read exchange at a time.
//
// Exchange is not reentrant. Callers must serialize access; the arbiter's
// accept loop is the only production caller and provides that guarantee.
package channel

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/relaykit/relaykit/internal/protocol"
)

// ErrClosed is returned by Exchange when the serial connection is not open.
var ErrClosed = errors.New("serial channel is closed")

// ErrNoPorts is returned by Open when no serial port could be found.
var ErrNoPorts = errors.New("no serial ports found for relay board")

// Port is the subset of the serial handle the channel needs. The concrete
// implementation is go.bug.st/serial; tests substitute a mock.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Drain() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// allow tests to override external dependencies
var (
	openPort = func(name string, mode *serial.Mode) (Port, error) {
		return serial.Open(name, mode)
	}
	listPorts = serial.GetPortsList
)

// Config holds the serial parameters for the relay board link.
type Config struct {
	// Device is the serial device path. Empty means auto-detect: the last
	// entry of the system port list, which is where the relay board lands
	// on the test stations.
	Device string

	// Baud is the line speed. The board speaks 9600 8N1.
	Baud int

	// Settle is how long the board needs between a written frame and its
	// response becoming readable.
	Settle time.Duration

	// readSlice bounds a single read while draining the response.
	readSlice time.Duration
}

// DefaultConfig returns the board's factory line settings.
func DefaultConfig() Config {
	return Config{
		Baud:      9600,
		Settle:    100 * time.Millisecond,
		readSlice: 20 * time.Millisecond,
	}
}

// Channel is the single owner of the relay board's serial connection.
type Channel struct {
	port   Port
	device string
	cfg    Config
	log    zerolog.Logger
}

// Open connects to the relay board. With no explicit device configured it
// picks the last port in the system list. Returns ErrNoPorts when nothing
// is attached; the caller treats that as fatal.
func Open(cfg Config, log zerolog.Logger) (*Channel, error) {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultConfig().Baud
	}
	if cfg.Settle == 0 {
		cfg.Settle = DefaultConfig().Settle
	}
	if cfg.readSlice == 0 {
		cfg.readSlice = DefaultConfig().readSlice
	}

	device := cfg.Device
	if device == "" {
		ports, err := listPorts()
		if err != nil {
			return nil, fmt.Errorf("listing serial ports: %w", err)
		}
		if len(ports) == 0 {
			return nil, ErrNoPorts
		}
		device = ports[len(ports)-1]
	}

	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := openPort(device, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", device, err)
	}

	log.Info().Str("device", device).Int("baud", cfg.Baud).Msg("serial port opened")
	return &Channel{port: port, device: device, cfg: cfg, log: log}, nil
}

// Device reports the serial device path the channel is attached to.
func (c *Channel) Device() string {
	return c.device
}

// IsOpen reports whether the channel can still perform exchanges.
func (c *Channel) IsOpen() bool {
	return c.port != nil
}

// Exchange writes frame to the board, waits the settle delay, then drains
// whatever bytes the board made available and returns them as a hex string.
//
// An empty return is a normal empty response: the board answered with
// nothing, or with a single stray byte, and the two cases are not
// distinguished. That matches the board's observed behavior for control
// frames, which it acknowledges without payload.
func (c *Channel) Exchange(frame []byte) (string, error) {
	if !c.IsOpen() {
		return "", ErrClosed
	}

	tx := protocol.HexString(frame)
	c.log.Debug().Str("tx", tx).Msg("frame written")

	if _, err := c.port.Write(frame); err != nil {
		c.closePort()
		return "", fmt.Errorf("serial write: %w", err)
	}
	if err := c.port.Drain(); err != nil {
		c.closePort()
		return "", fmt.Errorf("serial drain: %w", err)
	}

	time.Sleep(c.cfg.Settle)

	raw, err := c.drainResponse()
	if err != nil {
		c.closePort()
		return "", fmt.Errorf("serial read: %w", err)
	}

	// A lone byte is line noise, not a response.
	if len(raw) <= 1 {
		c.log.Debug().Msg("empty response")
		return "", nil
	}

	rx := protocol.HexString(raw)
	c.log.Debug().Str("rx", rx).Msg("frame read")
	return rx, nil
}

// drainResponse reads until the board stops producing bytes.
func (c *Channel) drainResponse() ([]byte, error) {
	if err := c.port.SetReadTimeout(c.cfg.readSlice); err != nil {
		return nil, err
	}

	var raw []byte
	buf := make([]byte, 64)
	for {
		n, err := c.port.Read(buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return raw, nil
		}
		raw = append(raw, buf[:n]...)
	}
}

// Close releases the serial port. Safe to call multiple times.
func (c *Channel) Close() error {
	if c.port == nil {
		return nil
	}
	c.log.Info().Str("device", c.device).Msg("serial port closed")
	return c.closePort()
}

func (c *Channel) closePort() error {
	port := c.port
	c.port = nil
	return port.Close()
}
