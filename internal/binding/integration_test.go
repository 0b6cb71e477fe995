package binding

import (
	"bytes"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relaykit/internal/adb"
	"github.com/relaykit/relaykit/internal/arbiter"
	"github.com/relaykit/relaykit/internal/protocol"
	"github.com/relaykit/relaykit/pkg/relay"
)

// frameBoard is a relay board one layer lower than fakeBoard: it speaks
// the wire protocol, so a test through it exercises the engine's tasks as
// real frames via the arbiter rather than as method calls.
type frameBoard struct {
	mu         sync.Mutex
	tokens     []string
	power      []bool
	devicePort int
	binds      [][2]byte
}

func newFrameBoard(tokens []string, devicePort int) *frameBoard {
	b := &frameBoard{
		tokens:     append([]string(nil), tokens...),
		power:      make([]bool, len(tokens)),
		devicePort: devicePort,
	}
	for i := range b.power {
		b.power[i] = true
	}
	return b
}

func (b *frameBoard) Exchange(frame []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bytes.Equal(frame, protocol.EncodeQueryStates()) {
		fields := append([]string{"7e", "0b", "06", "00"}, b.tokens...)
		fields = append(fields, "63", "55")
		return strings.Join(fields, " "), nil
	}
	for p := 1; p <= len(b.tokens); p++ {
		if bytes.Equal(frame, protocol.EncodeIndexOff(byte(p))) {
			b.power[p-1] = false
		}
		if bytes.Equal(frame, protocol.EncodeIndexOn(byte(p))) {
			b.power[p-1] = true
		}
	}
	if len(frame) == 7 && frame[2] == protocol.CmdBind {
		port, hub := frame[3], frame[4]
		b.tokens[port-1] = relay.HubToken(int(hub))
		b.binds = append(b.binds, [2]byte{port, hub})
	}
	return protocol.HexString(protocol.EncodeSuccessResponse(frame[2])), nil
}

func (b *frameBoard) IsOpen() bool { return true }

func (b *frameBoard) devicePresent() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devicePort > 0 && b.power[b.devicePort-1]
}

func (b *frameBoard) token(port int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens[port-1]
}

func (b *frameBoard) recordedBinds() [][2]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][2]byte(nil), b.binds...)
}

// busADB lists the phone exactly when the frame-level board powers its
// port.
type busADB struct {
	board  *frameBoard
	serial string
}

func (a *busADB) State(serial string) (string, error) {
	if serial == a.serial && a.board.devicePresent() {
		return adb.StateDevice, nil
	}
	return "", nil
}

func (a *busADB) Devices() ([]string, error) {
	if a.board.devicePresent() {
		return []string{a.serial}, nil
	}
	return nil, nil
}

func (a *busADB) RestartServer() error { return nil }

// The full stack: engine tasks travel as JSON over TCP to a served
// arbiter, which drives the board with encoded frames.
func TestBindDeviceThroughArbiter(t *testing.T) {
	board := newFrameBoard([]string{"1d", "1d", "00", "00", "00"}, 1)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := arbiter.New(board, 5, zerolog.Nop())
	go server.Serve(ln)
	t.Cleanup(server.Stop)

	st := NewStore(filepath.Join(t.TempDir(), "bindings.json"))
	engine, err := NewEngine(Deps{
		Client: relay.NewClient(ln.Addr().String()),
		ADB:    &busADB{board: board, serial: "A1B2C3"},
		Store:  st,
	}, fastConfig(), zerolog.Nop())
	require.NoError(t, err)

	bound, err := engine.BindDevice("A1B2C3", 0x1D)
	require.NoError(t, err)
	assert.True(t, bound)

	entry, err := st.Load("A1B2C3")
	require.NoError(t, err)
	assert.Equal(t, Entry{HubValue: 0x1D, PortIndex: 1}, entry)

	// Port 2 carried the same token but failed its probe, so the engine
	// freed it on the wire without naming a device.
	assert.Contains(t, board.recordedBinds(), [2]byte{2, 0})
	assert.Equal(t, "00", board.token(2))
}
