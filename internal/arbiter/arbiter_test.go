package arbiter

import (
	"bytes"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relaykit/internal/channel"
	"github.com/relaykit/relaykit/internal/protocol"
	"github.com/relaykit/relaykit/pkg/relay"
)

// mockChannel records every frame and fails the test if two exchanges ever
// overlap, which is exactly the guarantee the arbiter exists to provide.
type mockChannel struct {
	mu       sync.Mutex
	frames   [][]byte
	statesRaw string

	open     atomic.Bool
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func newMockChannel() *mockChannel {
	m := &mockChannel{
		statesRaw: "7e 0b 06 00 0b 1d 00 00 09 63 55",
	}
	m.open.Store(true)
	return m
}

func (m *mockChannel) Exchange(frame []byte) (string, error) {
	if !m.open.Load() {
		return "", channel.ErrClosed
	}
	if m.inFlight.Add(1) > 1 {
		m.overlap.Store(true)
	}
	defer m.inFlight.Add(-1)

	// Widen the window in which a second exchange could sneak in.
	time.Sleep(2 * time.Millisecond)

	m.mu.Lock()
	copied := make([]byte, len(frame))
	copy(copied, frame)
	m.frames = append(m.frames, copied)
	m.mu.Unlock()

	if bytes.Equal(frame, protocol.EncodeQueryStates()) {
		return m.statesRaw, nil
	}
	return protocol.HexString(protocol.EncodeSuccessResponse(frame[2])), nil
}

func (m *mockChannel) IsOpen() bool {
	return m.open.Load()
}

func (m *mockChannel) recorded() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	frames := make([][]byte, len(m.frames))
	copy(frames, m.frames)
	return frames
}

// startServer runs an arbiter on a loopback listener and returns its
// address plus a channel carrying Serve's eventual return value.
func startServer(t *testing.T, ch Exchanger) (addr string, server *Server, done chan error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server = New(ch, 5, zerolog.Nop())
	done = make(chan error, 1)
	go func() { done <- server.Serve(ln) }()
	t.Cleanup(server.Stop)

	return ln.Addr().String(), server, done
}

func waitServe(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestDispatchTable(t *testing.T) {
	tests := []struct {
		name      string
		task      relay.Task
		wantFrame []byte
	}{
		{
			name:      "disconnect by index",
			task:      relay.NewTask(relay.Device{SerialNo: "A1", PortIndex: 2}, relay.DisconnectByIndex),
			wantFrame: protocol.EncodeIndexOff(2),
		},
		{
			name:      "connect by index",
			task:      relay.NewTask(relay.Device{SerialNo: "A1", PortIndex: 2}, relay.ConnectByIndex),
			wantFrame: protocol.EncodeIndexOn(2),
		},
		{
			name:      "disconnect by hub value",
			task:      relay.NewTask(relay.Device{SerialNo: "A1", PortIndex: relay.NoPort, HubValue: 0x1D}, relay.DisconnectByHub),
			wantFrame: protocol.EncodeHubFrame(0x1D, false),
		},
		{
			name:      "connect by hub value",
			task:      relay.NewTask(relay.Device{SerialNo: "A1", PortIndex: relay.NoPort, HubValue: 0x1D}, relay.ConnectByHub),
			wantFrame: protocol.EncodeHubFrame(0x1D, true),
		},
		{
			name:      "bind port",
			task:      relay.NewTask(relay.Device{SerialNo: "A1", PortIndex: 3, HubValue: 0x0B}, relay.SetState),
			wantFrame: protocol.EncodeBind(3, 0x0B),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newMockChannel()
			addr, _, _ := startServer(t, ch)

			resp, err := relay.NewClient(addr).Do(tt.task)
			require.NoError(t, err)
			assert.True(t, resp.OK())

			frames := ch.recorded()
			require.Len(t, frames, 1)
			assert.Equal(t, tt.wantFrame, frames[0])
		})
	}
}

func TestGetStates(t *testing.T) {
	ch := newMockChannel()
	addr, _, _ := startServer(t, ch)

	resp, err := relay.NewClient(addr).Do(relay.NewTask(relay.NewDevice("A1"), relay.GetStates))
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, []string{"0b", "1d", "00", "00", "09"}, resp.States)

	frames := ch.recorded()
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.EncodeQueryStates(), frames[0])
}

func TestGetStatesEmptyBoardResponse(t *testing.T) {
	ch := newMockChannel()
	ch.statesRaw = ""
	addr, _, _ := startServer(t, ch)

	resp, err := relay.NewClient(addr).Do(relay.NewTask(relay.NewDevice("A1"), relay.GetStates))
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Empty(t, resp.States, "an empty board answer is a normal empty state list")
}

func TestConcurrentClientsDoNotInterleave(t *testing.T) {
	ch := newMockChannel()
	addr, _, _ := startServer(t, ch)

	const clients = 10
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := relay.NewClient(addr).Do(relay.NewTask(relay.NewDevice("A1"), relay.GetStates))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, ch.recorded(), clients, "one exchange per request")
	assert.False(t, ch.overlap.Load(), "hardware exchanges must never overlap")
}

func TestMalformedPayloadDropsConnectionOnly(t *testing.T) {
	ch := newMockChannel()
	addr, _, _ := startServer(t, ch)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = conn.Write([]byte("\x80\x01 not a task"))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	data, _ := io.ReadAll(conn)
	conn.Close()
	assert.Empty(t, data, "malformed request gets no response, just a dropped connection")
	assert.Empty(t, ch.recorded(), "malformed request must not touch the hardware")

	// The server keeps listening.
	resp, err := relay.NewClient(addr).Do(relay.NewTask(relay.NewDevice("A1"), relay.GetStates))
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestUnknownKindAnswersKO(t *testing.T) {
	ch := newMockChannel()
	addr, _, _ := startServer(t, ch)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte(`{"device":{"serial_no":"A1","port_index":6,"hub_value":0},"kind":42,"priority":0}`)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	resp, err := relay.DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusKO, resp.Status)
	assert.Empty(t, ch.recorded(), "unknown kind must not touch the hardware")
}

// The binding engine queries states and frees ports without naming a
// device; both request shapes must be acknowledged.
func TestRequestsWithoutSerial(t *testing.T) {
	ch := newMockChannel()
	addr, _, _ := startServer(t, ch)

	resp, err := relay.NewClient(addr).Do(relay.NewTask(relay.Device{PortIndex: relay.NoPort}, relay.GetStates))
	require.NoError(t, err)
	assert.True(t, resp.OK(), "state query without a serial must be acknowledged")
	assert.Equal(t, []string{"0b", "1d", "00", "00", "09"}, resp.States)

	resp, err = relay.NewClient(addr).Do(relay.NewTask(relay.Device{PortIndex: 1, HubValue: 0}, relay.SetState))
	require.NoError(t, err)
	assert.True(t, resp.OK(), "freeing a port without a serial must be acknowledged")

	frames := ch.recorded()
	require.Len(t, frames, 2)
	assert.Equal(t, protocol.EncodeBind(1, 0), frames[1])
}

func TestInvalidPortIndexAnswersKO(t *testing.T) {
	ch := newMockChannel()
	addr, _, _ := startServer(t, ch)

	task := relay.NewTask(relay.Device{SerialNo: "A1", PortIndex: 9}, relay.ConnectByIndex)
	payload, err := relay.EncodeTask(task)
	require.NoError(t, err)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.Write(payload)
	conn.(*net.TCPConn).CloseWrite()

	data, _ := io.ReadAll(conn)
	resp, err := relay.DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusKO, resp.Status)
	assert.Empty(t, ch.recorded())
}

func TestClosedChannelStopsServer(t *testing.T) {
	ch := newMockChannel()
	addr, _, done := startServer(t, ch)

	ch.open.Store(false)

	// This request finds the hardware gone; the accept loop notices on its
	// next pass and shuts down.
	_, err := relay.NewClient(addr).Do(relay.NewTask(relay.NewDevice("A1"), relay.GetStates))
	assert.Error(t, err, "request against dead hardware gets no response")

	assert.ErrorIs(t, waitServe(t, done), ErrHardwareUnavailable)
}

func TestStopReturnsNil(t *testing.T) {
	ch := newMockChannel()
	_, server, done := startServer(t, ch)

	server.Stop()
	assert.NoError(t, waitServe(t, done))
}
