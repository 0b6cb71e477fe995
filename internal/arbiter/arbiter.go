// Package arbiter implements the network-facing hardware arbitration
// server. It accepts one client connection at a time and executes exactly
// one serial exchange per request, so the relay board never sees
// interleaved commands.
//
// Exclusivity is by construction: the accept loop is single-threaded and
// is the only code path that reaches the hardware channel. A connection's
// full cycle — read, decode, dispatch, exchange, respond, close — finishes
// before the next connection is accepted.
package arbiter

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/relaykit/relaykit/internal/channel"
	"github.com/relaykit/relaykit/internal/protocol"
	"github.com/relaykit/relaykit/pkg/relay"
)

// ErrHardwareUnavailable means the serial channel is gone. The accept loop
// stops; the process must be restarted with the board attached.
var ErrHardwareUnavailable = errors.New("relay hardware unavailable")

// connTimeout bounds one client's read/write cycle. A client that neither
// sends a payload nor reads its response is dropped.
const connTimeout = 5 * time.Second

// Exchanger is the hardware channel as the arbiter sees it.
type Exchanger interface {
	Exchange(frame []byte) (string, error)
	IsOpen() bool
}

// Server serializes relay requests onto a single hardware channel.
type Server struct {
	ch         Exchanger
	boardPorts int
	log        zerolog.Logger

	ln       net.Listener
	stopping atomic.Bool
}

// New creates an arbiter over the given hardware channel. boardPorts is
// the number of switched ports on the board, used to validate indices
// before they reach the wire.
func New(ch Exchanger, boardPorts int, log zerolog.Logger) *Server {
	return &Server{ch: ch, boardPorts: boardPorts, log: log}
}

// ListenAndServe listens on addr and runs the accept loop until Stop is
// called or the hardware becomes unavailable.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve runs the accept loop on ln. It returns nil after Stop, and
// ErrHardwareUnavailable when the serial channel closes underneath it —
// that condition is not recoverable in-process.
func (s *Server) Serve(ln net.Listener) error {
	s.ln = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("arbiter listening")

	for {
		if !s.ch.IsOpen() {
			ln.Close()
			s.log.Error().Msg("serial channel closed, stopping")
			return ErrHardwareUnavailable
		}

		conn, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() {
				s.log.Info().Msg("arbiter stopped")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.handle(conn)
	}
}

// Stop closes the listener, ending the accept loop. The in-flight
// connection, if any, completes first.
func (s *Server) Stop() {
	s.stopping.Store(true)
	if s.ln != nil {
		s.ln.Close()
	}
}

// handle runs one connection's full cycle. Faults here are isolated: a bad
// request drops its own connection and the server keeps listening.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	id := uuid.NewString()[:8]
	log := s.log.With().Str("conn", id).Logger()
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("accepted")

	if err := conn.SetDeadline(time.Now().Add(connTimeout)); err != nil {
		log.Warn().Err(err).Msg("dropping connection")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(conn, relay.MaxPayload))
	if err != nil || len(payload) == 0 {
		log.Warn().Err(err).Msg("KO: no payload, dropping connection")
		return
	}

	task, err := relay.DecodeTask(payload)
	if err != nil {
		log.Warn().Err(err).Msg("KO: malformed task, dropping connection")
		return
	}
	log.Debug().Stringer("task", task).Msg("decoded")

	resp, err := s.dispatch(log, task)
	if err != nil {
		// The exchange failed because the hardware is gone; the accept
		// loop notices on its next pass and shuts the server down.
		log.Error().Err(err).Msg("hardware exchange failed")
		return
	}

	data, err := relay.EncodeResponse(resp)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		return
	}
	if _, err := conn.Write(data); err != nil {
		log.Warn().Err(err).Msg("client went away before response")
		return
	}
	log.Debug().Str("status", resp.Status).Msg("responded")
}

// dispatch maps a task onto a hardware action. Unknown kinds and invalid
// tasks answer "KO" without touching the hardware; only exchange failures
// return an error.
func (s *Server) dispatch(log zerolog.Logger, task relay.Task) (relay.Response, error) {
	ko := relay.Response{Status: relay.StatusKO}

	if !task.Kind.Valid() {
		log.Warn().Int("kind", int(task.Kind)).Msg("KO: unknown message kind")
		return ko, nil
	}
	if err := task.Validate(s.boardPorts); err != nil {
		log.Warn().Err(err).Msg("KO: invalid task")
		return ko, nil
	}

	dev := task.Device
	var frame []byte
	switch task.Kind {
	case relay.DisconnectByIndex:
		log.Info().Int("port", dev.PortIndex).Msg("power off relay port")
		frame = protocol.EncodeIndexOff(byte(dev.PortIndex))
	case relay.ConnectByIndex:
		log.Info().Int("port", dev.PortIndex).Msg("power on relay port")
		frame = protocol.EncodeIndexOn(byte(dev.PortIndex))
	case relay.DisconnectByHub:
		log.Info().Int("hub", dev.HubValue).Msg("disconnect USB line")
		frame = protocol.EncodeHubFrame(byte(dev.HubValue), false)
	case relay.ConnectByHub:
		log.Info().Int("hub", dev.HubValue).Msg("connect USB line")
		frame = protocol.EncodeHubFrame(byte(dev.HubValue), true)
	case relay.SetState:
		log.Info().Int("port", dev.PortIndex).Int("hub", dev.HubValue).Msg("bind relay port")
		frame = protocol.EncodeBind(byte(dev.PortIndex), byte(dev.HubValue))
	case relay.GetStates:
		log.Info().Msg("read relay port states")
		return s.queryStates(log)
	}

	if _, err := s.exchange(frame); err != nil {
		return ko, err
	}
	return relay.Response{Status: relay.StatusOK}, nil
}

func (s *Server) queryStates(log zerolog.Logger) (relay.Response, error) {
	raw, err := s.exchange(protocol.EncodeQueryStates())
	if err != nil {
		return relay.Response{Status: relay.StatusKO}, err
	}

	states, err := protocol.DecodeStates(raw)
	if err != nil {
		log.Warn().Err(err).Str("raw", raw).Msg("KO: unreadable states response")
		return relay.Response{Status: relay.StatusKO}, nil
	}
	return relay.Response{Status: relay.StatusOK, States: states}, nil
}

func (s *Server) exchange(frame []byte) (string, error) {
	raw, err := s.ch.Exchange(frame)
	if err != nil {
		if errors.Is(err, channel.ErrClosed) {
			return "", fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
		}
		return "", err
	}
	return raw, nil
}
