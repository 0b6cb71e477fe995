// Package relay provides the wire types and the TCP client used to talk to
// the relay arbiter daemon. The arbiter owns the relay board's serial line;
// every other process on a test station reaches the hardware exclusively
// through this package.
//
// A request is one serialized Task sent over a fresh TCP connection; the
// response is one serialized Response, after which the connection is
// closed. The transport performs no retries: a timeout surfaces as an
// error and the caller decides whether to try again.
package relay
