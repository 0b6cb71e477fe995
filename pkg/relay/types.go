package relay

import "fmt"

// MessageKind identifies the hardware action a Task requests. The set is
// closed; the arbiter answers "KO" to anything else.
type MessageKind int

const (
	// DisconnectByIndex powers a relay port off by its 1-based index
	DisconnectByIndex MessageKind = 0

	// ConnectByIndex powers a relay port on by its 1-based index
	ConnectByIndex MessageKind = 1

	// DisconnectByHub cuts the USB line of the port bound to a hub value
	DisconnectByHub MessageKind = 2

	// ConnectByHub restores the USB line of the port bound to a hub value
	ConnectByHub MessageKind = 3

	// GetStates queries the state token of every port
	GetStates MessageKind = 4

	// SetState writes a hub value into a port's state slot (bind); writing
	// zero frees the slot (release)
	SetState MessageKind = 5
)

// Valid reports whether k is a member of the closed message set.
func (k MessageKind) Valid() bool {
	return k >= DisconnectByIndex && k <= SetState
}

func (k MessageKind) String() string {
	switch k {
	case DisconnectByIndex:
		return "DISCONNECT_BY_INDEX"
	case ConnectByIndex:
		return "CONNECT_BY_INDEX"
	case DisconnectByHub:
		return "DISCONNECT_BY_HUBVALUE"
	case ConnectByHub:
		return "CONNECT_BY_HUBVALUE"
	case GetStates:
		return "GET_STATES"
	case SetState:
		return "SET_STATE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(k))
	}
}

// NoPort is the PortIndex of a device not associated with any relay port.
// It sits one past the board's highest port so hub-value frames, which
// ignore the index, can carry it harmlessly.
const NoPort = 6

// Device identifies an Android test device as the relay sees it.
type Device struct {
	SerialNo  string `json:"serial_no"`
	PortIndex int    `json:"port_index"` // 1-based relay port, NoPort when unset
	HubValue  int    `json:"hub_value"`  // USB topology id, 0 when unknown
}

// NewDevice returns a Device with no port association.
func NewDevice(serialNo string) Device {
	return Device{SerialNo: serialNo, PortIndex: NoPort}
}

// Task is one request to the arbiter. Priority orders tasks queued by a
// single caller; it has no effect on arbiter exclusivity.
type Task struct {
	Device   Device      `json:"device"`
	Kind     MessageKind `json:"kind"`
	Priority int         `json:"priority"`
}

// NewTask wraps a device and a message kind with default priority.
func NewTask(device Device, kind MessageKind) Task {
	return Task{Device: device, Kind: kind}
}

// Validate checks that the task carries what its kind acts on: a port
// index in board range for index kinds, a non-zero hub value for hub
// kinds, both for a state write. The serial number is log metadata and
// may be empty — a state query or a port-freeing write has no device to
// name.
func (t Task) Validate(boardPorts int) error {
	switch t.Kind {
	case DisconnectByIndex, ConnectByIndex:
		if t.Device.PortIndex < 1 || t.Device.PortIndex > boardPorts {
			return fmt.Errorf("port index %d out of range [1, %d]", t.Device.PortIndex, boardPorts)
		}
	case DisconnectByHub, ConnectByHub:
		if t.Device.HubValue < 1 || t.Device.HubValue > 0xFF {
			return fmt.Errorf("hub value %d out of range [1, 255]", t.Device.HubValue)
		}
	case SetState:
		if t.Device.PortIndex < 1 || t.Device.PortIndex > boardPorts {
			return fmt.Errorf("port index %d out of range [1, %d]", t.Device.PortIndex, boardPorts)
		}
		if t.Device.HubValue < 0 || t.Device.HubValue > 0xFF {
			return fmt.Errorf("hub value %d out of range [0, 255]", t.Device.HubValue)
		}
	case GetStates:
		// Reads everything, needs nothing.
	default:
		return fmt.Errorf("unknown message kind %d", int(t.Kind))
	}
	return nil
}

func (t Task) String() string {
	return fmt.Sprintf("[P%d, port %d, sn %q, %s]", t.Priority, t.Device.PortIndex, t.Device.SerialNo, t.Kind)
}

// ByPriority sorts tasks by ascending priority. Ordering is by priority
// only; ties keep their relative order undefined.
type ByPriority []Task

func (s ByPriority) Len() int           { return len(s) }
func (s ByPriority) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s ByPriority) Less(i, j int) bool { return s[i].Priority < s[j].Priority }

// Response statuses.
const (
	// StatusOK acknowledges a completed hardware action
	StatusOK = "OK"

	// StatusKO rejects a request the arbiter could not act on
	StatusKO = "KO"
)

// Response is the arbiter's answer to a Task. States is populated only for
// GetStates requests.
type Response struct {
	Status string   `json:"status"`
	States []string `json:"states,omitempty"`
}

// OK reports whether the arbiter acknowledged the request.
func (r *Response) OK() bool {
	return r.Status == StatusOK
}
