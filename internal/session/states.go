package session

import (
	"time"

	"github.com/KevinKickass/OpenTeleopCore/internal/control"
	"github.com/KevinKickass/OpenTeleopCore/internal/params"
	"github.com/KevinKickass/OpenTeleopCore/internal/types"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateIdle         State = "idle"
	StateActive       State = "active"
	StateReleasing    State = "releasing"
)

// Connected reports whether the transport is up in this state.
func (s State) Connected() bool {
	return s == StateIdle || s == StateActive || s == StateReleasing
}

type CommandKind string

const (
	CommandStart      CommandKind = "start"
	CommandStop       CommandKind = "stop"
	CommandDeactivate CommandKind = "deactivate"
	CommandActions    CommandKind = "actions"
)

// Command is one externally delivered message for the session.
type Command struct {
	Kind       CommandKind
	Originator string
	Actions    types.RemoteActions
}

type FaultKind string

const (
	FaultTransport        FaultKind = "transport"
	FaultProtocol         FaultKind = "protocol"
	FaultIdentityConflict FaultKind = "identity_conflict"
	FaultCommandFailure   FaultKind = "command_failure"
)

type Fault struct {
	Kind    FaultKind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type EventType string

const (
	EventState        EventType = "session_state"
	EventActuation    EventType = "actuation"
	EventParam        EventType = "device_param"
	EventFault        EventType = "fault"
	EventControlLoops EventType = "control_loops"
)

// Event is delivered synchronously to observers from the tick.
type Event struct {
	Type EventType
	Data any
}

type StateChange struct {
	State    State `json:"state"`
	Previous State `json:"previous_state"`
}

// ControlLoops names the downstream loops teleoperation drives.
type ControlLoops struct {
	Enabled bool     `json:"enabled"`
	Loops   []string `json:"loops"`
}

var teleopLoops = []string{"yaw_rate", "pitch", "roll", "depth", "throttle"}

// Observer must not block.
type Observer interface {
	OnSessionEvent(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) OnSessionEvent(ev Event) { f(ev) }

// Status is a point-in-time copy of the session, safe to share.
type Status struct {
	State        State                `json:"state"`
	SystemStatus string               `json:"system_status"`
	SessionID    string               `json:"session_id,omitempty"`
	Originator   string               `json:"originator,omitempty"`
	Control      control.State        `json:"control"`
	Frame        types.ActuationFrame `json:"frame"`
	GCS          int                  `json:"gcs"`
	LastFault    *Fault               `json:"last_fault,omitempty"`
	Params       []params.Value       `json:"params"`
	Reconnects   int                  `json:"reconnects"`
	UpdatedAt    time.Time            `json:"updated_at"`
}
