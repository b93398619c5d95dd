package interfaces

import (
	"context"
	"time"

	"github.com/KevinKickass/OpenTeleopCore/internal/config"
	"github.com/KevinKickass/OpenTeleopCore/internal/session"
	"github.com/KevinKickass/OpenTeleopCore/internal/types"
)

// SystemStatus represents the current process state
type SystemStatus struct {
	State        string        `json:"state"`
	SessionState session.State `json:"session_state"`
	Vehicle      string        `json:"vehicle"`
	Clients      int           `json:"websocket_clients"`
	StartedAt    time.Time     `json:"started_at"`
	Uptime       string        `json:"uptime"`
}

// Teleop is the command and status surface of the running session.
// Requests are queued for the session tick, never applied inline.
type Teleop interface {
	StartTeleoperation(originator string) error
	StopTeleoperation() error
	SubmitActions(actions types.RemoteActions) error
	Status() session.Status
}

type LifecycleManager interface {
	Config() *config.Config
	Teleop() Teleop
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
