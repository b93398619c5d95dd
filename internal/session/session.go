// Package session owns the connection to the autopilot and the
// teleoperation lifecycle on top of it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenTeleopCore/internal/control"
	"github.com/KevinKickass/OpenTeleopCore/internal/mavlink"
	"github.com/KevinKickass/OpenTeleopCore/internal/params"
	"github.com/KevinKickass/OpenTeleopCore/internal/types"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrQueueFull    = errors.New("command queue full")
	ErrNotConnected = errors.New("not connected")
)

const readBufferSize = 512

// Settings configures timing and identity of a Session.
type Settings struct {
	SystemID          uint8
	TargetSystem      uint8
	InitialGCS        int
	HeartbeatInterval time.Duration
	ReconnectBackoff  time.Duration
	PollTimeout       time.Duration
	MaxReads          int
	QueueSize         int
	ReleaseWait       time.Duration
}

// Session is driven by Tick from a single goroutine. Submit, Status and the
// convenience wrappers around Submit may be called from anywhere.
type Session struct {
	logger     *zap.Logger
	settings   Settings
	link       mavlink.Link
	codec      *mavlink.Codec
	dispatcher *mavlink.Dispatcher
	acc        *control.Accumulator
	params     *params.Sync
	observers  []Observer
	commands   chan Command
	now        func() time.Time

	// owned by the tick
	state       State
	status      common.MAV_STATE
	heartbeatAt time.Time
	retryAt     time.Time
	sessionID   uuid.UUID
	originator  string
	lastFault   *Fault
	reconnects  int
	buf         []byte
	// rebuilt only after a parameter reply
	paramValues []params.Value
	paramsDirty bool

	mu       sync.RWMutex
	snapshot Status
}

func New(settings Settings, link mavlink.Link, acc *control.Accumulator, logger *zap.Logger) (*Session, error) {
	codec, err := mavlink.NewCodec(settings.SystemID, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create codec: %w", err)
	}
	if settings.MaxReads <= 0 {
		settings.MaxReads = 1
	}

	s := &Session{
		logger:      logger,
		settings:    settings,
		link:        link,
		codec:       codec,
		dispatcher:  mavlink.NewDispatcher(codec, mavlink.DefaultHandlers()),
		acc:         acc,
		params:      params.NewSync(acc, settings.SystemID, settings.InitialGCS, logger),
		commands:    make(chan Command, settings.QueueSize),
		now:         time.Now,
		state:       StateDisconnected,
		status:      mavlink.StatusBoot,
		buf:         make([]byte, readBufferSize),
		paramsDirty: true,
	}
	s.publish()
	return s, nil
}

// AddObserver registers o for session events. Call before the first Tick.
func (s *Session) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Submit queues a command for a later tick without blocking.
func (s *Session) Submit(cmd Command) error {
	select {
	case s.commands <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Session) StartTeleoperation(originator string) error {
	return s.Submit(Command{Kind: CommandStart, Originator: originator})
}

func (s *Session) StopTeleoperation() error {
	return s.Submit(Command{Kind: CommandStop})
}

// Deactivate releases control on behalf of the host, as stop does, but
// is logged as a warning.
func (s *Session) Deactivate() error {
	return s.Submit(Command{Kind: CommandDeactivate})
}

func (s *Session) SubmitActions(actions types.RemoteActions) error {
	return s.Submit(Command{Kind: CommandActions, Actions: actions})
}

// Status returns the snapshot published at the end of the last tick.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Tick runs one scheduling pass: drain telemetry, heartbeat, reconnect,
// then at most one queued command.
func (s *Session) Tick(ctx context.Context) {
	defer s.publish()

	if s.state.Connected() {
		s.drain()
	}

	now := s.now()
	if s.state.Connected() && !now.Before(s.heartbeatAt) {
		s.sendHeartbeat()
		s.heartbeatAt = now.Add(s.settings.HeartbeatInterval)
	}

	if s.state == StateDisconnected && !now.Before(s.retryAt) {
		s.connect(now)
	}

	if !s.state.Connected() || ctx.Err() != nil {
		return
	}

	select {
	case cmd := <-s.commands:
		s.handle(cmd)
	default:
	}
}

// Shutdown releases control when a teleoperation is in progress, waits at
// most ReleaseWait for it to reach the vehicle and closes the link.
// It must not run concurrently with Tick.
func (s *Session) Shutdown(ctx context.Context) error {
	defer s.publish()

	s.status = mavlink.StatusStandby
	if s.state == StateActive {
		s.status = mavlink.StatusPowerOff
		if err := s.disableControl(); err == nil {
			s.notify(Event{Type: EventControlLoops, Data: ControlLoops{Enabled: false, Loops: teleopLoops}})
			select {
			case <-time.After(s.settings.ReleaseWait):
			case <-ctx.Done():
			}
		}
	}

	err := s.link.Close()
	s.codec.Reset()
	s.setState(StateDisconnected)
	s.logger.Info("Session shut down")
	return err
}

func (s *Session) drain() {
	for i := 0; i < s.settings.MaxReads && s.state.Connected(); i++ {
		n, err := s.link.Read(s.buf, s.settings.PollTimeout)
		if err != nil {
			s.transportFault("read", err)
			return
		}
		if n == 0 {
			return
		}

		updates, err := s.dispatcher.Feed(s.buf[:n])
		for _, u := range updates {
			s.apply(u)
		}
		if err != nil {
			s.logger.Warn("Discarding telemetry batch", zap.Error(err))
			s.recordFault(FaultProtocol, err)
		}
	}
}

func (s *Session) apply(u mavlink.Update) {
	switch u := u.(type) {
	case mavlink.ParamUpdate:
		outcome := s.params.Apply(u.Name, u.Value)
		s.paramsDirty = true
		s.notify(Event{Type: EventParam, Data: params.Value{Name: u.Name, Value: u.Value, ReceivedAt: s.now()}})
		if outcome == params.OutcomeGCSChanged && s.state == StateActive {
			s.logger.Warn("Autopilot ground control station is not this system",
				zap.Int("gcs", s.params.GCS()),
				zap.Uint8("system_id", s.settings.SystemID))
			s.recordFault(FaultIdentityConflict, fmt.Errorf("vehicle claimed by system %d", s.params.GCS()))
		}
	case mavlink.SystemTimeUpdate:
		s.logger.Debug("Autopilot system time",
			zap.Uint64("unix_usec", u.UnixUsec),
			zap.Uint32("boot_ms", u.BootMs))
	case mavlink.RCChannelsUpdate:
		s.logger.Debug("RC channels report",
			zap.Uint8("count", u.Count),
			zap.Uint16s("pwm", u.Channels[:]))
	}
}

func (s *Session) connect(now time.Time) {
	s.setState(StateConnecting)
	s.status = mavlink.StatusBoot

	if err := s.link.Open(); err != nil {
		s.logger.Warn("Connection failed", zap.Error(err))
		s.recordFault(FaultTransport, err)
		s.retryAt = now.Add(s.settings.ReconnectBackoff)
		s.setState(StateDisconnected)
		return
	}

	s.reconnects++
	s.heartbeatAt = now.Add(s.settings.HeartbeatInterval)
	s.logger.Info("Autopilot teleoperation interface initialized", zap.Int("attempt", s.reconnects))

	if err := s.handshake(); err != nil {
		return
	}
	s.status = mavlink.StatusStandby
	s.setState(StateIdle)
}

func (s *Session) handshake() error {
	s.logger.Debug("Sending GCS configuration")
	target := s.settings.TargetSystem
	return s.sendAll(
		mavlink.ParamRequestRead(target, params.GCSID),
		mavlink.ParamRequestList(target),
		mavlink.ParamSet(target, params.FSGCSEnable, params.FailsafeDepthHold),
	)
}

func (s *Session) handle(cmd Command) {
	switch cmd.Kind {
	case CommandStart:
		if s.state != StateIdle {
			s.logger.Warn("Ignoring teleoperation start", zap.String("state", string(s.state)))
			return
		}
		s.activate(cmd.Originator)
	case CommandStop, CommandDeactivate:
		if s.state != StateActive {
			s.logger.Debug("Ignoring teleoperation stop", zap.String("state", string(s.state)))
			return
		}
		if cmd.Kind == CommandDeactivate {
			s.logger.Warn("Deactivating autopilot control")
		}
		s.release()
	case CommandActions:
		if s.state != StateActive {
			s.logger.Debug("Dropping remote actions outside teleoperation", zap.String("state", string(s.state)))
			return
		}
		s.applyActions(cmd.Actions)
	default:
		s.logger.Warn("Unknown session command", zap.String("command", string(cmd.Kind)))
	}
}

func (s *Session) activate(originator string) {
	target := s.settings.TargetSystem
	s.status = mavlink.StatusActive

	err := s.sendAll(
		mavlink.ParamSet(target, params.GCSID, float32(s.settings.SystemID)),
		mavlink.OperatorControl(target, false),
	)
	if err == nil {
		err = s.requestParams()
	}
	if err == nil {
		err = s.send(mavlink.SetMode(target, uint32(control.ModeManual)))
	}
	if err == nil {
		err = s.arm(true)
	}
	if err == nil {
		err = s.idle()
	}
	if err != nil {
		s.status = mavlink.StatusStandby
		return
	}

	s.sessionID = uuid.New()
	s.originator = originator
	s.setState(StateActive)

	s.logger.Info("Gain level", zap.Float64("percent", s.acc.State().Gain*100))
	s.logger.Warn("Started teleoperation",
		zap.String("requested_by", originator),
		zap.String("session_id", s.sessionID.String()))
	s.notify(Event{Type: EventControlLoops, Data: ControlLoops{Enabled: true, Loops: teleopLoops}})
}

func (s *Session) release() {
	s.setState(StateReleasing)
	s.status = mavlink.StatusStandby

	if err := s.disableControl(); err != nil {
		return
	}

	s.logger.Info("Teleoperation stopped", zap.String("session_id", s.sessionID.String()))
	s.sessionID = uuid.Nil
	s.originator = ""
	s.setState(StateIdle)
	s.notify(Event{Type: EventControlLoops, Data: ControlLoops{Enabled: false, Loops: teleopLoops}})
}

// disableControl idles the vehicle, releases it and hands it back to the
// ground station that owned it before.
func (s *Session) disableControl() error {
	s.logger.Debug("Disabling GCS control")
	if err := s.idle(); err != nil {
		return err
	}
	target := s.settings.TargetSystem
	return s.sendAll(
		mavlink.OperatorControl(target, true),
		mavlink.ParamSet(target, params.GCSID, float32(s.params.GCS())),
	)
}

func (s *Session) requestParams() error {
	target := s.settings.TargetSystem
	for _, name := range params.JoystickParams() {
		if err := s.send(mavlink.ParamRequestRead(target, name)); err != nil {
			return err
		}
		s.logger.Info("Requesting parameter", zap.String("param", name))
	}
	return s.send(mavlink.ParamRequestRead(target, params.GCSID))
}

func (s *Session) applyActions(batch types.RemoteActions) {
	res := s.acc.Apply(batch)

	if res.Mode != nil {
		if err := s.send(mavlink.SetMode(s.settings.TargetSystem, uint32(*res.Mode))); err != nil {
			return
		}
		s.logger.Debug("Set mode", zap.String("mode", res.Mode.String()))
	}

	switch res.Arm {
	case control.DisarmRequested:
		if s.arm(false) != nil {
			return
		}
	case control.ArmRequested:
		if s.arm(true) != nil {
			return
		}
	}

	s.actuate(res.Frame)
}

func (s *Session) arm(arm bool) error {
	err := s.send(mavlink.ArmDisarm(s.settings.TargetSystem, arm))
	if err != nil {
		verb := "disarming"
		if arm {
			verb = "arming"
		}
		s.logger.Warn("Error "+verb, zap.Error(err))
		s.recordFault(FaultCommandFailure, fmt.Errorf("%s: %w", verb, err))
		return err
	}
	return nil
}

func (s *Session) idle() error {
	return s.actuate(s.acc.Idle())
}

func (s *Session) actuate(frame types.ActuationFrame) error {
	if err := s.send(mavlink.RCOverride(s.settings.TargetSystem, frame)); err != nil {
		return err
	}
	s.notify(Event{Type: EventActuation, Data: frame})
	return nil
}

func (s *Session) sendHeartbeat() {
	if s.send(mavlink.Heartbeat(s.status)) == nil {
		s.logger.Debug("Sent heartbeat", zap.String("status", statusName(s.status)))
	}
}

func (s *Session) sendAll(msgs ...message.Message) error {
	for _, msg := range msgs {
		if err := s.send(msg); err != nil {
			return err
		}
	}
	return nil
}

// send writes one message. A write failure drops the session to
// Disconnected; later sends in the same tick fail with ErrNotConnected.
func (s *Session) send(msg message.Message) error {
	if !s.state.Connected() && s.state != StateConnecting {
		return ErrNotConnected
	}

	data, err := s.codec.Encode(msg)
	if err != nil {
		s.logger.Error("Failed to encode message", zap.Error(err))
		return err
	}

	if err := s.link.Write(data); err != nil {
		s.transportFault("write", err)
		return err
	}

	s.logger.Debug("Sent MAVLink message",
		zap.Uint32("msg_id", msg.GetID()),
		zap.Int("bytes", len(data)))
	return nil
}

// transportFault discards the link. A connected session retries on the
// next tick; a failing handshake waits for the backoff.
func (s *Session) transportFault(op string, err error) {
	s.logger.Error("Unable to exchange data with autopilot",
		zap.String("op", op),
		zap.Error(err))
	s.recordFault(FaultTransport, fmt.Errorf("%s: %w", op, err))

	if s.state == StateConnecting {
		s.retryAt = s.now().Add(s.settings.ReconnectBackoff)
	} else {
		s.retryAt = time.Time{}
	}

	s.link.Close()
	s.codec.Reset()
	s.sessionID = uuid.Nil
	s.originator = ""
	s.setState(StateDisconnected)
}

func (s *Session) recordFault(kind FaultKind, err error) {
	f := &Fault{Kind: kind, Message: err.Error(), At: s.now()}
	s.lastFault = f
	s.notify(Event{Type: EventFault, Data: *f})
}

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	previous := s.state
	s.state = state

	s.logger.Info("Session state changed",
		zap.String("state", string(state)),
		zap.String("previous", string(previous)))
	s.notify(Event{Type: EventState, Data: StateChange{State: state, Previous: previous}})
}

func (s *Session) notify(ev Event) {
	for _, o := range s.observers {
		o.OnSessionEvent(ev)
	}
}

func (s *Session) publish() {
	if s.paramsDirty {
		s.paramValues = s.params.Values()
		s.paramsDirty = false
	}
	st := Status{
		State:        s.state,
		SystemStatus: statusName(s.status),
		Originator:   s.originator,
		Control:      s.acc.State(),
		Frame:        s.acc.Frame(),
		GCS:          s.params.GCS(),
		LastFault:    s.lastFault,
		Params:       s.paramValues,
		Reconnects:   s.reconnects,
		UpdatedAt:    s.now(),
	}
	if s.sessionID != uuid.Nil {
		st.SessionID = s.sessionID.String()
	}

	s.mu.Lock()
	s.snapshot = st
	s.mu.Unlock()
}

func statusName(st common.MAV_STATE) string {
	switch st {
	case mavlink.StatusBoot:
		return "booting"
	case mavlink.StatusStandby:
		return "standby"
	case mavlink.StatusActive:
		return "active"
	case mavlink.StatusPowerOff:
		return "powering_off"
	default:
		return "uninit"
	}
}
