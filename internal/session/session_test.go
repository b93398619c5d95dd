package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/OpenTeleopCore/internal/control"
	"github.com/KevinKickass/OpenTeleopCore/internal/mavlink"
	"github.com/KevinKickass/OpenTeleopCore/internal/params"
	"github.com/KevinKickass/OpenTeleopCore/internal/types"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func paramReply(t *testing.T, name string, value float32) []byte {
	t.Helper()
	dev, err := mavlink.NewCodec(1, 1)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	data, err := dev.Encode(&common.MessageParamValue{ParamId: name, ParamValue: value, ParamType: common.MAV_PARAM_TYPE_REAL32})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func countArm(msgs []message.Message, arm bool) int {
	n := 0
	for _, m := range msgs {
		if c, ok := m.(*common.MessageCommandLong); ok && c.Command == common.MAV_CMD_COMPONENT_ARM_DISARM {
			if (c.Param1 == 1) == arm {
				n++
			}
		}
	}
	return n
}

func modes(msgs []message.Message) []uint32 {
	var out []uint32
	for _, m := range msgs {
		if sm, ok := m.(*common.MessageSetMode); ok {
			out = append(out, sm.CustomMode)
		}
	}
	return out
}

func operatorControl(msgs []message.Message, request uint8) int {
	n := 0
	for _, m := range msgs {
		if oc, ok := m.(*common.MessageChangeOperatorControl); ok && oc.ControlRequest == request {
			n++
		}
	}
	return n
}

func paramSets(msgs []message.Message, name string) []float32 {
	var out []float32
	for _, m := range msgs {
		if ps, ok := m.(*common.MessageParamSet); ok && ps.ParamId == name {
			out = append(out, ps.ParamValue)
		}
	}
	return out
}

func lastOverride(t *testing.T, msgs []message.Message) *common.MessageRcChannelsOverride {
	t.Helper()
	for i := len(msgs) - 1; i >= 0; i-- {
		if rc, ok := msgs[i].(*common.MessageRcChannelsOverride); ok {
			return rc
		}
	}
	t.Fatalf("no RC override in %v", describe(msgs))
	return nil
}

func TestConnectHandshake(t *testing.T) {
	h := newHarness(t)
	h.tick()

	st := h.session.Status()
	if st.State != StateIdle {
		t.Fatalf("state = %s, want idle", st.State)
	}
	if st.SystemStatus != "standby" {
		t.Errorf("system status = %s, want standby", st.SystemStatus)
	}

	msgs := h.link.takeMessages(t)
	if len(msgs) != 3 {
		t.Fatalf("handshake sent %v", describe(msgs))
	}
	if req, ok := msgs[0].(*common.MessageParamRequestRead); !ok || req.ParamId != params.GCSID {
		t.Errorf("first message = %#v, want SYSID_MYGCS read", msgs[0])
	}
	if _, ok := msgs[1].(*common.MessageParamRequestList); !ok {
		t.Errorf("second message = %T, want param request list", msgs[1])
	}
	if got := paramSets(msgs, params.FSGCSEnable); len(got) != 1 || got[0] != params.FailsafeDepthHold {
		t.Errorf("failsafe param set = %v", got)
	}
}

func TestStartTeleoperation(t *testing.T) {
	h := newHarness(t)
	h.connect()

	if err := h.session.StartTeleoperation("ccu-1"); err != nil {
		t.Fatalf("StartTeleoperation: %v", err)
	}
	h.tick()

	st := h.session.Status()
	if st.State != StateActive {
		t.Fatalf("state = %s, want active", st.State)
	}
	if st.SessionID == "" || st.Originator != "ccu-1" || st.SystemStatus != "active" {
		t.Errorf("status = %+v", st)
	}

	msgs := h.link.takeMessages(t)
	if n := countArm(msgs, true); n != 1 {
		t.Errorf("arm commands = %d, want 1", n)
	}
	if m := modes(msgs); len(m) != 1 || m[0] != uint32(control.ModeManual) {
		t.Errorf("mode changes = %v, want [manual]", m)
	}
	if n := operatorControl(msgs, 0); n != 1 {
		t.Errorf("control requests = %d, want 1", n)
	}
	if got := paramSets(msgs, params.GCSID); len(got) != 1 || got[0] != 254 {
		t.Errorf("GCS claim = %v, want [254]", got)
	}

	reads := map[string]bool{}
	for _, m := range msgs {
		if r, ok := m.(*common.MessageParamRequestRead); ok {
			reads[r.ParamId] = true
		}
	}
	for _, name := range append(params.JoystickParams(), params.GCSID) {
		if !reads[name] {
			t.Errorf("parameter %s not requested", name)
		}
	}

	rc := lastOverride(t, msgs)
	if rc.Chan1Raw != types.PWMNeutral || rc.Chan8Raw != types.PWMNeutral || rc.Chan11Raw != types.PWMNeutral {
		t.Errorf("start did not idle channels: %+v", rc)
	}

	var loopsEnabled bool
	for _, ev := range h.events.events {
		if cl, ok := ev.Data.(ControlLoops); ok && cl.Enabled {
			loopsEnabled = true
		}
	}
	if !loopsEnabled {
		t.Error("control loops were not enabled")
	}
}

func TestStartIgnoredWhenActive(t *testing.T) {
	h := newHarness(t)
	h.activate()

	h.session.StartTeleoperation("second")
	h.tick()

	if n := countArm(h.link.takeMessages(t), true); n != 0 {
		t.Errorf("second start sent %d arm commands", n)
	}
	if got := h.session.Status().Originator; got != "ccu-test" {
		t.Errorf("originator = %s", got)
	}
}

func TestStopTeleoperation(t *testing.T) {
	h := newHarness(t)
	h.activate()

	h.session.SubmitActions(types.RemoteActions{"Forward": 500, types.ButtonTiltUp: 1})
	h.tick()
	h.link.takeMessages(t)

	h.session.StopTeleoperation()
	h.tick()

	st := h.session.Status()
	if st.State != StateIdle {
		t.Fatalf("state = %s, want idle", st.State)
	}
	if st.SessionID != "" {
		t.Errorf("session id kept after stop: %s", st.SessionID)
	}
	for ch, v := range st.Frame {
		if v != types.PWMNeutral {
			t.Errorf("channel %s = %d after stop", types.Channel(ch), v)
		}
	}

	msgs := h.link.takeMessages(t)
	if n := operatorControl(msgs, 1); n != 1 {
		t.Errorf("control releases = %d, want 1", n)
	}
	if got := paramSets(msgs, params.GCSID); len(got) != 1 || got[0] != 1 {
		t.Errorf("GCS restore = %v, want [1]", got)
	}
	rc := lastOverride(t, msgs)
	if rc.Chan5Raw != types.PWMNeutral || rc.Chan8Raw != types.PWMNeutral {
		t.Errorf("stop did not idle: %+v", rc)
	}
}

func TestDeactivateReleasesControl(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.link.takeMessages(t)

	core, logs := observer.New(zapcore.WarnLevel)
	h.session.logger = zap.New(core)

	if err := h.session.Deactivate(); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	h.tick()

	if st := h.session.Status().State; st != StateIdle {
		t.Fatalf("state = %s, want idle", st)
	}
	msgs := h.link.takeMessages(t)
	if n := operatorControl(msgs, 1); n != 1 {
		t.Errorf("control releases = %d, want 1", n)
	}
	if got := paramSets(msgs, params.GCSID); len(got) != 1 || got[0] != 1 {
		t.Errorf("GCS restore = %v, want [1]", got)
	}
	if n := logs.FilterMessage("Deactivating autopilot control").Len(); n != 1 {
		t.Errorf("deactivation warnings = %d, want 1", n)
	}

	// Nothing left to release once idle.
	h.session.Deactivate()
	h.tick()
	if n := operatorControl(h.link.takeMessages(t), 1); n != 0 {
		t.Errorf("second deactivate sent %d releases", n)
	}
}

func TestRemoteActionsActuate(t *testing.T) {
	h := newHarness(t)
	h.activate()

	h.session.SubmitActions(types.RemoteActions{
		"Forward":                500,
		"Lateral":                -1000,
		types.ButtonDepthHold:    1,
		types.ButtonTiltUp:       1,
		types.ButtonPitchForward: 1,
	})
	h.tick()

	msgs := h.link.takeMessages(t)
	if m := modes(msgs); len(m) != 1 || m[0] != uint32(control.ModeDepthHold) {
		t.Errorf("modes = %v, want [depth hold]", m)
	}
	rc := lastOverride(t, msgs)
	if rc.Chan5Raw != 1700 || rc.Chan6Raw != 1100 || rc.Chan8Raw != 1550 {
		t.Errorf("override = %+v", rc)
	}
	if _, ok := msgs[len(msgs)-1].(*common.MessageRcChannelsOverride); !ok {
		t.Errorf("override not sent last: %v", describe(msgs))
	}

	st := h.session.Status()
	if st.Control.PitchTrim != control.TrimStep {
		t.Errorf("pitch trim = %v", st.Control.PitchTrim)
	}
}

func TestRemoteActionsDroppedWhenIdle(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.session.SubmitActions(types.RemoteActions{"Forward": 500, types.ButtonArm: 1})
	h.tick()

	if msgs := h.link.takeMessages(t); len(msgs) != 0 {
		t.Errorf("idle session sent %v", describe(msgs))
	}
}

func TestHeartbeatInterval(t *testing.T) {
	h := newHarness(t)
	h.connect()

	heartbeats := func() []*common.MessageHeartbeat {
		var out []*common.MessageHeartbeat
		for _, m := range h.link.takeMessages(t) {
			if hb, ok := m.(*common.MessageHeartbeat); ok {
				out = append(out, hb)
			}
		}
		return out
	}

	h.clock.advance(500 * time.Millisecond)
	h.tick()
	if n := len(heartbeats()); n != 0 {
		t.Fatalf("heartbeat sent early (%d)", n)
	}

	h.clock.advance(500 * time.Millisecond)
	h.tick()
	h.tick()
	hbs := heartbeats()
	if len(hbs) != 1 {
		t.Fatalf("heartbeats = %d, want 1", len(hbs))
	}
	if hbs[0].Type != common.MAV_TYPE_GCS || hbs[0].SystemStatus != mavlink.StatusStandby {
		t.Errorf("heartbeat = %+v", hbs[0])
	}

	h.session.StartTeleoperation("ccu")
	h.tick()
	h.clock.advance(time.Second)
	h.tick()
	hbs = heartbeats()
	if len(hbs) != 1 || hbs[0].SystemStatus != mavlink.StatusActive {
		t.Errorf("active heartbeat = %+v", hbs)
	}
}

func TestWriteFailureReconnects(t *testing.T) {
	h := newHarness(t)
	h.activate()

	h.link.setWriteErr(errBrokenPipe)
	h.session.SubmitActions(types.RemoteActions{"Forward": 100})
	h.tick()

	st := h.session.Status()
	if st.State != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", st.State)
	}
	if st.LastFault == nil || st.LastFault.Kind != FaultTransport {
		t.Errorf("last fault = %+v", st.LastFault)
	}

	h.link.setWriteErr(nil)
	h.session.StartTeleoperation("after-reconnect")
	mark := h.link.opCount()
	h.tick()

	ops := h.link.opsSince(mark)
	if len(ops) == 0 || ops[0] != "open" {
		t.Fatalf("first op after fault = %v, want open", ops)
	}
	if got := h.session.Status().State; got != StateActive {
		t.Errorf("state = %s, want active after reconnect and start", got)
	}
}

func TestFailedOpenBacksOff(t *testing.T) {
	h := newHarness(t)
	h.link.openErr = errors.New("connection refused")

	h.tick()
	if got := h.session.Status().State; got != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}

	mark := h.link.opCount()
	h.clock.advance(100 * time.Millisecond)
	h.tick()
	if ops := h.link.opsSince(mark); len(ops) != 0 {
		t.Fatalf("retried inside backoff: %v", ops)
	}

	h.link.openErr = nil
	h.clock.advance(400 * time.Millisecond)
	h.tick()
	if got := h.session.Status().State; got != StateIdle {
		t.Errorf("state = %s, want idle after backoff", got)
	}
}

func TestCommandsWaitForConnection(t *testing.T) {
	h := newHarness(t)
	h.link.openErr = errors.New("connection refused")
	h.tick()

	h.session.StartTeleoperation("early")
	h.clock.advance(100 * time.Millisecond)
	h.tick()

	h.link.openErr = nil
	h.clock.advance(time.Second)
	h.tick()

	if got := h.session.Status().State; got != StateActive {
		t.Errorf("queued start not applied after connect: %s", got)
	}
}

func TestQueueFull(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 8; i++ {
		if err := h.session.SubmitActions(nil); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := h.session.SubmitActions(nil); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

func TestParamRepliesUpdateAccumulator(t *testing.T) {
	h := newHarness(t)
	h.activate()

	h.link.queue(paramReply(t, params.CamTiltStep, 100))
	h.tick()

	h.session.SubmitActions(types.RemoteActions{types.ButtonTiltUp: 1})
	h.tick()

	rc := lastOverride(t, h.link.takeMessages(t))
	if rc.Chan8Raw != 1600 {
		t.Errorf("tilt = %d, want 1600 with device step 100", rc.Chan8Raw)
	}
	if got := h.session.Status().Control.CameraStep; got != 100 {
		t.Errorf("camera step = %d", got)
	}
}

func TestStatusParamsFollowReplies(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.link.queue(paramReply(t, params.LightsSteps, 200))
	h.tick()
	first := h.session.Status().Params
	if len(first) != 1 || first[0].Name != params.LightsSteps || first[0].Value != 200 {
		t.Fatalf("params = %+v", first)
	}

	h.tick()
	if again := h.session.Status().Params; &again[0] != &first[0] {
		t.Error("params rebuilt without a reply")
	}

	h.link.queue(paramReply(t, params.CamTiltStep, 75))
	h.tick()
	if got := h.session.Status().Params; len(got) != 2 || got[0].Name != params.CamTiltStep {
		t.Errorf("params after second reply = %+v", got)
	}
}

func TestIdentityConflictWhileActive(t *testing.T) {
	h := newHarness(t)
	h.activate()

	h.link.queue(paramReply(t, params.GCSID, 254))
	h.tick()
	if n := h.events.faults(FaultIdentityConflict); n != 0 {
		t.Fatalf("own id raised %d conflicts", n)
	}

	h.link.queue(paramReply(t, params.GCSID, 42))
	h.tick()

	st := h.session.Status()
	if n := h.events.faults(FaultIdentityConflict); n != 1 {
		t.Errorf("conflicts = %d, want 1", n)
	}
	if st.State != StateActive {
		t.Errorf("state = %s, want active", st.State)
	}
	if st.GCS != 42 {
		t.Errorf("recorded gcs = %d, want 42", st.GCS)
	}

	h.link.takeMessages(t)
	h.session.StopTeleoperation()
	h.tick()
	if got := paramSets(h.link.takeMessages(t), params.GCSID); len(got) != 1 || got[0] != 42 {
		t.Errorf("GCS restored to %v, want [42]", got)
	}
}

func TestIdentityChangeWhileIdleIsNotAConflict(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.link.queue(paramReply(t, params.GCSID, 42))
	h.tick()

	if n := h.events.faults(FaultIdentityConflict); n != 0 {
		t.Errorf("conflicts = %d while idle", n)
	}
	if got := h.session.Status().GCS; got != 42 {
		t.Errorf("gcs = %d, want 42", got)
	}
}

func TestCorruptTelemetryKeepsState(t *testing.T) {
	h := newHarness(t)
	h.activate()

	bad := paramReply(t, params.LightsSteps, 300)
	bad[len(bad)-1] ^= 0xFF
	h.link.queue(append(bad, paramReply(t, params.LightsSteps, 300)...))
	h.tick()

	st := h.session.Status()
	if st.State != StateActive {
		t.Fatalf("state = %s", st.State)
	}
	if st.LastFault == nil || st.LastFault.Kind != FaultProtocol {
		t.Errorf("last fault = %+v", st.LastFault)
	}
	if st.Control.LightStep != 100 {
		t.Errorf("light step = %d, frame after corruption was applied", st.Control.LightStep)
	}
}

func TestShutdownReleasesControl(t *testing.T) {
	h := newHarness(t)
	h.activate()

	if err := h.session.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	msgs := h.link.takeMessages(t)
	if n := operatorControl(msgs, 1); n != 1 {
		t.Errorf("release on shutdown = %d, want 1", n)
	}
	if h.link.IsOpen() {
		t.Error("link left open")
	}
	if got := h.session.Status().State; got != StateDisconnected {
		t.Errorf("state = %s", got)
	}
}

func TestRunnerTicksUntilStopped(t *testing.T) {
	h := newHarness(t)
	h.session.now = time.Now

	r := NewRunner(h.session, time.Millisecond, h.session.logger)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for h.session.Status().State != StateIdle {
		select {
		case <-deadline:
			t.Fatal("runner never connected")
		case <-time.After(time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.IsRunning() {
		t.Error("runner still running")
	}
	if got := h.session.Status().State; got != StateDisconnected {
		t.Errorf("state after stop = %s", got)
	}
}
