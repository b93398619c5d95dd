// Package control turns remote-action batches into actuation frames.
package control

import (
	"math"

	"github.com/KevinKickass/OpenTeleopCore/internal/mapper"
	"github.com/KevinKickass/OpenTeleopCore/internal/types"
	"go.uber.org/zap"
)

const (
	GainMax = 1.0
	GainMin = 0.1

	TrimMax  = 200.0
	TrimMin  = -200.0
	TrimStep = 10.0
)

// Settings seeds an Accumulator.
type Settings struct {
	Calibrations types.Calibrations
	GainStep     int // percentage points per gain pulse
	InitialGain  float64
	LightStep    int
	CameraStep   int
}

// State is a read-only copy of the gain, trim and step bookkeeping.
type State struct {
	Gain         float64 `json:"gain"`
	ThrottleGain float64 `json:"throttle_gain"`
	GainStep     int     `json:"gain_step"`
	LightStep    int     `json:"light_step"`
	CameraStep   int     `json:"camera_step"`
	PitchTrim    float64 `json:"pitch_trim"`
	RollTrim     float64 `json:"roll_trim"`
}

// Result is what one batch asks of the session besides the frame itself.
type Result struct {
	Frame types.ActuationFrame
	Mode  *Mode
	Arm   ArmRequest
}

// Accumulator owns the calibration, the actuation frame and the
// gain/trim state. It is not safe for concurrent use; the session drives it
// from its tick.
type Accumulator struct {
	logger *zap.Logger
	cals   types.Calibrations
	frame  types.ActuationFrame

	gain         float64
	throttleGain float64
	gainStep     int
	lightStep    int
	cameraStep   int
	pitchTrim    float64
	rollTrim     float64
}

func NewAccumulator(settings Settings, logger *zap.Logger) *Accumulator {
	a := &Accumulator{
		logger:     logger,
		cals:       settings.Calibrations,
		gain:       clamp(settings.InitialGain, GainMin, GainMax),
		gainStep:   settings.GainStep,
		lightStep:  settings.LightStep,
		cameraStep: settings.CameraStep,
	}
	for i := range a.cals {
		a.cals[i].Reverse = false
	}
	a.frame = types.NeutralFrame(&a.cals)
	return a
}

// Apply processes one batch. A nil batch is an empty one: every axis goes to
// neutral while camera tilt and lights keep their last value.
func (a *Accumulator) Apply(batch types.RemoteActions) Result {
	a.applyGain(batch)
	a.applyAxes(batch)
	a.applyCamera(batch)
	a.applyLights(batch)
	a.applyTrim(batch)

	return Result{
		Frame: a.frame,
		Mode:  modeFor(batch),
		Arm:   armFor(batch),
	}
}

// Idle resets every channel, including camera and lights, to neutral.
func (a *Accumulator) Idle() types.ActuationFrame {
	for i := range a.cals {
		a.cals[i].Reverse = false
	}
	a.frame = types.NeutralFrame(&a.cals)
	return a.frame
}

func (a *Accumulator) Frame() types.ActuationFrame {
	return a.frame
}

func (a *Accumulator) State() State {
	return State{
		Gain:         a.gain,
		ThrottleGain: a.throttleGain,
		GainStep:     a.gainStep,
		LightStep:    a.lightStep,
		CameraStep:   a.cameraStep,
		PitchTrim:    a.pitchTrim,
		RollTrim:     a.rollTrim,
	}
}

// SetThrottleGain records the device reported throttle gain. It is kept for
// reporting only.
func (a *Accumulator) SetThrottleGain(v float64) { a.throttleGain = v }

func (a *Accumulator) SetLightStep(v int) { a.lightStep = v }

func (a *Accumulator) SetCameraStep(v int) { a.cameraStep = v }

func (a *Accumulator) GainStep() int { return a.gainStep }

func (a *Accumulator) applyGain(batch types.RemoteActions) {
	step := float64(a.gainStep) / 100
	switch {
	case batch.Pressed(types.ButtonGainUp):
		a.gain = math.Min(a.gain+step, GainMax)
	case batch.Pressed(types.ButtonGainDown):
		a.gain = math.Max(a.gain-step, GainMin)
	default:
		return
	}
	a.logger.Warn("Gain changed", zap.Float64("percent", a.gain*100))
}

func (a *Accumulator) applyAxes(batch types.RemoteActions) {
	for _, ch := range types.Axes() {
		value, ok := batch.Axis(ch)
		if !ok || math.IsNaN(value) {
			a.cals[ch].Reverse = false
			a.frame[ch] = uint16(a.cals[ch].PWMNeutral)
			continue
		}
		a.frame[ch] = mapper.MapAxis(ch, &a.cals[ch], value*a.gain)
	}
}

// Button channels move within their calibrated PWM range, whatever the step.
func (a *Accumulator) applyCamera(batch types.RemoteActions) {
	cal := &a.cals[types.ChannelCameraTilt]
	tilt := float64(a.frame[types.ChannelCameraTilt])
	switch {
	case batch.Pressed(types.ButtonTiltUp):
		tilt += float64(a.cameraStep)
	case batch.Pressed(types.ButtonTiltDown):
		tilt -= float64(a.cameraStep)
	case batch.Pressed(types.ButtonCenter):
		tilt = cal.PWMNeutral
	default:
		return
	}
	a.frame[types.ChannelCameraTilt] = pwm(tilt, cal)
}

func (a *Accumulator) applyLights(batch types.RemoteActions) {
	cal := &a.cals[types.ChannelLights1]
	level := float64(a.frame[types.ChannelLights1])
	switch {
	case batch.Pressed(types.ButtonLightBrighter):
		level += float64(a.lightStep)
	case batch.Pressed(types.ButtonLightDimmer):
		level -= float64(a.lightStep)
	default:
		return
	}
	a.frame[types.ChannelLights1] = pwm(level, cal)
	a.frame[types.ChannelLights2] = pwm(level, &a.cals[types.ChannelLights2])
}

func pwm(v float64, cal *types.ChannelCalibration) uint16 {
	if math.IsNaN(v) {
		return uint16(cal.PWMNeutral)
	}
	lo := math.Max(cal.PWMMin, types.PWMMin)
	hi := math.Min(cal.PWMMax, types.PWMMax)
	return uint16(math.Round(clamp(v, lo, hi)))
}

// Trim is accumulated but not folded into the frame.
// see: https://www.ardusub.com/operators-manual/button-functions.html
func (a *Accumulator) applyTrim(batch types.RemoteActions) {
	if batch.Pressed(types.ButtonPitchForward) {
		a.pitchTrim = math.Min(a.pitchTrim+TrimStep, TrimMax)
	}
	if batch.Pressed(types.ButtonPitchBackward) {
		a.pitchTrim = math.Max(a.pitchTrim-TrimStep, TrimMin)
	}
	if batch.Pressed(types.ButtonRollRight) {
		a.rollTrim = math.Min(a.rollTrim+TrimStep, TrimMax)
	}
	if batch.Pressed(types.ButtonRollLeft) {
		a.rollTrim = math.Max(a.rollTrim-TrimStep, TrimMin)
	}
}

var modeButtons = []struct {
	button string
	mode   Mode
}{
	{types.ButtonStabilize, ModeStabilize},
	{types.ButtonDepthHold, ModeDepthHold},
	{types.ButtonPositionHold, ModePositionHold},
	{types.ButtonManual, ModeManual},
}

func modeFor(batch types.RemoteActions) *Mode {
	for _, mb := range modeButtons {
		if batch.Pressed(mb.button) {
			m := mb.mode
			return &m
		}
	}
	return nil
}

func armFor(batch types.RemoteActions) ArmRequest {
	switch {
	case batch.Pressed(types.ButtonDisarm):
		return DisarmRequested
	case batch.Pressed(types.ButtonArm):
		return ArmRequested
	}
	return ArmNone
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
