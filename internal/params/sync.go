// Package params tracks the autopilot parameters the teleoperation session
// depends on.
package params

import (
	"math"
	"sort"
	"time"

	"github.com/KevinKickass/OpenTeleopCore/internal/types"
	"go.uber.org/zap"
)

// Device parameter names.
// see: https://www.ardusub.com/operators-manual/full-parameter-list.html
const (
	CamTiltStep = "JS_CAM_TILT_STEP"
	GainMax     = "JS_GAIN_MAX"
	GainMin     = "JS_GAIN_MIN"
	GainSteps   = "JS_GAIN_STEPS"
	LightsSteps = "JS_LIGHTS_STEPS"
	ThrGain     = "JS_THR_GAIN"
	GCSID       = "SYSID_MYGCS"
	FSGCSEnable = "FS_GCS_ENABLE"
)

// FailsafeDepthHold selects depth hold on heartbeat loss
// (0 disabled, 1 warn, 2 disarm, 3 depth hold, 4 surface).
const FailsafeDepthHold = 3

// A step larger than the whole PWM span is a corrupt reply.
const maxStep = types.PWMMax - types.PWMMin

var joystickParams = []string{CamTiltStep, GainMax, GainMin, GainSteps, LightsSteps, ThrGain}

// JoystickParams lists the joystick parameters requested after activation.
func JoystickParams() []string {
	return append([]string(nil), joystickParams...)
}

// Target receives the values Sync applies.
type Target interface {
	SetThrottleGain(v float64)
	SetLightStep(v int)
	SetCameraStep(v int)
	GainStep() int
}

// Value is a parameter as last reported by the device.
type Value struct {
	Name       string    `json:"name"`
	Value      float32   `json:"value"`
	ReceivedAt time.Time `json:"received_at"`
}

// Outcome tells the caller what a reply changed.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeApplied
	// OutcomeGCSChanged means another station now owns the vehicle.
	OutcomeGCSChanged
)

// Sync applies parameter replies and tracks which ground station the
// device considers its owner.
type Sync struct {
	logger  *zap.Logger
	target  Target
	localID uint8
	now     func() time.Time

	gcs    int
	values map[string]Value
}

// NewSync starts with the vehicle owned by initialGCS.
func NewSync(target Target, localID uint8, initialGCS int, logger *zap.Logger) *Sync {
	return &Sync{
		logger:  logger,
		target:  target,
		localID: localID,
		now:     time.Now,
		gcs:     initialGCS,
		values:  make(map[string]Value),
	}
}

// GCS is the station that owned the vehicle before this one claimed it.
func (s *Sync) GCS() int {
	return s.gcs
}

// Apply records a parameter reply and folds it into the target.
func (s *Sync) Apply(name string, value float32) Outcome {
	// Non finite values are neither applied nor kept for the status.
	if !finite(value) {
		s.rejected(name, value)
		return OutcomeIgnored
	}
	s.values[name] = Value{Name: name, Value: value, ReceivedAt: s.now()}
	s.logger.Debug("Received parameter",
		zap.String("param", name),
		zap.Float32("value", value))

	switch name {
	case ThrGain:
		s.target.SetThrottleGain(float64(value))
	case LightsSteps:
		if !validStep(value) {
			s.rejected(name, value)
			return OutcomeIgnored
		}
		s.target.SetLightStep(int(value))
	case CamTiltStep:
		if !validStep(value) {
			s.rejected(name, value)
			return OutcomeIgnored
		}
		s.target.SetCameraStep(int(value))
	case GainSteps:
		// The device gain step is not overwritten from here.
		if int(value) != s.target.GainStep() {
			s.logger.Debug("Device gain step differs from local setting",
				zap.Float32("device", value),
				zap.Int("local", s.target.GainStep()))
		}
		return OutcomeIgnored
	case GCSID:
		if value < 1 || value > 255 {
			s.rejected(name, value)
			return OutcomeIgnored
		}
		id := int(value)
		if id == s.gcs || id == int(s.localID) {
			return OutcomeIgnored
		}
		s.logger.Debug("Updating GCS",
			zap.Int("from", s.gcs),
			zap.Int("to", id))
		s.gcs = id
		return OutcomeGCSChanged
	default:
		return OutcomeIgnored
	}
	return OutcomeApplied
}

func (s *Sync) rejected(name string, value float32) {
	s.logger.Warn("Ignoring out of range parameter, keeping previous value",
		zap.String("param", name),
		zap.Float32("value", value))
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// validStep accepts a PWM step of at least one microsecond.
func validStep(v float32) bool {
	return v >= 1 && v <= maxStep
}

// Values returns every parameter received so far, sorted by name.
func (s *Sync) Values() []Value {
	out := make([]Value, 0, len(s.values))
	for _, v := range s.values {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
