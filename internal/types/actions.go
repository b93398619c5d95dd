package types

// Button names accepted in a remote-action batch.
const (
	ButtonGainUp        = "GainUp"
	ButtonGainDown      = "GainDown"
	ButtonTiltUp        = "TiltUp"
	ButtonTiltDown      = "TiltDown"
	ButtonCenter        = "Center"
	ButtonLightBrighter = "LightBrighter"
	ButtonLightDimmer   = "LightDimmer"
	ButtonPitchForward  = "PitchForward"
	ButtonPitchBackward = "PitchBackward"
	ButtonRollLeft      = "RollLeft"
	ButtonRollRight     = "RollRight"
	ButtonStabilize     = "Stabilize"
	ButtonDepthHold     = "DepthHold"
	ButtonPositionHold  = "PositionHold"
	ButtonManual        = "Manual"
	ButtonArm           = "Arm"
	ButtonDisarm        = "Disarm"
)

// Older joystick mappings spell a few buttons with a capitalised suffix.
var buttonAliases = map[string]string{
	ButtonGainUp: "GainUP",
	ButtonTiltUp: "TiltUP",
}

// RemoteActions is a flat collection of named axis values and button pulses
// as delivered by the host bus. A nil batch is valid and empty.
type RemoteActions map[string]float64

// Axis returns the commanded value of an axis and whether it is present.
func (a RemoteActions) Axis(ch Channel) (float64, bool) {
	if a == nil || !ch.IsAxis() {
		return 0, false
	}
	v, ok := a[ch.String()]
	return v, ok
}

// Pressed reports whether a button fired this cycle (value 1).
func (a RemoteActions) Pressed(button string) bool {
	if a == nil {
		return false
	}
	if v, ok := a[button]; ok && v == 1 {
		return true
	}
	if alias, ok := buttonAliases[button]; ok {
		return a[alias] == 1
	}
	return false
}
