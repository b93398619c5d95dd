// Package mapper converts normalized joystick values into PWM pulse widths.
package mapper

import (
	"math"

	"github.com/KevinKickass/OpenTeleopCore/internal/types"
)

// Map interpolates raw from the calibration's value domain onto its PWM
// domain. The neutral value always lands on the neutral pulse width; each
// side of neutral is scaled on its own so asymmetric ranges are honoured.
// When cal.Reverse is set, raw is mirrored around neutral first.
// The result is clamped to [PWMMin, PWMMax].
func Map(cal types.ChannelCalibration, raw float64) uint16 {
	if math.IsNaN(raw) {
		return uint16(cal.PWMNeutral)
	}

	v := raw
	if cal.Reverse {
		v = 2*cal.ValueNeutral - raw
	}

	var pwm float64
	switch {
	case v == cal.ValueNeutral:
		pwm = cal.PWMNeutral
	case v > cal.ValueNeutral:
		span := cal.ValueMax - cal.ValueNeutral
		pwm = cal.PWMNeutral + (v-cal.ValueNeutral)/span*(cal.PWMMax-cal.PWMNeutral)
	default:
		span := cal.ValueNeutral - cal.ValueMin
		pwm = cal.PWMNeutral - (cal.ValueNeutral-v)/span*(cal.PWMNeutral-cal.PWMMin)
	}

	pwm = math.Max(cal.PWMMin, math.Min(cal.PWMMax, pwm))
	return uint16(math.Round(pwm))
}

// MapAxis applies the reversibility rule of ch before mapping. Reversible
// axes never reverse; the others reverse whenever the commanded value is at
// or below neutral. The reverse flag is written back into cal.
func MapAxis(ch types.Channel, cal *types.ChannelCalibration, value float64) uint16 {
	if ch.Reversible() {
		cal.Reverse = false
	} else {
		cal.Reverse = value <= cal.ValueNeutral
	}
	return Map(*cal, value)
}
