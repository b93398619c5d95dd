package types

import "fmt"

// PWM bounds understood by the vehicle's motor and servo controllers.
const (
	PWMMin     = 1100
	PWMMax     = 1900
	PWMNeutral = 1500
)

// Channel identifies one RC input lane of the autopilot.
// see: https://www.ardusub.com/operators-manual/rc-input-and-output.html
type Channel int

const (
	ChannelPitch Channel = iota
	ChannelRoll
	ChannelThrottle
	ChannelHeading
	ChannelForward
	ChannelLateral
	ChannelCameraPan
	ChannelCameraTilt
	ChannelLights1
	ChannelLights2
	ChannelVideoSwitch

	NumChannels = 11
	NumAxes     = 6
)

var channelNames = [NumChannels]string{
	"Pitch", "Roll", "Throttle", "Heading", "Forward", "Lateral",
	"CameraPan", "CameraTilt", "Lights1", "Lights2", "VideoSwitch",
}

func (c Channel) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Channel(%d)", int(c))
	}
	return channelNames[c]
}

// Valid reports whether c addresses one of the 11 channels.
func (c Channel) Valid() bool {
	return c >= 0 && c < NumChannels
}

// IsAxis reports whether c is driven by a joystick axis (channels 0-5).
func (c Channel) IsAxis() bool {
	return c >= ChannelPitch && c <= ChannelLateral
}

// Reversible axes use the full symmetric range and never flip the reverse flag.
func (c Channel) Reversible() bool {
	switch c {
	case ChannelForward, ChannelLateral, ChannelThrottle, ChannelHeading:
		return true
	}
	return false
}

// Axes lists the joystick axes in channel order.
func Axes() []Channel {
	return []Channel{ChannelPitch, ChannelRoll, ChannelThrottle, ChannelHeading, ChannelForward, ChannelLateral}
}

// ChannelFromName resolves an axis or channel name.
func ChannelFromName(name string) (Channel, bool) {
	for i, n := range channelNames {
		if n == name {
			return Channel(i), true
		}
	}
	return 0, false
}

// ChannelCalibration maps the vehicle independent input domain of a channel
// onto its PWM output domain.
type ChannelCalibration struct {
	ValueMin     float64 `json:"value_min" yaml:"value_min"`
	ValueMax     float64 `json:"value_max" yaml:"value_max"`
	ValueNeutral float64 `json:"value_neutral" yaml:"value_neutral"`
	PWMMin       float64 `json:"pwm_min" yaml:"pwm_min"`
	PWMMax       float64 `json:"pwm_max" yaml:"pwm_max"`
	PWMNeutral   float64 `json:"pwm_neutral" yaml:"pwm_neutral"`
	Reverse      bool    `json:"reverse" yaml:"-"`
}

// Validate checks min < neutral < max on both domains.
func (c ChannelCalibration) Validate() error {
	if !(c.ValueMin < c.ValueNeutral && c.ValueNeutral < c.ValueMax) {
		return fmt.Errorf("value range must satisfy min < neutral < max, got %v/%v/%v",
			c.ValueMin, c.ValueNeutral, c.ValueMax)
	}
	if !(c.PWMMin < c.PWMNeutral && c.PWMNeutral < c.PWMMax) {
		return fmt.Errorf("pwm range must satisfy min < neutral < max, got %v/%v/%v",
			c.PWMMin, c.PWMNeutral, c.PWMMax)
	}
	return nil
}

// Calibrations holds one calibration per channel.
type Calibrations [NumChannels]ChannelCalibration

// DefaultCalibrations returns the ArduSub defaults: +-180 for the angular
// axes (heading neutral at 90), +-1000 for the linear ones and the standard
// 1100/1500/1900 PWM range everywhere.
func DefaultCalibrations() Calibrations {
	var cals Calibrations
	for i := range cals {
		cals[i] = ChannelCalibration{
			ValueMin:     -1000,
			ValueMax:     1000,
			ValueNeutral: 0,
			PWMMin:       PWMMin,
			PWMMax:       PWMMax,
			PWMNeutral:   PWMNeutral,
		}
	}
	for _, ch := range []Channel{ChannelPitch, ChannelRoll, ChannelHeading} {
		cals[ch].ValueMin = -180
		cals[ch].ValueMax = 180
	}
	cals[ChannelHeading].ValueNeutral = 90
	return cals
}

// ActuationFrame is one PWM value per channel, in microseconds.
type ActuationFrame [NumChannels]uint16

// NeutralFrame returns a frame with every channel at its calibrated neutral.
func NeutralFrame(cals *Calibrations) ActuationFrame {
	var f ActuationFrame
	for i := range f {
		f[i] = uint16(cals[i].PWMNeutral)
	}
	return f
}
