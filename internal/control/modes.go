package control

// Mode is an ArduSub flight mode, sent as the custom mode of SET_MODE.
type Mode uint32

// see: ArduSub/defines.h
const (
	ModeStabilize    Mode = 0
	ModeAcro         Mode = 1
	ModeDepthHold    Mode = 2
	ModeAuto         Mode = 3
	ModeGuided       Mode = 4
	ModeCircle       Mode = 7
	ModeSurface      Mode = 9
	ModePositionHold Mode = 16
	ModeManual       Mode = 19
)

func (m Mode) String() string {
	switch m {
	case ModeStabilize:
		return "stabilize"
	case ModeAcro:
		return "acro"
	case ModeDepthHold:
		return "depth_hold"
	case ModeAuto:
		return "auto"
	case ModeGuided:
		return "guided"
	case ModeCircle:
		return "circle"
	case ModeSurface:
		return "surface"
	case ModePositionHold:
		return "position_hold"
	case ModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ArmRequest is the outcome of the arm/disarm buttons.
type ArmRequest int

const (
	ArmNone ArmRequest = iota
	ArmRequested
	DisarmRequested
)
