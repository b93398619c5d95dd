package mavlink

import (
	"github.com/KevinKickass/OpenTeleopCore/internal/types"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// Component id of the autopilot on the target system.
const autopilotComponent = 1

// Heartbeat status codes reported by this station.
const (
	StatusUninit   = common.MAV_STATE_UNINIT
	StatusBoot     = common.MAV_STATE_BOOT
	StatusStandby  = common.MAV_STATE_STANDBY
	StatusActive   = common.MAV_STATE_ACTIVE
	StatusPowerOff = common.MAV_STATE_POWEROFF
)

// Operator-control request codes.
const (
	controlRequest = 0
	controlRelease = 1
)

// Heartbeat declares this system as a ground station with the given status.
func Heartbeat(status common.MAV_STATE) message.Message {
	return &common.MessageHeartbeat{
		Type:           common.MAV_TYPE_GCS,
		Autopilot:      common.MAV_AUTOPILOT_INVALID,
		SystemStatus:   status,
		MavlinkVersion: 3,
	}
}

func ParamRequestList(target uint8) message.Message {
	return &common.MessageParamRequestList{
		TargetSystem: target,
	}
}

// ParamRequestRead asks for a single parameter by name.
func ParamRequestRead(target uint8, name string) message.Message {
	return &common.MessageParamRequestRead{
		TargetSystem: target,
		ParamId:      name,
		ParamIndex:   -1,
	}
}

func ParamSet(target uint8, name string, value float32) message.Message {
	return &common.MessageParamSet{
		TargetSystem:    target,
		TargetComponent: autopilotComponent,
		ParamId:         name,
		ParamValue:      value,
		ParamType:       common.MAV_PARAM_TYPE_UINT8,
	}
}

// OperatorControl requests (release=false) or releases control of the vehicle.
func OperatorControl(target uint8, release bool) message.Message {
	req := uint8(controlRequest)
	if release {
		req = controlRelease
	}
	return &common.MessageChangeOperatorControl{
		TargetSystem:   target,
		ControlRequest: req,
	}
}

// SetMode selects a vehicle specific custom mode.
func SetMode(target uint8, customMode uint32) message.Message {
	return &common.MessageSetMode{
		TargetSystem: target,
		BaseMode:     1, // MAV_MODE_FLAG_CUSTOM_MODE_ENABLED
		CustomMode:   customMode,
	}
}

func ArmDisarm(target uint8, arm bool) message.Message {
	var p1 float32
	if arm {
		p1 = 1
	}
	return &common.MessageCommandLong{
		TargetSystem:    target,
		TargetComponent: autopilotComponent,
		Command:         common.MAV_CMD_COMPONENT_ARM_DISARM,
		Param1:          p1,
	}
}

// RCOverride carries the full actuation frame.
func RCOverride(target uint8, f types.ActuationFrame) message.Message {
	return &common.MessageRcChannelsOverride{
		TargetSystem:    target,
		TargetComponent: autopilotComponent,
		Chan1Raw:        f[types.ChannelPitch],
		Chan2Raw:        f[types.ChannelRoll],
		Chan3Raw:        f[types.ChannelThrottle],
		Chan4Raw:        f[types.ChannelHeading],
		Chan5Raw:        f[types.ChannelForward],
		Chan6Raw:        f[types.ChannelLateral],
		Chan7Raw:        f[types.ChannelCameraPan],
		Chan8Raw:        f[types.ChannelCameraTilt],
		Chan9Raw:        f[types.ChannelLights1],
		Chan10Raw:       f[types.ChannelLights2],
		Chan11Raw:       f[types.ChannelVideoSwitch],
	}
}
