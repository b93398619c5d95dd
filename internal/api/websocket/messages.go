package websocket

import (
	"encoding/json"
	"time"

	"github.com/KevinKickass/OpenTeleopCore/internal/session"
	"github.com/KevinKickass/OpenTeleopCore/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Session events
	MessageTypeSessionState MessageType = "session_state"
	MessageTypeActuation    MessageType = "actuation"
	MessageTypeDeviceParam  MessageType = "device_param"
	MessageTypeFault        MessageType = "fault"
	MessageTypeControlLoops MessageType = "control_loops"

	// Sent once after authentication
	MessageTypeSessionStatus MessageType = "session_status"

	// Connection handling
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
	MessageTypeAck         MessageType = "ack"
	MessageTypeError       MessageType = "error"
)

// Inbound request types.
const (
	RequestAuth    = "auth"
	RequestActions = "actions"
	RequestStart   = "start"
	RequestStop    = "stop"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Request is any message a client sends.
type Request struct {
	Type       string              `json:"type"`
	Token      string              `json:"token,omitempty"`
	Originator string              `json:"originator,omitempty"`
	Actions    types.RemoteActions `json:"actions,omitempty"`
}

type AckData struct {
	Request string `json:"request"`
}

type ErrorData struct {
	Request string `json:"request,omitempty"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewSessionMessage converts a session event for broadcast.
func NewSessionMessage(ev session.Event) Message {
	return NewMessage(MessageType(ev.Type), ev.Data)
}

func NewErrorMessage(request, code, reason string) Message {
	return NewMessage(MessageTypeError, ErrorData{Request: request, Code: code, Reason: reason})
}

func encode(msg Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		// Only session payloads can fail here and they are plain structs.
		data, _ = json.Marshal(NewErrorMessage("", types.CodeInternal, "unencodable message"))
	}
	return data
}
