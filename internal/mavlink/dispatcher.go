package mavlink

import (
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// Kind is a MAVLink message id.
type Kind uint32

const (
	KindSystemTime Kind = 2
	KindParamValue Kind = 22
	KindRCChannels Kind = 65
)

// Update is the state change a handler derived from a message.
type Update interface {
	Kind() Kind
}

type ParamUpdate struct {
	Name  string
	Value float32
	Index uint16
	Count uint16
}

func (ParamUpdate) Kind() Kind { return KindParamValue }

type SystemTimeUpdate struct {
	UnixUsec uint64
	BootMs   uint32
}

func (SystemTimeUpdate) Kind() Kind { return KindSystemTime }

type RCChannelsUpdate struct {
	Count    uint8
	Channels [11]uint16
	RSSI     uint8
}

func (RCChannelsUpdate) Kind() Kind { return KindRCChannels }

// Handler turns a decoded message into an Update. It must not block.
type Handler func(msg message.Message) (Update, bool)

// DefaultHandlers is the registry of messages this station acts on.
func DefaultHandlers() map[Kind]Handler {
	return map[Kind]Handler{
		KindParamValue: handleParamValue,
		KindSystemTime: handleSystemTime,
		KindRCChannels: handleRCChannels,
	}
}

// Dispatcher feeds raw bytes through a Parser and routes complete messages by
// kind. Kinds without a handler are ignored.
type Dispatcher struct {
	parser   Parser
	handlers map[Kind]Handler
}

func NewDispatcher(parser Parser, handlers map[Kind]Handler) *Dispatcher {
	registry := make(map[Kind]Handler, len(handlers))
	for k, h := range handlers {
		registry[k] = h
	}
	return &Dispatcher{
		parser:   parser,
		handlers: registry,
	}
}

// Feed consumes one read worth of bytes and returns the updates it produced.
// A corrupt frame abandons the rest of data and is reported as
// ErrCorruptFrame alongside whatever was decoded before it.
func (d *Dispatcher) Feed(data []byte) ([]Update, error) {
	var updates []Update
	drops := d.parser.Drops()

	for i, b := range data {
		msg, ok := d.parser.ParseByte(b)
		if d.parser.Drops() > drops {
			return updates, fmt.Errorf("%w: %d of %d bytes discarded", ErrCorruptFrame, len(data)-i-1, len(data))
		}
		if !ok {
			continue
		}

		h, found := d.handlers[Kind(msg.GetID())]
		if !found {
			continue
		}
		if u, ok := h(msg); ok {
			updates = append(updates, u)
		}
	}

	return updates, nil
}

func handleParamValue(msg message.Message) (Update, bool) {
	m, ok := msg.(*common.MessageParamValue)
	if !ok {
		return nil, false
	}
	return ParamUpdate{
		Name:  m.ParamId,
		Value: m.ParamValue,
		Index: m.ParamIndex,
		Count: m.ParamCount,
	}, true
}

func handleSystemTime(msg message.Message) (Update, bool) {
	m, ok := msg.(*common.MessageSystemTime)
	if !ok {
		return nil, false
	}
	return SystemTimeUpdate{UnixUsec: m.TimeUnixUsec, BootMs: m.TimeBootMs}, true
}

func handleRCChannels(msg message.Message) (Update, bool) {
	m, ok := msg.(*common.MessageRcChannels)
	if !ok {
		return nil, false
	}
	return RCChannelsUpdate{
		Count: m.Chancount,
		Channels: [11]uint16{
			m.Chan1Raw, m.Chan2Raw, m.Chan3Raw, m.Chan4Raw, m.Chan5Raw, m.Chan6Raw,
			m.Chan7Raw, m.Chan8Raw, m.Chan9Raw, m.Chan10Raw, m.Chan11Raw,
		},
		RSSI: m.Rssi,
	}, true
}
