// Package mavlink adapts the gomavlib codec to a byte-at-a-time parser and
// routes decoded autopilot messages to handlers.
package mavlink

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/dialect"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// Frame layout
const (
	magicV1 = 0xFE
	magicV2 = 0xFD

	headerLenV1   = 6  // magic + len + seq + sysid + compid + msgid
	headerLenV2   = 10 // magic + len + incompat + compat + seq + sysid + compid + msgid(3)
	checksumLen   = 2
	signatureLen  = 13
	flagSigned    = 0x01
	maxPayloadLen = 255
)

var ErrCorruptFrame = errors.New("corrupt frame")

// Parser is the streaming half of the codec. Each byte may complete at most
// one message; Drops counts frames rejected as corrupt.
type Parser interface {
	ParseByte(b byte) (message.Message, bool)
	Drops() uint64
}

// Codec encodes outbound messages and parses the inbound stream with the
// ArduPilot dialect.
type Codec struct {
	dialectRW *dialect.ReadWriter
	writer    *frame.Writer
	out       bytes.Buffer

	pending []byte
	drops   uint64
}

// NewCodec builds a codec that stamps outgoing frames with the given ids.
func NewCodec(systemID, componentID byte) (*Codec, error) {
	rw := &dialect.ReadWriter{Dialect: ardupilotmega.Dialect}
	if err := rw.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize dialect: %w", err)
	}

	c := &Codec{
		dialectRW: rw,
		pending:   make([]byte, 0, headerLenV2+maxPayloadLen+checksumLen+signatureLen),
	}

	c.writer = &frame.Writer{
		ByteWriter:     &c.out,
		DialectRW:      rw,
		OutVersion:     frame.V2,
		OutSystemID:    systemID,
		OutComponentID: componentID,
	}
	if err := c.writer.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize frame writer: %w", err)
	}

	return c, nil
}

// Encode serializes msg into a complete wire frame.
func (c *Codec) Encode(msg message.Message) ([]byte, error) {
	c.out.Reset()
	if err := c.writer.WriteMessage(msg); err != nil {
		return nil, fmt.Errorf("encode %T failed: %w", msg, err)
	}
	return bytes.Clone(c.out.Bytes()), nil
}

// ParseByte advances the parser by one byte. Bytes outside a frame are
// skipped until a start marker shows up.
func (c *Codec) ParseByte(b byte) (message.Message, bool) {
	if len(c.pending) == 0 && b != magicV1 && b != magicV2 {
		return nil, false
	}
	c.pending = append(c.pending, b)

	if len(c.pending) == 3 && c.pending[0] == magicV2 && c.pending[2]&^flagSigned != 0 {
		c.resync()
		return nil, false
	}

	need := expectedLen(c.pending)
	if need == 0 || len(c.pending) < need {
		return nil, false
	}

	msg, err := c.decode(c.pending)
	c.pending = c.pending[:0]
	if err != nil {
		c.drops++
		return nil, false
	}
	return msg, true
}

// resync drops a header with unsupported incompat flags and rescans the
// bytes after its start marker, one of which may begin the next frame.
func (c *Codec) resync() {
	c.drops++
	var rest [2]byte
	copy(rest[:], c.pending[1:3])
	c.pending = c.pending[:0]
	for _, b := range rest {
		c.ParseByte(b)
	}
}

func (c *Codec) Drops() uint64 {
	return c.drops
}

// Reset discards a partially received frame.
func (c *Codec) Reset() {
	c.pending = c.pending[:0]
}

func (c *Codec) decode(buf []byte) (message.Message, error) {
	reader := &frame.Reader{
		ByteReader: bytes.NewReader(buf),
		DialectRW:  c.dialectRW,
	}
	if err := reader.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize frame reader: %w", err)
	}

	fr, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	return fr.GetMessage(), nil
}

// expectedLen returns the full length of the frame at the start of buf, or
// 0 while the header is still too short to tell.
func expectedLen(buf []byte) int {
	if len(buf) < 2 {
		return 0
	}
	payload := int(buf[1])

	if buf[0] == magicV1 {
		return headerLenV1 + payload + checksumLen
	}

	if len(buf) < 3 {
		return 0
	}
	n := headerLenV2 + payload + checksumLen
	if buf[2]&flagSigned != 0 {
		n += signatureLen
	}
	return n
}
