package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenTeleopCore/internal/control"
	"github.com/KevinKickass/OpenTeleopCore/internal/mavlink"
	"github.com/KevinKickass/OpenTeleopCore/internal/types"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"go.uber.org/zap/zaptest"
)

var errBrokenPipe = errors.New("broken pipe")

// fakeLink records every operation and serves queued telemetry reads.
type fakeLink struct {
	mu       sync.Mutex
	open     bool
	openErr  error
	writeErr error
	ops      []string
	written  [][]byte
	inbound  [][]byte
}

func (l *fakeLink) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, "open")
	if l.openErr != nil {
		return l.openErr
	}
	l.open = true
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open {
		l.ops = append(l.ops, "close")
	}
	l.open = false
	return nil
}

func (l *fakeLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

func (l *fakeLink) Write(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return mavlink.ErrNotOpen
	}
	if l.writeErr != nil {
		l.ops = append(l.ops, "write-failed")
		return l.writeErr
	}
	l.ops = append(l.ops, "write")
	l.written = append(l.written, append([]byte(nil), data...))
	return nil
}

func (l *fakeLink) Read(buf []byte, timeout time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return 0, mavlink.ErrNotOpen
	}
	if len(l.inbound) == 0 {
		return 0, nil
	}
	n := copy(buf, l.inbound[0])
	l.inbound = l.inbound[1:]
	return n, nil
}

func (l *fakeLink) queue(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbound = append(l.inbound, data)
}

func (l *fakeLink) setWriteErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeErr = err
}

func (l *fakeLink) opsSince(mark int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops[mark:]...)
}

func (l *fakeLink) opCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// takeMessages decodes and clears everything written so far.
func (l *fakeLink) takeMessages(t *testing.T) []message.Message {
	t.Helper()
	l.mu.Lock()
	written := l.written
	l.written = nil
	l.mu.Unlock()

	dec, err := mavlink.NewCodec(1, 1)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	var out []message.Message
	for _, data := range written {
		for _, b := range data {
			if msg, ok := dec.ParseByte(b); ok {
				out = append(out, msg)
			}
		}
	}
	return out
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recorder struct {
	events []Event
}

func (r *recorder) OnSessionEvent(ev Event) { r.events = append(r.events, ev) }

func (r *recorder) faults(kind FaultKind) int {
	n := 0
	for _, ev := range r.events {
		if f, ok := ev.Data.(Fault); ok && f.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	t       *testing.T
	session *Session
	link    *fakeLink
	clock   *fakeClock
	events  *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	acc := control.NewAccumulator(control.Settings{
		Calibrations: types.DefaultCalibrations(),
		GainStep:     10,
		InitialGain:  1.0,
		LightStep:    100,
		CameraStep:   50,
	}, logger)

	link := &fakeLink{}
	s, err := New(Settings{
		SystemID:          254,
		TargetSystem:      1,
		InitialGCS:        1,
		HeartbeatInterval: time.Second,
		ReconnectBackoff:  500 * time.Millisecond,
		PollTimeout:       time.Millisecond,
		MaxReads:          100,
		QueueSize:         8,
		ReleaseWait:       time.Millisecond,
	}, link, acc, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.now = clock.now
	events := &recorder{}
	s.AddObserver(events)

	return &harness{t: t, session: s, link: link, clock: clock, events: events}
}

func (h *harness) tick() {
	h.session.Tick(context.Background())
}

// connect ticks until Idle and drops the handshake traffic.
func (h *harness) connect() {
	h.t.Helper()
	h.tick()
	if got := h.session.Status().State; got != StateIdle {
		h.t.Fatalf("state after connect = %s, want idle", got)
	}
	h.link.takeMessages(h.t)
}

func (h *harness) activate() {
	h.t.Helper()
	h.connect()
	if err := h.session.StartTeleoperation("ccu-test"); err != nil {
		h.t.Fatalf("StartTeleoperation: %v", err)
	}
	h.tick()
	if got := h.session.Status().State; got != StateActive {
		h.t.Fatalf("state after start = %s, want active", got)
	}
	h.link.takeMessages(h.t)
}

func describe(msgs []message.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = fmt.Sprintf("%T", m)
	}
	return out
}
