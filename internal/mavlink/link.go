package mavlink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

var ErrNotOpen = errors.New("link not open")

// Link is the point-to-point transport to the autopilot: a command channel
// for writes and a telemetry channel for reads.
type Link interface {
	Open() error
	Close() error
	IsOpen() bool
	Write(data []byte) error
	// Read waits at most timeout for telemetry. It returns 0, nil when
	// nothing arrived in time.
	Read(buf []byte, timeout time.Duration) (int, error)
}

// LinkConfig addresses both channels.
type LinkConfig struct {
	Address       string // host:port of the autopilot command endpoint
	LocalPort     int    // local bind port of the command channel, 0 for ephemeral
	TelemetryPort int    // local UDP port telemetry is received on
	Timeout       time.Duration
}

// NetLink sends commands over TCP and listens for telemetry on UDP.
type NetLink struct {
	cfg LinkConfig

	mu        sync.Mutex
	cmd       net.Conn
	telemetry net.PacketConn
}

func NewNetLink(cfg LinkConfig) *NetLink {
	return &NetLink{cfg: cfg}
}

// Open dials the command channel and binds the telemetry socket. Both local
// ports are bound with address reuse so a reconnect can reclaim them.
func (l *NetLink) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil {
		return nil
	}

	dialer := net.Dialer{
		Timeout: l.cfg.Timeout,
		Control: reuseAddr,
	}
	if l.cfg.LocalPort > 0 {
		dialer.LocalAddr = &net.TCPAddr{Port: l.cfg.LocalPort}
	}

	cmd, err := dialer.Dial("tcp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("command channel connect failed: %w", err)
	}
	if tcp, ok := cmd.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	lc := net.ListenConfig{Control: reuseAddr}
	telemetry, err := lc.ListenPacket(context.Background(), "udp", fmt.Sprintf(":%d", l.cfg.TelemetryPort))
	if err != nil {
		cmd.Close()
		return fmt.Errorf("telemetry channel bind failed: %w", err)
	}

	l.cmd = cmd
	l.telemetry = telemetry
	return nil
}

// Close releases both channels.
func (l *NetLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd == nil {
		return nil
	}

	err := errors.Join(l.cmd.Close(), l.telemetry.Close())
	l.cmd = nil
	l.telemetry = nil
	return err
}

func (l *NetLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cmd != nil
}

// TelemetryAddr is the bound local address of the telemetry socket.
func (l *NetLink) TelemetryAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.telemetry == nil {
		return nil
	}
	return l.telemetry.LocalAddr()
}

func (l *NetLink) Write(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd == nil {
		return ErrNotOpen
	}

	l.cmd.SetWriteDeadline(time.Now().Add(l.cfg.Timeout))
	if _, err := l.cmd.Write(data); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

func (l *NetLink) Read(buf []byte, timeout time.Duration) (int, error) {
	l.mu.Lock()
	telemetry := l.telemetry
	l.mu.Unlock()

	if telemetry == nil {
		return 0, ErrNotOpen
	}

	telemetry.SetReadDeadline(time.Now().Add(timeout))
	n, _, err := telemetry.ReadFrom(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return 0, nil
		}
		return 0, fmt.Errorf("read failed: %w", err)
	}
	return n, nil
}
