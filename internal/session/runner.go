package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner is the host scheduler: it ticks the session at a fixed period from
// one goroutine.
type Runner struct {
	session  *Session
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewRunner(session *Session, interval time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		session:  session,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins ticking.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	r.running = true
	r.wg.Add(1)

	go r.tickLoop()

	r.logger.Info("Session runner started", zap.Duration("interval", r.interval))
	return nil
}

// Stop halts ticking and then shuts the session down, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()

	r.logger.Info("Session runner stopped")
	return r.session.Shutdown(ctx)
}

func (r *Runner) tickLoop() {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.session.Tick(ctx)
	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.session.Tick(ctx)
		}
	}
}

// IsRunning reports whether the tick loop is active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
