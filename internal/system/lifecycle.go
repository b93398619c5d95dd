package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenTeleopCore/internal/api/rest"
	"github.com/KevinKickass/OpenTeleopCore/internal/api/websocket"
	"github.com/KevinKickass/OpenTeleopCore/internal/auth"
	"github.com/KevinKickass/OpenTeleopCore/internal/config"
	"github.com/KevinKickass/OpenTeleopCore/internal/control"
	"github.com/KevinKickass/OpenTeleopCore/internal/interfaces"
	"github.com/KevinKickass/OpenTeleopCore/internal/mavlink"
	"github.com/KevinKickass/OpenTeleopCore/internal/profile"
	"github.com/KevinKickass/OpenTeleopCore/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name reflecting the vehicle session.
const HealthService = "teleop.Session"

type LifecycleManager struct {
	config  *config.Config
	logger  *zap.Logger
	vehicle string

	session *session.Session
	runner  *session.Runner
	jwt     *auth.JWTHandler
	wsHub   *websocket.Hub
	health  *health.Server

	restServer *rest.Server
	grpcServer *grpc.Server
	grpcAddr   net.Addr

	hubCancel context.CancelFunc
	hubDone   chan struct{}

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    time.Time

	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	loader, err := profile.NewLoader()
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}
	cals, err := loader.Load(cfg.Vehicle.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load vehicle profile: %w", err)
	}

	acc := control.NewAccumulator(control.Settings{
		Calibrations: cals,
		GainStep:     cfg.Control.GainStep,
		InitialGain:  cfg.Control.InitialGain,
		LightStep:    cfg.Control.LightStep,
		CameraStep:   cfg.Control.CameraStep,
	}, logger.Named("control"))

	link := mavlink.NewNetLink(mavlink.LinkConfig{
		Address:       cfg.MAVLink.CommandAddr(),
		LocalPort:     cfg.MAVLink.LocalPort,
		TelemetryPort: cfg.MAVLink.TelemetryPort,
		Timeout:       cfg.MAVLink.DialTimeout,
	})

	sess, err := session.New(session.Settings{
		SystemID:          uint8(cfg.MAVLink.SystemID),
		TargetSystem:      uint8(cfg.MAVLink.TargetSystem),
		InitialGCS:        cfg.MAVLink.InitialGCS,
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		ReconnectBackoff:  cfg.Session.ReconnectBackoff,
		PollTimeout:       cfg.Session.PollTimeout,
		MaxReads:          cfg.Session.MaxReads,
		QueueSize:         cfg.Session.QueueSize,
		ReleaseWait:       cfg.Session.ReleaseWait,
	}, link, acc, logger.Named("session"))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	secret := cfg.Auth.GetJWTSecret()
	if !cfg.Auth.IsProductionReady() {
		logger.Warn("Using development JWT secret",
			zap.String("env", cfg.Auth.JWTSecretEnv))
	}
	jwt := auth.NewJWTHandler(secret, cfg.Auth.TokenTTL)

	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		vehicle:      vehicleName(cfg.Vehicle.Profile),
		session:      sess,
		runner:       session.NewRunner(sess, cfg.Session.TickInterval, logger.Named("runner")),
		jwt:          jwt,
		health:       health.NewServer(),
		currentState: StateInitializing,
	}
	lm.wsHub = websocket.NewHub(logger.Named("websocket"), jwt, sess)

	lm.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	sess.AddObserver(lm.wsHub)
	sess.AddObserver(session.ObserverFunc(lm.onSessionEvent))

	return lm, nil
}

func vehicleName(profilePath string) string {
	if profilePath == "" {
		return "default"
	}
	base := filepath.Base(profilePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenTeleopCore",
		zap.String("vehicle", lm.vehicle),
		zap.String("autopilot", lm.config.MAVLink.CommandAddr()))

	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()

	hubCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	lm.hubDone = make(chan struct{})
	go func() {
		defer close(lm.hubDone)
		lm.wsHub.Run(hubCtx)
	}()

	if err := lm.runner.Start(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start session runner: %w", err)
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Duration("tick_interval", lm.config.Session.TickInterval))

	return nil
}

// onSessionEvent keeps the gRPC health status in line with the session.
func (lm *LifecycleManager) onSessionEvent(ev session.Event) {
	change, ok := ev.Data.(session.StateChange)
	if ev.Type != session.EventState || !ok {
		return
	}

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if change.State == session.StateIdle || change.State == session.StateActive {
		status = healthpb.HealthCheckResponse_SERVING
	}
	lm.health.SetServingStatus(HealthService, status)
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// 1. Close the operator surfaces so no new commands arrive
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lm.restServer.Shutdown(ctx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.health.Shutdown()
			lm.grpcServer.GracefulStop()
		}()
	}

	wg.Wait()

	// 2. Release the vehicle and close the link
	if err := lm.runner.Stop(ctx); err != nil {
		errChan <- fmt.Errorf("session stop failed: %w", err)
	}

	// 3. Disconnect websocket clients
	if lm.hubCancel != nil {
		lm.hubCancel()
		select {
		case <-lm.hubDone:
		case <-ctx.Done():
		}
	}

	close(errChan)
	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	if ctx.Err() != nil {
		lm.logger.Warn("Shutdown timeout, forcing stop")
		errs = append(errs, fmt.Errorf("shutdown timeout exceeded: %w", ctx.Err()))
	}
	if len(errs) == 0 {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcAddr = lis.Addr()

	lm.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", HealthService))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm, lm.logger.Named("rest"), lm.wsHub, lm.jwt)
	return lm.restServer.Start()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected system state change", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.setState(StateError)
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state, startedAt := lm.currentState, lm.startedAt
	lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:        state.String(),
		SessionState: lm.session.Status().State,
		Vehicle:      lm.vehicle,
		Clients:      lm.wsHub.GetClientCount(),
		StartedAt:    startedAt,
	}
	if !startedAt.IsZero() {
		status.Uptime = time.Since(startedAt).Truncate(time.Second).String()
	}
	return status
}

// Teleop returns the session command surface
// Deactivate hands control back to the vehicle without stopping the daemon.
func (lm *LifecycleManager) Deactivate() error {
	lm.logger.Info("Host deactivation requested")
	return lm.session.Deactivate()
}

func (lm *LifecycleManager) Teleop() interfaces.Teleop {
	return lm.session
}

// JWT returns the token handler
func (lm *LifecycleManager) JWT() *auth.JWTHandler {
	return lm.jwt
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}
