package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenTeleopCore/internal/api/websocket"
	"github.com/KevinKickass/OpenTeleopCore/internal/auth"
	"github.com/KevinKickass/OpenTeleopCore/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	lm     interfaces.LifecycleManager
	logger *zap.Logger
	server *http.Server
	wsHub  *websocket.Hub
	jwt    *auth.JWTHandler
}

func NewServer(lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, jwt *auth.JWTHandler) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		lm:     lm,
		logger: logger,
		wsHub:  wsHub,
		jwt:    jwt,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", lm.Config().Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start binds the listener before returning so port errors surface at startup.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("Starting REST API server", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// ==================== SESSION (VIEW) ====================
		view := v1.Group("")
		view.Use(auth.Middleware(s.jwt))
		view.Use(auth.RequirePermission(auth.PermView))
		{
			view.GET("/session", s.getSession)
			view.GET("/system/status", s.getSystemStatus)
			view.GET("/ws/status", s.wsStatus)
		}

		// ==================== TELEOPERATION (PILOT) ====================
		teleop := v1.Group("/teleop")
		teleop.Use(auth.Middleware(s.jwt))
		teleop.Use(auth.RequirePermission(auth.PermPilot))
		{
			teleop.POST("/start", s.startTeleop)
			teleop.POST("/stop", s.stopTeleop)
			teleop.POST("/actions", s.submitActions)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		v1.GET("/ws/live", s.wsLiveConnection)
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	st := s.lm.Teleop().Status()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"session":   st.State,
		"timestamp": time.Now().Unix(),
	})
}
