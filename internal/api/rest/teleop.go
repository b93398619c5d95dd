package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenTeleopCore/internal/auth"
	"github.com/KevinKickass/OpenTeleopCore/internal/session"
	"github.com/KevinKickass/OpenTeleopCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/session
func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Teleop().Status())
}

// POST /api/v1/teleop/start
func (s *Server) startTeleop(c *gin.Context) {
	var req struct {
		Originator string `json:"originator"`
	}

	// An empty body is allowed, the operator name is used then.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
			return
		}
	}
	if req.Originator == "" {
		if claims := auth.Claims(c); claims != nil {
			req.Originator = claims.Operator
		}
	}

	if err := s.lm.Teleop().StartTeleoperation(req.Originator); err != nil {
		s.commandFailed(c, "start", err)
		return
	}

	s.logger.Info("Teleoperation start requested",
		zap.String("originator", req.Originator))
	c.JSON(http.StatusAccepted, gin.H{
		"message":    "Start queued",
		"originator": req.Originator,
	})
}

// POST /api/v1/teleop/stop
func (s *Server) stopTeleop(c *gin.Context) {
	if err := s.lm.Teleop().StopTeleoperation(); err != nil {
		s.commandFailed(c, "stop", err)
		return
	}

	s.logger.Info("Teleoperation stop requested",
		zap.String("operator", c.GetString("operator")))
	c.JSON(http.StatusAccepted, gin.H{"message": "Stop queued"})
}

// POST /api/v1/teleop/actions
func (s *Server) submitActions(c *gin.Context) {
	// An absent or empty batch is valid: it returns every axis to neutral.
	var req struct {
		Actions types.RemoteActions `json:"actions"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
		return
	}

	if err := s.lm.Teleop().SubmitActions(req.Actions); err != nil {
		s.commandFailed(c, "actions", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Actions queued"})
}

func (s *Server) commandFailed(c *gin.Context, command string, err error) {
	s.logger.Warn("Teleoperation command rejected",
		zap.String("command", command),
		zap.Error(err))

	if errors.Is(err, session.ErrQueueFull) {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeUnavailable, "Session busy, retry", err.Error()))
		return
	}
	c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeInternal, "Failed to queue command", err.Error()))
}
