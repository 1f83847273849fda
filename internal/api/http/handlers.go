package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termhost/internal/shared/utils"
	"github.com/GriffinCanCode/termhost/internal/terminal"
)

// Sessions is the part of terminal.Registry the REST surface drives.
type Sessions interface {
	CreateSession(ctx context.Context, req terminal.CreateRequest) (terminal.SessionInfo, error)
	DeleteSession(ctx context.Context, userID string) bool
	GetSession(userID string) (terminal.SessionInfo, error)
	List() []terminal.SessionInfo
	Count() int
}

// Handlers contains the terminal REST handlers
type Handlers struct {
	sessions Sessions
	log      *logging.Logger
}

// NewHandlers creates a handler set
func NewHandlers(sessions Sessions, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handlers{sessions: sessions, log: log.Named("http")}
}

// CreateSessionRequest is the body of POST /terminal/create-session.
type CreateSessionRequest struct {
	UserID          string `json:"userId"`
	ProjectID       string `json:"projectId"`
	UserEmail       string `json:"userEmail"`
	DisplayIdentity string `json:"displayIdentity"`
}

// Health reports liveness and the number of sessions
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"activeSessions": h.sessions.Count(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateSession returns the user's session, creating it if needed. Missing
// body fields fall back to the X-User-ID and X-User-Email headers.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if req.UserID == "" {
		req.UserID = c.GetHeader("X-User-ID")
	}
	identity := req.DisplayIdentity
	if identity == "" {
		identity = req.UserEmail
	}
	if identity == "" {
		identity = c.GetHeader("X-User-Email")
	}

	// Provisioning runs to completion even if the client hangs up; a killed
	// useradd leaves a half-built account.
	info, err := h.sessions.CreateSession(context.WithoutCancel(c.Request.Context()), terminal.CreateRequest{
		UserID:          req.UserID,
		ProjectID:       req.ProjectID,
		DisplayIdentity: identity,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// DeleteSession tears the user's session down
func (h *Handlers) DeleteSession(c *gin.Context) {
	userID := c.Param("userId")
	if err := utils.ValidateUserID(userID); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	found := h.sessions.DeleteSession(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{"success": found})
}

// GetSession returns the user's session
func (h *Handlers) GetSession(c *gin.Context) {
	info, err := h.sessions.GetSession(c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// ListSessions lists every session
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.sessions.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, terminal.ErrValidation):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, terminal.ErrNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, terminal.ErrShuttingDown),
		errors.Is(err, terminal.ErrProvisioning):
		fail(c, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
	})
}
