package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/auth"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/termhost/internal/shared/utils"
	"github.com/GriffinCanCode/termhost/internal/terminal"
)

// Sessions is the part of terminal.Registry the gateway drives.
type Sessions interface {
	Presence
	CreateSession(ctx context.Context, req terminal.CreateRequest) (terminal.SessionInfo, error)
	DeleteSession(ctx context.Context, userID string) bool
	WriteInput(userID string, data []byte) error
	Resize(userID string, cols, rows int) error
	Scrollback(userID string) ([]byte, error)
}

// Config holds connection settings.
type Config struct {
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxQueuedFrames int
	AllowedOrigins  []string
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingPeriod:      54 * time.Second,
		MaxQueuedFrames: 1024,
		AllowedOrigins:  []string{"*"},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.MaxQueuedFrames <= 0 {
		c.MaxQueuedFrames = d.MaxQueuedFrames
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = d.AllowedOrigins
	}
	return c
}

// Gateway serves the terminal streaming endpoint.
type Gateway struct {
	cfg      Config
	sessions Sessions
	hub      *Hub
	verifier auth.Verifier
	upgrader websocket.Upgrader
	log      *logging.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
}

// NewGateway creates a gateway. The hub must be installed as the registry's
// listener for output to reach connections.
func NewGateway(cfg Config, sessions Sessions, hub *Hub, verifier auth.Verifier, log *logging.Logger, metrics *monitoring.Metrics, tracer *tracing.Tracer) *Gateway {
	if log == nil {
		log = logging.NewNop()
	}
	cfg = cfg.withDefaults()
	g := &Gateway{
		cfg:      cfg,
		sessions: sessions,
		hub:      hub,
		verifier: verifier,
		log:      log.Named("gateway"),
		metrics:  metrics,
		tracer:   tracer,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return utils.MatchOrigin(g.cfg.AllowedOrigins, origin)
}

// Handle authenticates the handshake and upgrades the connection. A missing
// or invalid token is answered with 401 before any upgrade.
func (g *Gateway) Handle(c *gin.Context) {
	principal, err := g.verifier.Verify(auth.TokenFromRequest(c.Request))
	if err != nil {
		g.metrics.IncWSAuthFailures()
		g.log.Warn("handshake rejected",
			zap.String("remote_addr", c.ClientIP()),
			zap.Error(fmt.Errorf("%w: %w", terminal.ErrAuthentication, err)),
		)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(ws, principal, g.cfg, g.log, g.metrics)
	g.metrics.IncWSConnections()
	conn.log.Info("connection opened",
		zap.String("remote_addr", c.ClientIP()),
		zap.String("subject", principal.Subject),
		zap.String("token_id", principal.TokenID),
	)

	go conn.writeLoop()
	go conn.pingLoop()
	g.readLoop(conn)
}

// readLoop handles messages in arrival order until the socket closes.
func (g *Gateway) readLoop(c *Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		g.hub.Leave(c)
		c.Close()
		g.metrics.DecWSConnections()
		c.log.Info("connection closed")
	}()

	c.ws.SetReadLimit(utils.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
		g.dispatch(ctx, c, frame)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *Conn, frame []byte) {
	msgType, msg, err := Decode(frame)
	g.metrics.RecordWSMessage("in", metricType(msgType))
	if err != nil {
		g.sendError(c, err.Error())
		return
	}

	attrs := []zap.Field{zap.String("conn_id", c.ID.String())}
	if scoped, ok := msg.(userScoped); ok {
		if err := g.authorize(c, scoped.user()); err != nil {
			c.log.Warn("message rejected", zap.String("type", string(msgType)), zap.Error(err))
			g.sendError(c, "not authorized for this user")
			return
		}
		attrs = append(attrs, zap.String("user_id", scoped.user()))
	}

	err = g.trace(ctx, string(msgType), func(ctx context.Context) error {
		switch m := msg.(type) {
		case *CreateTerminal:
			return g.createTerminal(ctx, c, m)
		case *TerminalInput:
			return g.sessions.WriteInput(m.UserID, []byte(m.Data))
		case *TerminalResize:
			return g.sessions.Resize(m.UserID, m.Cols, m.Rows)
		case *DeleteTerminal:
			return g.deleteTerminal(ctx, c, m)
		default:
			g.send(c, TypePong, nil)
			return nil
		}
	}, attrs...)
	if err != nil {
		g.sendError(c, errorMessage(err))
	}
}

// authorize requires a verified token's subject to match the addressed user.
func (g *Gateway) authorize(c *Conn, userID string) error {
	if !c.principal.Verified || c.principal.Subject == "" {
		return nil
	}
	if c.principal.Subject != userID {
		return fmt.Errorf("%w: token subject %q cannot address user %q",
			terminal.ErrAuthentication, c.principal.Subject, userID)
	}
	return nil
}

func (g *Gateway) createTerminal(ctx context.Context, c *Conn, m *CreateTerminal) error {
	info, err := g.sessions.CreateSession(context.WithoutCancel(ctx), terminal.CreateRequest{
		UserID:          m.UserID,
		ProjectID:       m.ProjectID,
		DisplayIdentity: m.identity(),
	})
	if err != nil {
		return err
	}

	created, err := Encode(TypeTerminalCreated, TerminalCreated{
		SessionID:        info.SessionID,
		UserID:           info.UserID,
		Username:         info.Username,
		WorkingDirectory: info.WorkingDirectory,
	})
	if err != nil {
		return err
	}
	// The scrollback snapshot is taken inside the join so no output falls
	// between the replay and the live stream.
	g.hub.Join(c, m.UserID, func() [][]byte {
		frames := [][]byte{created}
		scrollback, err := g.sessions.Scrollback(m.UserID)
		if err != nil || len(scrollback) == 0 {
			return frames
		}
		replay, err := Encode(TypeTerminalOutput, TerminalOutput{SessionID: info.SessionID, Data: string(scrollback)})
		if err != nil {
			c.log.Error("failed to encode scrollback", zap.Error(err))
			return frames
		}
		return append(frames, replay)
	})
	g.metrics.RecordWSMessage("out", string(TypeTerminalCreated))
	return nil
}

func (g *Gateway) deleteTerminal(ctx context.Context, c *Conn, m *DeleteTerminal) error {
	if m.UserID == "" {
		return fmt.Errorf("%w: userId is required", terminal.ErrValidation)
	}
	found := g.sessions.DeleteSession(context.WithoutCancel(ctx), m.UserID)

	frame, err := Encode(TypeTerminalDeleted, TerminalDeleted{UserID: m.UserID, Success: found})
	if err != nil {
		return err
	}
	if c.Room() != m.UserID {
		c.Send(frame)
	}
	g.hub.Broadcast(m.UserID, frame)
	g.hub.Dissolve(m.UserID)
	g.metrics.RecordWSMessage("out", string(TypeTerminalDeleted))
	return nil
}

func (g *Gateway) trace(ctx context.Context, name string, fn func(ctx context.Context) error, attrs ...zap.Field) error {
	if g.tracer == nil {
		return fn(ctx)
	}
	return g.tracer.Trace(ctx, "ws."+name, fn, attrs...)
}

func (g *Gateway) send(c *Conn, t MessageType, payload any) {
	frame, err := Encode(t, payload)
	if err != nil {
		c.log.Error("failed to encode message", zap.String("type", string(t)), zap.Error(err))
		return
	}
	if c.Send(frame) {
		g.metrics.RecordWSMessage("out", string(t))
	}
}

func (g *Gateway) sendError(c *Conn, message string) {
	g.send(c, TypeTerminalError, TerminalError{Message: message})
}

// errorMessage turns an operation error into the text sent to the client.
// Errors of an unknown kind are not described.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, terminal.ErrValidation),
		errors.Is(err, terminal.ErrNotFound),
		errors.Is(err, terminal.ErrProcess),
		errors.Is(err, terminal.ErrProvisioning),
		errors.Is(err, terminal.ErrShuttingDown):
		return err.Error()
	default:
		return "internal error"
	}
}

// metricType bounds the label set to known message types.
func metricType(t MessageType) string {
	switch t {
	case TypeCreateTerminal, TypeTerminalInput, TypeTerminalResize, TypeDeleteTerminal, TypePing:
		return string(t)
	default:
		return "unknown"
	}
}
