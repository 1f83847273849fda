package ws

import (
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/auth"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/shared/id"
)

// Conn is one gateway connection. Frames are queued in order and written
// by a single writer goroutine; a connection whose queue overflows is
// closed rather than allowed to stall the fan-out.
type Conn struct {
	ID        id.ConnectionID
	principal auth.Principal

	ws      *websocket.Conn
	cfg     Config
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu     sync.Mutex
	cond   *sync.Cond
	queue  *queue.Queue
	closed bool
	room   string

	done chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn, principal auth.Principal, cfg Config, log *logging.Logger, metrics *monitoring.Metrics) *Conn {
	c := &Conn{
		ID:        id.NewConnectionID(),
		principal: principal,
		ws:        ws,
		cfg:       cfg,
		metrics:   metrics,
		queue:     queue.New(),
		done:      make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	c.log = log.With(zap.String("conn_id", c.ID.String()))
	return c
}

// Send queues a frame. It returns false if the connection is closed or was
// closed because its queue overflowed.
func (c *Conn) Send(frame []byte) bool {
	queued, overflow := c.enqueue(frame)
	if overflow {
		c.dropSlow()
	}
	return queued
}

// enqueue adds frame to the queue without blocking. overflow reports a full
// queue; the caller then owes a dropSlow, made outside any hub lock since
// closing writes to the socket.
func (c *Conn) enqueue(frame []byte) (queued, overflow bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, false
	}
	if c.queue.Length() >= c.cfg.MaxQueuedFrames {
		c.mu.Unlock()
		return false, true
	}
	c.queue.Add(frame)
	c.mu.Unlock()

	c.cond.Signal()
	return true, false
}

// dropSlow closes a connection whose queue overflowed.
func (c *Conn) dropSlow() {
	c.metrics.IncWSDropped()
	c.log.Warn("outbound queue full, closing slow connection",
		zap.Int("queued", c.cfg.MaxQueuedFrames),
	)
	c.Close()
}

// Room returns the user whose room the connection is in.
func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Conn) setRoom(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = userID
}

// Close stops the writer and closes the socket. Frames still queued are
// discarded.
func (c *Conn) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cond.Broadcast()
		close(c.done)

		if c.ws == nil {
			return
		}
		deadline := time.Now().Add(c.cfg.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.ws.Close()
	})
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// writeLoop drains the queue until the connection closes.
func (c *Conn) writeLoop() {
	defer c.Close()

	batch := make([][]byte, 0, 16)
	for {
		c.mu.Lock()
		for c.queue.Length() == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		batch = batch[:0]
		for c.queue.Length() > 0 {
			batch = append(batch, c.queue.Remove().([]byte))
		}
		c.mu.Unlock()

		for _, frame := range batch {
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}
		}
	}
}

// pingLoop keeps the connection alive. Control frames may be written
// concurrently with the writer goroutine.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
