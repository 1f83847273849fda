package ws

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/shared/id"
	"github.com/GriffinCanCode/termhost/internal/terminal/process"
)

// Presence is told when a user's room gains its first viewer back or loses
// its last one. terminal.Registry implements it. Calls are made with the
// hub lock held, so they arrive in room order and must not call back into
// the hub.
type Presence interface {
	Attach(userID string)
	Detach(userID string)
}

// Hub groups connections into one room per user and fans session events
// out to every member.
type Hub struct {
	presence Presence
	log      *logging.Logger
	metrics  *monitoring.Metrics

	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

// NewHub creates a hub.
func NewHub(presence Presence, log *logging.Logger, metrics *monitoring.Metrics) *Hub {
	if log == nil {
		log = logging.NewNop()
	}
	return &Hub{
		presence: presence,
		log:      log.Named("hub"),
		metrics:  metrics,
		rooms:    make(map[string]map[*Conn]struct{}),
	}
}

// Join moves c into userID's room. prelude, when set, runs under the hub
// lock and its frames are queued first: output broadcast before the join
// is covered by the frames prelude builds, output broadcast after it
// reaches c directly.
func (h *Hub) Join(c *Conn, userID string, prelude func() [][]byte) {
	var slow []*Conn

	h.mu.Lock()
	if left := h.leaveLocked(c); left != "" && left != userID {
		h.presence.Detach(left)
	}
	if prelude != nil {
		for _, frame := range prelude() {
			if _, overflow := c.enqueue(frame); overflow {
				slow = append(slow, c)
				break
			}
		}
	}
	room, ok := h.rooms[userID]
	if !ok {
		room = make(map[*Conn]struct{})
		h.rooms[userID] = room
	}
	room[c] = struct{}{}
	c.setRoom(userID)
	h.presence.Attach(userID)
	h.mu.Unlock()

	dropAll(slow)
}

// Leave removes c from its room. The user is detached when the room
// empties.
func (h *Hub) Leave(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if left := h.leaveLocked(c); left != "" {
		h.log.Debug("last viewer left", zap.String("user_id", left))
		h.presence.Detach(left)
	}
}

// leaveLocked removes c from its room and returns the room's user id if
// the room is now empty.
func (h *Hub) leaveLocked(c *Conn) string {
	userID := c.Room()
	if userID == "" {
		return ""
	}
	c.setRoom("")

	room := h.rooms[userID]
	delete(room, c)
	if len(room) > 0 {
		return ""
	}
	delete(h.rooms, userID)
	return userID
}

// Dissolve empties userID's room after its session was deleted. Members
// stay connected; nobody is detached since there is no session left.
func (h *Hub) Dissolve(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[userID] {
		c.setRoom("")
	}
	delete(h.rooms, userID)
}

// Broadcast queues frame for every member of userID's room and returns the
// number of members reached. Members whose queue is full are closed once
// the lock is released.
func (h *Hub) Broadcast(userID string, frame []byte) int {
	var slow []*Conn
	sent := 0

	h.mu.RLock()
	for c := range h.rooms[userID] {
		queued, overflow := c.enqueue(frame)
		if queued {
			sent++
		}
		if overflow {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	dropAll(slow)
	return sent
}

func dropAll(conns []*Conn) {
	for _, c := range conns {
		c.dropSlow()
	}
}

// Members returns the number of connections in userID's room.
func (h *Hub) Members(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

// SessionOutput implements terminal.Listener.
func (h *Hub) SessionOutput(userID string, sessionID id.SessionID, data []byte) {
	frame, err := Encode(TypeTerminalOutput, TerminalOutput{SessionID: sessionID.String(), Data: string(data)})
	if err != nil {
		h.log.Error("failed to encode output", zap.Error(err))
		return
	}
	if h.Broadcast(userID, frame) > 0 {
		h.metrics.RecordWSMessage("out", string(TypeTerminalOutput))
	}
}

// SessionExit implements terminal.Listener.
func (h *Hub) SessionExit(userID string, sessionID id.SessionID, status process.ExitStatus) {
	frame, err := Encode(TypeTerminalExit, TerminalExit{
		SessionID: sessionID.String(),
		ExitCode:  status.Code,
		Signal:    status.Signal,
	})
	if err != nil {
		h.log.Error("failed to encode exit", zap.Error(err))
		return
	}
	h.Broadcast(userID, frame)
	h.metrics.RecordWSMessage("out", string(TypeTerminalExit))
}
