package terminal

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/termhost/internal/shared/id"
	"github.com/GriffinCanCode/termhost/internal/terminal/process"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusActive      Status = "active"
	StatusExited      Status = "exited"
	StatusTerminating Status = "terminating"
	StatusTerminated  Status = "terminated"
)

// Session binds one user to one shell process.
type Session struct {
	ID               id.SessionID
	UserID           string
	ProjectID        string
	Username         string
	WorkingDirectory string
	HomeDirectory    string
	CreatedAt        time.Time
	// Degraded is set when provisioning failed and the shell runs without
	// a dedicated account.
	Degraded bool

	process process.Process

	// terminating stops output delivery as soon as teardown begins
	terminating atomic.Bool

	mu     sync.Mutex
	status Status
	exit   *process.ExitStatus

	// timer and timerGen implement the grace-period reap; a fired timer
	// whose generation no longer matches is ignored
	timer       *time.Timer
	timerGen    uint64
	timerReason string
}

// SessionInfo is the read-only view of a session returned to callers.
type SessionInfo struct {
	SessionID        string              `json:"sessionId"`
	UserID           string              `json:"userId"`
	ProjectID        string              `json:"projectId"`
	Username         string              `json:"username"`
	Status           Status              `json:"status"`
	WorkingDirectory string              `json:"workingDirectory"`
	CreatedAt        time.Time           `json:"createdAt"`
	Pid              int                 `json:"pid,omitempty"`
	Degraded         bool                `json:"degraded,omitempty"`
	Exit             *process.ExitStatus `json:"exit,omitempty"`
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := SessionInfo{
		SessionID:        s.ID.String(),
		UserID:           s.UserID,
		ProjectID:        s.ProjectID,
		Username:         s.Username,
		Status:           s.status,
		WorkingDirectory: s.WorkingDirectory,
		CreatedAt:        s.CreatedAt,
		Degraded:         s.Degraded,
	}
	if s.process != nil {
		info.Pid = s.process.Pid()
	}
	if s.exit != nil {
		exit := *s.exit
		info.Exit = &exit
	}
	return info
}

func (s *Session) setProcess(p process.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.process = p
}

func (s *Session) proc() process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.process
}

// markExited records the exit; it is a no-op once teardown has started.
func (s *Session) markExited(status process.ExitStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.exit = &status
	if s.status == StatusActive {
		s.status = StatusExited
	}
}

// beginTeardown moves the session to terminating. It returns false if
// teardown already started.
func (s *Session) beginTeardown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusTerminating || s.status == StatusTerminated {
		return false
	}
	s.terminating.Store(true)
	s.status = StatusTerminating
	s.stopTimerLocked()
	return true
}

func (s *Session) finishTeardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusTerminated
}

// scheduleTimer replaces any pending reap timer with one that calls fn
// after d. fn receives the generation it was scheduled under.
func (s *Session) scheduleTimer(d time.Duration, reason string, fn func(gen uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusTerminating || s.status == StatusTerminated {
		return
	}
	s.stopTimerLocked()
	gen := s.timerGen
	s.timerReason = reason
	s.timer = time.AfterFunc(d, func() { fn(gen) })
}

// cancelTimer stops a pending reap. Returns true if one was pending.
func (s *Session) cancelTimer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.timer != nil
	s.stopTimerLocked()
	return pending
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

// timerCurrent reports whether gen is still the live timer generation.
func (s *Session) timerCurrent(gen uint64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timerReason, s.timer != nil && s.timerGen == gen
}

func (s *Session) pendingReap() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
