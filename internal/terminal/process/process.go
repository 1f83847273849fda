package process

import (
	"errors"
	"time"
)

var (
	// ErrClosed is returned by Write and Resize once the process has exited
	// or been killed.
	ErrClosed = errors.New("process has exited")
	// ErrStart is returned when the shell cannot be started on a PTY.
	ErrStart = errors.New("failed to start shell")
)

// Process is a running login shell attached to a pseudo-terminal.
type Process interface {
	// Write forwards raw bytes to the shell's input side.
	Write(p []byte) (int, error)
	// Resize signals a window-size change. Safe to call at any time.
	Resize(cols, rows int) error
	// Kill terminates the shell's process group and closes the PTY.
	Kill() error
	// Done is closed after the exit status has been delivered.
	Done() <-chan struct{}
	// ExitStatus returns the status once Done is closed.
	ExitStatus() (ExitStatus, bool)
	Pid() int
	// Scrollback returns the most recent output, oldest first.
	Scrollback() []byte
}

// Sink receives a process's output stream and its exit. Output is called
// from a single goroutine in producer order; Exit is called exactly once,
// after the last Output.
type Sink interface {
	Output(data []byte)
	Exit(status ExitStatus)
}

// SinkFuncs adapts a pair of functions to Sink. Nil fields are ignored.
type SinkFuncs struct {
	OnOutput func(data []byte)
	OnExit   func(status ExitStatus)
}

func (s SinkFuncs) Output(data []byte) {
	if s.OnOutput != nil {
		s.OnOutput(data)
	}
}

func (s SinkFuncs) Exit(status ExitStatus) {
	if s.OnExit != nil {
		s.OnExit(status)
	}
}

// ExitStatus describes how a shell ended. Signal is zero for a normal exit;
// for a signalled exit Code is 128+Signal, matching shell convention.
type ExitStatus struct {
	Code       int    `json:"exitCode"`
	Signal     int    `json:"signal"`
	SignalName string `json:"signalName,omitempty"`
}

// Signaled reports whether the process was terminated by a signal.
func (s ExitStatus) Signaled() bool {
	return s.Signal != 0
}

// Credential is the account a shell runs as.
type Credential struct {
	UID    uint32
	GID    uint32
	Groups []uint32
}

// Options describe one shell launch.
type Options struct {
	Username         string
	HomeDirectory    string
	WorkingDirectory string
	// Credential is nil when the account could not be resolved; the shell
	// then runs as the service user.
	Credential *Credential
	Env        map[string]string
	Cols       int
	Rows       int
}

// Config holds the spawner settings shared by every session.
type Config struct {
	Shell          string
	ShellArgs      []string
	Cols           int
	Rows           int
	ScrollbackSize int
	// PrimeShell writes PrimeCommands once the first prompt is seen.
	PrimeShell    bool
	PrimeCommands []string
	PromptMarkers []string
	ReadyTimeout  time.Duration
	// DrainTimeout bounds how long output is read after the shell exits
	// while background children still hold the PTY open.
	DrainTimeout time.Duration
	// KillTimeout bounds how long Kill waits for the exit to be observed.
	KillTimeout time.Duration
}

// DefaultConfig returns the spawner configuration for bash login shells.
func DefaultConfig() Config {
	return Config{
		Shell:          "/bin/bash",
		ShellArgs:      []string{"--login"},
		Cols:           80,
		Rows:           24,
		ScrollbackSize: 64 * 1024,
		PrimeShell:     true,
		PrimeCommands: []string{
			` export PS1='\[\e[1;32m\]\u@terminal\[\e[0m\]:\[\e[1;34m\]\w\[\e[0m\]\$ '`,
			` clear`,
		},
		PromptMarkers: []string{"$ ", "# ", "% ", "> "},
		ReadyTimeout:  2 * time.Second,
		DrainTimeout:  500 * time.Millisecond,
		KillTimeout:   3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Shell == "" {
		c.Shell = d.Shell
		if c.ShellArgs == nil {
			c.ShellArgs = d.ShellArgs
		}
	}
	if c.Cols <= 0 {
		c.Cols = d.Cols
	}
	if c.Rows <= 0 {
		c.Rows = d.Rows
	}
	if c.ScrollbackSize <= 0 {
		c.ScrollbackSize = d.ScrollbackSize
	}
	if len(c.PromptMarkers) == 0 {
		c.PromptMarkers = d.PromptMarkers
	}
	if c.PrimeShell && len(c.PrimeCommands) == 0 {
		c.PrimeCommands = d.PrimeCommands
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = d.KillTimeout
	}
	return c
}
