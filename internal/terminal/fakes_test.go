package terminal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/termhost/internal/shared/id"
	"github.com/GriffinCanCode/termhost/internal/terminal/process"
)

type fakeProcess struct {
	pid  int
	sink process.Sink

	mu      sync.Mutex
	written []byte
	cols    int
	rows    int
	killed  bool
	exited  bool
	status  process.ExitStatus
	done    chan struct{}
}

func (p *fakeProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return 0, process.ErrClosed
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakeProcess) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return process.ErrClosed
	}
	p.cols, p.rows = cols, rows
	return nil
}

// exit simulates the shell ending on its own.
func (p *fakeProcess) exit(status process.ExitStatus) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.status = status
	p.mu.Unlock()

	p.sink.Exit(status)
	close(p.done)
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(process.ExitStatus{Code: 137, Signal: 9, SignalName: "SIGKILL"})
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Scrollback() []byte    { return []byte("scrollback") }

func (p *fakeProcess) ExitStatus() (process.ExitStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.exited
}

func (p *fakeProcess) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.written)
}

func (p *fakeProcess) Size() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

func (p *fakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

type fakeLauncher struct {
	spawns  atomic.Int32
	nextPID atomic.Int32
	delay   time.Duration
	err     error
	// gates blocks spawns for a username until the channel is closed
	gates   map[string]chan struct{}

	mu        sync.Mutex
	processes []*fakeProcess
	options   []process.Options
}

func (l *fakeLauncher) Spawn(ctx context.Context, opts process.Options, sink process.Sink) (process.Process, error) {
	l.spawns.Add(1)
	if gate, ok := l.gates[opts.Username]; ok {
		<-gate
	}
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return nil, l.err
	}

	p := &fakeProcess{
		pid:  int(l.nextPID.Add(1)) + 1000,
		sink: sink,
		done: make(chan struct{}),
	}
	l.mu.Lock()
	l.processes = append(l.processes, p)
	l.options = append(l.options, opts)
	l.mu.Unlock()
	return p, nil
}

func (l *fakeLauncher) last() (*fakeProcess, process.Options) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.processes) == 0 {
		return nil, process.Options{}
	}
	return l.processes[len(l.processes)-1], l.options[len(l.options)-1]
}

type recordingListener struct {
	mu     sync.Mutex
	output map[string][]byte
	exits  map[string][]process.ExitStatus
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		output: map[string][]byte{},
		exits:  map[string][]process.ExitStatus{},
	}
}

func (l *recordingListener) SessionOutput(userID string, _ id.SessionID, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output[userID] = append(l.output[userID], data...)
}

func (l *recordingListener) SessionExit(userID string, _ id.SessionID, status process.ExitStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exits[userID] = append(l.exits[userID], status)
}

func (l *recordingListener) Output(userID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return string(l.output[userID])
}

func (l *recordingListener) Exits(userID string) []process.ExitStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]process.ExitStatus(nil), l.exits[userID]...)
}

var errSpawn = errors.New("fork/exec /bin/bash: resource temporarily unavailable")
