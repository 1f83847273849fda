package process

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
)

const readBufferSize = 32 * 1024

// ptyProcess owns one shell. Output flows reader goroutine -> sink; the
// waiter goroutine reaps the child, waits for the reader to drain, and
// delivers the exit.
type ptyProcess struct {
	cmd     *exec.Cmd
	ptmx    *os.File
	sink    Sink
	cfg     Config
	metrics *monitoring.Metrics
	log     *logging.Logger

	scrollback *Buffer

	// mu guards writes, resizes and closing of ptmx
	mu     sync.Mutex
	closed bool

	ready     chan struct{}
	readyOnce sync.Once
	readDone  chan struct{}
	done      chan struct{}

	statusMu sync.RWMutex
	status   ExitStatus
	exited   bool

	// sinkMu orders Output calls before the single Exit call
	sinkMu        sync.Mutex
	exitDelivered bool
}

func newPTYProcess(cmd *exec.Cmd, ptmx *os.File, sink Sink, cfg Config, metrics *monitoring.Metrics, log *logging.Logger) *ptyProcess {
	return &ptyProcess{
		cmd:        cmd,
		ptmx:       ptmx,
		sink:       sink,
		cfg:        cfg,
		metrics:    metrics,
		log:        log,
		scrollback: NewBuffer(cfg.ScrollbackSize),
		ready:      make(chan struct{}),
		readDone:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (p *ptyProcess) start() {
	go p.readLoop()
	go p.waitLoop()
	if p.cfg.PrimeShell {
		go p.prime()
	}
}

func (p *ptyProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *ptyProcess) Done() <-chan struct{} {
	return p.done
}

func (p *ptyProcess) ExitStatus() (ExitStatus, bool) {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.status, p.exited
}

func (p *ptyProcess) Scrollback() []byte {
	return p.scrollback.Snapshot()
}

func (p *ptyProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.hasExited() {
		return 0, ErrClosed
	}
	n, err := p.ptmx.Write(b)
	if err != nil {
		return n, fmt.Errorf("write to pty: %w", err)
	}
	return n, nil
}

func (p *ptyProcess) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > 0xffff || rows > 0xffff {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.hasExited() {
		return ErrClosed
	}
	if err := pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// Kill sends SIGKILL to the shell's process group and waits, bounded by
// KillTimeout, for the exit to be delivered. Killing an exited process is
// a no-op.
func (p *ptyProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	pid := p.cmd.Process.Pid
	// The shell is a session leader, so its pgid equals its pid
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			p.log.Warn("kill failed", zap.Error(err), zap.NamedError("fallback", kerr))
		}
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(p.cfg.KillTimeout):
		p.closePTY()
		return fmt.Errorf("process %d did not exit within %s", pid, p.cfg.KillTimeout)
	}
}

func (p *ptyProcess) hasExited() bool {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.exited
}

func (p *ptyProcess) closePTY() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	_ = p.ptmx.Close()
}

func (p *ptyProcess) readLoop() {
	defer close(p.readDone)

	buf := make([]byte, readBufferSize)
	var carry []byte
	// window keeps the tail of recent output so a prompt marker split
	// across reads is still recognized
	var window []byte

	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if len(carry) > 0 {
				chunk = append(carry, chunk...)
				carry = nil
			}

			cut := completeUTF8(chunk)
			if cut < len(chunk) {
				carry = append([]byte(nil), chunk[cut:]...)
				chunk = chunk[:cut]
			}

			if len(chunk) > 0 {
				window = p.observePrompt(window, chunk)
				p.emit(chunk)
			}
		}
		if err != nil {
			// EIO once the slave side is closed; anything else is logged
			if !errors.Is(err, syscall.EIO) && !errors.Is(err, os.ErrClosed) {
				p.log.Debug("pty read ended", zap.Error(err))
			}
			break
		}
	}

	if len(carry) > 0 {
		p.emit(carry)
	}
}

func (p *ptyProcess) emit(chunk []byte) {
	out := make([]byte, len(chunk))
	copy(out, chunk)

	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	if p.exitDelivered {
		return
	}

	_, _ = p.scrollback.Write(out)
	p.metrics.AddPTYOutput(len(out))
	p.sink.Output(out)
}

func (p *ptyProcess) observePrompt(window, chunk []byte) []byte {
	select {
	case <-p.ready:
		return nil
	default:
	}

	window = append(window, chunk...)
	for _, marker := range p.cfg.PromptMarkers {
		if bytes.Contains(window, []byte(marker)) {
			p.readyOnce.Do(func() { close(p.ready) })
			return nil
		}
	}
	if len(window) > 64 {
		window = append([]byte(nil), window[len(window)-64:]...)
	}
	return window
}

// prime waits for the first prompt, or ReadyTimeout, then writes the
// priming commands.
func (p *ptyProcess) prime() {
	timer := time.NewTimer(p.cfg.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-p.ready:
	case <-timer.C:
		p.log.Debug("no prompt observed before ready timeout")
	case <-p.done:
		return
	}

	for _, line := range p.cfg.PrimeCommands {
		if _, err := p.Write([]byte(strings.TrimRight(line, "\r\n") + "\r")); err != nil {
			return
		}
	}
}

func (p *ptyProcess) waitLoop() {
	err := p.cmd.Wait()
	status := exitStatus(p.cmd.ProcessState, err)

	// Children that inherited the slave side can keep the reader alive
	select {
	case <-p.readDone:
	case <-time.After(p.cfg.DrainTimeout):
		p.log.Debug("pty still open after exit, closing")
	}
	p.closePTY()
	select {
	case <-p.readDone:
	case <-time.After(p.cfg.DrainTimeout):
	}

	p.statusMu.Lock()
	p.status = status
	p.exited = true
	p.statusMu.Unlock()

	if status.Signaled() {
		p.metrics.RecordProcessExit("signal")
	} else {
		p.metrics.RecordProcessExit("code")
	}
	p.log.Info("shell exited",
		zap.Int("exit_code", status.Code),
		zap.String("signal", status.SignalName),
	)

	p.sinkMu.Lock()
	p.exitDelivered = true
	p.sink.Exit(status)
	p.sinkMu.Unlock()

	close(p.done)
}

func exitStatus(state *os.ProcessState, err error) ExitStatus {
	if state == nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			state = exitErr.ProcessState
		}
	}
	if state == nil {
		return ExitStatus{Code: -1}
	}

	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		return ExitStatus{
			Code:       128 + int(sig),
			Signal:     int(sig),
			SignalName: unix.SignalName(sig),
		}
	}
	return ExitStatus{Code: state.ExitCode()}
}
