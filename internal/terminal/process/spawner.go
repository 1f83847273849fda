package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
)

const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Spawner starts login shells on pseudo-terminals.
type Spawner struct {
	cfg     Config
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewSpawner creates a spawner. A nil logger discards output; nil metrics
// are allowed.
func NewSpawner(cfg Config, log *logging.Logger, metrics *monitoring.Metrics) *Spawner {
	if log == nil {
		log = logging.NewNop()
	}
	return &Spawner{
		cfg:     cfg.withDefaults(),
		log:     log.Named("pty"),
		metrics: metrics,
	}
}

// Config returns the effective configuration.
func (s *Spawner) Config() Config {
	return s.cfg
}

// Spawn starts the configured shell for opts and streams its output to sink.
// The context only bounds the start itself; the shell outlives it.
func (s *Spawner) Spawn(ctx context.Context, opts Options, sink Sink) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = SinkFuncs{}
	}

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 || rows <= 0 {
		cols, rows = s.cfg.Cols, s.cfg.Rows
	}

	cmd := exec.Command(s.cfg.Shell, s.cfg.ShellArgs...)
	cmd.Dir = s.workingDirectory(opts)
	cmd.Env = s.environment(opts)
	if opts.Credential != nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{
				Uid:    opts.Credential.UID,
				Gid:    opts.Credential.GID,
				Groups: opts.Credential.Groups,
			},
		}
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrStart, s.cfg.Shell, err)
	}

	p := newPTYProcess(cmd, ptmx, sink, s.cfg, s.metrics, s.log.With(
		zap.String("username", opts.Username),
		zap.Int("pid", cmd.Process.Pid),
	))
	p.start()

	s.log.Info("shell started",
		zap.String("username", opts.Username),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("dir", cmd.Dir),
		zap.Int("cols", cols),
		zap.Int("rows", rows),
		zap.Bool("as_account", opts.Credential != nil),
	)
	return p, nil
}

// workingDirectory returns opts.WorkingDirectory, creating it if needed. When
// it cannot be used the home directory and then the temp dir are tried.
func (s *Spawner) workingDirectory(opts Options) string {
	for _, dir := range []string{opts.WorkingDirectory, opts.HomeDirectory} {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		if err := os.MkdirAll(dir, 0o750); err == nil {
			return dir
		} else {
			s.log.Warn("working directory unavailable", zap.String("dir", dir), zap.Error(err))
		}
	}
	return os.TempDir()
}

func (s *Spawner) environment(opts Options) []string {
	home := opts.HomeDirectory
	if home == "" {
		home = os.TempDir()
	}

	env := []string{
		"PATH=" + defaultPath,
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		"LANG=C.UTF-8",
		"LC_ALL=C.UTF-8",
		"HOME=" + home,
		"SHELL=" + s.cfg.Shell,
	}
	if opts.Username != "" {
		env = append(env, "USER="+opts.Username, "LOGNAME="+opts.Username)
	}

	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+opts.Env[k])
	}
	return env
}
