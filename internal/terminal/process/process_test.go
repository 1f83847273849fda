package process

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu    sync.Mutex
	out   bytes.Buffer
	exits []ExitStatus
}

func (c *collector) Output(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Write(data)
}

func (c *collector) Exit(status ExitStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exits = append(c.exits, status)
}

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func (c *collector) Exits() []ExitStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ExitStatus(nil), c.exits...)
}

func (c *collector) waitFor(t *testing.T, substr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.Contains(c.String(), substr)
	}, 5*time.Second, 10*time.Millisecond, "output never contained %q; got %q", substr, c.String())
}

func testSpawner(t *testing.T) *Spawner {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	return NewSpawner(Config{
		Shell:        "/bin/sh",
		ShellArgs:    []string{},
		KillTimeout:  2 * time.Second,
		DrainTimeout: 200 * time.Millisecond,
	}, nil, nil)
}

func spawn(t *testing.T, s *Spawner, opts Options) (Process, *collector) {
	t.Helper()
	c := &collector{}
	if opts.WorkingDirectory == "" {
		opts.WorkingDirectory = t.TempDir()
	}
	p, err := s.Spawn(context.Background(), opts, c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Kill() })
	return p, c
}

func TestSpawnRoundTrip(t *testing.T) {
	p, out := spawn(t, testSpawner(t), Options{Username: "alice"})

	assert.Greater(t, p.Pid(), 0)

	_, err := p.Write([]byte("echo $((40+2))\n"))
	require.NoError(t, err)

	out.waitFor(t, "42")
	assert.Contains(t, string(p.Scrollback()), "42")
}

func TestSpawnEnvironment(t *testing.T) {
	p, out := spawn(t, testSpawner(t), Options{
		Username: "alice",
		Env:      map[string]string{"PROJECT_ID": "p1"},
	})

	_, err := p.Write([]byte("echo \"[$TERM|$LANG|$USER|$PROJECT_ID]\"\n"))
	require.NoError(t, err)

	out.waitFor(t, "[xterm-256color|C.UTF-8|alice|p1]")
}

func TestSpawnCreatesWorkingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "workspaces", "p1")

	p, out := spawn(t, testSpawner(t), Options{WorkingDirectory: dir})

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = p.Write([]byte("pwd\n"))
	require.NoError(t, err)
	out.waitFor(t, dir)
}

func TestResize(t *testing.T) {
	p, out := spawn(t, testSpawner(t), Options{})

	require.NoError(t, p.Resize(200, 50))

	_, err := p.Write([]byte("stty size\n"))
	require.NoError(t, err)
	out.waitFor(t, "50 200")
}

func TestResizeRejectsInvalidSize(t *testing.T) {
	p, _ := spawn(t, testSpawner(t), Options{})

	assert.Error(t, p.Resize(0, 24))
	assert.Error(t, p.Resize(80, -1))
}

func TestExitDeliveredOnce(t *testing.T) {
	p, out := spawn(t, testSpawner(t), Options{})

	_, err := p.Write([]byte("exit 3\n"))
	require.NoError(t, err)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	exits := out.Exits()
	require.Len(t, exits, 1)
	assert.Equal(t, 3, exits[0].Code)
	assert.False(t, exits[0].Signaled())

	status, ok := p.ExitStatus()
	assert.True(t, ok)
	assert.Equal(t, exits[0], status)

	_, err = p.Write([]byte("echo late\n"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.Resize(100, 30), ErrClosed)
	assert.NoError(t, p.Kill())

	assert.Len(t, out.Exits(), 1)
}

func TestKillReportsSignal(t *testing.T) {
	p, out := spawn(t, testSpawner(t), Options{})

	require.NoError(t, p.Kill())

	exits := out.Exits()
	require.Len(t, exits, 1)
	assert.True(t, exits[0].Signaled())
	assert.Equal(t, "SIGKILL", exits[0].SignalName)
	assert.Equal(t, 137, exits[0].Code)

	assert.NoError(t, p.Kill())
	assert.Len(t, out.Exits(), 1)
}

func TestPrimeAfterPrompt(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	s := NewSpawner(Config{
		Shell:         "/bin/sh",
		ShellArgs:     []string{},
		PrimeShell:    true,
		PrimeCommands: []string{"echo primed-$((1+1))"},
		ReadyTimeout:  time.Second,
	}, nil, nil)

	_, out := spawn(t, s, Options{})
	out.waitFor(t, "primed-2")
}

func TestSpawnMissingShell(t *testing.T) {
	s := NewSpawner(Config{Shell: "/nonexistent/shell"}, nil, nil)

	_, err := s.Spawn(context.Background(), Options{WorkingDirectory: t.TempDir()}, nil)
	assert.ErrorIs(t, err, ErrStart)
}

func TestSpawnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testSpawner(t).Spawn(ctx, Options{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, "/bin/bash", cfg.Shell)
	assert.Equal(t, []string{"--login"}, cfg.ShellArgs)
	assert.Equal(t, 80, cfg.Cols)
	assert.Equal(t, 24, cfg.Rows)
	assert.Contains(t, cfg.PromptMarkers, "$ ")

	custom := Config{Shell: "/bin/zsh"}.withDefaults()
	assert.Empty(t, custom.ShellArgs, "args are only defaulted with the default shell")
}
