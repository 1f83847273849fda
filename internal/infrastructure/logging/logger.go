package logging

import (
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a zap logger whose level can be changed while running.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// Config defines logger configuration.
type Config struct {
	Level string // debug, info, warn or error
	// Development switches to coloured console output with stack traces
	// on warnings.
	Development bool
	// Sampling keeps the first 100 identical messages per second and
	// every 100th after that. Output-heavy sessions stay readable.
	Sampling    bool
	OutputPaths []string
}

// New builds a logger. Production output is JSON on stdout.
func New(cfg Config) (*Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	atom := zap.NewAtomicLevelAt(level)

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.MessageKey = "message"
		zc.DisableStacktrace = true
	}
	zc.Level = atom
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.Sampling = nil
	if cfg.Sampling {
		zc.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}
	zc.OutputPaths = cfg.OutputPaths
	if len(zc.OutputPaths) == 0 {
		zc.OutputPaths = []string{"stdout"}
	}

	z, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: z, level: atom}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

// SetLevel changes the minimum level of this logger and every child.
// Loggers wrapped around a bare zap core have a fixed level.
func (l *Logger) SetLevel(level string) error {
	if l.level == (zap.AtomicLevel{}) {
		return errors.New("logger level is fixed")
	}
	var lv zapcore.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	l.level.SetLevel(lv)
	return nil
}

// Level reports the current minimum level.
func (l *Logger) Level() zapcore.Level {
	return l.Logger.Level()
}

// Named returns a child logger for a component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger.Named(component), level: l.level}
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...), level: l.level}
}

// ForSession tags a child logger with the identity of one session so it
// can be followed across the registry, the reaper and the PTY.
func (l *Logger) ForSession(userID, sessionID, username string) *Logger {
	return l.With(
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.String("username", username),
	)
}

// Flush syncs buffered output. Terminals and pipes reject fsync, which is
// not reported.
func (l *Logger) Flush() error {
	err := l.Logger.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}
