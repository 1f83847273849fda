package terminal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/terminal/account"
)

// Reaper tears sessions down. Every step runs even if an earlier one
// failed; failures are logged and never returned.
type Reaper struct {
	accounts      account.Provisioner
	removeAccount bool
	timeout       time.Duration
	log           *logging.Logger
	metrics       *monitoring.Metrics
}

// NewReaper creates a reaper. When removeAccount is false the OS account
// and home directory are kept for the next session.
func NewReaper(accounts account.Provisioner, removeAccount bool, timeout time.Duration, log *logging.Logger, metrics *monitoring.Metrics) *Reaper {
	if log == nil {
		log = logging.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Reaper{
		accounts:      accounts,
		removeAccount: removeAccount,
		timeout:       timeout,
		log:           log.Named("reaper"),
		metrics:       metrics,
	}
}

// Reap kills the session's process, then every process owned by its
// account, then removes the account. The session must already be in
// teardown. Reap returns the number of failed steps.
func (r *Reaper) Reap(ctx context.Context, s *Session, reason string) int {
	// Teardown runs to completion even if the caller goes away
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	log := r.log.ForSession(s.UserID, s.ID.String(), s.Username)
	failed := 0
	fail := func(step string, err error) {
		failed++
		log.Warn("teardown step failed",
			zap.String("step", step),
			zap.Error(fmt.Errorf("%w: %s: %w", ErrTeardown, step, err)),
		)
	}

	if p := s.proc(); p != nil {
		if err := p.Kill(); err != nil {
			fail("kill process", err)
		}
	}

	if err := r.accounts.KillProcesses(ctx, s.Username); err != nil {
		fail("kill account processes", err)
	}
	if r.removeAccount {
		if err := r.accounts.Remove(ctx, s.Username, s.HomeDirectory); err != nil {
			fail("remove account", err)
		}
	}

	s.finishTeardown()
	r.metrics.RecordSessionReaped(reason)
	log.Info("session reaped", zap.String("reason", reason), zap.Int("failed_steps", failed))
	return failed
}
