package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/termhost/internal/shared/paths"
)

const (
	pkillNoMatch      = 1
	userdelNoSuchUser = 6

	// managedComment is the GECOS field of accounts created here. Kill and
	// remove refuse accounts without it.
	managedComment = "termhost session account"
)

// HostConfig configures the host adapter.
type HostConfig struct {
	HomeRoot    string
	ExtraGroups []string
	MinUID      int
	Shell       string
}

// Host provisions real accounts with the shadow-utils tools.
type Host struct {
	cfg     HostConfig
	runner  Runner
	tools   *resilience.Group
	log     *logging.Logger
	metrics *monitoring.Metrics

	lookupUser func(name string) (*user.User, error)
}

// NewHost creates a host adapter. All commands go through runner, each
// command name behind its own circuit breaker.
func NewHost(cfg HostConfig, runner Runner, log *logging.Logger, metrics *monitoring.Metrics) *Host {
	if cfg.HomeRoot == "" {
		cfg.HomeRoot = paths.HomeRoot
	}
	if cfg.Shell == "" {
		cfg.Shell = "/bin/bash"
	}
	if log == nil {
		log = logging.NewNop()
	}
	log = log.Named("account")

	tools := resilience.NewGroup(resilience.Policy{
		Threshold: 5,
		Cooldown:  30 * time.Second,
		// A command that ran and exited non-zero means the tool works
		Failure: func(err error) bool {
			return err != nil && exitCode(err) < 0 && !errors.Is(err, context.Canceled)
		},
		OnTransition: func(command string, from, to resilience.State) {
			log.Warn("account tool circuit changed",
				zap.String("command", command),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Host{
		cfg:        cfg,
		runner:     runner,
		tools:      tools,
		log:        log,
		metrics:    metrics,
		lookupUser: user.Lookup,
	}
}

func (h *Host) run(ctx context.Context, name string, args ...string) error {
	return h.tools.Do(ctx, name, func(ctx context.Context) error {
		_, err := h.runner.Run(ctx, name, args...)
		return err
	})
}

// Ensure creates the account when missing, then prepares the working
// directory. Existing accounts keep their home and profile.
func (h *Host) Ensure(ctx context.Context, spec Spec) (err error) {
	timer := monitoring.NewTimer(h.metrics, "provisioner", "ensure")
	defer func() {
		timer.StopErr(err)
		if err != nil {
			h.metrics.RecordProvisionFailure("ensure")
		}
	}()

	if !ValidUsername(spec.Username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, spec.Username)
	}
	home := spec.HomeDirectory
	if home == "" {
		home = paths.NewLayout("", h.cfg.HomeRoot).Home(spec.Username)
	}
	if err := h.checkHome(home); err != nil {
		return err
	}

	ident, err := h.Lookup(spec.Username)
	switch {
	case err == nil && ident.Managed:
		h.log.Debug("reusing existing account", zap.String("username", spec.Username))
	case err == nil:
		h.log.Warn("reusing account not created by termhost", zap.String("username", spec.Username))
	case errors.Is(err, ErrUnknownUser):
		if ident, err = h.create(ctx, spec, home); err != nil {
			return err
		}
	default:
		return err
	}

	return h.prepareWorkingDirectory(spec.WorkingDirectory, ident)
}

func (h *Host) create(ctx context.Context, spec Spec, home string) (*Identity, error) {
	shell := spec.Shell
	if shell == "" {
		shell = h.cfg.Shell
	}

	args := []string{"-m", "-d", home, "-s", shell, "-c", managedComment}
	if len(h.cfg.ExtraGroups) > 0 {
		args = append(args, "-G", strings.Join(h.cfg.ExtraGroups, ","))
	}
	args = append(args, spec.Username)
	if err := h.run(ctx, "useradd", args...); err != nil {
		return nil, fmt.Errorf("create account %s: %w", spec.Username, err)
	}

	hash, err := placeholderCredential()
	if err != nil {
		return nil, err
	}
	if err := h.run(ctx, "usermod", "-p", hash, spec.Username); err != nil {
		return nil, fmt.Errorf("set credential for %s: %w", spec.Username, err)
	}

	ident, err := h.Lookup(spec.Username)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, fmt.Errorf("create home %s: %w", home, err)
	}
	if err := writeProfile(home, spec.WorkingDirectory); err != nil {
		return nil, err
	}
	if err := chownTree(home, ident.UID, ident.GID); err != nil {
		return nil, err
	}
	if err := os.Chmod(home, 0o700); err != nil {
		return nil, fmt.Errorf("chmod %s: %w", home, err)
	}

	h.log.Info("account created",
		zap.String("username", spec.Username),
		zap.Uint32("uid", ident.UID),
		zap.String("home", home),
	)
	return ident, nil
}

func (h *Host) prepareWorkingDirectory(dir string, ident *Identity) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create working directory %s: %w", dir, err)
	}
	if err := chownTree(dir, ident.UID, ident.GID); err != nil {
		return err
	}
	if err := os.Chmod(dir, 0o750); err != nil {
		return fmt.Errorf("chmod %s: %w", dir, err)
	}
	return nil
}

// Lookup resolves the account through the system user database.
func (h *Host) Lookup(username string) (*Identity, error) {
	u, err := h.lookupUser(username)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, username)
		}
		return nil, fmt.Errorf("lookup %s: %w", username, err)
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: bad uid %q", username, u.Uid)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: bad gid %q", username, u.Gid)
	}
	if int(uid) < h.cfg.MinUID {
		return nil, fmt.Errorf("%w: %s has uid %d", ErrSystemAccount, username, uid)
	}

	ident := &Identity{
		Username:      username,
		UID:           uint32(uid),
		GID:           uint32(gid),
		HomeDirectory: u.HomeDir,
		Managed:       u.Name == managedComment,
	}
	if groupIDs, err := u.GroupIds(); err == nil {
		for _, g := range groupIDs {
			if n, err := strconv.ParseUint(g, 10, 32); err == nil {
				ident.Groups = append(ident.Groups, uint32(n))
			}
		}
	}
	return ident, nil
}

// KillProcesses sends SIGKILL to every process owned by the account. Only
// managed accounts are touched.
func (h *Host) KillProcesses(ctx context.Context, username string) error {
	if !ValidUsername(username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	if managed, err := h.managed(username); !managed {
		return err
	}
	return monitoring.Track(h.metrics, "provisioner", "kill", func() error {
		err := h.run(ctx, "pkill", "-KILL", "-u", username)
		if err != nil && exitCode(err) != pkillNoMatch {
			h.metrics.RecordProvisionFailure("kill")
			return fmt.Errorf("kill processes of %s: %w", username, err)
		}
		return nil
	})
}

// Remove deletes a managed account and its home directory. A missing
// account is not an error.
func (h *Host) Remove(ctx context.Context, username, home string) error {
	if !ValidUsername(username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	if home != "" {
		if err := h.checkHome(home); err != nil {
			return err
		}
	}
	if managed, err := h.managed(username); !managed {
		return err
	}

	err := h.run(ctx, "userdel", "-r", "-f", username)
	if err != nil && exitCode(err) != userdelNoSuchUser {
		h.metrics.RecordProvisionFailure("remove")
		return fmt.Errorf("remove account %s: %w", username, err)
	}

	if home == "" {
		return nil
	}
	if err := os.RemoveAll(home); err != nil {
		h.metrics.RecordProvisionFailure("remove")
		return fmt.Errorf("remove home %s: %w", home, err)
	}
	h.log.Info("account removed", zap.String("username", username))
	return nil
}

// managed reports whether username is an account this adapter created. A
// missing account is not managed and not an error.
func (h *Host) managed(username string) (bool, error) {
	ident, err := h.Lookup(username)
	switch {
	case errors.Is(err, ErrUnknownUser):
		return false, nil
	case err != nil:
		return false, err
	case !ident.Managed:
		return false, fmt.Errorf("%w: %s", ErrUnmanagedAccount, username)
	}
	return true, nil
}

// checkHome rejects homes that are not strictly inside HomeRoot.
func (h *Host) checkHome(home string) error {
	if !paths.IsWithin(h.cfg.HomeRoot, home) {
		return fmt.Errorf("%w: %s", ErrUnsafePath, home)
	}
	return nil
}

// placeholderCredential returns a bcrypt hash of a random secret. The
// secret is discarded; the login system only needs a valid entry.
func placeholderCredential() (string, error) {
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(secret)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(hash), nil
}

// chownTree changes ownership of root and everything under it without
// following symlinks.
func chownTree(root string, uid, gid uint32) error {
	if err := os.Lchown(root, int(uid), int(gid)); err != nil {
		return fmt.Errorf("chown %s: %w", root, err)
	}

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		return os.Lchown(p, int(uid), int(gid))
	})
	if err != nil {
		return fmt.Errorf("chown %s: %w", root, err)
	}
	return nil
}
