package account

import (
	"context"
	"errors"
	"regexp"
)

var (
	// ErrUnknownUser is returned by Lookup when no account exists.
	ErrUnknownUser = errors.New("unknown account")
	// ErrSystemAccount is returned when a username resolves to an existing
	// account below the configured minimum UID.
	ErrSystemAccount = errors.New("refusing to use system account")
	// ErrInvalidUsername is returned for names the OS tools would reject.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrUnmanagedAccount is returned when asked to kill or remove an
	// account that was not created by the host adapter.
	ErrUnmanagedAccount = errors.New("account not managed by termhost")
	// ErrUnsafePath is returned when a home directory lies outside the
	// configured home root.
	ErrUnsafePath = errors.New("path outside managed root")
)

var usernamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

// ValidUsername reports whether name is acceptable to useradd.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// Spec describes the account a session needs.
type Spec struct {
	Username         string
	HomeDirectory    string
	WorkingDirectory string
	Shell            string
}

// Identity is a resolved OS account.
type Identity struct {
	Username      string
	UID           uint32
	GID           uint32
	Groups        []uint32
	HomeDirectory string
	// Managed is set for accounts created by the host adapter.
	Managed bool
	// Synthetic identities come from the in-memory provisioner and must not
	// be used to switch credentials.
	Synthetic bool
}

// Provisioner manages the OS accounts backing terminal sessions.
type Provisioner interface {
	// Ensure creates the account if it does not exist and prepares its home
	// and working directories. An existing account is reused as is.
	Ensure(ctx context.Context, spec Spec) error
	// Lookup resolves an account by name.
	Lookup(username string) (*Identity, error)
	// KillProcesses signals every process owned by the account.
	KillProcesses(ctx context.Context, username string) error
	// Remove deletes the account and its home directory.
	Remove(ctx context.Context, username, home string) error
}
