package terminal

import "errors"

// Error kinds. Operations wrap these with context; match with errors.Is.
var (
	// ErrValidation marks missing or malformed request fields.
	ErrValidation = errors.New("validation error")
	// ErrAuthentication marks a missing or invalid handshake credential.
	ErrAuthentication = errors.New("authentication error")
	// ErrNotFound marks an operation on a user with no live session.
	ErrNotFound = errors.New("session not found")
	// ErrProvisioning marks a failed account or directory setup. It is
	// usually logged and the session continues in degraded mode; it is
	// returned when that mode would run the shell as root.
	ErrProvisioning = errors.New("provisioning error")
	// ErrProcess marks a spawn failure or a write to a dead process.
	ErrProcess = errors.New("process error")
	// ErrTeardown marks a failed reaper step. It is only ever logged.
	ErrTeardown = errors.New("teardown error")
	// ErrShuttingDown is returned by CreateSession after Shutdown.
	ErrShuttingDown = errors.New("registry is shutting down")
)
