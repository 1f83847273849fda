// Package terminal owns the lifecycle of per-user shell sessions.
//
// The Registry maps each user to at most one Session. Creating a session
// derives an OS username from the user's identity, provisions the account
// and workspace, and starts a login shell on a pseudo-terminal; a repeated
// create returns the live session. Calls for the same user are serialized
// by a keyed lock, so two concurrent creates start one shell, while other
// users proceed in parallel.
//
// Sessions leave the registry through the Reaper: on explicit delete, when
// the grace period elapses after the last viewer detached or the shell
// exited, when an exited session is replaced, and on Shutdown. Teardown
// kills the shell, kills every process of the account, then removes the
// account; each step runs even if an earlier one failed.
package terminal
