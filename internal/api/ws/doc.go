// Package ws is the streaming gateway for terminal sessions.
//
// A client opens GET /terminal/ws with a token in the token query
// parameter, an Authorization bearer header, or X-Auth-Token. Handshakes
// without a valid token get 401 and are never upgraded.
//
// Every frame is a JSON envelope {"type": ..., "payload": {...}}.
//
// Client to server:
//   - create-terminal {userId, projectId, displayIdentity}
//   - terminal-input {userId, data}
//   - terminal-resize {userId, cols, rows}
//   - delete-terminal {userId}
//   - ping
//
// Server to client:
//   - terminal-created {sessionId, userId, username, workingDirectory}
//   - terminal-output {sessionId, data}
//   - terminal-exit {sessionId, exitCode, signal}
//   - terminal-error {message}
//   - terminal-deleted {userId, success}
//   - pong
//
// A connection that creates a terminal joins that user's room and receives
// the session's recent output, then every later output and exit event.
// When the last connection leaves a room the session's grace period starts.
package ws
