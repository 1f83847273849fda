// Package http provides the REST handlers of the terminal host.
//
// Endpoints:
//   - POST /terminal/create-session: create or return the user's session
//   - GET /terminal/session/:userId: session details, 404 if none
//   - DELETE /terminal/session/:userId: tear the session down
//   - GET /terminal/sessions: every session
//   - GET /health: liveness and session count
//
// Errors are returned as {"success": false, "error": "..."} with 400 for
// validation failures, 404 for unknown sessions and 500 otherwise.
package http
