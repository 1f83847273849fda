// Package auth verifies the token presented on the terminal gateway
// handshake. With a configured secret tokens must be valid HMAC-signed JWTs
// and their subject is returned; otherwise any non-empty token is accepted.
package auth
