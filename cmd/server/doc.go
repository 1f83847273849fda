// Package main is the entry point for the terminal host.
//
// The server gives every authenticated user one interactive shell, running
// as a dedicated OS account on a pseudo-terminal, streamed over WebSocket.
//
// Architecture:
//
//	Browser terminal ⇄ /terminal/ws gateway ⇄ session registry ⇄ PTY shell
//	                   REST /terminal/*     ⇗        ⇘ account provisioner
//
// Configuration:
//   - Defaults for development
//   - YAML or TOML file (-config, else CONFIG_FILE)
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Production mode (needs root for useradd/userdel)
//	AUTH_JWT_SECRET=... ./server -port 3004
//
//	# Development mode without touching host accounts
//	./server -dev -account-mode memory
//
//	# Print a handshake token for user u1, valid for 8h
//	AUTH_JWT_SECRET=... ./server -issue-token u1 -token-ttl 8h
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown, every session is reaped
//   - SIGHUP: Re-read the config and apply its log level
package main
