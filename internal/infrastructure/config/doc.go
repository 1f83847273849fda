// Package config provides 12-factor configuration management for the terminal host.
//
// Configuration is layered: built-in defaults, then an optional YAML or TOML
// file (CONFIG_FILE, or the path given to LoadFrom), then environment
// variables. CLI flags in cmd/server override the result for development.
//
// Configuration Sections:
//   - Server: HTTP listener (PORT, HOST, SHUTDOWN_TIMEOUT, ALLOWED_ORIGINS)
//   - Logging: LOG_LEVEL, LOG_DEV, LOG_SAMPLING
//   - RateLimit: RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - Auth: AUTH_JWT_SECRET, AUTH_JWT_ISSUER, AUTH_REQUIRE_SIGNED
//   - Terminal: TERMINAL_SHELL, TERMINAL_SHELL_ARGS, TERMINAL_COLS, TERMINAL_ROWS,
//     WORKSPACE_ROOT, TERMINAL_GRACE_PERIOD, TERMINAL_READY_TIMEOUT,
//     TERMINAL_SCROLLBACK, TERMINAL_PRIME_SHELL
//   - Account: ACCOUNT_MODE, HOME_ROOT, ACCOUNT_EXTRA_GROUPS, ACCOUNT_MIN_UID,
//     ACCOUNT_REMOVE_ON_DELETE, ACCOUNT_ALLOW_ROOT_FALLBACK
//
// Example Usage:
//
//	cfg, err := config.LoadFrom("/etc/termhost.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Server running on %s\n", cfg.Server.Address())
package config
