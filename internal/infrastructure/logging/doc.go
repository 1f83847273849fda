// Package logging builds the zap loggers used across the terminal host.
//
// Production output is JSON, development output is coloured console text.
// Children created with Named, With or ForSession share one atomic level,
// so SetLevel on the root takes effect everywhere:
//
//	logger.Named("registry").ForSession(userID, sessionID, username).Info("session created")
//	logger.SetLevel("debug")
package logging
