/*
Package monitoring provides metrics collection for the terminal host.

# Overview

Metrics are registered on a per-instance Prometheus registry so that
several servers (and tests) can coexist in one process. All recording
methods accept a nil *Metrics and do nothing.

# Metrics

  - HTTP request metrics (latency, throughput, size)
  - Internal service calls (account provisioning timings)
  - Session lifecycle (active, created, reused, reaped by reason)
  - Shell process exits and PTY output volume
  - WebSocket connections, messages, rejected handshakes, drops

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", monitoring.Handler(metrics))

	timer := monitoring.NewTimer(metrics, "provisioner", "ensure")
	err := provisioner.Ensure(ctx, spec)
	timer.StopErr(err)

	err = monitoring.Track(metrics, "provisioner", "kill", func() error {
		return provisioner.KillProcesses(ctx, username)
	})
*/
package monitoring
