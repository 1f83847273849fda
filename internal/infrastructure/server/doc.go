// Package server assembles the terminal host: account provisioner, PTY
// spawner, session registry, streaming gateway and REST routes behind one
// gin router with recovery, request logging, tracing, metrics, CORS and
// optional rate limiting.
//
// Shutdown stops the listener, then reaps every session so no shell or
// provisioned account outlives the process.
package server
