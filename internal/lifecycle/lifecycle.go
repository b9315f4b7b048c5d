// Package lifecycle holds process-wide readiness and shutdown flags read by /health.
package lifecycle

import "sync/atomic"

var (
	ready        atomic.Bool
	shuttingDown atomic.Bool
)

// SetReady marks the service ready once lookups are loaded and sinks are open.
func SetReady(v bool) {
	ready.Store(v)
}

// IsReady reports whether startup has completed.
func IsReady() bool {
	return ready.Load()
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
