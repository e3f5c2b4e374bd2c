// Package debug holds the process-wide tracing switch. Toggling it only
// changes what is logged, never how messages are delivered.
package debug

import (
	"log"
	"sync/atomic"
)

var enabled atomic.Bool

// Set turns diagnostic tracing on or off
func Set(on bool) {
	enabled.Store(on)
}

// Enabled reports whether diagnostic tracing is on
func Enabled() bool {
	return enabled.Load()
}

// Logf logs only while tracing is on
func Logf(format string, args ...any) {
	if enabled.Load() {
		log.Printf(format, args...)
	}
}
