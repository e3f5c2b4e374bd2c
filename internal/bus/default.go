package bus

import (
	"sync"

	"github.com/KirkDiggler/localmsg/internal/debug"
	"github.com/KirkDiggler/localmsg/internal/message"
)

var (
	defaultOnce sync.Once
	defaultBus  *Bus
)

// Default returns the process-wide bus, creating and starting it on first
// use. Prefer passing a *Bus explicitly; this is meant for the outermost
// wiring of an application.
func Default() *Bus {
	defaultOnce.Do(func() {
		b, err := New(nil)
		if err != nil {
			// This should never happen with the zero config
			panic(err)
		}
		if err := b.Start(); err != nil {
			panic(err)
		}
		defaultBus = b
	})
	return defaultBus
}

// SetDebug toggles diagnostic logging of deliveries, duplicate registrations
// and stale removals. Delivery behaves the same either way.
func SetDebug(on bool) {
	debug.Set(on)
}

// SetStrict toggles the check that panics when a listener reads a message
// after its callback returned
func SetStrict(on bool) {
	message.SetStrict(on)
}
