package bus

import (
	"context"
	"log"
	rtdebug "runtime/debug"
	"sync/atomic"
	"time"

	"github.com/KirkDiggler/localmsg/internal/debug"
	"github.com/KirkDiggler/localmsg/internal/listeners"
	"github.com/KirkDiggler/localmsg/internal/looper"
	"github.com/KirkDiggler/localmsg/internal/message"
	"github.com/KirkDiggler/localmsg/internal/stats"
	"github.com/KirkDiggler/localmsg/internal/uuid"
)

// Bus posts messages from any goroutine and delivers them to listeners on a
// single consumer goroutine, in post order.
//
// For every message the listeners registered for its id run first, then the
// universal listeners, each group in registration order. A listener
// registered both ways is called twice. Both listener sets are snapshotted
// before the first callback for a message runs, so listeners added or removed
// from inside a callback take effect from the next message. That includes a
// universal listener added by a specific one.
type Bus struct {
	registry *listeners.Registry
	looper   *looper.Looper
	recorder stats.Recorder
	isolate  bool

	dispatched atomic.Uint64
	delivered  atomic.Uint64
	panics     atomic.Uint64
}

// Config holds the optional dependencies of a Bus. The zero value is usable.
type Config struct {
	TimeProvider  looper.TimeProvider
	UUIDGenerator uuid.Generator
	// Recorder, if set, is told about every dispatch pass
	Recorder stats.Recorder
	// IsolateListeners recovers a panicking listener, logs it and carries on
	// with the next one. When false a panic ends delivery of that message
	// and propagates out of the consumer goroutine.
	IsolateListeners bool
}

// Stats are running totals for a bus
type Stats struct {
	Dispatched uint64
	Delivered  uint64
	Panics     uint64
	Queued     int
}

// New creates a bus. Messages posted before Start are queued.
func New(cfg *Config) (*Bus, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	uuidGenerator := cfg.UUIDGenerator
	if uuidGenerator == nil {
		uuidGenerator = uuid.NewGoogleUUIDGenerator()
	}

	registry, err := listeners.NewRegistry(&listeners.RegistryConfig{
		UUIDGenerator: uuidGenerator,
	})
	if err != nil {
		return nil, err
	}

	b := &Bus{
		registry: registry,
		recorder: cfg.Recorder,
		isolate:  cfg.IsolateListeners,
	}

	b.looper, err = looper.New(&looper.Config{
		Handler:      b,
		TimeProvider: cfg.TimeProvider,
	})
	if err != nil {
		return nil, err
	}

	return b, nil
}

// Start begins delivering messages
func (b *Bus) Start() error {
	return b.looper.Start()
}

// Stop ends delivery once the message in flight is done. Queued messages are dropped.
// From inside a listener Stop cannot wait for its own callback to return and
// blocks until ctx is done, so pass a cancelled ctx there.
func (b *Bus) Stop(ctx context.Context) error {
	return b.looper.Stop(ctx)
}

// Flush waits until every message already eligible has been delivered.
// Never call it from a listener.
func (b *Bus) Flush(ctx context.Context) error {
	return b.looper.Flush(ctx)
}

// Send posts a message carrying only its id
func (b *Bus) Send(id int) error {
	return b.looper.Post(message.NewEmpty(id))
}

// SendObject posts a message carrying an arbitrary object
func (b *Bus) SendObject(id int, object any) error {
	return b.looper.Post(message.NewObject(id, object))
}

// SendArg posts a message carrying one integer
func (b *Bus) SendArg(id, arg1 int) error {
	return b.looper.Post(message.NewArg(id, arg1))
}

// SendArgs posts a message carrying two integers
func (b *Bus) SendArgs(id, arg1, arg2 int) error {
	return b.looper.Post(message.NewArgs(id, arg1, arg2))
}

// SendData posts a message carrying a data bag
func (b *Bus) SendData(id int, data message.Data) error {
	return b.looper.Post(message.NewData(id, data))
}

// SendDelayed posts an empty message that becomes deliverable after delay
func (b *Bus) SendDelayed(id int, delay time.Duration) error {
	return b.looper.PostDelayed(message.NewEmpty(id), delay)
}

// Post queues a prepared message. The bus owns msg from here on.
func (b *Bus) Post(msg *message.Message) error {
	return b.looper.Post(msg)
}

// PostDelayed queues a prepared message for delivery after delay
func (b *Bus) PostDelayed(msg *message.Message, delay time.Duration) error {
	return b.looper.PostDelayed(msg, delay)
}

// PostAt queues a prepared message for delivery no earlier than when
func (b *Bus) PostAt(msg *message.Message, when time.Time) error {
	return b.looper.PostAt(msg, when)
}

// Cancel drops queued messages with the given id
func (b *Bus) Cancel(id int) int {
	return b.looper.Cancel(id)
}

// CancelObject drops queued messages with the given id carrying the object ref
func (b *Bus) CancelObject(id int, ref any) int {
	return b.looper.CancelMatching(id, ref)
}

// AddListener registers l for messages with the given id
func (b *Bus) AddListener(id int, l listeners.Listener) (listeners.Handle, error) {
	return b.registry.Add(id, l)
}

// AddUniversalListener registers l for every message
func (b *Bus) AddUniversalListener(l listeners.Listener) (listeners.Handle, error) {
	return b.registry.AddUniversal(l)
}

// RemoveListener unregisters l from the given id
func (b *Bus) RemoveListener(id int, l listeners.Listener) bool {
	return b.registry.Remove(id, l)
}

// RemoveUniversalListener unregisters a universal listener
func (b *Bus) RemoveUniversalListener(l listeners.Listener) bool {
	return b.registry.RemoveUniversal(l)
}

// RemoveListeners unregisters every listener of the given id
func (b *Bus) RemoveListeners(id int) int {
	return b.registry.RemoveAll(id)
}

// RemoveHandle unregisters whatever registration h refers to
func (b *Bus) RemoveHandle(h listeners.Handle) bool {
	return b.registry.RemoveHandle(h)
}

// Registry exposes the listener registry for inspection
func (b *Bus) Registry() *listeners.Registry {
	return b.registry
}

// Stats returns running totals
func (b *Bus) Stats() Stats {
	return Stats{
		Dispatched: b.dispatched.Load(),
		Delivered:  b.delivered.Load(),
		Panics:     b.panics.Load(),
		Queued:     b.looper.Len(),
	}
}

// HandleMessage delivers msg to its listeners. The looper calls it on the
// consumer goroutine; it is exported so a Bus can itself be a handler.
func (b *Bus) HandleMessage(msg *message.Message) {
	if debug.Enabled() {
		b.traceDelivery(msg)
	}

	delivered := 0
	b.registry.Snapshot(msg.ID()).Visit(func(l listeners.Listener) {
		if b.invoke(l, msg) {
			delivered++
		}
	})

	b.dispatched.Add(1)
	if b.recorder != nil {
		b.recorder.Record(msg.ID(), delivered)
	}
}

// invoke reports whether l returned normally
func (b *Bus) invoke(l listeners.Listener, msg *message.Message) (ok bool) {
	if b.isolate {
		defer func() {
			if r := recover(); r != nil {
				b.panics.Add(1)
				log.Printf("Bus: listener %T panicked handling message %d: %v\n%s", l, msg.ID(), r, rtdebug.Stack())
			}
		}()
	}

	l.HandleMessage(msg)
	b.delivered.Add(1)
	return true
}

func (b *Bus) traceDelivery(msg *message.Message) {
	specific := b.registry.Names(msg.ID())
	universal := b.registry.UniversalNames()

	if len(specific) == 0 && len(universal) == 0 {
		log.Printf("Bus: delivering FAILED for message ID %d, no listeners: %s", msg.ID(), msg)
		return
	}

	log.Printf("Bus: delivering message ID %d, specific listeners: %d %v, universal listeners: %d %v, message: %s",
		msg.ID(), len(specific), specific, len(universal), universal, msg)
}
