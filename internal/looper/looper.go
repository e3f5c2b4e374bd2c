package looper

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KirkDiggler/localmsg/internal/errors"
	"github.com/KirkDiggler/localmsg/internal/message"
)

// Handler is invoked on the looper goroutine for every drained message
type Handler interface {
	HandleMessage(msg *message.Message)
}

// HandlerFunc adapts a function to a Handler
type HandlerFunc func(msg *message.Message)

// HandleMessage calls f(msg)
func (f HandlerFunc) HandleMessage(msg *message.Message) {
	f(msg)
}

const (
	stateNew int32 = iota
	stateRunning
	stateStopped
)

// Looper is an unbounded multi-producer queue drained by one goroutine.
// Messages are handed to the handler one at a time, ordered by the time they
// become eligible and then by the order they were posted. The next message is
// not drained until the handler returns, so a slow handler delays everything
// behind it. A handler panic is not recovered.
type Looper struct {
	handler      Handler
	timeProvider TimeProvider

	mu    sync.Mutex
	queue entryQueue
	seq   uint64

	state atomic.Int32
	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}
}

// Config holds the dependencies of a Looper
type Config struct {
	Handler      Handler
	TimeProvider TimeProvider
}

// New creates a stopped looper; call Start to begin draining
func New(cfg *Config) (*Looper, error) {
	if cfg == nil {
		return nil, errors.InvalidArgument("looper config is required")
	}
	if cfg.Handler == nil {
		return nil, errors.InvalidArgument("handler is required")
	}

	timeProvider := cfg.TimeProvider
	if timeProvider == nil {
		timeProvider = &RealTimeProvider{}
	}

	return &Looper{
		handler:      cfg.Handler,
		timeProvider: timeProvider,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

// Start launches the consumer goroutine
func (l *Looper) Start() error {
	if !l.state.CompareAndSwap(stateNew, stateRunning) {
		if l.state.Load() == stateRunning {
			return errors.AlreadyExists("looper is already running")
		}
		return errors.Unavailable("looper has been stopped")
	}

	go l.loop()
	return nil
}

// Stop ends the consumer goroutine after the message in flight, if any,
// finishes. Messages still queued are discarded.
//
// Called from inside the handler, Stop cannot wait for itself: the stop
// takes effect when the handler returns, and Stop blocks until ctx is done.
// Pass an already cancelled ctx there, or stop from another goroutine.
func (l *Looper) Stop(ctx context.Context) error {
	switch {
	case l.state.CompareAndSwap(stateRunning, stateStopped):
		close(l.stop)
	case l.state.CompareAndSwap(stateNew, stateStopped):
		close(l.stop)
		close(l.done)
		l.discard()
		return nil
	default:
		return errors.Unavailable("looper is not running")
	}

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for looper to stop")
	}
}

// IsRunning reports whether the consumer goroutine has been started and not stopped
func (l *Looper) IsRunning() bool {
	return l.state.Load() == stateRunning
}

// Post queues msg for dispatch as soon as possible
func (l *Looper) Post(msg *message.Message) error {
	return l.enqueue(msg, func(now time.Time) time.Time { return now })
}

// PostDelayed queues msg for dispatch no earlier than delay from now
func (l *Looper) PostDelayed(msg *message.Message, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	return l.enqueue(msg, func(now time.Time) time.Time { return now.Add(delay) })
}

// PostAt queues msg for dispatch no earlier than when
func (l *Looper) PostAt(msg *message.Message, when time.Time) error {
	return l.enqueue(msg, func(time.Time) time.Time { return when })
}

// enqueue reads the clock under the lock so eligibility times of immediate
// posts never run backwards relative to enqueue order
func (l *Looper) enqueue(msg *message.Message, at func(now time.Time) time.Time) error {
	if msg == nil {
		return errors.InvalidArgument("message is required")
	}

	l.mu.Lock()
	if l.state.Load() == stateStopped {
		l.mu.Unlock()
		msg.Recycle()
		return errors.Unavailable("looper has been stopped")
	}
	when := at(l.timeProvider.Now())
	msg.SetWhen(when)
	l.push(&entry{msg: msg, when: when})
	l.mu.Unlock()

	l.signal()
	return nil
}

// push must be called with mu held
func (l *Looper) push(e *entry) {
	l.seq++
	e.seq = l.seq
	heap.Push(&l.queue, e)
}

func (l *Looper) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Cancel drops every queued message with the given id and returns how many
// were dropped. Messages already handed to the handler are unaffected.
func (l *Looper) Cancel(id int) int {
	return l.removeWhere(func(msg *message.Message) bool {
		return msg.ID() == id
	})
}

// CancelMatching drops queued messages with the given id whose object payload
// is the same reference as ref
func (l *Looper) CancelMatching(id int, ref any) int {
	return l.removeWhere(func(msg *message.Message) bool {
		return msg.ID() == id && msg.SameObject(ref)
	})
}

func (l *Looper) removeWhere(match func(*message.Message) bool) int {
	l.mu.Lock()
	kept := l.queue[:0]
	var dropped []*message.Message
	for _, e := range l.queue {
		if e.msg != nil && match(e.msg) {
			dropped = append(dropped, e.msg)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(l.queue); i++ {
		l.queue[i] = nil
	}
	l.queue = kept
	heap.Init(&l.queue)
	l.mu.Unlock()

	for _, msg := range dropped {
		msg.Recycle()
	}
	return len(dropped)
}

// Len returns the number of queued messages, delayed ones included
func (l *Looper) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.queue {
		if e.msg != nil {
			n++
		}
	}
	return n
}

// Flush blocks until every message that is already eligible has been
// handled. Calling it from inside the handler deadlocks.
func (l *Looper) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	l.mu.Lock()
	if l.state.Load() == stateStopped {
		l.mu.Unlock()
		return errors.Unavailable("looper has been stopped")
	}
	l.push(&entry{barrier: barrier, when: l.timeProvider.Now()})
	l.mu.Unlock()
	l.signal()

	select {
	case <-barrier:
		return nil
	case <-l.done:
		return errors.Unavailable("looper stopped before flush completed")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "flushing looper")
	}
}

func (l *Looper) loop() {
	defer close(l.done)
	defer l.discard()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-l.stop:
			return
		default:
		}

		e, wait := l.next()
		if e != nil {
			l.run(e)
			continue
		}

		var fire <-chan time.Time
		if wait > 0 {
			timer.Reset(wait)
			fire = timer.C
		}

		select {
		case <-l.stop:
			return
		case <-l.wake:
		case <-fire:
		}
		timer.Stop()
	}
}

// next pops the head entry if it is eligible, otherwise it reports how long
// until it will be. A zero wait with no entry means the queue is empty.
func (l *Looper) next() (*entry, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil, 0
	}

	head := l.queue[0]
	if wait := head.when.Sub(l.timeProvider.Now()); wait > 0 {
		return nil, wait
	}
	return heap.Pop(&l.queue).(*entry), 0
}

func (l *Looper) run(e *entry) {
	if e.barrier != nil {
		close(e.barrier)
		return
	}

	l.handler.HandleMessage(e.msg)
	e.msg.Recycle()
}

func (l *Looper) discard() {
	l.mu.Lock()
	pending := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, e := range pending {
		if e.msg != nil {
			e.msg.Recycle()
		}
	}
}
