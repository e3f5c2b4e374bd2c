package bus_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/KirkDiggler/localmsg/internal/bus"
	"github.com/KirkDiggler/localmsg/internal/errors"
	"github.com/KirkDiggler/localmsg/internal/listeners"
	"github.com/KirkDiggler/localmsg/internal/message"
	"github.com/KirkDiggler/localmsg/internal/stats"
)

func TestBus_ConcurrentPostsAndRegistrations(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := bus.New(nil)
	require.NoError(t, err)
	require.NoError(t, b.Start())
	defer func() { _ = b.Stop(ctx) }()

	const producers = 4
	const perProducer = 250
	const total = producers * perProducer

	var stableCalls atomic.Int64
	_, err = b.AddUniversalListener(listeners.Func(func(*message.Message) {
		stableCalls.Add(1)
	}))
	require.NoError(t, err)

	// per producer, the arg1 values seen must be strictly increasing
	var mu sync.Mutex
	last := make(map[int]int)
	ordered := true
	_, err = b.AddUniversalListener(listeners.Func(func(msg *message.Message) {
		mu.Lock()
		defer mu.Unlock()
		if prev, ok := last[msg.ID()]; ok && msg.Arg1() <= prev {
			ordered = false
		}
		last[msg.ID()] = msg.Arg1()
	}))
	require.NoError(t, err)

	done := make(chan struct{})
	var churn errgroup.Group
	for w := 0; w < 3; w++ {
		churn.Go(func() error {
			for {
				select {
				case <-done:
					return nil
				default:
				}
				l := listeners.Func(func(*message.Message) {})
				if _, err := b.AddListener(w, l); err != nil {
					return err
				}
				if _, err := b.AddUniversalListener(l); err != nil {
					return err
				}
				b.RemoveListener(w, l)
				b.RemoveUniversalListener(l)
			}
		})
	}

	var g errgroup.Group
	for p := 0; p < producers; p++ {
		g.Go(func() error {
			for i := 0; i < perProducer; i++ {
				if err := b.SendArg(p, i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, b.Flush(ctx))

	close(done)
	require.NoError(t, churn.Wait())

	assert.Equal(t, int64(total), stableCalls.Load())
	assert.Equal(t, uint64(total), b.Stats().Dispatched)
	mu.Lock()
	assert.True(t, ordered, "messages from one producer were delivered out of order")
	mu.Unlock()
}

func TestBus_PanicPropagatesByDefault(t *testing.T) {
	b, err := bus.New(nil)
	require.NoError(t, err)

	after := false
	_, _ = b.AddListener(1, listeners.Func(func(*message.Message) { panic("boom") }))
	_, _ = b.AddListener(1, listeners.Func(func(*message.Message) { after = true }))

	assert.PanicsWithValue(t, "boom", func() {
		b.HandleMessage(message.NewEmpty(1))
	})
	assert.False(t, after)
	assert.Zero(t, b.Stats().Panics)
}

func TestBus_IsolateListeners(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recorder := stats.NewMemory()
	b, err := bus.New(&bus.Config{IsolateListeners: true, Recorder: recorder})
	require.NoError(t, err)
	require.NoError(t, b.Start())
	defer func() { _ = b.Stop(ctx) }()

	var after atomic.Int64
	_, _ = b.AddListener(1, listeners.Func(func(*message.Message) { panic("boom") }))
	_, _ = b.AddListener(1, listeners.Func(func(*message.Message) { after.Add(1) }))
	_, _ = b.AddUniversalListener(listeners.Func(func(*message.Message) { after.Add(1) }))

	require.NoError(t, b.Send(1))
	require.NoError(t, b.Send(1))
	require.NoError(t, b.Flush(ctx))

	st := b.Stats()
	assert.Equal(t, int64(4), after.Load())
	assert.Equal(t, uint64(2), st.Panics)
	assert.Equal(t, uint64(4), st.Delivered)
	assert.Equal(t, uint64(2), st.Dispatched)
	assert.Equal(t, []stats.Count{{ID: 1, Dispatched: 2, Delivered: 4}}, recorder.Counts(),
		"a panicking listener is not a delivery")
}

func TestBus_StopFromListener(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := bus.New(nil)
	require.NoError(t, err)
	require.NoError(t, b.Start())

	var calls atomic.Int64
	stopErr := make(chan error, 1)
	_, _ = b.AddListener(1, listeners.Func(func(*message.Message) {
		calls.Add(1)
		stopCtx, stopCancel := context.WithCancel(context.Background())
		stopCancel()
		stopErr <- b.Stop(stopCtx)
	}))

	require.NoError(t, b.Send(1))
	require.NoError(t, b.Send(1))

	select {
	case err := <-stopErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-ctx.Done():
		t.Fatal("listener never ran")
	}

	assert.True(t, errors.IsUnavailable(b.Send(1)))
	assert.Equal(t, int64(1), calls.Load())
}

func TestBus_StopDropsQueuedMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := bus.New(nil)
	require.NoError(t, err)

	var calls atomic.Int64
	_, _ = b.AddUniversalListener(listeners.Func(func(*message.Message) { calls.Add(1) }))

	require.NoError(t, b.Send(1))
	require.NoError(t, b.Send(2))
	assert.Equal(t, 2, b.Stats().Queued)

	require.NoError(t, b.Stop(ctx))
	assert.Zero(t, calls.Load())
	assert.Zero(t, b.Stats().Queued)
}

func TestDefault(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var g errgroup.Group
	got := make([]*bus.Bus, 8)
	for i := range got {
		g.Go(func() error {
			got[i] = bus.Default()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, b := range got {
		assert.Same(t, got[0], b)
	}

	var calls atomic.Int64
	l := listeners.Func(func(*message.Message) { calls.Add(1) })
	h, err := bus.Default().AddListener(42, l)
	require.NoError(t, err)
	defer bus.Default().RemoveHandle(h)

	require.NoError(t, bus.Default().Send(42))
	require.NoError(t, bus.Default().Flush(ctx))
	assert.Equal(t, int64(1), calls.Load())
}
