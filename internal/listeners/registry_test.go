package listeners_test

import (
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/KirkDiggler/localmsg/internal/listeners"
	"github.com/KirkDiggler/localmsg/internal/message"
	"github.com/KirkDiggler/localmsg/internal/uuid"
)

type countingListener struct {
	calls atomic.Int64
}

func (c *countingListener) HandleMessage(*message.Message) {
	c.calls.Add(1)
}

func TestRegistry_ConcurrentMutationAndVisits(t *testing.T) {
	registry, err := listeners.NewRegistry(&listeners.RegistryConfig{
		UUIDGenerator: uuid.NewGoogleUUIDGenerator(),
	})
	require.NoError(t, err)

	const workers = 8
	const rounds = 500

	// stable listeners are never removed and must survive the churn
	stable := make([]*countingListener, workers)
	for i := range stable {
		stable[i] = &countingListener{}
		_, err := registry.Add(i%3, stable[i])
		require.NoError(t, err)
		_, err = registry.AddUniversal(stable[i])
		require.NoError(t, err)
	}

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		seed := int64(w)
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < rounds; i++ {
				l := &countingListener{}
				id := rng.Intn(3)
				if _, err := registry.Add(id, l); err != nil {
					return err
				}
				if _, err := registry.AddUniversal(l); err != nil {
					return err
				}
				if rng.Intn(2) == 0 {
					registry.Remove(id, l)
					registry.RemoveUniversal(l)
				} else {
					registry.RemoveUniversal(l)
					registry.Remove(id, l)
				}
			}
			return nil
		})
	}

	msg := message.NewEmpty(0)
	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			registry.Snapshot(i%3).Visit(func(l listeners.Listener) { l.HandleMessage(msg) })
		}
		return nil
	})

	require.NoError(t, g.Wait())

	assert.Equal(t, workers, registry.UniversalLen())
	total := 0
	for id := 0; id < 3; id++ {
		total += registry.Len(id)
	}
	assert.Equal(t, workers, total)
	for _, l := range stable {
		assert.True(t, registry.ContainsUniversal(l))
	}
}
