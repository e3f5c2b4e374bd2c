package stats

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/KirkDiggler/localmsg/internal/errors"
)

const DefaultPrefix = "localmsg"

// Redis buffers counters in memory and pushes them to two Redis hashes on
// Flush. Only counters are stored; messages never leave the process.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	pending *Memory
}

// RedisConfig holds the dependencies of a Redis recorder
type RedisConfig struct {
	Client redis.UniversalClient
	// Prefix namespaces the hash keys, defaults to DefaultPrefix
	Prefix string
}

// NewRedisRecorder creates a Redis backed recorder
func NewRedisRecorder(cfg *RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, errors.InvalidArgument("redis config is required")
	}
	if cfg.Client == nil {
		return nil, errors.InvalidArgument("redis client is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Redis{
		client:  cfg.Client,
		prefix:  prefix,
		pending: NewMemory(),
	}, nil
}

// NewRedis creates a Redis recorder with the default prefix
func NewRedis(client redis.UniversalClient) *Redis {
	r, err := NewRedisRecorder(&RedisConfig{Client: client})
	if err != nil {
		// This should never happen with a non-nil client
		panic(err)
	}
	return r
}

func (r *Redis) dispatchedKey() string {
	return fmt.Sprintf("%s:dispatched", r.prefix)
}

func (r *Redis) deliveredKey() string {
	return fmt.Sprintf("%s:delivered", r.prefix)
}

// Record implements Recorder; it only touches memory
func (r *Redis) Record(id int, delivered int) {
	r.pending.Record(id, delivered)
}

// Pending returns the counters not yet flushed
func (r *Redis) Pending() []Count {
	return r.pending.Counts()
}

// Flush pushes buffered counters to Redis. On failure the counters are kept
// for the next attempt.
func (r *Redis) Flush(ctx context.Context) error {
	deltas := r.pending.Take()
	if len(deltas) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, d := range deltas {
		field := strconv.Itoa(d.ID)
		pipe.HIncrBy(ctx, r.dispatchedKey(), field, d.Dispatched)
		pipe.HIncrBy(ctx, r.deliveredKey(), field, d.Delivered)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		for _, d := range deltas {
			r.pending.Add(d)
		}
		return errors.WrapWithCode(err, errors.CodeUnavailable, "failed to flush stats to Redis").
			WithMeta("prefix", r.prefix)
	}

	return nil
}

// Counts reads the flushed totals, sorted by id
func (r *Redis) Counts(ctx context.Context) ([]Count, error) {
	var dispatched, delivered map[string]string

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dispatched, err = r.client.HGetAll(ctx, r.dispatchedKey()).Result()
		if err != nil {
			return errors.WrapWithCode(err, errors.CodeUnavailable, "failed to get dispatched counts").
				WithMeta("key", r.dispatchedKey())
		}
		return nil
	})
	g.Go(func() error {
		var err error
		delivered, err = r.client.HGetAll(ctx, r.deliveredKey()).Result()
		if err != nil {
			return errors.WrapWithCode(err, errors.CodeUnavailable, "failed to get delivered counts").
				WithMeta("key", r.deliveredKey())
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	totals := NewMemory()
	if err := merge(totals, dispatched, func(c *Count, n int64) { c.Dispatched = n }); err != nil {
		return nil, err.WithMeta("key", r.dispatchedKey())
	}
	if err := merge(totals, delivered, func(c *Count, n int64) { c.Delivered = n }); err != nil {
		return nil, err.WithMeta("key", r.deliveredKey())
	}
	return totals.Counts(), nil
}

func merge(into *Memory, hash map[string]string, set func(*Count, int64)) *errors.Error {
	for field, value := range hash {
		id, err := strconv.Atoi(field)
		if err != nil {
			return errors.Internalf("invalid message id %q in stats", field)
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return errors.Internalf("invalid count %q for message id %d", value, id)
		}
		c := Count{ID: id}
		set(&c, n)
		into.Add(c)
	}
	return nil
}

// Reset deletes the flushed totals
func (r *Redis) Reset(ctx context.Context) error {
	if err := r.client.Del(ctx, r.dispatchedKey(), r.deliveredKey()).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "failed to reset stats in Redis").
			WithMeta("prefix", r.prefix)
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more
func (r *Redis) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.InvalidArgumentf("flush interval must be positive, got %v", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				log.Printf("Stats: %v", err)
			}
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			err := r.Flush(finalCtx)
			cancel()
			return err
		}
	}
}
