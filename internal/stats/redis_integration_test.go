package stats_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KirkDiggler/localmsg/internal/stats"
	"github.com/KirkDiggler/localmsg/internal/testutils"
)

func TestRedisRecorder_Integration(t *testing.T) {
	client := testutils.CreateTestRedisClient(t)
	ctx := context.Background()

	recorder, err := stats.NewRedisRecorder(&stats.RedisConfig{Client: client, Prefix: "it"})
	require.NoError(t, err)

	recorder.Record(1, 2)
	recorder.Record(2, 0)
	require.NoError(t, recorder.Flush(ctx))

	recorder.Record(1, 1)
	require.NoError(t, recorder.Flush(ctx))

	counts, err := recorder.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []stats.Count{
		{ID: 1, Dispatched: 2, Delivered: 3},
		{ID: 2, Dispatched: 1, Delivered: 0},
	}, counts)

	require.NoError(t, recorder.Reset(ctx))
	counts, err = recorder.Counts(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}
