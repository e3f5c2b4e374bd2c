package stats_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/KirkDiggler/localmsg/internal/errors"
	"github.com/KirkDiggler/localmsg/internal/stats"
)

type RedisRecorderTestSuite struct {
	suite.Suite
	mockClient *redis.Client
	mock       redismock.ClientMock
	recorder   *stats.Redis
}

func (s *RedisRecorderTestSuite) SetupTest() {
	s.mockClient, s.mock = redismock.NewClientMock()

	var err error
	s.recorder, err = stats.NewRedisRecorder(&stats.RedisConfig{
		Client: s.mockClient,
		Prefix: "test",
	})
	s.Require().NoError(err)
}

func (s *RedisRecorderTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
}

func TestRedisRecorderTestSuite(t *testing.T) {
	suite.Run(t, new(RedisRecorderTestSuite))
}

func (s *RedisRecorderTestSuite) TestNewRedisRecorderValidates() {
	_, err := stats.NewRedisRecorder(nil)
	s.Error(err)

	_, err = stats.NewRedisRecorder(&stats.RedisConfig{})
	s.Error(err)

	s.NotNil(stats.NewRedis(s.mockClient))
}

func (s *RedisRecorderTestSuite) TestFlush() {
	ctx := context.Background()
	s.recorder.Record(1, 2)
	s.recorder.Record(1, 2)
	s.recorder.Record(7, 0)

	s.mock.ExpectHIncrBy("test:dispatched", "1", 2).SetVal(2)
	s.mock.ExpectHIncrBy("test:delivered", "1", 4).SetVal(4)
	s.mock.ExpectHIncrBy("test:dispatched", "7", 1).SetVal(1)
	s.mock.ExpectHIncrBy("test:delivered", "7", 0).SetVal(0)

	s.NoError(s.recorder.Flush(ctx))
	s.Empty(s.recorder.Pending())
}

func (s *RedisRecorderTestSuite) TestFlushNothingPending() {
	s.NoError(s.recorder.Flush(context.Background()))
}

func (s *RedisRecorderTestSuite) TestFlushFailureKeepsCounters() {
	ctx := context.Background()
	s.recorder.Record(3, 1)

	s.mock.ExpectHIncrBy("test:dispatched", "3", 1).SetErr(fmt.Errorf("redis error"))

	err := s.recorder.Flush(ctx)
	s.True(errors.IsUnavailable(err))
	s.Equal("test", errors.GetMeta(err)["prefix"])
	s.Equal([]stats.Count{{ID: 3, Dispatched: 1, Delivered: 1}}, s.recorder.Pending())
}

func (s *RedisRecorderTestSuite) TestCounts() {
	ctx := context.Background()
	s.mock.MatchExpectationsInOrder(false)
	s.mock.ExpectHGetAll("test:dispatched").SetVal(map[string]string{"1": "3", "2": "1"})
	s.mock.ExpectHGetAll("test:delivered").SetVal(map[string]string{"1": "6"})

	counts, err := s.recorder.Counts(ctx)

	s.NoError(err)
	s.Equal([]stats.Count{
		{ID: 1, Dispatched: 3, Delivered: 6},
		{ID: 2, Dispatched: 1, Delivered: 0},
	}, counts)
}

func (s *RedisRecorderTestSuite) TestCountsRejectsGarbage() {
	ctx := context.Background()
	s.mock.MatchExpectationsInOrder(false)
	s.mock.ExpectHGetAll("test:dispatched").SetVal(map[string]string{"one": "3"})
	s.mock.ExpectHGetAll("test:delivered").SetVal(map[string]string{})

	_, err := s.recorder.Counts(ctx)
	s.Equal(errors.CodeInternal, errors.GetCode(err))
	s.Equal("test:dispatched", errors.GetMeta(err)["key"])
}

func (s *RedisRecorderTestSuite) TestCountsError() {
	ctx := context.Background()
	s.mock.MatchExpectationsInOrder(false)
	s.mock.ExpectHGetAll("test:dispatched").SetErr(fmt.Errorf("redis error"))
	s.mock.ExpectHGetAll("test:delivered").SetVal(map[string]string{})

	_, err := s.recorder.Counts(ctx)
	s.True(errors.IsUnavailable(err))
	// the second read may be cancelled before it is issued
	s.mock.ClearExpect()
}

func (s *RedisRecorderTestSuite) TestReset() {
	s.mock.ExpectDel("test:dispatched", "test:delivered").SetVal(2)
	s.NoError(s.recorder.Reset(context.Background()))

	s.mock.ExpectDel("test:dispatched", "test:delivered").SetErr(fmt.Errorf("redis error"))
	s.True(errors.IsUnavailable(s.recorder.Reset(context.Background())))
}

func (s *RedisRecorderTestSuite) TestRunFlushesOnShutdown() {
	ctx, cancel := context.WithCancel(context.Background())
	s.recorder.Record(4, 1)

	s.mock.ExpectHIncrBy("test:dispatched", "4", 1).SetVal(1)
	s.mock.ExpectHIncrBy("test:delivered", "4", 1).SetVal(1)

	cancel()
	s.NoError(s.recorder.Run(ctx, time.Hour))
}

func (s *RedisRecorderTestSuite) TestRunRejectsInterval() {
	s.Error(s.recorder.Run(context.Background(), 0))
}
