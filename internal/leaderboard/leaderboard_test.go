package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nqdang/qbattle/internal/domain"
	"github.com/nqdang/qbattle/internal/errors"
	"github.com/nqdang/qbattle/internal/event"
	"github.com/nqdang/qbattle/internal/leaderboard"
)

func TestService_GetMonthly(t *testing.T) {
	ctx := context.Background()
	s, eb := makeService(t)

	publish := func(results ...domain.Result) {
		eb.Publish(ctx, domain.EventBattleEnded{
			RoomCode: "ABC234",
			Mode:     domain.ModeKhoiDong,
			Results:  results,
		})
	}

	publish(
		domain.Result{Username: "alice", Score: 30},
		domain.Result{Username: "bob", Score: 50},
	)
	publish(
		domain.Result{Username: "alice", Score: 40},
	)
	eb.Stop()

	l, err := s.GetMonthly(ctx, leaderboard.GetMonthlyRequest{})
	require.NoError(t, err)

	require.Len(t, l.Entries, 2)
	assert.Equal(t, "alice", l.Entries[0].Username)
	assert.Equal(t, float64(70), l.Entries[0].Score)
	assert.Equal(t, 1, l.Entries[0].Rank)
	assert.Equal(t, "bob", l.Entries[1].Username)
	assert.Equal(t, float64(50), l.Entries[1].Score)
	assert.Equal(t, 2, l.Entries[1].Rank)

	rank, err := s.UserRank(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, rank)

	_, err = s.UserRank(ctx, "nobody")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestService_EmptyMonthIsNotFound(t *testing.T) {
	s, eb := makeService(t)
	defer eb.Stop()

	_, err := s.GetMonthly(context.Background(), leaderboard.GetMonthlyRequest{Month: "2024-01"})
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestService_SoloSessionsCount(t *testing.T) {
	ctx := context.Background()
	s, eb := makeService(t)

	eb.Publish(ctx, domain.EventSessionFinished{Session: domain.Session{
		UserID: "u1", Username: "alice", Solo: true, Score: 80,
	}})
	// Room sessions must not double-count on top of battle.ended.
	eb.Publish(ctx, domain.EventSessionFinished{Session: domain.Session{
		UserID: "u1", Username: "alice", Solo: false, Score: 999,
	}})
	eb.Stop()

	l, err := s.GetMonthly(ctx, leaderboard.GetMonthlyRequest{})
	require.NoError(t, err)
	require.Len(t, l.Entries, 1)
	assert.Equal(t, "alice", l.Entries[0].Username)
	assert.Equal(t, float64(80), l.Entries[0].Score)
}

func TestService_BattleAndSoloShareOneEntry(t *testing.T) {
	ctx := context.Background()
	s, eb := makeService(t)

	// The same player finishes a room battle and a solo run; both must
	// accrue under one leaderboard member.
	eb.Publish(ctx, domain.EventBattleEnded{
		RoomCode: "ABC234",
		Mode:     domain.ModeKhoiDong,
		Results:  []domain.Result{{UserID: "u1", Username: "alice", Score: 50}},
	})
	eb.Publish(ctx, domain.EventSessionFinished{Session: domain.Session{
		UserID: "u1", Username: "alice", Solo: true, Score: 80,
	}})
	eb.Stop()

	l, err := s.GetMonthly(ctx, leaderboard.GetMonthlyRequest{})
	require.NoError(t, err)
	require.Len(t, l.Entries, 1)
	assert.Equal(t, "alice", l.Entries[0].Username)
	assert.Equal(t, float64(130), l.Entries[0].Score)

	rank, err := s.UserRank(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, rank)
}

func TestService_PublishDebounce(t *testing.T) {
	tests := map[string]struct {
		arrange func(ctx context.Context, eb *event.Bus)
		assert  func(t *testing.T, published []domain.EventLeaderboardUpdated)
	}{
		"burst of battles publishes once": {
			arrange: func(ctx context.Context, eb *event.Bus) {
				for i := 0; i < 5; i++ {
					eb.Publish(ctx, domain.EventBattleEnded{
						Results: []domain.Result{{Username: "alice", Score: 10}},
					})
				}
			},
			assert: func(t *testing.T, published []domain.EventLeaderboardUpdated) {
				require.Len(t, published, 1)
				require.Len(t, published[0].Leaderboard.Entries, 1)
				assert.Equal(t, "alice", published[0].Leaderboard.Entries[0].Username)
			},
		},

		"snapshot carries the standings at publish time": {
			arrange: func(ctx context.Context, eb *event.Bus) {
				eb.Publish(ctx, domain.EventBattleEnded{
					Results: []domain.Result{
						{Username: "alice", Score: 20},
						{Username: "bob", Score: 40},
					},
				})
			},
			assert: func(t *testing.T, published []domain.EventLeaderboardUpdated) {
				require.Len(t, published, 1)
				entries := published[0].Leaderboard.Entries
				require.Len(t, entries, 2)
				assert.Equal(t, "bob", entries[0].Username)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, eb := makeService(t)

			var (
				mu        sync.Mutex
				published []domain.EventLeaderboardUpdated
			)
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(_ context.Context, e event.Event) error {
				mu.Lock()
				published = append(published, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			tt.arrange(ctx, eb)
			eb.Stop()

			tt.assert(t, published)
		})
	}
}

func makeService(t *testing.T) (*leaderboard.Service, *event.Bus) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	eb := event.NewBus()
	s := leaderboard.NewService(leaderboard.Config{
		EventBus: eb,
		Redis:    rc,
	})
	return s, eb
}
