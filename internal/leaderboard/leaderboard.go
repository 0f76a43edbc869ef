// Package leaderboard keeps the global monthly standings in a Redis sorted
// set, fed by finished battles and solo sessions.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nqdang/qbattle/internal/domain"
	"github.com/nqdang/qbattle/internal/errors"
	"github.com/nqdang/qbattle/internal/event"
)

const (
	// publishInterval debounces leaderboard.updated: many battles can finish
	// in a burst and subscribers only need the latest snapshot.
	publishInterval = 200 * time.Millisecond

	defaultTopN = 20
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	// Now is overridable so tests can pin the month key.
	Now func() time.Time
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
		now:    c.Now,
	}
	if s.prefix == "" {
		s.prefix = "qbattle"
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.eb.Subscribe(domain.EventNameBattleEnded, func(ctx context.Context, e event.Event) error {
		return s.recordBattle(ctx, e.(domain.EventBattleEnded))
	})
	s.eb.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
		return s.recordSession(ctx, e.(domain.EventSessionFinished))
	})

	return s
}

type GetMonthlyRequest struct {
	// Month in "2006-01" form; empty means the current month.
	Month string
	// TopN caps the returned entries; zero means the default.
	TopN int
}

// GetMonthly returns the standings for a month, best first.
func (s *Service) GetMonthly(ctx context.Context, req GetMonthlyRequest) (*domain.Leaderboard, error) {
	month := req.Month
	if month == "" {
		month = s.currentMonth()
	}
	topN := req.TopN
	if topN <= 0 {
		topN = defaultTopN
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.monthKey(month), 0, int64(topN)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no leaderboard for month %s", month))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for i, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			Username: z.Member.(string),
			Score:    z.Score,
			Rank:     i + 1,
		})
	}

	return &domain.Leaderboard{Month: month, Entries: entries}, nil
}

// UserRank returns a user's standing in the current month, 1-based.
func (s *Service) UserRank(ctx context.Context, username string) (int, error) {
	rank, err := s.redis.ZRevRank(ctx, s.monthKey(s.currentMonth()), username).Result()
	if err == redis.Nil {
		return 0, errors.New(errors.CodeNotFound,
			errors.WithMessagef("user %s has no ranked score this month", username))
	}
	if err != nil {
		return 0, fmt.Errorf("get user rank: %w", err)
	}
	return int(rank) + 1, nil
}

func (s *Service) recordBattle(ctx context.Context, e domain.EventBattleEnded) error {
	month := s.currentMonth()
	for _, r := range e.Results {
		if err := s.redis.ZIncrBy(ctx, s.monthKey(month), float64(r.Score), r.Username).Err(); err != nil {
			return fmt.Errorf("record battle result: %w", err)
		}
	}
	return s.schedulePublish(ctx, month)
}

func (s *Service) recordSession(ctx context.Context, e domain.EventSessionFinished) error {
	ss := e.Session
	if !ss.Solo {
		// Room sessions are already counted through battle.ended.
		return nil
	}

	// Scores accrue under the username, the same member battle results use,
	// so one player never splits across two leaderboard entries.
	member := ss.Username
	if member == "" {
		member = ss.UserID
	}

	month := s.currentMonth()
	if err := s.redis.ZIncrBy(ctx, s.monthKey(month), float64(ss.Score), member).Err(); err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return s.schedulePublish(ctx, month)
}

// schedulePublish publishes at most once per interval. The SetNX gate also
// keeps multiple instances from publishing the same snapshot.
func (s *Service) schedulePublish(ctx context.Context, month string) error {
	ok, err := s.redis.SetNX(ctx, s.publishKey(month), s.now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil
	}

	l, err := s.GetMonthly(ctx, GetMonthlyRequest{Month: month})
	if err != nil {
		return fmt.Errorf("load leaderboard for publish: month=%s: %w", month, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboard: *l})
	return nil
}

func (s *Service) currentMonth() string {
	return s.now().UTC().Format("2006-01")
}

func (s *Service) monthKey(month string) string {
	return fmt.Sprintf("%s:leaderboard:%s", s.prefix, month)
}

func (s *Service) publishKey(month string) string {
	return fmt.Sprintf("%s:leaderboard:%s:published", s.prefix, month)
}
