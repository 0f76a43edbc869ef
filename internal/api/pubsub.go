package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/nqdang/qbattle/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		Month   string             `json:"month"`
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Username string `json:"username"`
		Score    string `json:"score"`
		Rank     int    `json:"rank"`
	}

	Ranking struct {
		RoomCode string         `json:"room_code"`
		Entries  []RankingEntry `json:"entries"`
	}

	RankingEntry struct {
		UserID   string `json:"user_id"`
		Username string `json:"username"`
		Score    int    `json:"score"`
		Rank     int    `json:"rank"`
	}
)

// PublishLeaderboardUpdated pushes the monthly snapshot to every ranked
// user's notification channel.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	data := Leaderboard{
		Month:   l.Month,
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}
	for _, entry := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			Username: entry.Username,
			Score:    strconv.FormatFloat(entry.Score, 'f', -1, 64),
			Rank:     entry.Rank,
		})
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx, a.userChannel(entry.Username), e.Name(), data)
		})
	}

	return eg.Wait()
}

// PublishRankingUpdated mirrors in-battle standings onto the room's pub/sub
// channel for spectator surfaces outside the WebSocket session.
func (a *API) PublishRankingUpdated(ctx context.Context, e domain.EventRankingUpdated) error {
	data := Ranking{
		RoomCode: e.RoomCode,
		Entries:  make([]RankingEntry, 0, len(e.Ranking)),
	}
	for _, entry := range e.Ranking {
		data.Entries = append(data.Entries, RankingEntry{
			UserID:   entry.UserID,
			Username: entry.Username,
			Score:    entry.Score,
			Rank:     entry.Rank,
		})
	}

	return a.publishNotification(ctx, a.roomChannel(e.RoomCode), e.Name(), data)
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func (a *API) userChannel(user string) string {
	return fmt.Sprintf("%s:user:%s", a.prefix, user)
}

func (a *API) roomChannel(code string) string {
	return fmt.Sprintf("%s:room:%s", a.prefix, code)
}
