package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nqdang/qbattle/internal/api"
	"github.com/nqdang/qbattle/internal/domain"
	"github.com/nqdang/qbattle/internal/event"
	"github.com/nqdang/qbattle/internal/leaderboard"
	"github.com/nqdang/qbattle/internal/question"
)

type staticLoader struct{}

func (staticLoader) ClassicPool(context.Context) ([]domain.Question, error) {
	return []domain.Question{
		{ID: 1, Text: "q1", Answer: "a1"},
		{ID: 2, Text: "q2", Answer: "a2"},
		{ID: 3, Text: "q3", Answer: "a3"},
	}, nil
}

func (staticLoader) TieredPool(context.Context) ([]domain.Question, error) {
	return []domain.Question{
		{ID: 10, Text: "f1", Answer: "fa1", Tier: 1},
		{ID: 11, Text: "f2", Answer: "fa2", Tier: 2},
	}, nil
}

type testEnv struct {
	router *gin.Engine
	eb     *event.Bus
	redis  redis.UniversalClient
	ls     *leaderboard.Service
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	ls := leaderboard.NewService(leaderboard.Config{EventBus: eb, Redis: rc})

	router := gin.New()
	api.New(api.Config{
		Router:       router,
		EventBus:     eb,
		Leaderboard:  ls,
		Questions:    question.NewCache(staticLoader{}, time.Minute),
		Redis:        rc,
		PubsubPrefix: "qbattle",
		MediaHosts:   []string{"cdn.example.com"},
	})

	return &testEnv{router: router, eb: eb, redis: rc, ls: ls}
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	env := newEnv(t)

	w := env.get("/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRandomQuestions(t *testing.T) {
	env := newEnv(t)

	t.Run("deals the requested count", func(t *testing.T) {
		w := env.get("/api/questions/random?count=2")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Questions []domain.Question `json:"questions"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Len(t, body.Questions, 2)
	})

	t.Run("rejects absurd counts", func(t *testing.T) {
		w := env.get("/api/questions/random?count=999")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTieredQuestions(t *testing.T) {
	env := newEnv(t)

	w := env.get("/api/tangtoc/questions")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Questions []domain.Question `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Questions, 2)
	assert.Equal(t, 1, body.Questions[0].Tier)
}

func TestRanking(t *testing.T) {
	env := newEnv(t)

	t.Run("empty month is 404", func(t *testing.T) {
		w := env.get("/api/ranking?month=2024-01")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("returns the standings", func(t *testing.T) {
		env.eb.Publish(context.Background(), domain.EventBattleEnded{
			Results: []domain.Result{
				{Username: "alice", Score: 30},
				{Username: "bob", Score: 50},
			},
		})
		require.Eventually(t, func() bool {
			return env.get("/api/ranking").Code == http.StatusOK
		}, 2*time.Second, 10*time.Millisecond)

		w := env.get("/api/ranking")
		var l domain.Leaderboard
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &l))
		require.Len(t, l.Entries, 2)
		assert.Equal(t, "bob", l.Entries[0].Username)
	})
}

func TestMediaProxyValidation(t *testing.T) {
	env := newEnv(t)

	tests := map[string]struct {
		path     string
		wantCode int
	}{
		"missing url":          {"/api/media-proxy", http.StatusBadRequest},
		"plain http rejected":  {"/api/media-proxy?url=http%3A%2F%2Fcdn.example.com%2Fa.png", http.StatusBadRequest},
		"host not allowlisted": {"/api/media-proxy?url=https%3A%2F%2Fevil.example.org%2Fa.png", http.StatusForbidden},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := env.get(tt.path)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestPublishRankingUpdated(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	sub := env.redis.Subscribe(ctx, "qbattle:room:ABC234")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	env.eb.Publish(ctx, domain.EventRankingUpdated{
		RoomCode: "ABC234",
		Ranking: []domain.RankingEntry{
			{UserID: "u1", Username: "alice", Score: 40, Rank: 1},
		},
	})

	select {
	case msg := <-sub.Channel():
		var n api.Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		assert.Equal(t, domain.EventNameRankingUpdated, n.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}
}
