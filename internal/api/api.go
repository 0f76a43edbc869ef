// Package api is the HTTP surface: solo game reporting, question dealing,
// rankings and user history, plus the Redis pub/sub notification fanout.
package api

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/nqdang/qbattle/internal/domain"
	"github.com/nqdang/qbattle/internal/errors"
	"github.com/nqdang/qbattle/internal/event"
	"github.com/nqdang/qbattle/internal/leaderboard"
	"github.com/nqdang/qbattle/internal/question"
	"github.com/nqdang/qbattle/internal/session"
)

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Session      *session.Service
	Leaderboard  *leaderboard.Service
	Questions    *question.Cache
	Redis        Redis
	PubsubPrefix string
	// MediaHosts is the proxy allowlist; empty disables the proxy.
	MediaHosts []string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	qss *session.Service
	ls  *leaderboard.Service
	qc  *question.Cache

	redis  Redis
	prefix string
	media  *mediaProxy
}

func New(c Config) *API {
	a := &API{
		qss:    c.Session,
		ls:     c.Leaderboard,
		qc:     c.Questions,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
		media:  newMediaProxy(c.MediaHosts),
	}

	r := c.Router
	r.GET("/healthz", a.healthz)

	g := r.Group("/api")
	g.GET("/questions/random", a.randomQuestions)
	g.GET("/tangtoc/questions", a.tieredQuestions)
	g.POST("/game/finish", a.finishSolo(domain.ModeKhoiDong))
	g.POST("/tangtoc/game/finish", a.finishSolo(domain.ModeTangToc))
	g.GET("/ranking", a.ranking)
	g.GET("/users/:id/stats", a.userStats)
	g.GET("/users/:id/history", a.userHistory)
	g.GET("/media-proxy", a.media.serve)

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
		c.EventBus.Subscribe(domain.EventNameRankingUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishRankingUpdated(ctx, e.(domain.EventRankingUpdated))
		})
	}

	return a
}

func (a *API) healthz(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func (a *API) randomQuestions(c *gin.Context) {
	count, _ := strconv.Atoi(c.DefaultQuery("count", "12"))
	if count <= 0 || count > 50 {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("count must be between 1 and 50")))
		return
	}

	qs, err := a.qc.RandomSet(c.Request.Context(), count)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"questions": qs})
}

func (a *API) tieredQuestions(c *gin.Context) {
	qs, err := a.qc.TieredSet(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"questions": qs})
}

type soloAnswer struct {
	QuestionID int64  `json:"questionId"`
	Answer     string `json:"answer"`
	IsCorrect  bool   `json:"isCorrect"`
	TimeMs     int64  `json:"timeMs"`
}

type soloFinishRequest struct {
	UserID         string       `json:"userId" binding:"required"`
	Username       string       `json:"username"`
	Score          int          `json:"score"`
	CorrectAnswers int          `json:"correctAnswers"`
	TotalQuestions int          `json:"totalQuestions"`
	Answers        []soloAnswer `json:"answers"`
}

// finishSolo stores a finished solo run reported by the legacy clients in
// one shot.
func (a *API) finishSolo(mode domain.Mode) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req soloFinishRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
			return
		}

		res := session.SoloResult{
			UserID:         req.UserID,
			Username:       req.Username,
			Mode:           mode,
			Score:          req.Score,
			CorrectAnswers: req.CorrectAnswers,
			TotalQuestions: req.TotalQuestions,
		}
		for _, ans := range req.Answers {
			res.Answers = append(res.Answers, domain.Submission{
				QuestionIndex: int(ans.QuestionID),
				Answer:        ans.Answer,
				Correct:       ans.IsCorrect,
				TimeMs:        ans.TimeMs,
			})
		}

		id, err := a.qss.RecordSoloResult(c.Request.Context(), res)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(200, gin.H{"sessionId": id})
	}
}

func (a *API) ranking(c *gin.Context) {
	topN, _ := strconv.Atoi(c.DefaultQuery("top", "0"))
	l, err := a.ls.GetMonthly(c.Request.Context(), leaderboard.GetMonthlyRequest{
		Month: c.Query("month"),
		TopN:  topN,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(200, l)
}

func (a *API) userStats(c *gin.Context) {
	stats, err := a.qss.UserStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(200, stats)
}

func (a *API) userHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	history, err := a.qss.UserHistory(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}

	type historyItem struct {
		SessionID      string      `json:"sessionId"`
		Mode           domain.Mode `json:"mode"`
		Solo           bool        `json:"solo"`
		Score          int         `json:"score"`
		CorrectAnswers int         `json:"correctAnswers"`
		TotalQuestions int         `json:"totalQuestions"`
		FinishedAt     string      `json:"finishedAt"`
	}

	items := make([]historyItem, 0, len(history))
	for _, ss := range history {
		it := historyItem{
			SessionID:      ss.ID,
			Mode:           ss.Mode,
			Solo:           ss.Solo,
			Score:          ss.Score,
			CorrectAnswers: ss.CorrectAnswers,
			TotalQuestions: ss.TotalQuestions,
		}
		if ss.FinishedAt != nil {
			it.FinishedAt = ss.FinishedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		items = append(items, it)
	}
	c.JSON(200, gin.H{"sessions": items})
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e.Error()})
}
