// Package session persists quiz runs and answer logs in Postgres and
// aggregates per-user history.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nqdang/qbattle/internal/domain"
	"github.com/nqdang/qbattle/internal/errors"
	"github.com/nqdang/qbattle/internal/event"
)

type Config struct {
	DB       *pgxpool.Pool
	EventBus *event.Bus
}

type Service struct {
	db *pgxpool.Pool
	eb *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		db: c.DB,
		eb: c.EventBus,
	}
}

// CreateSession opens a session for one player's run.
func (s *Service) CreateSession(ctx context.Context, userID, roomID string, mode domain.Mode, solo bool, totalQuestions int) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session ID: %w", err)
	}

	const stmt = `
INSERT INTO game_sessions (session_id, user_id, room_id, mode, is_solo, total_questions, started_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7);`

	_, err = s.db.Exec(ctx, stmt, id, userID, roomID, mode, solo, totalQuestions, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	return id.String(), nil
}

// SaveAnswer appends one graded answer to the session's log.
func (s *Service) SaveAnswer(ctx context.Context, sessionID string, questionID int64, answer string, correct bool, timeMs int64) error {
	const stmt = `
INSERT INTO user_answers (session_id, question_id, answer, is_correct, time_ms, answered_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := s.db.Exec(ctx, stmt, sessionID, questionID, answer, correct, timeMs, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

// FinishSession finalizes a session. A session finalizes at most once;
// repeated finishes are rejected so a replayed report can never rewrite a
// recorded score.
func (s *Service) FinishSession(ctx context.Context, sessionID string, score, correctAnswers int) error {
	const stmt = `
UPDATE game_sessions
SET score = $2, correct_answers = $3, finished_at = $4
WHERE session_id = $1 AND finished_at IS NULL
RETURNING user_id, room_id, mode, is_solo, total_questions, started_at;`

	finishedAt := time.Now().UTC()
	ss := domain.Session{
		ID:             sessionID,
		Score:          score,
		CorrectAnswers: correctAnswers,
		FinishedAt:     &finishedAt,
	}

	var roomID *string
	err := s.db.QueryRow(ctx, stmt, sessionID, score, correctAnswers, finishedAt).
		Scan(&ss.UserID, &roomID, &ss.Mode, &ss.Solo, &ss.TotalQuestions, &ss.StartedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session %s is already finished or unknown", sessionID))
	}
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if roomID != nil {
		ss.RoomID = *roomID
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventSessionFinished{Session: ss})
	}
	return nil
}

// SoloResult is a legacy solo client's end-of-game report: the whole run
// arrives in one shot, answers included.
type SoloResult struct {
	UserID         string
	Username       string
	Mode           domain.Mode
	Score          int
	CorrectAnswers int
	TotalQuestions int
	Answers        []domain.Submission
}

// RecordSoloResult stores a finished solo run atomically.
func (s *Service) RecordSoloResult(ctx context.Context, res SoloResult) (sessionID string, err error) {
	if res.UserID == "" {
		return "", errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user ID is required"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session ID: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insSessionStmt = `
INSERT INTO game_sessions (session_id, user_id, mode, is_solo, score, correct_answers, total_questions, started_at, finished_at)
VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7, $7);`
		insAnswerStmt = `
INSERT INTO user_answers (session_id, question_id, answer, is_correct, time_ms, answered_at)
VALUES ($1, $2, $3, $4, $5, $6);`
	)

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, insSessionStmt, id, res.UserID, res.Mode, res.Score, res.CorrectAnswers, res.TotalQuestions, now)
	if err != nil {
		return "", fmt.Errorf("insert solo session: %w", err)
	}
	for _, a := range res.Answers { // TODO: Batch insert
		_, err = tx.Exec(ctx, insAnswerStmt, id, int64(a.QuestionIndex), a.Answer, a.Correct, a.TimeMs, now)
		if err != nil {
			return "", fmt.Errorf("insert solo answer: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return "", err
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventSessionFinished{Session: domain.Session{
			ID:             id.String(),
			UserID:         res.UserID,
			Username:       res.Username,
			Mode:           res.Mode,
			Solo:           true,
			Score:          res.Score,
			CorrectAnswers: res.CorrectAnswers,
			TotalQuestions: res.TotalQuestions,
			StartedAt:      now,
			FinishedAt:     &now,
		}})
	}

	return id.String(), nil
}

// UserStats aggregates a player's finished sessions.
func (s *Service) UserStats(ctx context.Context, userID string) (*domain.UserStats, error) {
	const stmt = `
SELECT COUNT(*),
       COALESCE(MAX(score), 0),
       COALESCE(SUM(score), 0),
       COALESCE(SUM(correct_answers), 0),
       COALESCE(SUM(total_questions), 0)
FROM game_sessions
WHERE user_id = $1 AND finished_at IS NOT NULL;`

	var (
		stats          domain.UserStats
		totalCorrect   int64
		totalQuestions int64
	)
	err := s.db.QueryRow(ctx, stmt, userID).
		Scan(&stats.GamesPlayed, &stats.BestScore, &stats.TotalScore, &totalCorrect, &totalQuestions)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	if stats.GamesPlayed > 0 {
		stats.AverageScore = decimal.NewFromInt(int64(stats.TotalScore)).
			Div(decimal.NewFromInt(int64(stats.GamesPlayed))).Round(2)
	}
	if totalQuestions > 0 {
		stats.Accuracy = decimal.NewFromInt(totalCorrect).
			Div(decimal.NewFromInt(totalQuestions)).Round(4)
	}

	return &stats, nil
}

// UserHistory lists a player's finished sessions, newest first.
func (s *Service) UserHistory(ctx context.Context, userID string, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 20
	}

	const stmt = `
SELECT session_id, user_id, COALESCE(room_id::text, ''), mode, is_solo, score, correct_answers, total_questions, started_at, finished_at
FROM game_sessions
WHERE user_id = $1 AND finished_at IS NOT NULL
ORDER BY finished_at DESC
LIMIT $2;`

	rows, err := s.db.Query(ctx, stmt, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Session, error) {
		var ss domain.Session
		err := r.Scan(&ss.ID, &ss.UserID, &ss.RoomID, &ss.Mode, &ss.Solo,
			&ss.Score, &ss.CorrectAnswers, &ss.TotalQuestions, &ss.StartedAt, &ss.FinishedAt)
		return ss, err
	})
}
