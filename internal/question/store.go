// Package question loads quiz content: the Postgres store is the source of
// truth, the cache in front of it absorbs the per-battle read load.
package question

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nqdang/qbattle/internal/domain"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// ClassicPool returns every classic-mode question, media extracted and
// accepted answers attached.
func (s *Store) ClassicPool(ctx context.Context) ([]domain.Question, error) {
	const stmt = `
SELECT id, text, answer, category, difficulty
FROM questions
WHERE question_number IS NULL OR question_number = 0;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query classic questions: %w", err)
	}

	qs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		if err := r.Scan(&q.ID, &q.Text, &q.Answer, &q.Category, &q.Difficulty); err != nil {
			return domain.Question{}, err
		}
		q.Text, q.MediaURL, q.MediaType = ExtractMedia(q.Text)
		return q, nil
	})
	if err != nil {
		return nil, err
	}

	return s.attachAccepted(ctx, qs)
}

// TieredPool returns every fast-mode question, ordered by tier.
func (s *Store) TieredPool(ctx context.Context) ([]domain.Question, error) {
	const stmt = `
SELECT id, text, answer, category, difficulty, question_number
FROM questions
WHERE question_number BETWEEN 1 AND 4
ORDER BY question_number, id;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query tiered questions: %w", err)
	}

	qs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		if err := r.Scan(&q.ID, &q.Text, &q.Answer, &q.Category, &q.Difficulty, &q.Tier); err != nil {
			return domain.Question{}, err
		}
		q.Text, q.MediaURL, q.MediaType = ExtractMedia(q.Text)
		return q, nil
	})
	if err != nil {
		return nil, err
	}

	return s.attachAccepted(ctx, qs)
}

func (s *Store) attachAccepted(ctx context.Context, qs []domain.Question) ([]domain.Question, error) {
	if len(qs) == 0 {
		return qs, nil
	}

	ids := make([]int64, len(qs))
	byID := make(map[int64]*domain.Question, len(qs))
	for i := range qs {
		ids[i] = qs[i].ID
		byID[qs[i].ID] = &qs[i]
	}

	const stmt = `
SELECT id, question_id, answer
FROM accepted_answers
WHERE question_id = ANY($1)
ORDER BY id;`

	rows, err := s.db.Query(ctx, stmt, ids)
	if err != nil {
		return nil, fmt.Errorf("query accepted answers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			aa  domain.AcceptedAnswer
			qid int64
		)
		if err := rows.Scan(&aa.ID, &qid, &aa.Answer); err != nil {
			return nil, err
		}
		if q, ok := byID[qid]; ok {
			q.AcceptedAnswers = append(q.AcceptedAnswers, aa)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return qs, nil
}
