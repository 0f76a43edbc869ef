package game

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/nqdang/qbattle/internal/answer"
	"github.com/nqdang/qbattle/internal/domain"
	"github.com/nqdang/qbattle/internal/protocol"
	"github.com/nqdang/qbattle/internal/telemetry"
)

// Fast mode: the server drives questions in lockstep. Submissions are
// buffered (latest wins) and graded in one pass when the question's clock
// runs out; points go by submission order among correct answers.

func (e *Engine) startQuestion(b *battle, idx int) {
	if idx >= len(b.questions) {
		e.finishBattle(context.Background(), b)
		return
	}

	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.current = idx
	b.questionStart = time.Now()
	b.submissions[idx] = make(map[string]*pending)

	q := b.questions[idx]
	limit := time.Duration(q.TimeLimit) * e.c.TimeUnit
	if b.qTimer != nil {
		b.qTimer.Stop()
	}
	b.qTimer = time.AfterFunc(limit, func() {
		e.gradeQuestion(context.Background(), b, idx)
	})
	b.mu.Unlock()

	e.c.Push.ToRoom(b.room.Code, protocol.Event{
		Type: protocol.EvQuestionStarted,
		Data: protocol.QuestionStarted{QuestionIndex: idx, Question: q},
	})
}

// submitTangToc buffers a submission for the current question. A submission
// tagged with any other index is stale and dropped without error: the
// client raced a question transition and grading it would corrupt the
// standings.
func (e *Engine) submitTangToc(b *battle, userID string, sub protocol.SubmitAnswer) error {
	if _, err := b.questionAt(sub.QuestionIndex); err != nil {
		return err
	}

	b.mu.Lock()
	if b.done || sub.QuestionIndex != b.current {
		b.mu.Unlock()
		return nil
	}
	b.submissions[sub.QuestionIndex][userID] = &pending{
		answer: sub.Answer,
		timeMs: time.Since(b.questionStart).Milliseconds(),
	}
	b.mu.Unlock()

	if p, ok := b.room.Get(userID); ok {
		e.c.Push.ToRoom(b.room.Code, protocol.Event{
			Type: protocol.EvParticipantAnswered,
			Data: protocol.ParticipantAnswered{
				UserID:        userID,
				Username:      p.DisplayName(),
				QuestionIndex: sub.QuestionIndex,
				HasAnswered:   true,
			},
		})
	}
	return nil
}

// gradeQuestion settles one question at its deadline: grade the buffered
// submissions, award ordered points, broadcast verdicts and standings, then
// schedule the next question.
func (e *Engine) gradeQuestion(ctx context.Context, b *battle, idx int) {
	b.mu.Lock()
	if b.done || b.current != idx {
		b.mu.Unlock()
		return
	}
	subs := b.submissions[idx]
	q := b.questions[idx]
	b.mu.Unlock()

	type verdict struct {
		userID  string
		answer  string
		timeMs  int64
		correct bool
		points  int
	}

	verdicts := make(map[string]*verdict)
	var correct []*verdict
	b.room.Each(func(p domain.Participant) {
		v := &verdict{userID: p.UserID}
		if s, ok := subs[p.UserID]; ok {
			v.answer = s.answer
			v.timeMs = s.timeMs
			v.correct = answer.IsCorrect(s.answer, q.Answer, q.AcceptedAnswers)
		}
		verdicts[p.UserID] = v
		if v.correct {
			correct = append(correct, v)
		}
	})

	sort.SliceStable(correct, func(i, j int) bool { return correct[i].timeMs < correct[j].timeMs })
	for i, v := range correct {
		v.points = tierPoints(i + 1)
	}

	for _, v := range verdicts {
		telemetry.AnswersGraded.WithLabelValues(string(b.mode), strconv.FormatBool(v.correct)).Inc()

		if v.correct {
			b.mu.Lock()
			b.correct[v.userID]++
			b.mu.Unlock()
		}
		b.room.Update(v.userID, func(p *domain.Participant) {
			p.Answered++
			p.Score += v.points
			p.TimeSpent += int(v.timeMs)
		})

		if sid, ok := b.sessionOf(v.userID); ok {
			if err := e.c.Sessions.SaveAnswer(ctx, sid, q.ID, v.answer, v.correct, v.timeMs); err != nil {
				slog.ErrorContext(ctx, "game: save answer failed", "room", b.room.Code, "user", v.userID, "error", err)
			}
		}

		e.c.Push.ToUser(b.room.Code, v.userID, protocol.Event{
			Type: protocol.EvQuestionResult,
			Data: protocol.QuestionResult{
				QuestionIndex:   idx,
				IsCorrect:       v.correct,
				UserAnswer:      v.answer,
				CorrectAnswer:   q.Answer,
				AcceptedAnswers: q.AcceptedAnswers,
			},
		})
	}

	ranking := e.currentRanking(b)
	e.c.Push.ToRoom(b.room.Code, protocol.Event{
		Type: protocol.EvRankingUpdate,
		Data: protocol.RankingUpdate{QuestionIndex: idx, Ranking: ranking},
	})
	if e.c.EventBus != nil {
		e.c.EventBus.Publish(ctx, domain.EventRankingUpdated{
			RoomCode: b.room.Code,
			Ranking:  ranking,
		})
	}

	e.c.Push.ToRoom(b.room.Code, protocol.Event{
		Type: protocol.EvQuestionEnded,
		Data: protocol.QuestionEnded{QuestionIndex: idx},
	})

	b.mu.Lock()
	if !b.done {
		if b.qTimer != nil {
			b.qTimer.Stop()
		}
		b.qTimer = time.AfterFunc(e.c.StartDelay, func() {
			e.startQuestion(b, idx+1)
		})
	}
	b.mu.Unlock()
}

func (e *Engine) currentRanking(b *battle) []domain.RankingEntry {
	entries := make([]domain.RankingEntry, 0, b.room.Size())
	b.room.Each(func(p domain.Participant) {
		entries = append(entries, domain.RankingEntry{
			UserID:    p.UserID,
			Username:  p.DisplayName(),
			Score:     p.Score,
			TimeSpent: p.TimeSpent,
		})
	})
	return sortRanking(entries)
}

func (e *Engine) endTangToc(ctx context.Context, b *battle) {
	results := make([]domain.Result, 0, b.room.Size())
	b.room.Each(func(p domain.Participant) {
		results = append(results, domain.Result{
			UserID:            p.UserID,
			Username:          p.DisplayName(),
			Score:             p.Score,
			CompletionTime:    p.TimeSpent,
			QuestionsAnswered: p.Answered,
			TotalQuestions:    len(b.questions),
		})
	})

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].CompletionTime != results[j].CompletionTime {
			return results[i].CompletionTime < results[j].CompletionTime
		}
		return results[i].Username < results[j].Username
	})
	results = rankOf(results)

	e.c.Push.ToRoom(b.room.Code, protocol.Event{
		Type: protocol.EvBattleEnded,
		Data: protocol.BattleEnded{Results: results},
	})

	e.closeOut(ctx, b, results)
}
