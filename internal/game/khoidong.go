package game

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/nqdang/qbattle/internal/answer"
	"github.com/nqdang/qbattle/internal/domain"
	"github.com/nqdang/qbattle/internal/errors"
	"github.com/nqdang/qbattle/internal/protocol"
	"github.com/nqdang/qbattle/internal/telemetry"
)

// Classic mode: the full set is dealt up front, every player advances at
// their own pace, and one shared countdown caps the battle. Each submission
// is graded on arrival; the finish report only reconciles answers the
// server never saw (a client that lost connectivity mid-battle).

func (e *Engine) startTotalTimer(b *battle) {
	// The done check and the start must be one critical section: a finish
	// landing in between (host end during the start delay) would otherwise
	// leave a fresh countdown ticking at a room already back in the lobby.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}

	seconds := int(e.c.TotalTime / e.c.TimeUnit)
	b.total.start(e.c.TickInterval, seconds,
		func(left int) {
			e.c.Push.ToRoom(b.room.Code, protocol.Event{
				Type: protocol.EvTimerUpdate,
				Data: protocol.TimerUpdate{TotalTimeLeft: left},
			})
		},
		func() {
			e.finishBattle(context.Background(), b)
		},
	)
}

func (e *Engine) submitKhoiDong(ctx context.Context, b *battle, userID string, sub protocol.SubmitAnswer) error {
	q, err := b.questionAt(sub.QuestionIndex)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("battle in room %s already finished", b.room.Code))
	}
	if b.graded[userID] == nil {
		b.graded[userID] = make(map[int]bool)
	}
	if b.graded[userID][sub.QuestionIndex] {
		// Duplicate submit for an already-graded question. The first
		// grading stands; acknowledging again would double-count.
		b.mu.Unlock()
		return nil
	}
	b.graded[userID][sub.QuestionIndex] = true
	elapsed := time.Since(b.startedAt)
	b.mu.Unlock()

	correct := answer.IsCorrect(sub.Answer, q.Answer, q.AcceptedAnswers)
	if correct {
		b.mu.Lock()
		b.correct[userID]++
		b.mu.Unlock()
	}

	b.room.Update(userID, func(p *domain.Participant) {
		p.Answered++
		if correct {
			p.Score += pointsPerQuestion
		}
	})

	telemetry.AnswersGraded.WithLabelValues(string(b.mode), strconv.FormatBool(correct)).Inc()

	if sid, ok := b.sessionOf(userID); ok {
		if err := e.c.Sessions.SaveAnswer(ctx, sid, q.ID, sub.Answer, correct, elapsed.Milliseconds()); err != nil {
			slog.ErrorContext(ctx, "game: save answer failed", "room", b.room.Code, "user", userID, "error", err)
		}
	}

	e.c.Push.ToUser(b.room.Code, userID, protocol.Event{
		Type: protocol.EvQuestionResult,
		Data: protocol.QuestionResult{
			QuestionIndex:   sub.QuestionIndex,
			IsCorrect:       correct,
			UserAnswer:      sub.Answer,
			CorrectAnswer:   q.Answer,
			AcceptedAnswers: q.AcceptedAnswers,
		},
	})

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

// FinishGame records a classic-mode player's completion. Answers the server
// already graded are skipped; only unseen ones are reconciled, so a report
// can never overwrite a live grading.
func (e *Engine) FinishGame(ctx context.Context, roomCode, userID string, report protocol.FinishGame) error {
	b, err := e.battle(roomCode)
	if err != nil {
		return err
	}

	if b.mode != domain.ModeKhoiDong {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("finish reports are classic mode only"))
	}

	for _, ra := range report.Answers {
		sub := protocol.SubmitAnswer{
			RoomCode:      roomCode,
			QuestionIndex: ra.QuestionIndex,
			Answer:        ra.Answer,
		}
		if err := e.submitKhoiDong(ctx, b, userID, sub); err != nil {
			slog.WarnContext(ctx, "game: skipping reported answer", "room", roomCode, "user", userID, "index", ra.QuestionIndex, "error", err)
		}
	}

	completion := report.CompletionTime
	if completion <= 0 {
		completion = int(time.Since(b.startedAt) / e.c.TimeUnit)
	}

	var p domain.Participant
	if !b.room.Update(userID, func(pp *domain.Participant) {
		pp.Finished = true
		pp.CompletionTime = completion
		p = *pp
	}) {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("user %s is not in room %s", userID, roomCode))
	}

	e.c.Push.ToRoom(roomCode, protocol.Event{
		Type: protocol.EvPlayerFinished,
		Data: protocol.PlayerFinished{
			UserID:            userID,
			Username:          p.DisplayName(),
			Score:             p.Score,
			CompletionTime:    p.CompletionTime,
			QuestionsAnswered: p.Answered,
		},
	})

	if e.allFinished(b) {
		e.finishBattle(ctx, b)
	}
	return nil
}

// allFinished reports whether every still-connected participant has filed a
// finish report. Disconnected players don't hold the battle open.
func (e *Engine) allFinished(b *battle) bool {
	all := true
	b.room.Each(func(p domain.Participant) {
		if !p.Disconnected && !p.Finished {
			all = false
		}
	})
	return all
}

func (e *Engine) endKhoiDong(ctx context.Context, b *battle) {
	total := int(e.c.TotalTime / e.c.TimeUnit)
	results := make([]domain.Result, 0, b.room.Size())
	b.room.Each(func(p domain.Participant) {
		completion := p.CompletionTime
		if !p.Finished {
			completion = total
		}
		results = append(results, domain.Result{
			UserID:            p.UserID,
			Username:          p.DisplayName(),
			Score:             p.Score,
			CompletionTime:    completion,
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
		Type: protocol.EvGameResults,
		Data: protocol.GameResults{Results: results},
	})

	e.closeOut(ctx, b, results)
}

// closeOut finishes persisted sessions, publishes the battle-ended event and
// returns the room to the lobby for a rematch.
func (e *Engine) closeOut(ctx context.Context, b *battle, results []domain.Result) {
	b.room.Each(func(p domain.Participant) {
		sid, ok := b.sessionOf(p.UserID)
		if !ok {
			return
		}
		b.mu.Lock()
		correct := b.correct[p.UserID]
		b.mu.Unlock()
		if err := e.c.Sessions.FinishSession(ctx, sid, p.Score, correct); err != nil {
			slog.ErrorContext(ctx, "game: finish session failed", "room", b.room.Code, "user", p.UserID, "error", err)
		}
	})

	if e.c.EventBus != nil {
		e.c.EventBus.Publish(ctx, domain.EventBattleEnded{
			RoomCode: b.room.Code,
			Mode:     b.mode,
			Results:  results,
		})
	}

	b.room.SetStatus(domain.RoomWaiting)
	e.dropBattle(b.room.Code)
}

func (b *battle) questionAt(idx int) (domain.Question, error) {
	if idx < 0 || idx >= len(b.questions) {
		return domain.Question{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question index %d out of range", idx))
	}
	return b.questions[idx], nil
}

func (b *battle) sessionOf(userID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sid, ok := b.sessions[userID]
	return sid, ok
}
