// Package game drives battles: dealing questions, countdown control,
// submission grading, rankings and the finished transition. The server is
// the single source of truth for timing and scoring; client timers are a
// synchronized display only.
package game

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nqdang/qbattle/internal/domain"
	"github.com/nqdang/qbattle/internal/errors"
	"github.com/nqdang/qbattle/internal/event"
	"github.com/nqdang/qbattle/internal/protocol"
	"github.com/nqdang/qbattle/internal/room"
	"github.com/nqdang/qbattle/internal/telemetry"
)

const (
	// pointsPerQuestion is the classic-mode award per correct answer.
	pointsPerQuestion = 10

	defaultStartDelay    = 3 * time.Second
	defaultTotalTime     = 60 * time.Second
	defaultTickInterval  = time.Second
	defaultQuestionCount = 12
)

// tierPoints awards fast-mode points by submission order among correct
// answers: first 40, second 30, third 20, everyone after 10.
func tierPoints(order int) int {
	switch order {
	case 1:
		return 40
	case 2:
		return 30
	case 3:
		return 20
	default:
		return 10
	}
}

// TimeLimitForTier maps the fast-mode question number to its time limit in
// seconds (tiers 1..4).
func TimeLimitForTier(tier int) int {
	switch tier {
	case 1:
		return 10
	case 2:
		return 20
	case 3:
		return 30
	case 4:
		return 40
	default:
		return 10
	}
}

// Pusher delivers protocol events to a whole room or to a single user.
// The WebSocket hub implements it.
type Pusher interface {
	ToRoom(roomCode string, ev protocol.Event)
	ToUser(roomCode, userID string, ev protocol.Event)
}

// QuestionSource deals the question set for a battle.
type QuestionSource interface {
	// RandomSet returns count random classic questions.
	RandomSet(ctx context.Context, count int) ([]domain.Question, error)
	// TieredSet returns one fast-mode question per tier, ordered by tier.
	TieredSet(ctx context.Context) ([]domain.Question, error)
}

// Reporter persists sessions and answer logs. Failures are logged, never
// allowed to stall a running battle.
type Reporter interface {
	CreateSession(ctx context.Context, userID, roomID string, mode domain.Mode, solo bool, totalQuestions int) (string, error)
	SaveAnswer(ctx context.Context, sessionID string, questionID int64, answer string, correct bool, timeMs int64) error
	FinishSession(ctx context.Context, sessionID string, score, correctAnswers int) error
}

type Config struct {
	Rooms     *room.Registry
	Questions QuestionSource
	Sessions  Reporter
	Push      Pusher
	EventBus  *event.Bus

	// StartDelay is the countdown between battle announcement and the first
	// question (or the total timer starting).
	StartDelay time.Duration
	// TotalTime is the classic-mode hard ceiling.
	TotalTime time.Duration
	// TickInterval is the cadence of timer_update pushes.
	TickInterval time.Duration
	// TimeUnit is the duration of one fast-mode time-limit unit. One second
	// in production; tests shrink it to run battles in milliseconds.
	TimeUnit time.Duration
	// QuestionCount is the classic-mode deal size.
	QuestionCount int
}

// Engine owns every running battle, one state machine per room.
type Engine struct {
	c Config

	mu      sync.Mutex
	battles map[string]*battle
}

// battle is the per-room session state, serialized behind its own mutex.
// Lifecycle: created on start, done on end; never reused across battles.
type battle struct {
	mu   sync.Mutex
	room *room.Room
	mode domain.Mode

	questions []domain.Question
	startedAt time.Time

	// tangtoc lockstep state
	current       int
	questionStart time.Time
	submissions   map[int]map[string]*pending
	qTimer        *time.Timer

	// khoidong self-paced state
	graded map[string]map[int]bool

	correct  map[string]int    // userID -> correct answers this battle
	sessions map[string]string // userID -> sessionID
	total    countdown
	done     bool
}

// pending is a buffered, not-yet-graded fast-mode submission. Resubmitting
// overwrites: the last answer before the deadline is the one graded.
type pending struct {
	answer string
	timeMs int64
}

func New(c Config) *Engine {
	if c.StartDelay == 0 {
		c.StartDelay = defaultStartDelay
	}
	if c.TotalTime == 0 {
		c.TotalTime = defaultTotalTime
	}
	if c.TickInterval == 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.TimeUnit == 0 {
		c.TimeUnit = time.Second
	}
	if c.QuestionCount == 0 {
		c.QuestionCount = defaultQuestionCount
	}

	return &Engine{
		c:       c,
		battles: make(map[string]*battle),
	}
}

// StartBattle deals the question set and begins a battle. Host only: the
// hub's client-side gating is a convenience, the authorization lives here.
func (e *Engine) StartBattle(ctx context.Context, roomCode, userID string) error {
	r, err := e.c.Rooms.Get(roomCode)
	if err != nil {
		return err
	}

	if !r.IsHost(userID) {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("only the host can start the battle"))
	}

	if r.Status() == domain.RoomBattling {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("room %s is already battling", roomCode))
	}

	if r.Size() < 1 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("room %s has no participants", roomCode))
	}

	questions, err := e.dealQuestions(ctx, r.Mode)
	if err != nil {
		return err
	}

	r.ResetForBattle()
	r.SetStatus(domain.RoomBattling)

	b := &battle{
		room:        r,
		mode:        r.Mode,
		questions:   questions,
		startedAt:   time.Now(),
		current:     -1,
		submissions: make(map[int]map[string]*pending),
		graded:      make(map[string]map[int]bool),
		correct:     make(map[string]int),
		sessions:    make(map[string]string),
	}

	for _, p := range r.Roster() {
		id, err := e.c.Sessions.CreateSession(ctx, p.UserID, r.ID, r.Mode, false, len(questions))
		if err != nil {
			slog.ErrorContext(ctx, "game: create session failed", "room", roomCode, "user", p.UserID, "error", err)
			continue
		}
		b.sessions[p.UserID] = id
	}

	e.mu.Lock()
	if old := e.battles[roomCode]; old != nil {
		old.halt()
	}
	e.battles[roomCode] = b
	e.mu.Unlock()

	e.c.Push.ToRoom(roomCode, protocol.Event{
		Type: protocol.EvGameStarting,
		Data: protocol.GameStarting{Message: "battle starting", CountDown: int(e.c.StartDelay / e.c.TimeUnit)},
	})
	e.c.Push.ToRoom(roomCode, protocol.Event{
		Type: protocol.EvBattleStarted,
		Data: protocol.BattleStarted{
			Mode:      r.Mode,
			Questions: questions,
			TotalTime: int(e.c.TotalTime / e.c.TimeUnit),
		},
	})

	telemetry.BattlesStarted.WithLabelValues(string(r.Mode)).Inc()

	time.AfterFunc(e.c.StartDelay, func() {
		switch b.mode {
		case domain.ModeKhoiDong:
			e.startTotalTimer(b)
		case domain.ModeTangToc:
			e.startQuestion(b, 0)
		}
	})

	return nil
}

func (e *Engine) dealQuestions(ctx context.Context, mode domain.Mode) ([]domain.Question, error) {
	switch mode {
	case domain.ModeTangToc:
		qs, err := e.c.Questions.TieredSet(ctx)
		if err != nil {
			return nil, err
		}
		for i := range qs {
			qs[i].TimeLimit = TimeLimitForTier(qs[i].Tier)
		}
		return qs, nil
	default:
		return e.c.Questions.RandomSet(ctx, e.c.QuestionCount)
	}
}

// SubmitAnswer routes a submission to the mode-specific handler. Submissions
// tagged with a question index other than the current one (fast mode) are
// discarded: a stale response can never be misapplied after advancing.
func (e *Engine) SubmitAnswer(ctx context.Context, roomCode, userID string, sub protocol.SubmitAnswer) error {
	b, err := e.battle(roomCode)
	if err != nil {
		return err
	}

	switch b.mode {
	case domain.ModeTangToc:
		return e.submitTangToc(b, userID, sub)
	default:
		return e.submitKhoiDong(ctx, b, userID, sub)
	}
}

// EndGame ends the running battle but keeps the room for a rematch.
func (e *Engine) EndGame(ctx context.Context, roomCode, userID string) error {
	b, err := e.battle(roomCode)
	if err != nil {
		return err
	}

	if !b.room.IsHost(userID) {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("only the host can end the game"))
	}

	e.finishBattle(ctx, b)
	return nil
}

// EndRoom tears the room down entirely.
func (e *Engine) EndRoom(ctx context.Context, roomCode, userID string) error {
	r, err := e.c.Rooms.Get(roomCode)
	if err != nil {
		return err
	}

	if !r.IsHost(userID) {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("only the host can end the room"))
	}

	if b, err := e.battle(roomCode); err == nil {
		e.finishBattle(ctx, b)
	}

	e.c.Push.ToRoom(roomCode, protocol.Event{
		Type: protocol.EvRoomEnded,
		Data: protocol.RoomEnded{Message: "room ended by host"},
	})

	r.SetStatus(domain.RoomEnded)
	e.c.Rooms.Delete(roomCode)
	e.dropBattle(roomCode)
	return nil
}

// DropRoom abandons a room whose participants are all gone.
func (e *Engine) DropRoom(roomCode string) {
	e.mu.Lock()
	b := e.battles[roomCode]
	e.mu.Unlock()

	if b != nil {
		b.halt()
	}
	e.c.Rooms.Delete(roomCode)
	e.dropBattle(roomCode)
}

func (e *Engine) battle(roomCode string) (*battle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.battles[roomCode]
	if !ok {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no battle running in room %s", roomCode))
	}
	return b, nil
}

func (e *Engine) dropBattle(roomCode string) {
	e.mu.Lock()
	delete(e.battles, roomCode)
	e.mu.Unlock()
}

// halt stops every timer owned by the battle.
func (b *battle) halt() {
	b.total.halt()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.qTimer != nil {
		b.qTimer.Stop()
		b.qTimer = nil
	}
}

// finishOnce flips the battle into its terminal state. Returns false when
// the battle already finished: completion can race timeout, and exactly one
// of the two paths may run the finalization.
func (b *battle) finishOnce() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return false
	}
	b.done = true
	return true
}

// finishBattle finalizes the battle from either mode, exactly once.
func (e *Engine) finishBattle(ctx context.Context, b *battle) {
	if !b.finishOnce() {
		return
	}

	b.halt()

	switch b.mode {
	case domain.ModeTangToc:
		e.endTangToc(ctx, b)
	default:
		e.endKhoiDong(ctx, b)
	}
}

func rankOf(entries []domain.Result) []domain.Result {
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func sortRanking(entries []domain.RankingEntry) []domain.RankingEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].TimeSpent != entries[j].TimeSpent {
			return entries[i].TimeSpent < entries[j].TimeSpent
		}
		return entries[i].Username < entries[j].Username
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
