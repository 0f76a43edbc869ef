package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects which flavor of the room protocol a battle runs under.
type Mode string

const (
	// ModeKhoiDong is the classic mode: the full question set is dealt once,
	// every player advances at their own pace under a shared 60s countdown.
	ModeKhoiDong Mode = "khoidong"
	// ModeTangToc is the fast mode: the server drives questions in lockstep
	// with tiered time limits and grades buffered submissions per question.
	ModeTangToc Mode = "tangtoc"
)

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomBattling RoomStatus = "battling"
	RoomFinished RoomStatus = "finished"
	RoomEnded    RoomStatus = "ended"
)

// AcceptedAnswer is an alternate answer for a question. Legacy content stores
// these either as bare strings or as objects with an "answer" field; both
// shapes decode into this type.
type AcceptedAnswer struct {
	ID     int64  `json:"id,omitempty"`
	Answer string `json:"answer"`
}

// Question is immutable once a battle starts: the battle holds the list it
// was dealt, not a live reference to the store.
type Question struct {
	ID              int64            `json:"id"`
	Text            string           `json:"text"`
	Answer          string           `json:"answer"`
	AcceptedAnswers []AcceptedAnswer `json:"acceptedAnswers,omitempty"`
	Category        string           `json:"category,omitempty"`
	Difficulty      string           `json:"difficulty,omitempty"`
	// Tier is the fast-mode question number (1..4) controlling the time limit.
	Tier      int    `json:"questionNumber,omitempty"`
	TimeLimit int    `json:"timeLimit,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

// Participant is a user attached to a room.
type Participant struct {
	UserID       string `json:"id"`
	Username     string `json:"username"`
	FullName     string `json:"fullName"`
	Avatar       string `json:"avatar,omitempty"`
	IsHost       bool   `json:"isHost"`
	Disconnected bool   `json:"-"`

	// Battle-scoped counters, reset on every battle start.
	Score          int  `json:"-"`
	TimeSpent      int  `json:"-"`
	CompletionTime int  `json:"-"`
	Answered       int  `json:"-"`
	Finished       bool `json:"-"`
}

// DisplayName prefers the trimmed full name over the login name.
func (p Participant) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Username
}

// Submission is one player's answer to one question.
type Submission struct {
	QuestionIndex int
	// Answer is empty when the player timed out without submitting.
	Answer  string
	TimeMs  int64
	Correct bool
}

// RankingEntry is one row of the authoritative standings. Rank is positional
// in the ordered slice (index+1), never trusted from any payload.
type RankingEntry struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Score     int    `json:"score"`
	TimeSpent int    `json:"timeSpent,omitempty"`
	Rank      int    `json:"rank,omitempty"`
}

// Result is one player's final line in a finished battle.
type Result struct {
	UserID            string `json:"userId"`
	Username          string `json:"username"`
	Score             int    `json:"score"`
	CompletionTime    int    `json:"completionTime,omitempty"`
	QuestionsAnswered int    `json:"questionsAnswered,omitempty"`
	TotalQuestions    int    `json:"totalQuestions,omitempty"`
	Rank              int    `json:"rank"`
}

// Leaderboard is the global monthly standings snapshot.
type Leaderboard struct {
	Month   string             `json:"month"` // "2006-01"
	Entries []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	Username string  `json:"username"`
	Score    float64 `json:"score"`
	Rank     int     `json:"rank"`
}

// Session identifies one persisted run of a quiz, solo or room-based.
// Immutable once FinishedAt is set.
type Session struct {
	ID     string
	UserID string
	// Username is the display identity scores accrue under; it is carried on
	// events only, never persisted.
	Username       string
	RoomID         string
	Mode           Mode
	Solo           bool
	Score          int
	CorrectAnswers int
	TotalQuestions int
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// UserStats aggregates a player's history for the stats endpoint.
type UserStats struct {
	GamesPlayed  int             `json:"gamesPlayed"`
	BestScore    int             `json:"bestScore"`
	TotalScore   int             `json:"totalScore"`
	AverageScore decimal.Decimal `json:"averageScore"`
	Accuracy     decimal.Decimal `json:"accuracy"`
}
