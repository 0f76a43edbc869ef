// Package protocol defines the wire schema of the room protocol: one
// envelope, one set of event names, parametrized by mode. The two legacy
// clients spoke near-duplicate dialects (create_room vs createRoom,
// game_over vs battleEnded); this schema replaces both.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/nqdang/qbattle/internal/domain"
)

// Client-emitted event names.
const (
	CmdCreateRoom   = "create_room"
	CmdJoinRoom     = "join_room"
	CmdStartBattle  = "start_battle"
	CmdSubmitAnswer = "submit_answer"
	CmdFinishGame   = "finish_game"
	CmdEndGame      = "end_game"
	CmdEndRoom      = "end_room"
)

// Server-pushed event names.
const (
	EvRoomJoined              = "room_joined"
	EvParticipantList         = "participant_list"
	EvParticipantJoined       = "participant_joined"
	EvParticipantLeft         = "participant_left"
	EvParticipantDisconnected = "participant_disconnected"
	EvGameStarting            = "game_starting"
	EvBattleStarted           = "battle_started"
	EvQuestionStarted         = "question_started"
	EvTimerUpdate             = "timer_update"
	EvParticipantAnswered     = "participant_answered"
	EvQuestionResult          = "question_result"
	EvQuestionEnded           = "question_ended"
	EvRankingUpdate           = "ranking_update"
	EvPlayerFinished          = "player_finished"
	EvGameResults             = "game_results"
	EvBattleEnded             = "battle_ended"
	EvRoomEnded               = "room_ended"
	EvError                   = "error"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is a server push ready for encoding.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Decode unmarshals the envelope payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("protocol: %s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("protocol: %s: %w", e.Type, err)
	}
	return nil
}

// Client→server payloads.

type CreateRoom struct {
	Name     string      `json:"name"`
	Mode     domain.Mode `json:"mode"`
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
	FullName string      `json:"fullName,omitempty"`
}

type JoinRoom struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
}

type StartBattle struct {
	RoomCode string `json:"roomCode"`
}

type SubmitAnswer struct {
	RoomCode      string `json:"roomCode"`
	QuestionIndex int    `json:"questionIndex"`
	Answer        string `json:"answer"`
	TimeLeft      int    `json:"timeLeft,omitempty"`
	IsTimeUp      bool   `json:"isTimeUp,omitempty"`
}

// FinishGame is the classic-mode completion report. The server re-grades
// Answers against canonical content; the reported score is advisory.
type FinishGame struct {
	RoomCode          string           `json:"roomCode"`
	Score             int              `json:"score"`
	CompletionTime    int              `json:"completionTime"`
	QuestionsAnswered int              `json:"questionsAnswered"`
	Answers           []ReportedAnswer `json:"answers,omitempty"`
}

type ReportedAnswer struct {
	QuestionIndex int    `json:"questionIndex"`
	Answer        string `json:"answer"`
	TimeLeft      int    `json:"timeLeft,omitempty"`
}

type EndRoom struct {
	RoomCode string `json:"roomCode"`
}

type EndGame struct {
	RoomCode string `json:"roomCode"`
}

// Server→client payloads.

type RoomJoined struct {
	RoomID   string `json:"roomId"`
	RoomCode string `json:"roomCode"`
	RoomName string `json:"roomName"`
	IsHost   bool   `json:"isHost"`
}

type ParticipantList struct {
	Participants []domain.Participant `json:"participants"`
}

type ParticipantRef struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
}

type GameStarting struct {
	Message   string `json:"message,omitempty"`
	CountDown int    `json:"countDown"`
}

type BattleStarted struct {
	Mode      domain.Mode       `json:"mode"`
	Questions []domain.Question `json:"questions"`
	TotalTime int               `json:"totalTime,omitempty"`
}

type QuestionStarted struct {
	QuestionIndex int             `json:"questionIndex"`
	Question      domain.Question `json:"question"`
}

type TimerUpdate struct {
	TotalTimeLeft int `json:"totalTimeLeft"`
}

type ParticipantAnswered struct {
	UserID        string `json:"userId"`
	Username      string `json:"username"`
	QuestionIndex int    `json:"questionIndex"`
	HasAnswered   bool   `json:"hasAnswered"`
}

type QuestionResult struct {
	QuestionIndex   int                     `json:"questionIndex"`
	IsCorrect       bool                    `json:"isCorrect"`
	UserAnswer      string                  `json:"userAnswer"`
	CorrectAnswer   string                  `json:"correctAnswer"`
	AcceptedAnswers []domain.AcceptedAnswer `json:"acceptedAnswers"`
}

type QuestionEnded struct {
	QuestionIndex int `json:"questionIndex"`
}

type RankingUpdate struct {
	QuestionIndex int                  `json:"questionIndex"`
	Ranking       []domain.RankingEntry `json:"ranking"`
}

type PlayerFinished struct {
	UserID            string `json:"userId"`
	Username          string `json:"username"`
	Score             int    `json:"score"`
	CompletionTime    int    `json:"completionTime"`
	QuestionsAnswered int    `json:"questionsAnswered"`
}

type GameResults struct {
	Results []domain.Result `json:"results"`
}

type BattleEnded struct {
	Results []domain.Result `json:"results"`
}

type RoomEnded struct {
	Message string `json:"message"`
}

type ErrorPayload struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}
