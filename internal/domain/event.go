package domain

const (
	EventNameRankingUpdated     = "ranking.updated"
	EventNameBattleEnded        = "battle.ended"
	EventNameSessionFinished    = "session.finished"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventRankingUpdated struct {
	RoomCode string
	Ranking  []RankingEntry
}

func (EventRankingUpdated) Name() string { return EventNameRankingUpdated }

type EventBattleEnded struct {
	RoomCode string
	Mode     Mode
	Results  []Result
}

func (EventBattleEnded) Name() string { return EventNameBattleEnded }

type EventSessionFinished struct {
	Session Session
}

func (EventSessionFinished) Name() string { return EventNameSessionFinished }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
