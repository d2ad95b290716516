package domain

const (
	EventNameUserUpdated    = "user.updated"
	EventNameGameRecorded   = "game.recorded"
	EventNameStatsUpdated   = "stats.updated"
	EventNameRankingUpdated = "ranking.updated"
)

// EventUserUpdated is published by the client user context whenever the current user changes.
// User is nil after sign-out.
type EventUserUpdated struct {
	User *User
}

func (EventUserUpdated) Name() string { return EventNameUserUpdated }

// EventGameRecorded is published by the backend once a finished game is committed.
type EventGameRecorded struct {
	Game      GameRecord
	Aggregate Aggregate
	// Player is the display name of the player.
	Player string
}

func (EventGameRecorded) Name() string { return EventNameGameRecorded }

// EventStatsUpdated is published by the backend when a user's aggregate changed outside a game submission.
type EventStatsUpdated struct {
	UserID    string
	Aggregate Aggregate
}

func (EventStatsUpdated) Name() string { return EventNameStatsUpdated }

// EventRankingUpdated is published by the backend leaderboard, at most once per publish interval.
type EventRankingUpdated struct {
	Entries []RankingEntry
}

func (EventRankingUpdated) Name() string { return EventNameRankingUpdated }
