package api

import (
	"time"

	"github.com/victornm/etrivia/internal/domain"
)

type (
	envelope struct {
		Success bool             `json:"success"`
		Message string           `json:"message,omitempty"`
		Token   string           `json:"token,omitempty"`
		User    *userPayload     `json:"user,omitempty"`
		Stats   *statsPayload    `json:"stats,omitempty"`
		Games   []gamePayload    `json:"games,omitempty"`
		Ranking []rankingPayload `json:"ranking,omitempty"`
	}

	statsPayload struct {
		TotalScore    int64 `json:"total_score"`
		GamesPlayed   int   `json:"games_played"`
		BestScore     int   `json:"best_score"`
		CurrentStreak int   `json:"current_streak"`
	}

	userPayload struct {
		ID        string    `json:"id"`
		Email     string    `json:"email"`
		FirstName string    `json:"first_name,omitempty"`
		LastName  string    `json:"last_name,omitempty"`
		BirthDate string    `json:"birth_date,omitempty"`
		AvatarURL string    `json:"avatar_url,omitempty"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
		statsPayload
	}

	gamePayload struct {
		GameID         string    `json:"game_id"`
		UserID         string    `json:"user_id"`
		Difficulty     string    `json:"difficulty"`
		Score          int       `json:"score"`
		CorrectAnswers int       `json:"correct_answers"`
		WrongAnswers   int       `json:"wrong_answers"`
		TimeTaken      int       `json:"time_taken"`
		Accuracy       float64   `json:"accuracy"`
		PlayedAt       time.Time `json:"played_at"`
	}

	rankingPayload struct {
		UserID     string `json:"user_id"`
		Name       string `json:"name"`
		TotalScore int64  `json:"total_score"`
	}
)

// Envelopes that carry a list always send it, even when empty.
type (
	gamesEnvelope struct {
		Success bool          `json:"success"`
		Games   []gamePayload `json:"games"`
	}

	rankingEnvelope struct {
		Success bool             `json:"success"`
		Ranking []rankingPayload `json:"ranking"`
	}
)

func newStats(a domain.Aggregate) statsPayload {
	return statsPayload{
		TotalScore:    a.TotalScore,
		GamesPlayed:   a.GamesPlayed,
		BestScore:     a.BestScore,
		CurrentStreak: a.CurrentStreak,
	}
}

func newUser(u *domain.User) *userPayload {
	return &userPayload{
		ID:           u.ID,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		BirthDate:    u.BirthDate,
		AvatarURL:    u.AvatarURL,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
		statsPayload: newStats(u.Aggregate),
	}
}

func newGames(games []domain.GameRecord) []gamePayload {
	out := make([]gamePayload, 0, len(games))
	for _, g := range games {
		out = append(out, gamePayload{
			GameID:         g.GameID,
			UserID:         g.UserID,
			Difficulty:     string(g.Difficulty),
			Score:          g.Score,
			CorrectAnswers: g.CorrectAnswers,
			WrongAnswers:   g.WrongAnswers,
			TimeTaken:      int(g.TimeTaken.Seconds()),
			Accuracy:       g.Accuracy,
			PlayedAt:       g.PlayedAt,
		})
	}
	return out
}

func newRanking(entries []domain.RankingEntry) []rankingPayload {
	out := make([]rankingPayload, 0, len(entries))
	for _, e := range entries {
		out = append(out, rankingPayload{UserID: e.UserID, Name: e.Name, TotalScore: e.TotalScore})
	}
	return out
}
