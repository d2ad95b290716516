package domain

import (
	"strings"
	"time"
)

// Difficulty is the tier a question belongs to. It selects the question pool and the base points.
type Difficulty string

const (
	DifficultyBasic        Difficulty = "basic"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Difficulties lists every tier, lowest first.
var Difficulties = []Difficulty{DifficultyBasic, DifficultyIntermediate, DifficultyAdvanced}

var difficultyAliases = map[string]Difficulty{
	"basic":        DifficultyBasic,
	"básico":       DifficultyBasic,
	"basico":       DifficultyBasic,
	"easy":         DifficultyBasic,
	"intermediate": DifficultyIntermediate,
	"intermedio":   DifficultyIntermediate,
	"medium":       DifficultyIntermediate,
	"advanced":     DifficultyAdvanced,
	"avanzado":     DifficultyAdvanced,
	"difícil":      DifficultyAdvanced,
	"dificil":      DifficultyAdvanced,
	"difficult":    DifficultyAdvanced,
	"hard":         DifficultyAdvanced,
}

// ParseDifficulty resolves s to a tier. Unknown input yields the lowest tier and false.
func ParseDifficulty(s string) (Difficulty, bool) {
	d, ok := difficultyAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return DifficultyBasic, false
	}
	return d, true
}

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBasic, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

func (d Difficulty) String() string { return string(d) }

// NoSelection is the option recorded when a question times out.
const NoSelection = -1

// Question is a single quiz item. It is immutable once loaded.
type Question struct {
	ID          string
	Prompt      string
	Options     []string
	Correct     int
	Difficulty  Difficulty
	Category    string
	Points      int
	TimeLimit   time.Duration
	Explanation string
}

// Answer is the record of how one question of a session was resolved.
type Answer struct {
	QuestionID string
	Selected   int
	Correct    bool
	Points     int
	TimeSpent  time.Duration
}

// GameSummary is the outcome of a finished session, as submitted for synchronization.
type GameSummary struct {
	Difficulty     Difficulty
	Level          int
	Score          int
	MaxScore       int
	CorrectAnswers int
	WrongAnswers   int
	MaxStreak      int
	TimeTaken      time.Duration
}

// Aggregate is a user's cross-session statistics. The backend owns it, every other copy is a cache.
type Aggregate struct {
	TotalScore    int64
	GamesPlayed   int
	BestScore     int
	CurrentStreak int
}

// Record folds a finished game into the aggregate.
// A game with at least one correct answer extends the streak, otherwise the streak resets.
func (a Aggregate) Record(g GameSummary) Aggregate {
	a.TotalScore += int64(g.Score)
	a.GamesPlayed++
	a.BestScore = max(a.BestScore, g.Score)
	if g.CorrectAnswers > 0 {
		a.CurrentStreak++
	} else {
		a.CurrentStreak = 0
	}
	return a
}

// User is the canonical user profile.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	BirthDate string // YYYY-MM-DD
	AvatarURL string
	Aggregate Aggregate
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity is the authenticated principal. Token is the bearer credential issued by the backend.
type Identity struct {
	UserID string
	Email  string
	Token  string
}

// GameRecord is a finished game as stored by the backend.
type GameRecord struct {
	GameID         string
	UserID         string
	Difficulty     Difficulty
	Score          int
	CorrectAnswers int
	WrongAnswers   int
	TimeTaken      time.Duration
	Accuracy       float64 // percentage, 2 decimal places
	PlayedAt       time.Time
}

// RankingEntry is a row of the global ranking, highest total score first.
type RankingEntry struct {
	UserID     string
	Name       string
	TotalScore int64
}
