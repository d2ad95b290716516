package score

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/event"
	"github.com/victornm/etrivia/internal/telemetry"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
}

// Service records finished games and serves the game history.
type Service struct {
	eb *event.Bus
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{
		eb: c.EventBus,
		db: c.DB,
	}
}

type FinishGameRequest struct {
	UserID  string
	Summary domain.GameSummary
}

type FinishGameResponse struct {
	Game      domain.GameRecord
	Aggregate domain.Aggregate
}

// Validate checks a submitted game before anything is written.
func (r FinishGameRequest) Validate() error {
	g := r.Summary
	switch {
	case r.UserID == "":
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user id is required"))
	case !g.Difficulty.Valid():
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown difficulty %q", g.Difficulty))
	case g.Score < 0 || g.CorrectAnswers < 0 || g.WrongAnswers < 0 || g.TimeTaken < 0:
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("game figures must not be negative"))
	case g.CorrectAnswers+g.WrongAnswers == 0:
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("a game needs at least one answered question"))
	case g.MaxScore > 0 && g.Score > g.MaxScore:
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("score %d exceeds max score %d", g.Score, g.MaxScore))
	}
	return nil
}

// FinishGame stores the game and folds it into the user's aggregate in one transaction.
// The returned aggregate is the authoritative one.
func (s *Service) FinishGame(ctx context.Context, req FinishGameRequest) (*FinishGameResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp, name, err := s.recordGame(ctx, req)
	if err != nil {
		return nil, err
	}

	telemetry.GamesFinished.WithLabelValues(string(req.Summary.Difficulty)).Inc()

	s.eb.Publish(ctx, domain.EventGameRecorded{
		Game:      resp.Game,
		Aggregate: resp.Aggregate,
		Player:    name,
	})

	return resp, nil
}

func (s *Service) recordGame(ctx context.Context, req FinishGameRequest) (_ *FinishGameResponse, _ string, err error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, "", fmt.Errorf("generate game ID: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		selUserStmt = `
SELECT TRIM(first_name || ' ' || last_name), total_score, games_played, best_score, current_streak
FROM users WHERE user_id = $1 FOR UPDATE;`

		insGameStmt = `
INSERT INTO games (game_id, user_id, difficulty, level, score, max_score, correct_answers, wrong_answers, max_streak, time_taken)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING play_time;`

		updUserStmt = `
UPDATE users SET total_score = $2, games_played = $3, best_score = $4, current_streak = $5, update_time = now()
WHERE user_id = $1;`
	)

	var (
		name string
		agg  domain.Aggregate
	)
	err = tx.QueryRow(ctx, selUserStmt, req.UserID).Scan(&name, &agg.TotalScore, &agg.GamesPlayed, &agg.BestScore, &agg.CurrentStreak)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, "", errors.New(errors.CodeNotFound, errors.WithMessagef("user not found: id=%s", req.UserID))
	}
	if err != nil {
		return nil, "", fmt.Errorf("select user: %w", err)
	}

	g := req.Summary
	seconds := int(g.TimeTaken / time.Second)

	var playedAt time.Time
	err = tx.QueryRow(ctx, insGameStmt, id, req.UserID, g.Difficulty, max(g.Level, 1), g.Score, g.MaxScore,
		g.CorrectAnswers, g.WrongAnswers, g.MaxStreak, seconds).Scan(&playedAt)
	if err != nil {
		return nil, "", fmt.Errorf("insert game: %w", err)
	}

	agg = agg.Record(g)
	if _, err = tx.Exec(ctx, updUserStmt, req.UserID, agg.TotalScore, agg.GamesPlayed, agg.BestScore, agg.CurrentStreak); err != nil {
		return nil, "", fmt.Errorf("update user: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("commit: %w", err)
	}

	return &FinishGameResponse{
		Game: domain.GameRecord{
			GameID:         id.String(),
			UserID:         req.UserID,
			Difficulty:     g.Difficulty,
			Score:          g.Score,
			CorrectAnswers: g.CorrectAnswers,
			WrongAnswers:   g.WrongAnswers,
			TimeTaken:      time.Duration(seconds) * time.Second,
			Accuracy:       Accuracy(g.CorrectAnswers, g.WrongAnswers).InexactFloat64(),
			PlayedAt:       playedAt,
		},
		Aggregate: agg,
	}, name, nil
}

type HistoryRequest struct {
	UserID string
	Limit  int
}

// History returns the user's games, newest first.
func (s *Service) History(ctx context.Context, req HistoryRequest) ([]domain.GameRecord, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	const stmt = `
SELECT game_id, difficulty, score, correct_answers, wrong_answers, time_taken, play_time
FROM games
WHERE user_id = $1
ORDER BY play_time DESC
LIMIT $2;`

	rows, err := s.db.Query(ctx, stmt, req.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.GameRecord, error) {
		var (
			g       domain.GameRecord
			id      uuid.UUID
			seconds int
		)
		if err := r.Scan(&id, &g.Difficulty, &g.Score, &g.CorrectAnswers, &g.WrongAnswers, &seconds, &g.PlayedAt); err != nil {
			return domain.GameRecord{}, err
		}

		g.GameID = id.String()
		g.UserID = req.UserID
		g.TimeTaken = time.Duration(seconds) * time.Second
		g.Accuracy = Accuracy(g.CorrectAnswers, g.WrongAnswers).InexactFloat64()
		return g, nil
	})
}

// Accuracy is the share of correct answers as a percentage, rounded to 2 decimal places.
func Accuracy(correct, wrong int) decimal.Decimal {
	total := correct + wrong
	if total <= 0 {
		return decimal.Zero
	}

	return decimal.NewFromInt(int64(correct)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(total)), 2)
}
