package user

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
)

type Config struct {
	DB *pgxpool.Pool
}

// Repository stores backend users and their aggregate.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(c Config) *Repository {
	return &Repository{db: c.DB}
}

const columns = `user_id, email, first_name, last_name, COALESCE(to_char(birth_date, 'YYYY-MM-DD'), ''), avatar_url,
	total_score, games_played, best_score, current_streak, create_time, update_time`

// Sync creates the user or refreshes its identity fields. The aggregate of an existing user is kept.
func (r *Repository) Sync(ctx context.Context, u domain.User) (*domain.User, error) {
	const stmt = `
INSERT INTO users (user_id, email, first_name, last_name, birth_date)
VALUES ($1, $2, $3, $4, NULLIF($5, '')::date)
ON CONFLICT (user_id) DO UPDATE SET
	email = EXCLUDED.email,
	first_name = EXCLUDED.first_name,
	last_name = EXCLUDED.last_name,
	birth_date = COALESCE(EXCLUDED.birth_date, users.birth_date),
	update_time = now()
RETURNING ` + columns + `;`

	out, err := scanUser(r.db.QueryRow(ctx, stmt, u.ID, u.Email, u.FirstName, u.LastName, u.BirthDate))
	if err != nil {
		return nil, fmt.Errorf("sync user %s: %w", u.ID, err)
	}
	return out, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.User, error) {
	const stmt = `SELECT ` + columns + ` FROM users WHERE user_id = $1;`

	u, err := scanUser(r.db.QueryRow(ctx, stmt, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

type UpdateRequest struct {
	FirstName string
	LastName  string
	BirthDate string
	AvatarURL string
}

// Update overwrites the non-empty fields of req.
func (r *Repository) Update(ctx context.Context, id string, req UpdateRequest) (*domain.User, error) {
	const stmt = `
UPDATE users SET
	first_name = COALESCE(NULLIF($2, ''), first_name),
	last_name = COALESCE(NULLIF($3, ''), last_name),
	birth_date = COALESCE(NULLIF($4, '')::date, birth_date),
	avatar_url = COALESCE(NULLIF($5, ''), avatar_url),
	update_time = now()
WHERE user_id = $1
RETURNING ` + columns + `;`

	u, err := scanUser(r.db.QueryRow(ctx, stmt, id, req.FirstName, req.LastName, req.BirthDate, req.AvatarURL))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("update user %s: %w", id, err)
	}
	return u, nil
}

// Delete removes the user and its games. Deleting a missing user is not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM users WHERE user_id = $1;`, id); err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	return nil
}

// ApplyStats adds a game score to the aggregate in a single statement.
func (r *Repository) ApplyStats(ctx context.Context, id string, score int) (domain.Aggregate, error) {
	const stmt = `
UPDATE users SET
	total_score = total_score + $2,
	games_played = games_played + 1,
	best_score = GREATEST(best_score, $2),
	update_time = now()
WHERE user_id = $1
RETURNING total_score, games_played, best_score, current_streak;`

	var a domain.Aggregate
	err := r.db.QueryRow(ctx, stmt, id, score).Scan(&a.TotalScore, &a.GamesPlayed, &a.BestScore, &a.CurrentStreak)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Aggregate{}, notFound(id)
	}
	if err != nil {
		return domain.Aggregate{}, fmt.Errorf("apply stats %s: %w", id, err)
	}
	return a, nil
}

// TopByScore ranks users by total score, ties broken by who got there first.
func (r *Repository) TopByScore(ctx context.Context, limit int) ([]domain.RankingEntry, error) {
	const stmt = `
SELECT user_id, TRIM(first_name || ' ' || last_name), total_score
FROM users
ORDER BY total_score DESC, update_time ASC
LIMIT $1;`

	rows, err := r.db.Query(ctx, stmt, limit)
	if err != nil {
		return nil, fmt.Errorf("top by score: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RankingEntry, error) {
		var e domain.RankingEntry
		err := row.Scan(&e.UserID, &e.Name, &e.TotalScore)
		return e, err
	})
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.BirthDate, &u.AvatarURL,
		&u.Aggregate.TotalScore, &u.Aggregate.GamesPlayed, &u.Aggregate.BestScore, &u.Aggregate.CurrentStreak,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func notFound(id string) error {
	return errors.New(errors.CodeNotFound, errors.WithMessagef("user not found: id=%s", id))
}
