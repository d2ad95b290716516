package profile

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
)

const maxAttempts = 3

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
	Now    func() time.Time
}

// Document is a user's profile as held by the remote store.
type Document struct {
	User    domain.User
	Version int64
}

// Store keeps one hash per user holding the profile and its aggregate.
// Aggregate updates are read-modify-write guarded by WATCH on the hash.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewStore(c Config) *Store {
	s := &Store{
		redis:  c.Redis,
		prefix: c.Prefix,
		now:    c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Create writes a fresh document with a zero aggregate. It fails with AlreadyExists if one is present.
func (s *Store) Create(ctx context.Context, u domain.User) error {
	u.Aggregate = domain.Aggregate{}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now

	key := s.key(u.ID)
	fields := encode(Document{User: u, Version: 1})

	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("profile already exists: user=%s", u.ID))
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, fields)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("profile: create %s: %w", u.ID, err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, userID string) (*Document, error) {
	vals, err := s.redis.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("profile: get %s: %w", userID, err)
	}
	if len(vals) == 0 {
		return nil, notFound(userID)
	}

	return decode(userID, vals), nil
}

// UpdateDetails overwrites the editable profile fields, leaving the aggregate untouched.
func (s *Store) UpdateDetails(ctx context.Context, u domain.User) (*Document, error) {
	var doc *Document
	err := s.update(ctx, u.ID, func(d *Document) {
		d.User.FirstName = u.FirstName
		d.User.LastName = u.LastName
		d.User.BirthDate = u.BirthDate
		d.User.AvatarURL = u.AvatarURL
		doc = d
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// RecordGame folds a finished game into the stored aggregate and notifies subscribers.
// A write racing with another one is re-applied on fresh data, up to maxAttempts times.
func (s *Store) RecordGame(ctx context.Context, userID string, g domain.GameSummary) (domain.Aggregate, error) {
	var agg domain.Aggregate
	err := s.update(ctx, userID, func(d *Document) {
		d.User.Aggregate = d.User.Aggregate.Record(g)
		agg = d.User.Aggregate
	})
	if err != nil {
		return domain.Aggregate{}, err
	}

	if err := s.publish(ctx, userID, agg); err != nil {
		slog.ErrorContext(ctx, "profile: publish failed", "user", userID, "error", err)
	}

	return agg, nil
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("profile: delete %s: %w", userID, err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, userID string, apply func(d *Document)) error {
	key := s.key(userID)

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return notFound(userID)
		}

		d := decode(userID, vals)
		apply(d)
		d.Version++
		d.User.UpdatedAt = s.now()

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, encode(*d))
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if !stderrors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("profile: update %s: %w", userID, err)
		}

		slog.WarnContext(ctx, "profile: concurrent update, retrying",
			"user", userID,
			"attempt", attempt,
		)
	}

	return errors.New(errors.CodeAborted,
		errors.WithMessagef("profile update conflicted %d times: user=%s", maxAttempts, userID),
		errors.WithCause(redis.TxFailedErr),
	)
}

// Subscribe streams the aggregate after every recorded game. The channel is closed once ctx is done.
func (s *Store) Subscribe(ctx context.Context, userID string) (<-chan domain.Aggregate, error) {
	ps := s.redis.Subscribe(ctx, s.key(userID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("profile: subscribe %s: %w", userID, err)
	}

	out := make(chan domain.Aggregate)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}

				var p aggregatePayload
				if err := json.Unmarshal([]byte(m.Payload), &p); err != nil {
					slog.WarnContext(ctx, "profile: dropping malformed notification", "user", userID, "error", err)
					continue
				}

				select {
				case out <- p.toDomain():
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

type aggregatePayload struct {
	TotalScore    int64 `json:"total_score"`
	GamesPlayed   int   `json:"games_played"`
	BestScore     int   `json:"best_score"`
	CurrentStreak int   `json:"current_streak"`
}

func (p aggregatePayload) toDomain() domain.Aggregate {
	return domain.Aggregate{
		TotalScore:    p.TotalScore,
		GamesPlayed:   p.GamesPlayed,
		BestScore:     p.BestScore,
		CurrentStreak: p.CurrentStreak,
	}
}

func (s *Store) publish(ctx context.Context, userID string, a domain.Aggregate) error {
	b, err := json.Marshal(aggregatePayload{
		TotalScore:    a.TotalScore,
		GamesPlayed:   a.GamesPlayed,
		BestScore:     a.BestScore,
		CurrentStreak: a.CurrentStreak,
	})
	if err != nil {
		return err
	}

	return s.redis.Publish(ctx, s.key(userID), b).Err()
}

func (s *Store) key(userID string) string {
	return fmt.Sprintf("%s:profile:%s", s.prefix, userID)
}

func notFound(userID string) error {
	return errors.New(errors.CodeNotFound, errors.WithMessagef("profile not found: user=%s", userID))
}

func encode(d Document) map[string]any {
	u := d.User
	return map[string]any{
		"email":          u.Email,
		"first_name":     u.FirstName,
		"last_name":      u.LastName,
		"birth_date":     u.BirthDate,
		"avatar_url":     u.AvatarURL,
		"total_score":    u.Aggregate.TotalScore,
		"games_played":   u.Aggregate.GamesPlayed,
		"best_score":     u.Aggregate.BestScore,
		"current_streak": u.Aggregate.CurrentStreak,
		"created_at":     u.CreatedAt.UnixMilli(),
		"updated_at":     u.UpdatedAt.UnixMilli(),
		"version":        d.Version,
	}
}

// decode is lenient: a missing or garbled numeric field reads as zero.
func decode(userID string, vals map[string]string) *Document {
	num := func(k string) int64 {
		n, _ := strconv.ParseInt(vals[k], 10, 64)
		return n
	}

	return &Document{
		User: domain.User{
			ID:        userID,
			Email:     vals["email"],
			FirstName: vals["first_name"],
			LastName:  vals["last_name"],
			BirthDate: vals["birth_date"],
			AvatarURL: vals["avatar_url"],
			Aggregate: domain.Aggregate{
				TotalScore:    num("total_score"),
				GamesPlayed:   int(num("games_played")),
				BestScore:     int(num("best_score")),
				CurrentStreak: int(num("current_streak")),
			},
			CreatedAt: time.UnixMilli(num("created_at")).UTC(),
			UpdatedAt: time.UnixMilli(num("updated_at")).UTC(),
		},
		Version: num("version"),
	}
}
