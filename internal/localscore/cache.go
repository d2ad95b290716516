package localscore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/victornm/etrivia/internal/domain"
)

type Config struct {
	Store Store
}

// Cache keeps the last score per user and tier on the device. It is advisory only:
// writes overwrite unconditionally and reads default to 0.
type Cache struct {
	store Store
}

func New(c Config) *Cache {
	return &Cache{store: c.Store}
}

// Key is the storage key of a user's score on a tier.
func Key(userID string, d domain.Difficulty) string {
	return fmt.Sprintf("score_%s_%s", userID, d)
}

// Save overwrites the stored score. A failure is logged and returned; callers are free to ignore it.
func (c *Cache) Save(ctx context.Context, userID string, d domain.Difficulty, score int) error {
	if err := c.store.Set(ctx, Key(userID, d), strconv.Itoa(score)); err != nil {
		slog.ErrorContext(ctx, "localscore: save failed",
			"user", userID,
			"difficulty", d,
			"error", err,
		)
		return fmt.Errorf("localscore: save %s: %w", Key(userID, d), err)
	}

	return nil
}

// Read returns the stored score, 0 when the tier was never played or the value is unreadable.
func (c *Cache) Read(ctx context.Context, userID string, d domain.Difficulty) int {
	v, ok, err := c.store.Get(ctx, Key(userID, d))
	if err != nil {
		slog.ErrorContext(ctx, "localscore: read failed",
			"user", userID,
			"difficulty", d,
			"error", err,
		)
		return 0
	}
	if !ok {
		return 0
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		slog.WarnContext(ctx, "localscore: ignoring malformed value",
			"key", Key(userID, d),
			"value", v,
		)
		return 0
	}

	return n
}

// ReadAll returns the score of every tier, 0 for tiers never played.
func (c *Cache) ReadAll(ctx context.Context, userID string) map[domain.Difficulty]int {
	scores := make(map[domain.Difficulty]int, len(domain.Difficulties))
	for _, d := range domain.Difficulties {
		scores[d] = c.Read(ctx, userID, d)
	}
	return scores
}
