package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	publishSize     = 10
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Service keeps the global ranking of total scores in a sorted set.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameGameRecorded, func(ctx context.Context, e event.Event) error {
		return s.UpdateRanking(ctx, e.(domain.EventGameRecorded))
	})

	return s
}

type TopRequest struct {
	Limit int
}

// Top returns the highest total scores, best first. NotFound means the ranking is empty.
func (s *Service) Top(ctx context.Context, req TopRequest) ([]domain.RankingEntry, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = publishSize
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.rankingKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get ranking: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("ranking is empty"))
	}

	ids := make([]string, 0, len(res))
	for _, z := range res {
		ids = append(ids, z.Member.(string))
	}

	names, err := s.redis.HMGet(ctx, s.namesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("get names: %w", err)
	}

	entries := make([]domain.RankingEntry, 0, len(res))
	for i, z := range res {
		name, _ := names[i].(string)
		entries = append(entries, domain.RankingEntry{
			UserID:     ids[i],
			Name:       name,
			TotalScore: int64(z.Score),
		})
	}

	return entries, nil
}

// UpdateRanking overwrites the user's total score in the ranking.
func (s *Service) UpdateRanking(ctx context.Context, e domain.EventGameRecorded) error {
	uid := e.Game.UserID

	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.rankingKey(), redis.Z{
			Score:  float64(e.Aggregate.TotalScore),
			Member: uid,
		})
		if e.Player != "" {
			p.HSet(ctx, s.namesKey(), uid, e.Player)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update ranking: %w", err)
	}

	return s.schedulePublishRanking(ctx, e.Game.PlayedAt)
}

// Remove drops a deleted user from the ranking.
func (s *Service) Remove(ctx context.Context, userID string) error {
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, s.rankingKey(), userID)
		p.HDel(ctx, s.namesKey(), userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove from ranking: %w", err)
	}
	return nil
}

// schedulePublishRanking publishes the ranking at most once per publishInterval.
// Many games finish in a short time and each would otherwise trigger its own notification.
func (s *Service) schedulePublishRanking(ctx context.Context, at time.Time) error {
	// Guards against several backend instances publishing at once; not exact.
	ok, err := s.redis.SetNX(ctx, s.publishTimeKey(), at.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishRanking(ctx)
}

func (s *Service) publishRanking(ctx context.Context) error {
	entries, err := s.Top(ctx, TopRequest{Limit: publishSize})
	if err != nil {
		return fmt.Errorf("get ranking failed: %w", err)
	}

	s.eb.Publish(ctx, domain.EventRankingUpdated{
		Entries: entries,
	})

	return nil
}

func (s *Service) rankingKey() string {
	return fmt.Sprintf("%s:ranking", s.prefix)
}

func (s *Service) namesKey() string {
	return fmt.Sprintf("%s:ranking:names", s.prefix)
}

func (s *Service) publishTimeKey() string {
	return fmt.Sprintf("%s:ranking:time", s.prefix)
}
