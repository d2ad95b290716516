package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/etrivia/internal/domain"
)

const maxConcurrent = 100

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// PublishStatsUpdated tells the user's live listeners about a new aggregate.
func (a *API) PublishStatsUpdated(ctx context.Context, e domain.EventStatsUpdated) error {
	return a.publishNotification(ctx, e.UserID, e.Name(), newStats(e.Aggregate))
}

// PublishRankingUpdated sends the new ranking to every user on it.
func (a *API) PublishRankingUpdated(ctx context.Context, e domain.EventRankingUpdated) error {
	data := newRanking(e.Entries)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data {
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.UserID, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, userID, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, UserChannel(a.prefix, userID), b).Err()
}

// UserChannel is the pub/sub channel of a user's notifications.
func UserChannel(prefix, userID string) string {
	return fmt.Sprintf("%s:user:%s", prefix, userID)
}
