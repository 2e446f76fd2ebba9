package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/discernment/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		UserRef string `json:"userRef"`
		XP      int    `json:"xp"`
		Rank    int    `json:"rank"`
	}

	PremiumActivated struct {
		UserRef   string `json:"userRef"`
		PaymentID string `json:"paymentId"`
	}
)

func (a *API) PublishPremiumActivated(ctx context.Context, e domain.EventPremiumActivated) error {
	return a.publishNotification(ctx, e.UserRef, e.Name(), PremiumActivated{
		UserRef:   e.UserRef,
		PaymentID: e.PaymentID,
	})
}

// PublishLeaderboardUpdated notifies every user on the published top.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := Leaderboard{Entries: toEntries(e.Entries)}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.UserRef, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}

func toEntries(entries []domain.LeaderboardEntry) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LeaderboardEntry{UserRef: e.UserRef, XP: e.XP, Rank: e.Rank})
	}
	return out
}
