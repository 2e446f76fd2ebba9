package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/event"
	"github.com/victornm/discernment/internal/store"
)

const (
	publishInterval = 200 * time.Millisecond
	publishTop      = 10
)

type Config struct {
	EventBus *event.Bus
	Store    *store.Store
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	store  *store.Store
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		store:  c.Store,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameXPCredited, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventXPCredited))
	})

	return s
}

// Top returns the n users with the most XP, best first.
func (s *Service) Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		return []domain.LeaderboardEntry{}, nil
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for i, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			UserRef: z.Member.(string),
			XP:      int(z.Score),
			Rank:    i + 1,
		})
	}

	return entries, nil
}

// Rank returns the 1-based position of the user, 0 when the user has no XP.
func (s *Service) Rank(ctx context.Context, userRef string) (int, error) {
	r, err := s.redis.ZRevRank(ctx, s.getLeaderboardKey(), userRef).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get rank: %w", err)
	}

	return int(r) + 1, nil
}

// UpdateLeaderboard adds the credited XP to the user's score.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventXPCredited) error {
	if err := s.redis.ZIncrBy(ctx, s.getLeaderboardKey(), float64(e.Amount), e.UserRef).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx)
}

// Rebuild replaces the leaderboard with the balances in the store. The store
// is the source of truth; Redis may have lost the set.
func (s *Service) Rebuild(ctx context.Context) error {
	balances, err := s.store.Balances(ctx)
	if err != nil {
		return err
	}

	members := make([]redis.Z, 0, len(balances))
	for ref, xp := range balances {
		members = append(members, redis.Z{Score: float64(xp), Member: ref})
	}

	_, err = s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.getLeaderboardKey())
		if len(members) > 0 {
			p.ZAdd(ctx, s.getLeaderboardKey(), members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild leaderboard: %w", err)
	}

	return nil
}

// schedulePublishLeaderboard publishes the top of the leaderboard at most once
// per publish interval. Credits arrive in bursts at the end of runs, so each
// credit does not get its own event.
func (s *Service) schedulePublishLeaderboard(ctx context.Context) error {
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(), time.Now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx)
}

func (s *Service) publishLeaderboard(ctx context.Context) error {
	top, err := s.Top(ctx, publishTop)
	if err != nil {
		return fmt.Errorf("get leaderboard failed: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Entries: top,
	})

	return nil
}

func (s *Service) getLeaderboardKey() string {
	return fmt.Sprintf("%s:leaderboard:xp", s.prefix)
}

func (s *Service) getLeaderboardTimeKey() string {
	return fmt.Sprintf("%s:leaderboard:time", s.prefix)
}
