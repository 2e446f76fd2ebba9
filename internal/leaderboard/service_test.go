package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/event"
	"github.com/victornm/discernment/internal/leaderboard"
	"github.com/victornm/discernment/internal/ledger"
	"github.com/victornm/discernment/internal/store"
	"github.com/victornm/discernment/internal/store/storetest"
)

func TestService_UpdateLeaderboard(t *testing.T) {
	s := makeService(t)
	ctx := context.Background()

	for _, e := range []domain.EventXPCredited{
		{UserRef: "tg:1", Amount: 5, Reason: "task"},
		{UserRef: "tg:2", Amount: 7, Reason: "task"},
		{UserRef: "tg:1", Amount: 10, Reason: "level:basic"},
	} {
		require.NoError(t, s.UpdateLeaderboard(ctx, e))
	}

	top, err := s.Top(ctx, 10)
	require.NoError(t, err)

	want := []domain.LeaderboardEntry{
		{UserRef: "tg:1", XP: 15, Rank: 1},
		{UserRef: "tg:2", XP: 7, Rank: 2},
	}
	require.Equal(t, want, top)

	top, err = s.Top(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)

	rank, err := s.Rank(ctx, "tg:2")
	require.NoError(t, err)
	require.Equal(t, 2, rank)

	rank, err = s.Rank(ctx, "tg:404")
	require.NoError(t, err)
	require.Zero(t, rank)
}

func TestService_FollowsLedgerCredits(t *testing.T) {
	eb := event.NewBus()
	st := storetest.New(t)
	s := makeService(t, withEventBus(eb), withStore(st))
	l := ledger.NewService(ledger.Config{Store: st, EventBus: eb})
	ctx := context.Background()

	_, err := l.Credit(ctx, ledger.Credit{UserRef: "tg:1", Amount: 5, Reason: "daily"})
	require.NoError(t, err)
	_, err = l.Credit(ctx, ledger.Credit{UserRef: "tg:1", Amount: 3, Reason: "task"})
	require.NoError(t, err)
	eb.Stop()

	top, err := s.Top(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []domain.LeaderboardEntry{{UserRef: "tg:1", XP: 8, Rank: 1}}, top)
}

func TestService_Rebuild(t *testing.T) {
	st := storetest.New(t)
	s := makeService(t, withStore(st))
	ctx := context.Background()

	require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.CreditXP(ctx, "tg:1", 4); err != nil {
			return err
		}
		_, err := tx.CreditXP(ctx, "tg:2", 9)
		return err
	}))

	// Stale entry that the store does not know about.
	require.NoError(t, s.UpdateLeaderboard(ctx, domain.EventXPCredited{UserRef: "tg:ghost", Amount: 100}))

	require.NoError(t, s.Rebuild(ctx))

	top, err := s.Top(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []domain.LeaderboardEntry{
		{UserRef: "tg:2", XP: 9, Rank: 1},
		{UserRef: "tg:1", XP: 4, Rank: 2},
	}, top)
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []domain.EventXPCredited
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish leaderboard.updated after receiving xp.credited": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventXPCredited{
						{UserRef: "tg:1", Amount: 5, Reason: "task"},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				require.Equal(t, []domain.LeaderboardEntry{
					{UserRef: "tg:1", XP: 5, Rank: 1},
				}, out.publishedEvents[0].Entries)
			},
		},

		"should publish 1 event leaderboard.updated for a burst of credits within the publish interval": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventXPCredited{
						{UserRef: "tg:1", Amount: 5, Reason: "task"},
						{UserRef: "tg:2", Amount: 5, Reason: "task"},
						{UserRef: "tg:1", Amount: 10, Reason: "level:basic"},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s := makeService(t,
				withEventBus(eb),
			)

			for _, e := range in.receivedEvents {
				err := s.UpdateLeaderboard(context.Background(), e)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}

func withStore(st *store.Store) options {
	return func(c *leaderboard.Config) {
		c.Store = st
	}
}
