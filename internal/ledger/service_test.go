package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/event"
	"github.com/victornm/discernment/internal/ledger"
	"github.com/victornm/discernment/internal/store/storetest"
)

func TestService_Credit(t *testing.T) {
	type inputs struct {
		credits []ledger.Credit
	}

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, s *ledger.Service)
	}{
		"balance of an unknown user is 0": {
			arrange: func() inputs { return inputs{} },
			assert: func(t *testing.T, s *ledger.Service) {
				b, err := s.Balance(context.Background(), "tg:1")
				require.NoError(t, err)
				assert.Zero(t, b)
			},
		},

		"balance is the sum of all credits": {
			arrange: func() inputs {
				return inputs{credits: []ledger.Credit{
					{UserRef: "tg:1", Amount: 5, Reason: "task"},
					{UserRef: "tg:1", Amount: 0, Reason: "task"},
					{UserRef: "tg:1", Amount: 10, Reason: "level:basic"},
					{UserRef: "tg:2", Amount: 7, Reason: "daily"},
				}}
			},
			assert: func(t *testing.T, s *ledger.Service) {
				b, err := s.Balance(context.Background(), "tg:1")
				require.NoError(t, err)
				assert.Equal(t, 15, b)

				b, err = s.Balance(context.Background(), "tg:2")
				require.NoError(t, err)
				assert.Equal(t, 7, b)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			in := tt.arrange()
			s := ledger.NewService(ledger.Config{
				Store:    storetest.New(t),
				EventBus: event.NewBus(),
			})

			for _, c := range in.credits {
				_, err := s.Credit(context.Background(), c)
				require.NoError(t, err)
			}

			tt.assert(t, s)
		})
	}
}

func TestService_Credit_RejectsNegative(t *testing.T) {
	s := ledger.NewService(ledger.Config{Store: storetest.New(t), EventBus: event.NewBus()})

	_, err := s.Credit(context.Background(), ledger.Credit{UserRef: "tg:1", Amount: -3, Reason: "task"})
	require.Error(t, err)

	b, err := s.Balance(context.Background(), "tg:1")
	require.NoError(t, err)
	assert.Zero(t, b)
}

func TestService_Credit_Concurrent(t *testing.T) {
	s := ledger.NewService(ledger.Config{Store: storetest.New(t), EventBus: event.NewBus()})

	var g errgroup.Group
	for i := 1; i <= 10; i++ {
		amount := i
		g.Go(func() error {
			_, err := s.Credit(context.Background(), ledger.Credit{UserRef: "tg:1", Amount: amount, Reason: "task"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	b, err := s.Balance(context.Background(), "tg:1")
	require.NoError(t, err)
	assert.Equal(t, 55, b)
}

func TestService_Credit_PublishesAfterCommit(t *testing.T) {
	eb := event.NewBus()

	var (
		mu     sync.Mutex
		events []domain.EventXPCredited
	)
	eb.Subscribe(domain.EventNameXPCredited, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		events = append(events, e.(domain.EventXPCredited))
		mu.Unlock()
		return nil
	})

	s := ledger.NewService(ledger.Config{Store: storetest.New(t), EventBus: eb})

	_, err := s.Credit(context.Background(), ledger.Credit{UserRef: "tg:1", Amount: 5, Reason: "daily"})
	require.NoError(t, err)
	_, err = s.Credit(context.Background(), ledger.Credit{UserRef: "tg:1", Amount: 0, Reason: "task"})
	require.NoError(t, err)
	_, err = s.Credit(context.Background(), ledger.Credit{UserRef: "tg:1", Amount: -1, Reason: "task"})
	require.Error(t, err)

	eb.Stop()

	assert.Equal(t, []domain.EventXPCredited{{UserRef: "tg:1", Amount: 5, Reason: "daily"}}, events,
		"zero and failed credits should not be published")
}

func TestService_AwardBadge(t *testing.T) {
	s := ledger.NewService(ledger.Config{Store: storetest.New(t), EventBus: event.NewBus()})
	ctx := context.Background()

	added, err := s.AwardBadge(ctx, "tg:1", "X")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AwardBadge(ctx, "tg:1", "X")
	require.NoError(t, err)
	assert.False(t, added)

	badges, err := s.Badges(ctx, "tg:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, badges)
}
