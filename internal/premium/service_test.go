package premium_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/errors"
	"github.com/victornm/discernment/internal/event"
	"github.com/victornm/discernment/internal/premium"
	"github.com/victornm/discernment/internal/store"
	"github.com/victornm/discernment/internal/store/storetest"
)

func TestService_ConfirmPayment(t *testing.T) {
	type outputs struct {
		outcomes  []premium.Outcome
		activated []domain.EventPremiumActivated
	}

	tests := map[string]struct {
		confirmations []premium.Confirmation
		assert        func(t *testing.T, st *store.Store, out outputs)
	}{
		"succeeded payment delivered twice activates once": {
			confirmations: []premium.Confirmation{
				{PaymentID: "p1", UserRef: "tg:1", Status: "succeeded"},
				{PaymentID: "p1", UserRef: "tg:1", Status: "succeeded"},
			},
			assert: func(t *testing.T, st *store.Store, out outputs) {
				assert.Equal(t, []premium.Outcome{premium.OutcomeActivated, premium.OutcomeDuplicate}, out.outcomes)
				assert.Len(t, out.activated, 1)
				assertPremium(t, st, "tg:1", true)
				assertPaymentRows(t, st, "p1", 1)
			},
		},

		"pending payment is recorded without premium": {
			confirmations: []premium.Confirmation{
				{PaymentID: "p2", UserRef: "tg:2", Status: "pending"},
			},
			assert: func(t *testing.T, st *store.Store, out outputs) {
				assert.Equal(t, []premium.Outcome{premium.OutcomeRecorded}, out.outcomes)
				assert.Empty(t, out.activated)
				assertPremium(t, st, "tg:2", false)
			},
		},

		"pending then succeeded activates the owner": {
			confirmations: []premium.Confirmation{
				{PaymentID: "p3", UserRef: "tg:3", Status: "pending"},
				{PaymentID: "p3", UserRef: "tg:3", Status: "Succeeded "},
				{PaymentID: "p3", UserRef: "tg:3", Status: "pending"},
			},
			assert: func(t *testing.T, st *store.Store, out outputs) {
				assert.Equal(t, []premium.Outcome{
					premium.OutcomeRecorded, premium.OutcomeActivated, premium.OutcomeDuplicate,
				}, out.outcomes)
				require.Len(t, out.activated, 1)
				assert.Equal(t, "tg:3", out.activated[0].UserRef)
				assertPremium(t, st, "tg:3", true)
				assertPaymentRows(t, st, "p3", 1)

				p, err := st.Payment(context.Background(), "p3")
				require.NoError(t, err)
				assert.Equal(t, domain.PaymentSucceeded, p.Status)
			},
		},

		"second payment of a premium user still activates": {
			confirmations: []premium.Confirmation{
				{PaymentID: "p4", UserRef: "tg:4", Status: "succeeded"},
				{PaymentID: "p5", UserRef: "tg:4", Status: "succeeded"},
			},
			assert: func(t *testing.T, st *store.Store, out outputs) {
				assert.Equal(t, []premium.Outcome{premium.OutcomeActivated, premium.OutcomeActivated}, out.outcomes)
				assertPremium(t, st, "tg:4", true)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			st := storetest.New(t)
			eb := event.NewBus()

			var (
				mu  sync.Mutex
				out outputs
			)
			eb.Subscribe(domain.EventNamePremiumActivated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.activated = append(out.activated, e.(domain.EventPremiumActivated))
				mu.Unlock()
				return nil
			})

			s := premium.NewService(premium.Config{Store: st, EventBus: eb})
			for _, c := range tt.confirmations {
				outcome, err := s.ConfirmPayment(context.Background(), c)
				require.NoError(t, err)
				out.outcomes = append(out.outcomes, outcome)
			}
			eb.Stop()

			tt.assert(t, st, out)
		})
	}
}

func TestService_ConfirmPayment_Invalid(t *testing.T) {
	s := premium.NewService(premium.Config{Store: storetest.New(t), EventBus: event.NewBus()})

	_, err := s.ConfirmPayment(context.Background(), premium.Confirmation{UserRef: "tg:1", Status: "succeeded"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidArgument))
}

func TestService_IsPremium_UnknownUser(t *testing.T) {
	s := premium.NewService(premium.Config{Store: storetest.New(t), EventBus: event.NewBus()})

	ok, err := s.IsPremium(context.Background(), "tg:404")
	require.NoError(t, err)
	assert.False(t, ok)
}

func assertPremium(t *testing.T, st *store.Store, userRef string, want bool) {
	t.Helper()

	got, err := st.IsPremium(context.Background(), userRef)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func assertPaymentRows(t *testing.T, st *store.Store, paymentID string, want int) {
	t.Helper()

	n, err := st.CountPayments(context.Background(), paymentID)
	require.NoError(t, err)
	assert.Equal(t, want, n)
}
