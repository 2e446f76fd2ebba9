// Package ledger accumulates XP and grants badges. It has no dedup of its own:
// callers credit only from transitions that are already deduplicated.
package ledger

import (
	"context"
	"fmt"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/event"
	"github.com/victornm/discernment/internal/store"
	"github.com/victornm/discernment/internal/telemetry"
)

type Config struct {
	Store    *store.Store
	EventBus *event.Bus
}

type Service struct {
	store *store.Store
	eb    *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		store: c.Store,
		eb:    c.EventBus,
	}
}

// Credit is one XP grant. Reason labels metrics and events ("task", "level:basic", "daily").
type Credit struct {
	UserRef string
	Amount  int
	Reason  string
}

// Credit adds amount to the user's balance in its own transaction and returns the new total.
func (s *Service) Credit(ctx context.Context, c Credit) (int, error) {
	var total int
	err := s.store.WithTx(ctx, func(tx *store.Tx) (err error) {
		total, err = s.CreditTx(ctx, tx, c)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.Announce(ctx, c)
	return total, nil
}

// CreditTx credits inside the caller's transaction. The caller must Announce
// the credit once the transaction has committed.
func (s *Service) CreditTx(ctx context.Context, tx *store.Tx, c Credit) (int, error) {
	if err := tx.EnsureUser(ctx, c.UserRef); err != nil {
		return 0, err
	}

	total, err := tx.CreditXP(ctx, c.UserRef, c.Amount)
	if err != nil {
		return 0, fmt.Errorf("credit %s: %w", c.UserRef, err)
	}

	return total, nil
}

// Announce publishes committed credits.
func (s *Service) Announce(ctx context.Context, credits ...Credit) {
	for _, c := range credits {
		if c.Amount == 0 {
			continue
		}

		telemetry.XPCredited.WithLabelValues(c.Reason).Add(float64(c.Amount))
		s.eb.Publish(ctx, domain.EventXPCredited{
			UserRef: c.UserRef,
			Amount:  c.Amount,
			Reason:  c.Reason,
		})
	}
}

func (s *Service) Balance(ctx context.Context, userRef string) (int, error) {
	return s.store.Balance(ctx, userRef)
}

// AwardBadge reports whether the badge is new. Awarding a held badge is a no-op.
func (s *Service) AwardBadge(ctx context.Context, userRef, badge string) (bool, error) {
	var added bool
	err := s.store.WithTx(ctx, func(tx *store.Tx) (err error) {
		added, err = s.AwardBadgeTx(ctx, tx, userRef, badge)
		return err
	})
	return added, err
}

func (s *Service) AwardBadgeTx(ctx context.Context, tx *store.Tx, userRef, badge string) (bool, error) {
	if err := tx.EnsureUser(ctx, userRef); err != nil {
		return false, err
	}
	return tx.AwardBadge(ctx, userRef, badge)
}

func (s *Service) Badges(ctx context.Context, userRef string) ([]string, error) {
	return s.store.Badges(ctx, userRef)
}

func (s *Service) Progress(ctx context.Context, userRef string) ([]domain.ProgressEntry, error) {
	return s.store.Progress(ctx, userRef)
}
