// Package level pays the completion reward of a level at most once per user.
package level

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/event"
	"github.com/victornm/discernment/internal/ledger"
	"github.com/victornm/discernment/internal/store"
	"github.com/victornm/discernment/internal/telemetry"
)

type Config struct {
	Store    *store.Store
	Ledger   *ledger.Service
	EventBus *event.Bus
}

type Service struct {
	store  *store.Store
	ledger *ledger.Service
	eb     *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		store:  c.Store,
		ledger: c.Ledger,
		eb:     c.EventBus,
	}
}

// CompleteOnce marks the level completed and credits reward. It returns false,
// paying nothing, when the level was already completed.
func (s *Service) CompleteOnce(ctx context.Context, userRef, levelCode string, reward int) (bool, error) {
	var first bool
	err := s.store.WithTx(ctx, func(tx *store.Tx) (err error) {
		first, err = s.CompleteOnceTx(ctx, tx, userRef, levelCode, reward)
		return err
	})
	if err != nil {
		return false, err
	}

	if first {
		s.Announce(ctx, userRef, levelCode, reward)
	}
	return first, nil
}

// CompleteOnceTx runs the gate inside the caller's transaction, so the completion
// flag and the reward credit commit or roll back together. The caller must
// Announce a first completion after commit.
func (s *Service) CompleteOnceTx(ctx context.Context, tx *store.Tx, userRef, levelCode string, reward int) (bool, error) {
	if err := tx.EnsureUser(ctx, userRef); err != nil {
		return false, err
	}

	first, err := tx.CompleteLevel(ctx, userRef, levelCode, reward)
	if err != nil {
		return false, fmt.Errorf("complete level %s: %w", levelCode, err)
	}
	if !first {
		return false, nil
	}

	if _, err := s.ledger.CreditTx(ctx, tx, credit(userRef, levelCode, reward)); err != nil {
		return false, err
	}

	return true, nil
}

// Announce publishes a committed first completion and its reward.
func (s *Service) Announce(ctx context.Context, userRef, levelCode string, reward int) {
	slog.InfoContext(ctx, "level: completed", "user", userRef, "level", levelCode, "reward", reward)
	telemetry.LevelCompletions.WithLabelValues(levelCode).Inc()

	s.eb.Publish(ctx, domain.EventLevelCompleted{
		UserRef:  userRef,
		Level:    levelCode,
		RewardXP: reward,
	})
	s.ledger.Announce(ctx, credit(userRef, levelCode, reward))
}

func (s *Service) Completed(ctx context.Context, userRef, levelCode string) (bool, error) {
	rec, err := s.store.Level(ctx, userRef, levelCode)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.Completed, nil
}

func credit(userRef, levelCode string, reward int) ledger.Credit {
	return ledger.Credit{UserRef: userRef, Amount: reward, Reason: "level:" + levelCode}
}
