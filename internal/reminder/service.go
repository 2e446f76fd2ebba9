// Package reminder sends each subscriber one daily nudge at or after their
// chosen time of day in the configured location.
package reminder

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/errors"
	"github.com/victornm/discernment/internal/store"
)

const (
	DefaultHour     = 10
	DefaultInterval = time.Minute
)

// Sender delivers a reminder to a user.
type Sender func(ctx context.Context, userRef string) error

type Config struct {
	Store    *store.Store
	Location *time.Location
	Now      func() time.Time
}

type Service struct {
	store *store.Store
	loc   *time.Location
	now   func() time.Time
}

func NewService(c Config) *Service {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Service{
		store: c.Store,
		loc:   c.Location,
		now:   c.Now,
	}
}

func (s *Service) Set(ctx context.Context, r domain.Reminder) error {
	if r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid reminder time %02d:%02d", r.Hour, r.Minute))
	}

	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.EnsureUser(ctx, r.UserRef); err != nil {
			return err
		}
		return tx.SetReminder(ctx, r)
	})
}

// Get returns the user's preference, the disabled default when none is stored.
func (s *Service) Get(ctx context.Context, userRef string) (domain.Reminder, error) {
	r, err := s.store.Reminder(ctx, userRef)
	if err != nil {
		return domain.Reminder{}, err
	}
	if r == nil {
		return domain.Reminder{UserRef: userRef, Hour: DefaultHour}, nil
	}
	return *r, nil
}

// Due lists users to remind now, and the civil day they are reminded for.
func (s *Service) Due(ctx context.Context) ([]string, civil.Date, error) {
	now := s.now().In(s.loc)
	day := civil.DateOf(now)

	refs, err := s.store.DueReminders(ctx, now.Hour()*60+now.Minute(), day)
	if err != nil {
		return nil, day, err
	}
	return refs, day, nil
}

// MarkSent claims the reminder of day for the user. It reports false when the
// reminder was already claimed.
func (s *Service) MarkSent(ctx context.Context, userRef string, day civil.Date) (bool, error) {
	var claimed bool
	err := s.store.WithTx(ctx, func(tx *store.Tx) (err error) {
		claimed, err = tx.MarkNotified(ctx, userRef, day)
		return err
	})
	return claimed, err
}

// Dispatch claims and sends every due reminder once. Reminders are claimed
// before sending, so a failed send is not retried the same day.
func (s *Service) Dispatch(ctx context.Context, send Sender) (int, error) {
	refs, day, err := s.Due(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ref := range refs {
		claimed, err := s.MarkSent(ctx, ref, day)
		if err != nil {
			return sent, err
		}
		if !claimed {
			continue
		}

		if err := send(ctx, ref); err != nil {
			slog.WarnContext(ctx, "reminder: send failed", "user", ref, "error", err)
			continue
		}
		sent++
	}

	return sent, nil
}

// Run dispatches reminders every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration, send Sender) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Dispatch(ctx, send)
			if err != nil {
				slog.ErrorContext(ctx, "reminder: dispatch failed", "error", err)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "reminder: sent", "count", n)
			}
		}
	}
}
