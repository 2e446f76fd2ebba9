// Package streak tracks consecutive calendar days of activity. Days are civil
// dates in the configured location; wall-clock instants are never compared.
package streak

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/ledger"
	"github.com/victornm/discernment/internal/store"
	"github.com/victornm/discernment/internal/telemetry"
)

const DefaultDailyBonusXP = 5

type Result struct {
	Bonus  int
	Count  int
	NewDay bool
	Mode   domain.StreakMode
}

// Calculate applies a check-in on today to prev, which is nil for a user who
// never checked in. It returns the result and the record to store.
func Calculate(prev *domain.StreakRecord, today civil.Date, bonus int) (Result, domain.StreakRecord) {
	switch {
	case prev == nil || !prev.LastActive.IsValid():
		next := domain.StreakRecord{LastActive: today, Count: 1}
		return Result{Bonus: bonus, Count: 1, NewDay: true, Mode: domain.StreakFirst}, next

	case prev.LastActive == today:
		return Result{Count: prev.Count, Mode: domain.StreakSameDay}, *prev

	case today.DaysSince(prev.LastActive) == 1:
		next := domain.StreakRecord{UserRef: prev.UserRef, LastActive: today, Count: prev.Count + 1}
		return Result{Bonus: bonus, Count: next.Count, NewDay: true, Mode: domain.StreakContinue}, next

	default:
		next := domain.StreakRecord{UserRef: prev.UserRef, LastActive: today, Count: 1}
		return Result{Bonus: bonus, Count: 1, NewDay: true, Mode: domain.StreakReset}, next
	}
}

// LoadLocation resolves an IANA zone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("streak: invalid timezone, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}

type Config struct {
	Store        *store.Store
	Ledger       *ledger.Service
	Location     *time.Location
	DailyBonusXP int
	Now          func() time.Time
}

type Service struct {
	store  *store.Store
	ledger *ledger.Service
	loc    *time.Location
	bonus  int
	now    func() time.Time
}

func NewService(c Config) *Service {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Service{
		store:  c.Store,
		ledger: c.Ledger,
		loc:    c.Location,
		bonus:  c.DailyBonusXP,
		now:    c.Now,
	}
}

// Today is the current civil date in the configured location.
func (s *Service) Today() civil.Date {
	return civil.DateOf(s.now().In(s.loc))
}

// CheckIn applies today's check-in for the user.
func (s *Service) CheckIn(ctx context.Context, userRef string) (Result, error) {
	return s.Apply(ctx, userRef, s.Today())
}

// Apply records activity on today and credits the daily bonus in the same
// transaction when it is a new day for the user.
func (s *Service) Apply(ctx context.Context, userRef string, today civil.Date) (Result, error) {
	var res Result
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		prev, err := tx.Streak(ctx, userRef)
		if err != nil {
			return err
		}

		var next domain.StreakRecord
		res, next = Calculate(prev, today, s.bonus)
		if !res.NewDay {
			return nil
		}

		next.UserRef = userRef
		if err := tx.PutStreak(ctx, next); err != nil {
			return err
		}

		_, err = s.ledger.CreditTx(ctx, tx, s.credit(userRef, res))
		return err
	})
	if err != nil {
		return Result{}, err
	}

	telemetry.StreakCheckins.WithLabelValues(string(res.Mode)).Inc()
	if res.NewDay {
		s.ledger.Announce(ctx, s.credit(userRef, res))
	}

	return res, nil
}

// Current returns the stored streak, nil when the user never checked in.
func (s *Service) Current(ctx context.Context, userRef string) (*domain.StreakRecord, error) {
	return s.store.Streak(ctx, userRef)
}

func (s *Service) credit(userRef string, res Result) ledger.Credit {
	return ledger.Credit{UserRef: userRef, Amount: res.Bonus, Reason: "daily"}
}
