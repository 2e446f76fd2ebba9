package streak_test

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/event"
	"github.com/victornm/discernment/internal/ledger"
	"github.com/victornm/discernment/internal/store/storetest"
	"github.com/victornm/discernment/internal/streak"
)

func TestCalculate(t *testing.T) {
	d := civil.Date{Year: 2026, Month: time.February, Day: 28}

	tests := map[string]struct {
		prev      *domain.StreakRecord
		today     civil.Date
		want      streak.Result
		wantCount int
	}{
		"first check-in": {
			prev:      nil,
			today:     d,
			want:      streak.Result{Bonus: 5, Count: 1, NewDay: true, Mode: domain.StreakFirst},
			wantCount: 1,
		},
		"same day is a no-op": {
			prev:      &domain.StreakRecord{LastActive: d, Count: 4},
			today:     d,
			want:      streak.Result{Bonus: 0, Count: 4, NewDay: false, Mode: domain.StreakSameDay},
			wantCount: 4,
		},
		"next day continues": {
			prev:      &domain.StreakRecord{LastActive: d, Count: 4},
			today:     d.AddDays(1),
			want:      streak.Result{Bonus: 5, Count: 5, NewDay: true, Mode: domain.StreakContinue},
			wantCount: 5,
		},
		"next day across a month boundary continues": {
			prev:      &domain.StreakRecord{LastActive: civil.Date{Year: 2026, Month: time.January, Day: 31}, Count: 1},
			today:     civil.Date{Year: 2026, Month: time.February, Day: 1},
			want:      streak.Result{Bonus: 5, Count: 2, NewDay: true, Mode: domain.StreakContinue},
			wantCount: 2,
		},
		"gap of two days resets": {
			prev:      &domain.StreakRecord{LastActive: d, Count: 4},
			today:     d.AddDays(2),
			want:      streak.Result{Bonus: 5, Count: 1, NewDay: true, Mode: domain.StreakReset},
			wantCount: 1,
		},
		"date in the past resets": {
			prev:      &domain.StreakRecord{LastActive: d, Count: 4},
			today:     d.AddDays(-1),
			want:      streak.Result{Bonus: 5, Count: 1, NewDay: true, Mode: domain.StreakReset},
			wantCount: 1,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, next := streak.Calculate(tt.prev, tt.today, 5)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCount, next.Count)
			if got.NewDay {
				assert.Equal(t, tt.today, next.LastActive)
			}
		})
	}
}

func TestService_Apply_Sequence(t *testing.T) {
	d := civil.Date{Year: 2026, Month: time.March, Day: 9}

	s, l := makeService(t, time.UTC, time.Now)
	ctx := context.Background()

	var (
		modes  []domain.StreakMode
		counts []int
	)
	for _, day := range []civil.Date{d, d.AddDays(1), d.AddDays(3)} {
		res, err := s.Apply(ctx, "tg:1", day)
		require.NoError(t, err)
		modes = append(modes, res.Mode)
		counts = append(counts, res.Count)
	}

	assert.Equal(t, []domain.StreakMode{domain.StreakFirst, domain.StreakContinue, domain.StreakReset}, modes)
	assert.Equal(t, []int{1, 2, 1}, counts)

	b, err := l.Balance(ctx, "tg:1")
	require.NoError(t, err)
	assert.Equal(t, 15, b, "bonus should be credited on each new day")

	rec, err := s.Current(ctx, "tg:1")
	require.NoError(t, err)
	assert.Equal(t, d.AddDays(3), rec.LastActive)
	assert.Equal(t, 1, rec.Count)
}

func TestService_Apply_SameDayTwice(t *testing.T) {
	d := civil.Date{Year: 2026, Month: time.March, Day: 9}

	s, l := makeService(t, time.UTC, time.Now)
	ctx := context.Background()

	first, err := s.Apply(ctx, "tg:1", d)
	require.NoError(t, err)

	second, err := s.Apply(ctx, "tg:1", d)
	require.NoError(t, err)

	assert.Equal(t, streak.Result{Bonus: 0, Count: first.Count, NewDay: false, Mode: domain.StreakSameDay}, second)

	b, err := l.Balance(ctx, "tg:1")
	require.NoError(t, err)
	assert.Equal(t, 5, b)
}

func TestService_CheckIn_UsesLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 23:30 UTC on March 9 is already March 10 in Tokyo.
	now := time.Date(2026, time.March, 9, 23, 30, 0, 0, time.UTC)
	s, _ := makeService(t, tokyo, func() time.Time { return now })

	assert.Equal(t, civil.Date{Year: 2026, Month: time.March, Day: 10}, s.Today())

	res, err := s.CheckIn(context.Background(), "tg:1")
	require.NoError(t, err)
	assert.Equal(t, domain.StreakFirst, res.Mode)

	rec, err := s.Current(context.Background(), "tg:1")
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2026, Month: time.March, Day: 10}, rec.LastActive)
}

func TestLoadLocation(t *testing.T) {
	assert.Equal(t, time.UTC, streak.LoadLocation(""))
	assert.Equal(t, time.UTC, streak.LoadLocation("Mars/Olympus"))
	assert.Equal(t, "Europe/Moscow", streak.LoadLocation("Europe/Moscow").String())
}

func makeService(t *testing.T, loc *time.Location, now func() time.Time) (*streak.Service, *ledger.Service) {
	st := storetest.New(t)
	l := ledger.NewService(ledger.Config{Store: st, EventBus: event.NewBus()})

	s := streak.NewService(streak.Config{
		Store:        st,
		Ledger:       l,
		Location:     loc,
		DailyBonusXP: streak.DefaultDailyBonusXP,
		Now:          now,
	})
	return s, l
}
