package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/victornm/discernment/internal/domain"
)

// Balance returns the user's XP total, 0 for unknown users.
func (c conn) Balance(ctx context.Context, userRef string) (int, error) {
	const stmt = `SELECT xp_total FROM xp_bank WHERE user_ref = $1`

	var total int
	err := c.queryRow(ctx, stmt, userRef).Scan(&total)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classify(fmt.Errorf("select xp: %w", err))
	}

	return total, nil
}

func (c conn) Badges(ctx context.Context, userRef string) ([]string, error) {
	const stmt = `SELECT badge FROM badges WHERE user_ref = $1 ORDER BY badge`

	rows, err := c.query(ctx, stmt, userRef)
	if err != nil {
		return nil, fmt.Errorf("select badges: %w", err)
	}
	defer rows.Close()

	badges := make([]string, 0)
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, classify(err)
		}
		badges = append(badges, b)
	}

	return badges, classify(rows.Err())
}

// IsPremium reports the premium flag, false for unknown users.
func (c conn) IsPremium(ctx context.Context, userRef string) (bool, error) {
	const stmt = `SELECT premium FROM users WHERE user_ref = $1`

	var premium bool
	err := c.queryRow(ctx, stmt, userRef).Scan(&premium)
	if stderrors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(fmt.Errorf("select premium: %w", err))
	}

	return premium, nil
}

// Streak returns nil when the user never checked in.
func (c conn) Streak(ctx context.Context, userRef string) (*domain.StreakRecord, error) {
	const stmt = `SELECT last_active, streak_count FROM streaks WHERE user_ref = $1`

	var (
		last  sql.NullTime
		count int
	)
	err := c.queryRow(ctx, stmt, userRef).Scan(&last, &count)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("select streak: %w", err))
	}

	rec := &domain.StreakRecord{UserRef: userRef, Count: count}
	if last.Valid {
		rec.LastActive = civil.DateOf(last.Time)
	}

	return rec, nil
}

// Level returns nil when the user never touched the level.
func (c conn) Level(ctx context.Context, userRef, levelCode string) (*domain.LevelRecord, error) {
	const stmt = `SELECT completed, reward_xp, completed_at FROM levels WHERE user_ref = $1 AND level_code = $2`

	var (
		rec = domain.LevelRecord{UserRef: userRef, LevelCode: levelCode}
		at  sql.NullTime
	)
	err := c.queryRow(ctx, stmt, userRef, levelCode).Scan(&rec.Completed, &rec.RewardXP, &at)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("select level: %w", err))
	}
	rec.CompletedAt = at.Time

	return &rec, nil
}

func (c conn) Progress(ctx context.Context, userRef string) ([]domain.ProgressEntry, error) {
	const stmt = `SELECT task_id, xp, badge FROM progress WHERE user_ref = $1 AND correct ORDER BY task_id`

	rows, err := c.query(ctx, stmt, userRef)
	if err != nil {
		return nil, fmt.Errorf("select progress: %w", err)
	}
	defer rows.Close()

	var entries []domain.ProgressEntry
	for rows.Next() {
		var (
			e     domain.ProgressEntry
			badge sql.NullString
		)
		if err := rows.Scan(&e.TaskID, &e.XP, &badge); err != nil {
			return nil, classify(err)
		}
		e.Badge = badge.String
		entries = append(entries, e)
	}

	return entries, classify(rows.Err())
}

func (c conn) Payment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	const stmt = `SELECT user_ref, status, created_at FROM payments WHERE payment_id = $1`

	p := domain.Payment{PaymentID: paymentID}
	err := c.queryRow(ctx, stmt, paymentID).Scan(&p.UserRef, &p.Status, &p.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("select payment: %w", err))
	}

	return &p, nil
}

// CountPayments returns the number of rows recorded for a payment id.
func (c conn) CountPayments(ctx context.Context, paymentID string) (int, error) {
	const stmt = `SELECT COUNT(*) FROM payments WHERE payment_id = $1`

	var n int
	if err := c.queryRow(ctx, stmt, paymentID).Scan(&n); err != nil {
		return 0, classify(fmt.Errorf("count payments: %w", err))
	}

	return n, nil
}

// Session returns the mirrored session, nil when absent.
func (c conn) Session(ctx context.Context, key domain.SessionKey) (*domain.SessionState, error) {
	const stmt = `
SELECT user_ref, run_id, tier, cursor_pos, score, mistakes, status, updated_at
FROM sessions WHERE bot = $1 AND chat = $2`

	var (
		st       = domain.SessionState{Key: key}
		mistakes string
		status   string
	)
	err := c.queryRow(ctx, stmt, key.Bot, key.Chat).Scan(
		&st.UserRef, &st.RunID, &st.Tier, &st.Cursor, &st.Score, &mistakes, &status, &st.Updated)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("select session: %w", err))
	}

	if err := json.Unmarshal([]byte(mistakes), &st.Mistakes); err != nil {
		return nil, fmt.Errorf("decode session mistakes: %w", err)
	}
	st.Status = domain.SessionStatus(status)

	return &st, nil
}

func (c conn) Reminder(ctx context.Context, userRef string) (*domain.Reminder, error) {
	const stmt = `SELECT hour, minute, enabled FROM notifications WHERE user_ref = $1`

	r := domain.Reminder{UserRef: userRef}
	err := c.queryRow(ctx, stmt, userRef).Scan(&r.Hour, &r.Minute, &r.Enabled)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("select reminder: %w", err))
	}

	return &r, nil
}

// DueReminders lists enabled subscribers whose reminder time of day is at or
// before minuteOfDay and who were not notified on day yet.
func (c conn) DueReminders(ctx context.Context, minuteOfDay int, day civil.Date) ([]string, error) {
	const stmt = `
SELECT n.user_ref FROM notifications n
WHERE n.enabled AND n.hour * 60 + n.minute <= $1
  AND NOT EXISTS (SELECT 1 FROM notify_log l WHERE l.user_ref = n.user_ref AND l.send_date = $2)
ORDER BY n.user_ref`

	rows, err := c.query(ctx, stmt, minuteOfDay, dateParam(day))
	if err != nil {
		return nil, fmt.Errorf("select due reminders: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, classify(err)
		}
		refs = append(refs, ref)
	}

	return refs, classify(rows.Err())
}

// dateParam encodes a civil date identically for every write and comparison.
func dateParam(d civil.Date) time.Time {
	return d.In(time.UTC)
}

// Balances returns every user's XP total.
func (c conn) Balances(ctx context.Context) (map[string]int, error) {
	const stmt = `SELECT user_ref, xp_total FROM xp_bank`

	rows, err := c.query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("select balances: %w", err)
	}
	defer rows.Close()

	balances := make(map[string]int)
	for rows.Next() {
		var (
			ref   string
			total int
		)
		if err := rows.Scan(&ref, &total); err != nil {
			return nil, classify(err)
		}
		balances[ref] = total
	}

	return balances, classify(rows.Err())
}
