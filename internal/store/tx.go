package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/errors"
)

// Tx is a write transaction. It embeds the read queries so a unit of work can
// observe its own uncommitted writes.
type Tx struct {
	conn

	now time.Time
}

// Now is the transaction clock, UTC.
func (t *Tx) Now() time.Time { return t.now }

func (t *Tx) EnsureUser(ctx context.Context, userRef string) error {
	const stmt = `
INSERT INTO users (user_ref, premium, updated_at) VALUES ($1, FALSE, $2)
ON CONFLICT (user_ref) DO NOTHING`

	if _, err := t.exec(ctx, stmt, userRef, t.now); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// CreditXP adds amount to the user's bank and returns the new total.
func (t *Tx) CreditXP(ctx context.Context, userRef string, amount int) (int, error) {
	if amount < 0 {
		return 0, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("negative xp credit %d", amount))
	}

	const stmt = `
INSERT INTO xp_bank (user_ref, xp_total, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (user_ref) DO UPDATE SET
	xp_total = xp_bank.xp_total + excluded.xp_total,
	updated_at = excluded.updated_at
RETURNING xp_total`

	var total int
	if err := t.queryRow(ctx, stmt, userRef, amount, t.now).Scan(&total); err != nil {
		return 0, classify(fmt.Errorf("credit xp: %w", err))
	}

	return total, nil
}

// AwardBadge reports whether the badge was newly granted.
func (t *Tx) AwardBadge(ctx context.Context, userRef, badge string) (bool, error) {
	const stmt = `INSERT INTO badges (user_ref, badge) VALUES ($1, $2) ON CONFLICT (user_ref, badge) DO NOTHING`

	res, err := t.exec(ctx, stmt, userRef, badge)
	if err != nil {
		return false, fmt.Errorf("insert badge: %w", err)
	}

	return affected(res)
}

func (t *Tx) RecordProgress(ctx context.Context, userRef string, e domain.ProgressEntry) error {
	const stmt = `
INSERT INTO progress (user_ref, task_id, correct, xp, badge) VALUES ($1, $2, TRUE, $3, $4)
ON CONFLICT (user_ref, task_id) DO UPDATE SET
	correct = TRUE,
	xp = excluded.xp,
	badge = excluded.badge`

	badge := sql.NullString{String: e.Badge, Valid: e.Badge != ""}
	if _, err := t.exec(ctx, stmt, userRef, e.TaskID, e.XP, badge); err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

// CompleteLevel flips the level to completed. It reports false when the level
// was already completed, in which case nothing changes.
func (t *Tx) CompleteLevel(ctx context.Context, userRef, levelCode string, rewardXP int) (bool, error) {
	const stmt = `
INSERT INTO levels (user_ref, level_code, completed, reward_xp, completed_at) VALUES ($1, $2, TRUE, $3, $4)
ON CONFLICT (user_ref, level_code) DO UPDATE SET
	completed = TRUE,
	reward_xp = excluded.reward_xp,
	completed_at = excluded.completed_at
WHERE levels.completed = FALSE`

	res, err := t.exec(ctx, stmt, userRef, levelCode, rewardXP, t.now)
	if err != nil {
		return false, fmt.Errorf("complete level: %w", err)
	}

	return affected(res)
}

func (t *Tx) PutStreak(ctx context.Context, rec domain.StreakRecord) error {
	const stmt = `
INSERT INTO streaks (user_ref, last_active, streak_count, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (user_ref) DO UPDATE SET
	last_active = excluded.last_active,
	streak_count = excluded.streak_count,
	updated_at = excluded.updated_at`

	if _, err := t.exec(ctx, stmt, rec.UserRef, dateParam(rec.LastActive), rec.Count, t.now); err != nil {
		return fmt.Errorf("upsert streak: %w", err)
	}
	return nil
}

// InsertPayment reports false when the payment id is already recorded.
func (t *Tx) InsertPayment(ctx context.Context, p domain.Payment) (bool, error) {
	const stmt = `
INSERT INTO payments (payment_id, user_ref, status, created_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (payment_id) DO NOTHING`

	res, err := t.exec(ctx, stmt, p.PaymentID, p.UserRef, p.Status, t.now)
	if err != nil {
		return false, fmt.Errorf("insert payment: %w", err)
	}

	return affected(res)
}

func (t *Tx) UpdatePaymentStatus(ctx context.Context, paymentID, status string) error {
	const stmt = `UPDATE payments SET status = $2 WHERE payment_id = $1`

	if _, err := t.exec(ctx, stmt, paymentID, status); err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

func (t *Tx) SetPremium(ctx context.Context, userRef string) error {
	const stmt = `
INSERT INTO users (user_ref, premium, updated_at) VALUES ($1, TRUE, $2)
ON CONFLICT (user_ref) DO UPDATE SET premium = TRUE, updated_at = excluded.updated_at`

	if _, err := t.exec(ctx, stmt, userRef, t.now); err != nil {
		return fmt.Errorf("set premium: %w", err)
	}
	return nil
}

func (t *Tx) SaveSession(ctx context.Context, st domain.SessionState) error {
	const stmt = `
INSERT INTO sessions (bot, chat, user_ref, run_id, tier, cursor_pos, score, mistakes, status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (bot, chat) DO UPDATE SET
	user_ref = excluded.user_ref,
	run_id = excluded.run_id,
	tier = excluded.tier,
	cursor_pos = excluded.cursor_pos,
	score = excluded.score,
	mistakes = excluded.mistakes,
	status = excluded.status,
	updated_at = excluded.updated_at`

	mistakes := st.Mistakes
	if mistakes == nil {
		mistakes = []string{}
	}
	b, err := json.Marshal(mistakes)
	if err != nil {
		return errors.Internal(fmt.Errorf("encode session mistakes: %w", err))
	}

	_, err = t.exec(ctx, stmt, st.Key.Bot, st.Key.Chat, st.UserRef, st.RunID, st.Tier,
		st.Cursor, st.Score, string(b), string(st.Status), t.now)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (t *Tx) DeleteSession(ctx context.Context, key domain.SessionKey) error {
	const stmt = `DELETE FROM sessions WHERE bot = $1 AND chat = $2`

	if _, err := t.exec(ctx, stmt, key.Bot, key.Chat); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (t *Tx) SetReminder(ctx context.Context, r domain.Reminder) error {
	const stmt = `
INSERT INTO notifications (user_ref, hour, minute, enabled, updated_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_ref) DO UPDATE SET
	hour = excluded.hour,
	minute = excluded.minute,
	enabled = excluded.enabled,
	updated_at = excluded.updated_at`

	if _, err := t.exec(ctx, stmt, r.UserRef, r.Hour, r.Minute, r.Enabled, t.now); err != nil {
		return fmt.Errorf("upsert reminder: %w", err)
	}
	return nil
}

// MarkNotified reports false when the user was already notified on day.
func (t *Tx) MarkNotified(ctx context.Context, userRef string, day civil.Date) (bool, error) {
	const stmt = `INSERT INTO notify_log (user_ref, send_date) VALUES ($1, $2) ON CONFLICT (user_ref, send_date) DO NOTHING`

	res, err := t.exec(ctx, stmt, userRef, dateParam(day))
	if err != nil {
		return false, fmt.Errorf("insert notify log: %w", err)
	}

	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Internal(fmt.Errorf("rows affected: %w", err))
	}
	return n > 0, nil
}
