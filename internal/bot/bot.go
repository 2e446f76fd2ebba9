// Package bot is the chat adapter: one long-poll loop per bot token feeding
// commands, button presses and free-text answers into the quiz engine.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/errors"
	"github.com/victornm/discernment/internal/leaderboard"
	"github.com/victornm/discernment/internal/ledger"
	"github.com/victornm/discernment/internal/pool"
	"github.com/victornm/discernment/internal/premium"
	"github.com/victornm/discernment/internal/reminder"
	"github.com/victornm/discernment/internal/session"
	"github.com/victornm/discernment/internal/streak"
)

const (
	DefaultPremiumTier = "pro"
	DefaultPollTimeout = 30 * time.Second

	topSize      = 10
	userRefChat  = "tg:"
	callbackData = "opt"
)

type Config struct {
	Name        string
	Client      *Client
	Sessions    *session.Service
	Pools       *pool.Registry
	Ledger      *ledger.Service
	Streak      *streak.Service
	Premium     *premium.Service
	Reminders   *reminder.Service
	Leaderboard *leaderboard.Service
	PremiumTier string
	PollTimeout time.Duration
}

type Bot struct {
	name        string
	client      *Client
	sessions    *session.Service
	pools       *pool.Registry
	ledger      *ledger.Service
	streak      *streak.Service
	premium     *premium.Service
	reminders   *reminder.Service
	leaderboard *leaderboard.Service
	premiumTier string
	pollTimeout time.Duration
}

func New(c Config) *Bot {
	if c.PremiumTier == "" {
		c.PremiumTier = DefaultPremiumTier
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}

	return &Bot{
		name:        c.Name,
		client:      c.Client,
		sessions:    c.Sessions,
		pools:       c.Pools,
		ledger:      c.Ledger,
		streak:      c.Streak,
		premium:     c.Premium,
		reminders:   c.Reminders,
		leaderboard: c.Leaderboard,
		premiumTier: c.PremiumTier,
		pollTimeout: c.PollTimeout,
	}
}

func (b *Bot) Name() string { return b.name }

// Run long-polls updates and handles them in order until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.client.DeleteWebhook(ctx); err != nil {
		slog.WarnContext(ctx, "bot: delete webhook failed", "bot", b.name, "error", err)
	}

	slog.InfoContext(ctx, "bot: polling", "bot", b.name)

	bo := backoff.NewExponentialBackOff()
	var offset int64
	for {
		updates, err := b.client.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			wait := bo.NextBackOff()
			slog.WarnContext(ctx, "bot: poll failed", "bot", b.name, "retry_in", wait, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		for _, u := range updates {
			b.Handle(ctx, u)
			offset = u.UpdateID + 1
		}
	}
}

// Handle processes one update. Failures are reported to the chat and logged,
// never returned, so one bad update does not stall the loop.
func (b *Bot) Handle(ctx context.Context, u Update) {
	switch {
	case u.CallbackQuery != nil:
		b.onCallback(ctx, u.CallbackQuery)
	case u.Message != nil && strings.HasPrefix(u.Message.Text, "/"):
		b.onCommand(ctx, u.Message)
	case u.Message != nil:
		b.onText(ctx, u.Message)
	}
}

func (b *Bot) onCommand(ctx context.Context, m *Message) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(m.Text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	arg = strings.TrimSpace(arg)

	chat := m.Chat.ID
	key, ref := b.key(chat), UserRef(chat)

	switch strings.ToLower(cmd) {
	case "/start":
		b.begin(ctx, chat, func() (*session.Step, error) {
			return b.sessions.Start(ctx, session.StartRequest{Key: key, UserRef: ref})
		}, textIntro)
	case "/start_pro":
		b.begin(ctx, chat, func() (*session.Step, error) {
			return b.sessions.SwitchTier(ctx, session.StartRequest{Key: key, UserRef: ref, Tier: b.premiumTier})
		}, "")
	case "/level":
		if arg == "" {
			b.send(ctx, chat, renderTiers(b.pools.Tiers(b.name)), nil)
			return
		}
		b.begin(ctx, chat, func() (*session.Step, error) {
			return b.sessions.SwitchTier(ctx, session.StartRequest{Key: key, UserRef: ref, Tier: arg})
		}, "")
	case "/restart":
		b.begin(ctx, chat, func() (*session.Step, error) {
			return b.sessions.Restart(ctx, key, ref)
		}, "")
	case "/daily":
		b.daily(ctx, chat, ref)
	case "/profile":
		b.profile(ctx, chat, ref)
	case "/top":
		b.top(ctx, chat)
	case "/remind":
		b.remind(ctx, chat, ref, arg)
	default:
		b.send(ctx, chat, textHelp, nil)
	}
}

func (b *Bot) begin(ctx context.Context, chat int64, start func() (*session.Step, error), intro string) {
	st, err := start()
	if err != nil {
		b.fail(ctx, chat, err)
		return
	}

	text, kb := renderStep(st)
	if intro != "" {
		text = intro + "\n\n" + text
	}
	b.send(ctx, chat, text, kb)
}

func (b *Bot) onCallback(ctx context.Context, q *CallbackQuery) {
	if err := b.client.AnswerCallbackQuery(ctx, q.ID); err != nil {
		slog.WarnContext(ctx, "bot: answer callback failed", "bot", b.name, "error", err)
	}
	if q.Message == nil {
		return
	}

	cursor, choice, ok := ParseCallback(q.Data)
	if !ok {
		return
	}

	chat := q.Message.Chat.ID
	b.answer(ctx, chat, q.Message.MessageID, session.AnswerRequest{
		Key:    b.key(chat),
		Choice: choice,
		Cursor: &cursor,
	})
}

// onText resolves a typed reply against the options of the current task and
// shows the task again when nothing matches.
func (b *Bot) onText(ctx context.Context, m *Message) {
	chat := m.Chat.ID

	st, err := b.sessions.Current(ctx, b.key(chat))
	if err != nil {
		b.fail(ctx, chat, err)
		return
	}
	if st == nil || st.Task == nil {
		b.send(ctx, chat, textHelp, nil)
		return
	}

	choice, ok := st.Task.Resolve(m.Text)
	if !ok {
		text, kb := renderStep(st)
		b.send(ctx, chat, text, kb)
		return
	}

	cursor := st.State.Cursor
	b.answer(ctx, chat, 0, session.AnswerRequest{
		Key:    b.key(chat),
		Choice: choice,
		Cursor: &cursor,
	})
}

func (b *Bot) answer(ctx context.Context, chat, messageID int64, req session.AnswerRequest) {
	out, err := b.sessions.Answer(ctx, req)
	if errors.IsReason(err, errors.ReasonDuplicateAnswer) {
		slog.DebugContext(ctx, "bot: duplicate answer ignored", "bot", b.name, "chat", chat)
		return
	}
	if err != nil {
		b.fail(ctx, chat, err)
		return
	}

	text, kb := renderOutcome(out)
	if messageID != 0 {
		err := b.client.EditMessageText(ctx, chat, messageID, text, kb)
		if err == nil {
			return
		}
		slog.DebugContext(ctx, "bot: edit failed, sending", "bot", b.name, "chat", chat, "error", err)
	}
	b.send(ctx, chat, text, kb)
}

func (b *Bot) daily(ctx context.Context, chat int64, ref string) {
	res, err := b.streak.CheckIn(ctx, ref)
	if err != nil {
		b.fail(ctx, chat, err)
		return
	}
	b.send(ctx, chat, renderCheckIn(res), nil)
}

func (b *Bot) profile(ctx context.Context, chat int64, ref string) {
	var (
		p   profile
		err error
	)
	if p.xp, err = b.ledger.Balance(ctx, ref); err != nil {
		b.fail(ctx, chat, err)
		return
	}
	if p.badges, err = b.ledger.Badges(ctx, ref); err != nil {
		b.fail(ctx, chat, err)
		return
	}
	if p.premium, err = b.premium.IsPremium(ctx, ref); err != nil {
		b.fail(ctx, chat, err)
		return
	}
	if p.streak, err = b.streak.Current(ctx, ref); err != nil {
		b.fail(ctx, chat, err)
		return
	}
	if b.leaderboard != nil {
		if p.rank, err = b.leaderboard.Rank(ctx, ref); err != nil {
			slog.WarnContext(ctx, "bot: rank unavailable", "bot", b.name, "error", err)
		}
	}

	b.send(ctx, chat, renderProfile(p), nil)
}

func (b *Bot) top(ctx context.Context, chat int64) {
	if b.leaderboard == nil {
		b.send(ctx, chat, textNoLeaderboard, nil)
		return
	}

	entries, err := b.leaderboard.Top(ctx, topSize)
	if err != nil {
		slog.WarnContext(ctx, "bot: leaderboard unavailable", "bot", b.name, "error", err)
		b.send(ctx, chat, textNoLeaderboard, nil)
		return
	}
	b.send(ctx, chat, renderTop(entries), nil)
}

func (b *Bot) remind(ctx context.Context, chat int64, ref, arg string) {
	if arg == "" {
		r, err := b.reminders.Get(ctx, ref)
		if err != nil {
			b.fail(ctx, chat, err)
			return
		}
		b.send(ctx, chat, renderReminder(r), nil)
		return
	}

	var (
		r  domain.Reminder
		ok bool
	)
	if strings.EqualFold(arg, "off") {
		cur, err := b.reminders.Get(ctx, ref)
		if err != nil {
			b.fail(ctx, chat, err)
			return
		}
		r, ok = cur, true
		r.Enabled = false
	} else {
		r, ok = ParseReminder(ref, arg)
	}
	if !ok {
		b.send(ctx, chat, textRemindUsage, nil)
		return
	}
	if err := b.reminders.Set(ctx, r); err != nil {
		b.fail(ctx, chat, err)
		return
	}
	b.send(ctx, chat, renderReminder(r), nil)
}

// Remind sends the daily reminder to a user of this bot.
func (b *Bot) Remind(ctx context.Context, userRef string) error {
	return b.Notify(ctx, userRef, textReminder)
}

// Notify sends a plain message to the chat behind userRef.
func (b *Bot) Notify(ctx context.Context, userRef, text string) error {
	chat, ok := ChatOf(userRef)
	if !ok {
		return fmt.Errorf("bot: user %q is not a chat user", userRef)
	}

	_, err := b.client.SendMessage(ctx, chat, text, nil)
	return err
}

func (b *Bot) send(ctx context.Context, chat int64, text string, kb *Keyboard) {
	if _, err := b.client.SendMessage(ctx, chat, text, kb); err != nil {
		slog.ErrorContext(ctx, "bot: send failed", "bot", b.name, "chat", chat, "error", err)
	}
}

func (b *Bot) fail(ctx context.Context, chat int64, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal || e.Code == errors.CodeUnavailable {
		slog.ErrorContext(ctx, "bot: request failed", "bot", b.name, "chat", chat, "error", err)
	}
	b.send(ctx, chat, renderError(e), nil)
}

func (b *Bot) key(chat int64) domain.SessionKey {
	return domain.SessionKey{Bot: b.name, Chat: chat}
}

// UserRef is the engine identity of a chat user.
func UserRef(chat int64) string {
	return userRefChat + strconv.FormatInt(chat, 10)
}

// ChatOf is the inverse of UserRef.
func ChatOf(userRef string) (int64, bool) {
	s, ok := strings.CutPrefix(userRef, userRefChat)
	if !ok {
		return 0, false
	}
	chat, err := strconv.ParseInt(s, 10, 64)
	return chat, err == nil
}

// CallbackData encodes an option button: the question cursor it belongs to
// and the option index.
func CallbackData(cursor, choice int) string {
	return fmt.Sprintf("%s:%d:%d", callbackData, cursor, choice)
}

func ParseCallback(data string) (cursor, choice int, ok bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != callbackData {
		return 0, 0, false
	}

	cursor, err := strconv.Atoi(parts[1])
	if err != nil || cursor < 0 {
		return 0, 0, false
	}
	choice, err = strconv.Atoi(parts[2])
	if err != nil || choice < 0 {
		return 0, 0, false
	}
	return cursor, choice, true
}

// ParseReminder reads an enabled reminder at "HH:MM".
func ParseReminder(userRef, arg string) (domain.Reminder, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(arg))
	if err != nil {
		return domain.Reminder{}, false
	}
	return domain.Reminder{UserRef: userRef, Hour: t.Hour(), Minute: t.Minute(), Enabled: true}, true
}
