package bot

import (
	"fmt"
	"strings"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/errors"
	"github.com/victornm/discernment/internal/session"
	"github.com/victornm/discernment/internal/streak"
)

const (
	textIntro = "Hi! This is a short test on telling things apart. Pick an option on the buttons or type it."
	textHelp  = "Commands:\n" +
		"/start - start the quiz\n" +
		"/level <tier> - switch level\n" +
		"/restart - play the level again\n" +
		"/start_pro - premium level\n" +
		"/daily - daily check-in\n" +
		"/profile - your XP, badges and streak\n" +
		"/top - leaderboard\n" +
		"/remind HH:MM|off - daily reminder"
	textNoLeaderboard = "The leaderboard is not available right now."
	textRemindUsage   = "Usage: /remind HH:MM or /remind off"
	textReminder      = "Time for today's practice! Send /daily to keep your streak and /start to play."

	TextPremiumActivated = "Premium is active. Send /start_pro to play the premium level."
)

func renderTask(cursor int, t *domain.Task) (string, *Keyboard) {
	kb := &Keyboard{InlineKeyboard: make([][]Button, 0, len(t.Options))}
	for i, opt := range t.Options {
		kb.InlineKeyboard = append(kb.InlineKeyboard, []Button{{
			Text:         fmt.Sprintf("%d) %s", i+1, opt),
			CallbackData: CallbackData(cursor, i),
		}})
	}

	return fmt.Sprintf("Task %s:\n%s", t.ID, t.Text), kb
}

func renderStep(st *session.Step) (string, *Keyboard) {
	if st.Task == nil {
		return "This level is finished. /restart to play it again or /level to pick another.", nil
	}
	return renderTask(st.State.Cursor, st.Task)
}

func renderOutcome(out *session.Outcome) (string, *Keyboard) {
	var sb strings.Builder

	if out.Correct {
		sb.WriteString("✅ Correct!")
		if out.XP > 0 {
			fmt.Fprintf(&sb, " +%d XP", out.XP)
		}
	} else {
		fmt.Fprintf(&sb, "❌ Incorrect. The answer is: %s", out.Answered.Answer)
	}
	if out.Answered.Explanation != "" {
		sb.WriteString("\n" + out.Answered.Explanation)
	}
	if out.NewBadge {
		fmt.Fprintf(&sb, "\n🏅 New badge: %s", out.Answered.Badge)
	}
	sb.WriteString("\n\n")

	if out.Summary != nil {
		sb.WriteString(renderSummary(out.Summary))
		return sb.String(), nil
	}

	text, kb := renderStep(&out.Step)
	sb.WriteString(text)
	return sb.String(), kb
}

func renderSummary(s *domain.Summary) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Test finished: %d/%d (%s%%).", s.Score, s.Total, s.Accuracy.StringFixed(2))
	if len(s.Mistakes) > 0 {
		fmt.Fprintf(&sb, "\nReview: %s", strings.Join(s.Mistakes, ", "))
	}
	if s.FirstClear && s.LevelReward > 0 {
		fmt.Fprintf(&sb, "\nLevel %s completed: +%d XP", s.Tier, s.LevelReward)
	}
	sb.WriteString("\nThank you! 🙌")

	return sb.String()
}

func renderCheckIn(r streak.Result) string {
	if !r.NewDay {
		return fmt.Sprintf("Already checked in today. Streak: %d 🔥", r.Count)
	}
	if r.Mode == domain.StreakReset {
		return fmt.Sprintf("Streak restarted: %d 🔥 +%d XP", r.Count, r.Bonus)
	}
	return fmt.Sprintf("Streak: %d 🔥 +%d XP", r.Count, r.Bonus)
}

type profile struct {
	xp      int
	rank    int
	premium bool
	badges  []string
	streak  *domain.StreakRecord
}

func renderProfile(p profile) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "XP: %d", p.xp)
	if p.rank > 0 {
		fmt.Fprintf(&sb, " (#%d)", p.rank)
	}
	if p.streak != nil {
		fmt.Fprintf(&sb, "\nStreak: %d 🔥 (last %s)", p.streak.Count, p.streak.LastActive)
	}
	if len(p.badges) > 0 {
		fmt.Fprintf(&sb, "\nBadges: %s", strings.Join(p.badges, ", "))
	}
	if p.premium {
		sb.WriteString("\nPremium: active")
	}

	return sb.String()
}

func renderTop(entries []domain.LeaderboardEntry) string {
	if len(entries) == 0 {
		return "Nobody has XP yet."
	}

	var sb strings.Builder
	sb.WriteString("Top players:")
	for _, e := range entries {
		fmt.Fprintf(&sb, "\n%d. %s: %d XP", e.Rank, e.UserRef, e.XP)
	}
	return sb.String()
}

func renderReminder(r domain.Reminder) string {
	if !r.Enabled {
		return "Daily reminder is off. " + textRemindUsage
	}
	return fmt.Sprintf("Daily reminder at %02d:%02d.", r.Hour, r.Minute)
}

func renderTiers(tiers []string) string {
	return "Levels: " + strings.Join(tiers, ", ") + "\nSend /level <name>."
}

func renderError(e *errors.Error) string {
	switch e.Code {
	case errors.CodeUnavailable:
		return "The service is temporarily unavailable, please try again."
	case errors.CodeInternal:
		return "Something went wrong, please try again later."
	default:
		return e.Message
	}
}
