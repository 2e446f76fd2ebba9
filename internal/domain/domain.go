package domain

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Task is a single quiz item. Tasks are immutable once loaded from a catalog.
type Task struct {
	ID          string
	Text        string
	Options     []string
	Answer      string
	XP          int
	Badge       string
	Explanation string
}

// IsCorrect reports whether the option at choice matches the canonical answer.
// Out of range choices are incorrect.
func (t Task) IsCorrect(choice int) bool {
	if choice < 0 || choice >= len(t.Options) {
		return false
	}

	return Normalize(t.Options[choice]) == Normalize(t.Answer)
}

// Resolve maps a free-text reply onto an option index.
func (t Task) Resolve(text string) (int, bool) {
	n := Normalize(text)
	if n == "" {
		return 0, false
	}

	for i, opt := range t.Options {
		if Normalize(opt) == n {
			return i, true
		}
	}

	return 0, false
}

// Normalize lowercases s and strips surrounding whitespace.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Pool is an ordered set of tasks for one difficulty tier.
type Pool struct {
	Tier    string
	Title   string
	Version int
	Premium bool
	Tasks   []Task
}

func (p *Pool) Len() int { return len(p.Tasks) }

// ProgressID is the task id as persisted in progress rows. Task ids are only
// unique within a pool.
func ProgressID(tier, taskID string) string {
	return tier + "/" + taskID
}

// SessionKey identifies a session: one per bot instance and chat.
type SessionKey struct {
	Bot  string
	Chat int64
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s:%d", k.Bot, k.Chat)
}

type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusInProgress SessionStatus = "in_progress"
	StatusFinished   SessionStatus = "finished"
)

// SessionState is the progression cursor of a session through its pool.
type SessionState struct {
	Key      SessionKey
	UserRef  string
	RunID    string
	Tier     string
	Cursor   int
	Score    int
	Mistakes []string
	Status   SessionStatus
	Updated  time.Time
}

// Summary describes a finished run.
type Summary struct {
	Tier        string
	Score       int
	Total       int
	Accuracy    decimal.Decimal
	Mistakes    []string
	LevelReward int
	FirstClear  bool
}

// Accuracy returns score/total as a percentage rounded to 2 places.
func Accuracy(score, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}

	return decimal.NewFromInt(int64(score)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(2)
}

type StreakMode string

const (
	StreakFirst    StreakMode = "first"
	StreakSameDay  StreakMode = "same_day"
	StreakContinue StreakMode = "continue"
	StreakReset    StreakMode = "reset"
)

// StreakRecord is the stored daily-continuity state of a user.
type StreakRecord struct {
	UserRef    string
	LastActive civil.Date
	Count      int
}

// LevelRecord is the one-way completion marker of a (user, level) pair.
type LevelRecord struct {
	UserRef     string
	LevelCode   string
	Completed   bool
	RewardXP    int
	CompletedAt time.Time
}

const PaymentSucceeded = "succeeded"

type Payment struct {
	PaymentID string
	UserRef   string
	Status    string
	CreatedAt time.Time
}

// ProgressEntry is one correctly answered task.
type ProgressEntry struct {
	TaskID string
	XP     int
	Badge  string
}

// Reminder is a user's daily reminder preference, in the configured zone.
type Reminder struct {
	UserRef string
	Hour    int
	Minute  int
	Enabled bool
}

type LeaderboardEntry struct {
	UserRef string
	XP      int
	Rank    int
}
