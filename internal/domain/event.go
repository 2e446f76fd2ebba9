package domain

const (
	EventNameAnswerScored       = "answer.scored"
	EventNameLevelCompleted     = "level.completed"
	EventNameXPCredited         = "xp.credited"
	EventNamePremiumActivated   = "premium.activated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventAnswerScored struct {
	Key     SessionKey
	UserRef string
	Tier    string
	TaskID  string
	Correct bool
}

func (EventAnswerScored) Name() string { return EventNameAnswerScored }

type EventLevelCompleted struct {
	UserRef  string
	Level    string
	RewardXP int
}

func (EventLevelCompleted) Name() string { return EventNameLevelCompleted }

// EventXPCredited is published after the credit is committed.
type EventXPCredited struct {
	UserRef string
	Amount  int
	Reason  string
}

func (EventXPCredited) Name() string { return EventNameXPCredited }

type EventPremiumActivated struct {
	UserRef   string
	PaymentID string
}

func (EventPremiumActivated) Name() string { return EventNamePremiumActivated }

// EventLeaderboardUpdated carries the top of the XP leaderboard. It is published
// at most once per publish interval.
type EventLeaderboardUpdated struct {
	Entries []LeaderboardEntry
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
