package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Answers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz",
		Name:      "answers_total",
		Help:      "Answers processed by the session engine.",
	}, []string{"tier", "result"})

	XPCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz",
		Name:      "xp_credited_total",
		Help:      "XP credited to users.",
	}, []string{"reason"})

	LevelCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz",
		Name:      "level_completions_total",
		Help:      "First-time level completions.",
	}, []string{"level"})

	StreakCheckins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz",
		Name:      "streak_checkins_total",
		Help:      "Daily check-ins by streak mode.",
	}, []string{"mode"})

	Payments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz",
		Name:      "payments_total",
		Help:      "Payment confirmations by outcome.",
	}, []string{"outcome"})

	StoreTx = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "store",
		Name:      "tx_duration_seconds",
		Help:      "Write transaction duration including the wait for the writer lock.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})
)
