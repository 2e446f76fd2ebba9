package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/errors"
	"github.com/victornm/discernment/internal/event"
	"github.com/victornm/discernment/internal/leaderboard"
	"github.com/victornm/discernment/internal/ledger"
	"github.com/victornm/discernment/internal/premium"
	"github.com/victornm/discernment/internal/streak"
)

const (
	defaultLimit = 10
	maxLimit     = 100

	webhookTokenHeader = "X-Webhook-Token"
)

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Premium      *premium.Service
	Ledger       *ledger.Service
	Streak       *streak.Service
	// Leaderboard is optional; without it /leaderboard is not served and profiles carry no rank.
	Leaderboard  *leaderboard.Service
	Health       Pinger
	Redis        Redis
	PubsubPrefix string
	// WebhookToken, when set, must be sent in the X-Webhook-Token header of payment webhooks.
	WebhookToken string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type API struct {
	ps *premium.Service
	ls *ledger.Service
	ss *streak.Service
	lb *leaderboard.Service

	health       Pinger
	webhookToken string

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		ps:           c.Premium,
		ls:           c.Ledger,
		ss:           c.Streak,
		lb:           c.Leaderboard,
		health:       c.Health,
		webhookToken: c.WebhookToken,
		redis:        c.Redis,
		prefix:       c.PubsubPrefix,
	}

	// HTTP APIs
	c.Router.POST("/payments/webhook", a.PaymentWebhook)
	c.Router.GET("/users/:ref/profile", a.GetProfile)
	c.Router.GET("/healthz", a.Healthz)
	if a.lb != nil {
		c.Router.GET("/leaderboard", a.GetLeaderboard)
	}

	// Register event handlers
	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNamePremiumActivated, func(ctx context.Context, e event.Event) error {
			return a.PublishPremiumActivated(ctx, e.(domain.EventPremiumActivated))
		})
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
	}

	return a
}

type PaymentWebhookResponse struct {
	Outcome premium.Outcome `json:"outcome"`
}

func (a *API) PaymentWebhook(c *gin.Context) {
	if a.webhookToken != "" {
		got := c.GetHeader(webhookTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.webhookToken)) != 1 {
			fail(c, errors.New(errors.CodePermissionDenied, errors.WithMessagef("invalid webhook token")))
			return
		}
	}

	var req premium.Confirmation
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid payload"), errors.WithCause(err)))
		return
	}

	outcome, err := a.ps.ConfirmPayment(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, PaymentWebhookResponse{Outcome: outcome})
}

type (
	Profile struct {
		UserRef string   `json:"userRef"`
		XP      int      `json:"xp"`
		Rank    int      `json:"rank"`
		Premium bool     `json:"premium"`
		Badges  []string `json:"badges"`
		Streak  Streak   `json:"streak"`
	}

	Streak struct {
		Count      int    `json:"count"`
		LastActive string `json:"lastActive,omitempty"`
	}
)

func (a *API) GetProfile(c *gin.Context) {
	ctx := c.Request.Context()
	ref := c.Param("ref")

	p := Profile{UserRef: ref}

	var err error
	if p.XP, err = a.ls.Balance(ctx, ref); err != nil {
		fail(c, err)
		return
	}
	if p.Badges, err = a.ls.Badges(ctx, ref); err != nil {
		fail(c, err)
		return
	}
	if p.Premium, err = a.ps.IsPremium(ctx, ref); err != nil {
		fail(c, err)
		return
	}

	st, err := a.ss.Current(ctx, ref)
	if err != nil {
		fail(c, err)
		return
	}
	if st != nil {
		p.Streak = Streak{Count: st.Count, LastActive: st.LastActive.String()}
	}

	if a.lb != nil {
		if p.Rank, err = a.lb.Rank(ctx, ref); err != nil {
			fail(c, errors.New(errors.CodeUnavailable, errors.WithMessagef("leaderboard unavailable"), errors.WithCause(err)))
			return
		}
	}

	c.JSON(http.StatusOK, p)
}

func (a *API) GetLeaderboard(c *gin.Context) {
	limit := defaultLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxLimit {
			fail(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("limit must be between 1 and %d", maxLimit)))
			return
		}
		limit = n
	}

	top, err := a.lb.Top(c.Request.Context(), limit)
	if err != nil {
		fail(c, errors.New(errors.CodeUnavailable, errors.WithMessagef("leaderboard unavailable"), errors.WithCause(err)))
		return
	}

	c.JSON(http.StatusOK, Leaderboard{Entries: toEntries(top)})
}

func (a *API) Healthz(c *gin.Context) {
	if err := a.health.Ping(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal || e.Code == errors.CodeUnavailable {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
