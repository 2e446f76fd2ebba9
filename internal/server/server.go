package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/discernment/internal/api"
	"github.com/victornm/discernment/internal/bot"
	"github.com/victornm/discernment/internal/dedup"
	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/event"
	"github.com/victornm/discernment/internal/leaderboard"
	"github.com/victornm/discernment/internal/ledger"
	"github.com/victornm/discernment/internal/level"
	"github.com/victornm/discernment/internal/pool"
	"github.com/victornm/discernment/internal/premium"
	"github.com/victornm/discernment/internal/reminder"
	"github.com/victornm/discernment/internal/session"
	"github.com/victornm/discernment/internal/store"
	"github.com/victornm/discernment/internal/streak"
	"github.com/victornm/discernment/internal/telemetry"
)

const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Log struct {
		Mode string
	}

	Store struct {
		Driver    string
		DSN       string
		TxTimeout time.Duration
	}

	Redis struct {
		Enabled bool
		Addrs   []string
		Pass    string
		Prefix  string
	}

	Quiz struct {
		DailyBonusXP  int
		LevelRewardXP int
		Timezone      string
		// SessionBackend caches sessions in memory or redis; the store keeps the
		// authoritative copy either way.
		SessionBackend string
		SessionTTL     time.Duration
	}

	Payments struct {
		WebhookToken string
	}

	Bots []BotConfig

	Reminder struct {
		Enabled  bool
		Interval time.Duration
		// Bot sends reminders and premium notices; the first bot when empty.
		Bot string
	}
}

type BotConfig struct {
	Name        string
	Token       string
	Tiers       []string
	DefaultTier string
	PremiumTier string
}

// EnvBots builds bot configs from BOT_TOKEN and BOT_TOKEN2, for deployments
// without a config file. The bots are named "main" and "second".
func EnvBots(getenv func(string) string) []BotConfig {
	var bots []BotConfig
	for _, env := range []struct{ key, name string }{
		{"BOT_TOKEN", "main"},
		{"BOT_TOKEN2", "second"},
	} {
		if token := strings.TrimSpace(getenv(env.key)); token != "" {
			bots = append(bots, BotConfig{Name: env.name, Token: token})
		}
	}
	return bots
}

// DefaultConfig holds the values used when neither the file nor the
// environment sets them.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.Log.Mode = "dev"
	c.Store.Driver = store.DriverSQLite
	c.Store.TxTimeout = 5 * time.Second
	c.Redis.Addrs = []string{"localhost:6379"}
	c.Redis.Prefix = "discernment"
	c.Quiz.DailyBonusXP = streak.DefaultDailyBonusXP
	c.Quiz.LevelRewardXP = session.DefaultLevelRewardXP
	c.Quiz.Timezone = "UTC"
	c.Quiz.SessionBackend = SessionBackendMemory
	c.Reminder.Enabled = true
	c.Reminder.Interval = reminder.DefaultInterval
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		store *store.Store
		redis redis.UniversalClient
	}

	service struct {
		pools       *pool.Registry
		ledger      *ledger.Service
		level       *level.Service
		premium     *premium.Service
		streak      *streak.Service
		session     *session.Service
		leaderboard *leaderboard.Service
		reminder    *reminder.Service
	}

	bots     []*bot.Bot
	notifier *bot.Bot

	http *http.Server

	// ctx ends the bot loops and the reminder ticker.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c, done: make(chan struct{})}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		s.closeInfra()
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()

	if err := s.initBots(); err != nil {
		s.closeInfra()
		return nil, fmt.Errorf("server: init bots: %w", err)
	}

	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initStore(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if s.c.Redis.Enabled {
		if err := s.initRedis(); err != nil {
			s.closeInfra()
			return fmt.Errorf("redis: %w", err)
		}
	}

	return nil
}

func (s *Server) initStore() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.infra.store, err = store.Open(ctx, store.Config{
		Driver:    s.c.Store.Driver,
		DSN:       s.c.Store.DSN,
		TxTimeout: s.c.Store.TxTimeout,
	})
	return err
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		r.Close()
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		r.Close()
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initService() error {
	policy := make(pool.Policy, len(s.c.Bots))
	for _, b := range s.c.Bots {
		policy[b.Name] = pool.BotPolicy{Tiers: b.Tiers, Default: b.DefaultTier}
	}

	var err error
	if s.service.pools, err = pool.Load(policy); err != nil {
		return err
	}

	st, loc := s.infra.store, streak.LoadLocation(s.c.Quiz.Timezone)

	s.service.ledger = ledger.NewService(ledger.Config{
		Store:    st,
		EventBus: s.eb,
	})

	s.service.level = level.NewService(level.Config{
		Store:    st,
		Ledger:   s.service.ledger,
		EventBus: s.eb,
	})

	s.service.premium = premium.NewService(premium.Config{
		Store:    st,
		EventBus: s.eb,
	})

	s.service.streak = streak.NewService(streak.Config{
		Store:        st,
		Ledger:       s.service.ledger,
		Location:     loc,
		DailyBonusXP: s.c.Quiz.DailyBonusXP,
	})

	s.service.reminder = reminder.NewService(reminder.Config{
		Store:    st,
		Location: loc,
	})

	var (
		guard dedup.Guard        = dedup.NewMemory()
		repo  session.Repository = session.NewMemoryRepository()
	)
	if s.infra.redis != nil {
		guard = dedup.NewRedis(dedup.RedisConfig{
			Redis:  s.infra.redis,
			Prefix: s.c.Redis.Prefix,
		})

		if s.c.Quiz.SessionBackend == SessionBackendRedis {
			repo = session.NewRedisRepository(session.RedisRepositoryConfig{
				Redis:  s.infra.redis,
				Prefix: s.c.Redis.Prefix,
				TTL:    s.c.Quiz.SessionTTL,
			})
		}
	} else if s.c.Quiz.SessionBackend == SessionBackendRedis {
		slog.Warn("server: redis disabled, sessions cached in memory")
	}

	s.service.session = session.NewService(session.Config{
		Store:         st,
		Pools:         s.service.pools,
		Ledger:        s.service.ledger,
		Level:         s.service.level,
		Premium:       s.service.premium,
		Dedup:         guard,
		Sessions:      repo,
		EventBus:      s.eb,
		LevelRewardXP: s.c.Quiz.LevelRewardXP,
	})

	if s.infra.redis != nil {
		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Store:    st,
			Redis:    s.infra.redis,
			Prefix:   s.c.Redis.Prefix,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.service.leaderboard.Rebuild(ctx); err != nil {
			slog.WarnContext(ctx, "server: rebuild leaderboard failed", "error", err)
		}
	}

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	c := api.Config{
		Router:       e,
		EventBus:     s.eb,
		Premium:      s.service.premium,
		Ledger:       s.service.ledger,
		Streak:       s.service.streak,
		Leaderboard:  s.service.leaderboard,
		Health:       s.infra.store,
		PubsubPrefix: s.c.Redis.Prefix,
		WebhookToken: s.c.Payments.WebhookToken,
	}
	if s.infra.redis != nil {
		c.Redis = s.infra.redis
	}
	api.New(c)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) initBots() error {
	seen := make(map[string]bool, len(s.c.Bots))
	for _, bc := range s.c.Bots {
		if bc.Name == "" || bc.Token == "" {
			return fmt.Errorf("bot %q: name and token are required", bc.Name)
		}
		if seen[bc.Name] {
			return fmt.Errorf("bot %q: duplicate name", bc.Name)
		}
		seen[bc.Name] = true

		b := bot.New(bot.Config{
			Name:        bc.Name,
			Client:      bot.NewClient(bot.ClientConfig{Token: bc.Token}),
			Sessions:    s.service.session,
			Pools:       s.service.pools,
			Ledger:      s.service.ledger,
			Streak:      s.service.streak,
			Premium:     s.service.premium,
			Reminders:   s.service.reminder,
			Leaderboard: s.service.leaderboard,
			PremiumTier: bc.PremiumTier,
		})
		s.bots = append(s.bots, b)

		if s.notifier == nil && (s.c.Reminder.Bot == "" || s.c.Reminder.Bot == bc.Name) {
			s.notifier = b
		}
	}

	if s.notifier == nil {
		if len(s.bots) > 0 {
			return fmt.Errorf("reminder bot %q is not configured", s.c.Reminder.Bot)
		}
		slog.Warn("server: no bots configured")
		return nil
	}

	s.eb.Subscribe(domain.EventNamePremiumActivated, func(ctx context.Context, e event.Event) error {
		ref := e.(domain.EventPremiumActivated).UserRef
		if _, ok := bot.ChatOf(ref); !ok {
			return nil
		}
		return s.notifier.Notify(ctx, ref, bot.TextPremiumActivated)
	})

	return nil
}

// Start serves HTTP, runs every bot loop and the reminder ticker until
// Shutdown.
func (s *Server) Start() {
	defer close(s.done)

	ctx := s.ctx

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	for _, b := range s.bots {
		eg.Go(func() error {
			return b.Run(ctx)
		})
	}

	if s.c.Reminder.Enabled && s.notifier != nil {
		eg.Go(func() error {
			slog.InfoContext(ctx, "server: reminders enabled", "bot", s.notifier.Name(), "interval", s.c.Reminder.Interval)
			return s.service.reminder.Run(ctx, s.c.Reminder.Interval, s.notifier.Remind)
		})
	}

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		slog.WarnContext(ctx, "server: loops did not stop in time")
	}

	s.eb.Stop()
	s.closeInfra()

	slog.InfoContext(ctx, "server: shutdown completed")
}

func (s *Server) closeInfra() {
	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.Error("server: close redis failed", "error", err)
		}
		s.infra.redis = nil
	}
	if s.infra.store != nil {
		if err := s.infra.store.Close(); err != nil {
			slog.Error("server: close store failed", "error", err)
		}
		s.infra.store = nil
	}
}
