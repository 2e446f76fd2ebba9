// Package session drives a chat through a quiz pool: Idle, InProgress, Finished.
// One session exists per (bot, chat). The cursor only moves forward within a
// run; starting, restarting or switching tier begins a new run at cursor 0.
package session

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/victornm/discernment/internal/dedup"
	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/errors"
	"github.com/victornm/discernment/internal/event"
	"github.com/victornm/discernment/internal/ledger"
	"github.com/victornm/discernment/internal/level"
	"github.com/victornm/discernment/internal/pool"
	"github.com/victornm/discernment/internal/premium"
	"github.com/victornm/discernment/internal/store"
)

const DefaultLevelRewardXP = 10

type Config struct {
	Store         *store.Store
	Pools         *pool.Registry
	Ledger        *ledger.Service
	Level         *level.Service
	Premium       *premium.Service
	Dedup         dedup.Guard
	Sessions      Repository
	EventBus      *event.Bus
	LevelRewardXP int
}

type Service struct {
	store    *store.Store
	pools    *pool.Registry
	ledger   *ledger.Service
	level    *level.Service
	premium  *premium.Service
	dedup    dedup.Guard
	sessions Repository
	eb       *event.Bus
	reward   int
	locks    keyedMutex
}

func NewService(c Config) *Service {
	if c.Dedup == nil {
		c.Dedup = dedup.NewMemory()
	}
	if c.Sessions == nil {
		c.Sessions = NewMemoryRepository()
	}

	return &Service{
		store:    c.Store,
		pools:    c.Pools,
		ledger:   c.Ledger,
		level:    c.Level,
		premium:  c.Premium,
		dedup:    c.Dedup,
		sessions: c.Sessions,
		eb:       c.EventBus,
		reward:   c.LevelRewardXP,
	}
}

// Step is a session together with the task it waits on. Task is nil once the
// run is finished.
type Step struct {
	State domain.SessionState
	Pool  *domain.Pool
	Task  *domain.Task
}

type StartRequest struct {
	Key     domain.SessionKey
	UserRef string
	// Tier is optional; the bot's default tier is used when empty.
	Tier string
}

// Start begins a new run of the requested tier at cursor 0.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Step, error) {
	unlock := s.locks.lock(req.Key)
	defer unlock()

	return s.start(ctx, req)
}

// SwitchTier abandons the current run, if any, and starts the given tier.
func (s *Service) SwitchTier(ctx context.Context, req StartRequest) (*Step, error) {
	if domain.Normalize(req.Tier) == "" {
		return nil, errors.UnknownTier(req.Tier)
	}
	return s.Start(ctx, req)
}

// Restart starts the previously selected tier again, or the default tier when
// the chat never played.
func (s *Service) Restart(ctx context.Context, key domain.SessionKey, userRef string) (*Step, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	st, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}

	req := StartRequest{Key: key, UserRef: userRef}
	if st != nil {
		req.Tier = st.Tier
	}
	return s.start(ctx, req)
}

// Current returns the session of a chat, nil when the chat never started one.
func (s *Service) Current(ctx context.Context, key domain.SessionKey) (*Step, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	st, err := s.load(ctx, key)
	if err != nil || st == nil {
		return nil, err
	}

	p, err := s.pools.Pool(key.Bot, st.Tier)
	if err != nil {
		return nil, err
	}
	return step(*st, p), nil
}

func (s *Service) start(ctx context.Context, req StartRequest) (*Step, error) {
	p, err := s.pools.Pool(req.Key.Bot, req.Tier)
	if err != nil {
		return nil, err
	}

	if p.Premium {
		ok, err := s.premium.IsPremium(ctx, req.UserRef)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.PremiumRequired()
		}
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run ID: %w", err)
	}

	st := domain.SessionState{
		Key:     req.Key,
		UserRef: req.UserRef,
		RunID:   runID.String(),
		Tier:    p.Tier,
		Status:  domain.StatusInProgress,
	}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.EnsureUser(ctx, st.UserRef); err != nil {
			return err
		}
		st.Updated = tx.Now()
		return tx.SaveSession(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	s.cache(ctx, st)

	slog.InfoContext(ctx, "session: started", "session", req.Key, "user", req.UserRef, "tier", p.Tier, "run", st.RunID)
	return step(st, p), nil
}

// load reads through the repository into the store's session mirror.
func (s *Service) load(ctx context.Context, key domain.SessionKey) (*domain.SessionState, error) {
	st, err := s.sessions.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "session: repository read failed, using store", "session", key, "error", err)
	} else if st != nil {
		return st, nil
	}

	st, err = s.store.Session(ctx, key)
	if err != nil || st == nil {
		return nil, err
	}
	s.cache(ctx, *st)

	return st, nil
}

// cache writes a committed state to the repository. A failed write evicts the
// key so the next load falls back to the store.
func (s *Service) cache(ctx context.Context, st domain.SessionState) {
	err := s.sessions.Put(ctx, st)
	if err == nil {
		return
	}

	slog.WarnContext(ctx, "session: repository write failed", "session", st.Key, "error", err)
	if err := s.sessions.Delete(ctx, st.Key); err != nil {
		slog.ErrorContext(ctx, "session: repository evict failed", "session", st.Key, "error", err)
	}
}

func step(st domain.SessionState, p *domain.Pool) *Step {
	sp := &Step{State: st, Pool: p}
	if st.Status == domain.StatusInProgress && st.Cursor < p.Len() {
		sp.Task = &p.Tasks[st.Cursor]
	}
	return sp
}

const lockStripes = 64

// keyedMutex orders operations of one session; unrelated sessions rarely share a stripe.
type keyedMutex struct {
	stripes [lockStripes]sync.Mutex
}

func (m *keyedMutex) lock(key domain.SessionKey) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))

	mu := &m.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
