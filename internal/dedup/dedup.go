// Package dedup rejects the second scoring attempt for a question a session
// already resolved. Eligibility is per (session, run, cursor): a restart starts
// a new run, so cursor 0 is accepted again.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/discernment/internal/domain"
)

// A mark only has to outlive the scoring transaction: once the cursor is
// committed a duplicate no longer matches it. An abandoned mark, left by a
// process that died mid-answer, blocks the cursor until it expires.
const DefaultTTL = 2 * time.Minute

type Guard interface {
	// TryAccept returns true exactly once per cursor of a run.
	TryAccept(ctx context.Context, key domain.SessionKey, runID string, cursor int) (bool, error)
	// Release makes a cursor eligible again after the scoring transition failed.
	Release(ctx context.Context, key domain.SessionKey, runID string, cursor int) error
	// Forget drops what the guard holds for a finished run.
	Forget(ctx context.Context, key domain.SessionKey, runID string) error
}

// Memory keeps the highest accepted cursor of the current run per session.
// Entries are replaced by the next run and dropped when a run finishes.
type Memory struct {
	mu   sync.Mutex
	runs map[domain.SessionKey]mark
}

type mark struct {
	runID  string
	cursor int
}

func NewMemory() *Memory {
	return &Memory{runs: make(map[domain.SessionKey]mark)}
}

func (m *Memory) TryAccept(_ context.Context, key domain.SessionKey, runID string, cursor int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, ok := m.runs[key]
	if ok && last.runID == runID && cursor <= last.cursor {
		return false, nil
	}

	m.runs[key] = mark{runID: runID, cursor: cursor}
	return true, nil
}

func (m *Memory) Release(_ context.Context, key domain.SessionKey, runID string, cursor int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.runs[key]; ok && last.runID == runID && last.cursor == cursor {
		m.runs[key] = mark{runID: runID, cursor: cursor - 1}
	}
	return nil
}

func (m *Memory) Forget(_ context.Context, key domain.SessionKey, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.runs[key]; ok && last.runID == runID {
		delete(m.runs, key)
	}
	return nil
}

// Len reports how many sessions the guard tracks.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// Redis marks accepted cursors with SETNX so several processes share one view.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type RedisConfig struct {
	Redis  redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

func NewRedis(c RedisConfig) *Redis {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}

	return &Redis{
		client: c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}
}

func (r *Redis) TryAccept(ctx context.Context, key domain.SessionKey, runID string, cursor int) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key, runID, cursor), time.Now().UnixMilli(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, key domain.SessionKey, runID string, cursor int) error {
	if err := r.client.Del(ctx, r.key(key, runID, cursor)).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// Forget is a no-op: marks expire on their own.
func (r *Redis) Forget(context.Context, domain.SessionKey, string) error {
	return nil
}

func (r *Redis) key(key domain.SessionKey, runID string, cursor int) string {
	return fmt.Sprintf("%s:dedup:%s:%s:%d", r.prefix, key, runID, cursor)
}
