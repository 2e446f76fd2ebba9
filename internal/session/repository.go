package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/discernment/internal/domain"
)

const defaultSessionTTL = 7 * 24 * time.Hour

// Repository caches session cursors in front of the store's session mirror.
// Get returns nil on a miss.
type Repository interface {
	Get(ctx context.Context, key domain.SessionKey) (*domain.SessionState, error)
	Put(ctx context.Context, st domain.SessionState) error
	Delete(ctx context.Context, key domain.SessionKey) error
}

type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[domain.SessionKey]domain.SessionState
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[domain.SessionKey]domain.SessionState)}
}

func (r *MemoryRepository) Get(_ context.Context, key domain.SessionKey) (*domain.SessionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.sessions[key]
	if !ok {
		return nil, nil
	}
	return clone(st), nil
}

func (r *MemoryRepository) Put(_ context.Context, st domain.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[st.Key] = *clone(st)
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, key domain.SessionKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, key)
	return nil
}

// RedisRepository stores sessions as JSON values with a TTL, refreshed on every write.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type RedisRepositoryConfig struct {
	Redis  redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

func NewRedisRepository(c RedisRepositoryConfig) *RedisRepository {
	if c.TTL <= 0 {
		c.TTL = defaultSessionTTL
	}

	return &RedisRepository{
		client: c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}
}

func (r *RedisRepository) Get(ctx context.Context, key domain.SessionKey) (*domain.SessionState, error) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var st domain.SessionState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &st, nil
}

func (r *RedisRepository) Put(ctx context.Context, st domain.SessionState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := r.client.Set(ctx, r.key(st.Key), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, key domain.SessionKey) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *RedisRepository) key(key domain.SessionKey) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, key)
}

func clone(st domain.SessionState) *domain.SessionState {
	st.Mistakes = append([]string(nil), st.Mistakes...)
	return &st
}
