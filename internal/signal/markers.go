package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MarkerStore records which agents have a pending hangup. Acquire succeeds
// for exactly one caller until the marker is released or expires.
type MarkerStore interface {
	Acquire(ctx context.Context, agentID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, agentID string) error
}

// MemoryMarkers is the single-process MarkerStore
type MemoryMarkers struct {
	expires map[string]time.Time
	now     func() time.Time
	mu      sync.Mutex
}

// NewMemoryMarkers creates an empty marker set
func NewMemoryMarkers() *MemoryMarkers {
	return &MemoryMarkers{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Acquire implements MarkerStore
func (m *MemoryMarkers) Acquire(_ context.Context, agentID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.expires[agentID]; ok && now.Before(exp) {
		return false, nil
	}
	m.expires[agentID] = now.Add(ttl)
	return true, nil
}

// Release implements MarkerStore
func (m *MemoryMarkers) Release(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expires, agentID)
	return nil
}

// keyPrefix namespaces signal markers in Redis
const keyPrefix = "callcenter:signal:"

// releaseScript deletes a marker only if this instance still owns it
const releaseScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// RedisMarkers shares markers between replicas with SET NX + TTL
type RedisMarkers struct {
	rdb   *redis.Client
	owner string
}

// NewRedisMarkers creates a Redis-backed MarkerStore owned by a fresh instance id
func NewRedisMarkers(rdb *redis.Client) *RedisMarkers {
	return &RedisMarkers{
		rdb:   rdb,
		owner: uuid.New().String(),
	}
}

// NewRedisClient parses url and verifies the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// Acquire implements MarkerStore
func (r *RedisMarkers) Acquire(ctx context.Context, agentID string, ttl time.Duration) (bool, error) {
	res, err := r.rdb.SetArgs(ctx, keyPrefix+agentID, r.owner, redis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to set signal marker: %w", err)
	}
	return res == "OK", nil
}

// Release implements MarkerStore
func (r *RedisMarkers) Release(ctx context.Context, agentID string) error {
	if err := r.rdb.Eval(ctx, releaseScript, []string{keyPrefix + agentID}, r.owner).Err(); err != nil {
		return fmt.Errorf("failed to release signal marker: %w", err)
	}
	return nil
}
