// Package sequence allocates monotonically increasing surrogate numbers
// (project numbers and the like) for the import engine.
//
// Every allocator takes a floor: the next value handed out is strictly
// greater than both the last value it allocated for the key and the floor.
// Callers pass the largest number already persisted so that a fresh
// allocator never collides with existing records.
package sequence

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Memory is an in-process allocator. It is safe for concurrent use.
type Memory struct {
	mu   sync.Mutex
	last map[string]int64
}

// NewMemory returns an empty in-process allocator.
func NewMemory() *Memory {
	return &Memory{last: make(map[string]int64)}
}

// Next returns the next value for key.
func (m *Memory) Next(_ context.Context, key string, floor int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.last[key]
	if floor > cur {
		cur = floor
	}
	cur++
	m.last[key] = cur
	return cur, nil
}

// nextScript raises the counter to the floor and increments it atomically.
var nextScript = redis.NewScript(`
	local cur = tonumber(redis.call("get", KEYS[1]) or "0")
	local floor = tonumber(ARGV[1])
	if floor > cur then
		cur = floor
	end
	cur = cur + 1
	redis.call("set", KEYS[1], cur)
	return cur
`)

// Redis allocates values from counters stored in Redis, so several server
// processes importing into the same database share one sequence per key.
type Redis struct {
	client redis.Cmdable
	prefix string
}

// NewRedis returns an allocator whose counters live under "<prefix>:<key>".
func NewRedis(client redis.Cmdable, prefix string) *Redis {
	if prefix == "" {
		prefix = "seq"
	}
	return &Redis{client: client, prefix: prefix}
}

// Next returns the next value for key.
func (r *Redis) Next(ctx context.Context, key string, floor int64) (int64, error) {
	redisKey := fmt.Sprintf("%s:%s", r.prefix, key)
	n, err := nextScript.Run(ctx, r.client, []string{redisKey}, floor).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s: %w", redisKey, err)
	}
	return n, nil
}
