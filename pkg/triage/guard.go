package triage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrSubmissionInFlight = errors.New("a submission with this key is already in progress")

// Guard admits one in-flight run per submission key.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// RedisGuard claims keys with SET NX so duplicate submissions are rejected
// across every replica. The TTL bounds a claim left behind by a crashed run.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisGuard{client: client, ttl: ttl}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := "triage:submission:" + key
	token := uuid.New().String()

	ok, err := g.client.SetNX(ctx, redisKey, token, g.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSubmissionInFlight
	}

	return func() {
		// released on a fresh context so a cancelled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, g.client, []string{redisKey}, token).Err()
	}, nil
}

// MemoryGuard is the single-process guard used when Redis is not configured.
type MemoryGuard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{keys: make(map[string]struct{})}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.keys[key]; busy {
		return nil, ErrSubmissionInFlight
	}
	g.keys[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.keys, key)
			g.mu.Unlock()
		})
	}, nil
}
