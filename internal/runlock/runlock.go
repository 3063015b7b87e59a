package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/user/examslots/internal/config"
)

// ErrHeld is returned when another holder owns the lock
var ErrHeld = errors.New("lock is held")

// Locker guards a scrape cycle across processes
type Locker interface {
	// Acquire takes the lock or returns ErrHeld. The returned func releases it.
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalLocker is an in-process Locker used when Redis is not configured
type LocalLocker struct {
	mu sync.Mutex
}

// Acquire implements Locker
func (l *LocalLocker) Acquire(ctx context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrHeld
	}
	return l.mu.Unlock, nil
}

// RedisLocker is a SET NX PX lock with a token-checked release. While held,
// the key's TTL is extended every third of the TTL.
type RedisLocker struct {
	rdb *goredis.Client
	key string
	ttl time.Duration
}

const defaultKey = "examslots:scrape:lock"

// releaseScript deletes the key only if it still holds our token
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the TTL only if the key still holds our token
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// NewRedisLocker connects to Redis and verifies the connection with a ping
func NewRedisLocker(cfg *config.RedisConfig) (*RedisLocker, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Msg("Redis run lock enabled")

	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLocker{rdb: rdb, key: defaultKey, ttl: ttl}, nil
}

// Acquire implements Locker
func (l *RedisLocker) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire redis lock: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(token, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
				log.Warn().Err(err).Msg("Failed to release redis lock")
			}
		})
	}
	return release, nil
}

// keepAlive extends the lock until stop is closed or the token is gone
func (l *RedisLocker) keepAlive(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := extendScript.Run(ctx, l.rdb, []string{l.key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to extend redis lock")
				continue
			}
			if n == 0 {
				log.Error().Str("key", l.key).Msg("Redis run lock lost to another holder")
				return
			}
		}
	}
}

// Close closes the Redis connection
func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}

// New returns a RedisLocker when cfg.Addr is set, otherwise a LocalLocker
func New(cfg *config.RedisConfig) (Locker, error) {
	if cfg == nil || cfg.Addr == "" {
		return &LocalLocker{}, nil
	}
	return NewRedisLocker(cfg)
}
