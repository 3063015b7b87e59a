package runlock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/user/examslots/internal/config"
)

func TestLocalLocker(t *testing.T) {
	l := &LocalLocker{}
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	if _, err := l.Acquire(ctx); !errors.Is(err, ErrHeld) {
		t.Fatalf("second Acquire err = %v, want ErrHeld", err)
	}

	release()

	release, err = l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	release()
}

func TestNew_WithoutRedisIsLocal(t *testing.T) {
	l, err := New(&config.RedisConfig{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := l.(*LocalLocker); !ok {
		t.Errorf("New() = %T, want *LocalLocker", l)
	}
}

func setupRedisLocker(t *testing.T) *RedisLocker {
	return setupRedisLockerTTL(t, 5*time.Second)
}

func setupRedisLockerTTL(t *testing.T, ttl time.Duration) *RedisLocker {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	l, err := NewRedisLocker(&config.RedisConfig{Addr: addr, LockTTL: ttl})
	if err != nil {
		t.Skipf("Skipping test: redis not available: %v", err)
	}
	l.key = "examslots:test:lock:" + t.Name()
	t.Cleanup(func() {
		l.rdb.Del(context.Background(), l.key)
		l.Close()
	})
	return l
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	l := setupRedisLocker(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := l.Acquire(ctx); !errors.Is(err, ErrHeld) {
		t.Fatalf("second Acquire err = %v, want ErrHeld", err)
	}

	release()

	release, err = l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	release()
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	l := setupRedisLocker(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Simulate expiry and takeover by another replica
	if err := l.rdb.Set(ctx, l.key, "other-replica", time.Minute).Err(); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	release()

	val, err := l.rdb.Get(ctx, l.key).Result()
	if err != nil || val != "other-replica" {
		t.Errorf("lock value = %q, %v; foreign lock must survive release", val, err)
	}
}

func TestRedisLocker_HeldPastTTL(t *testing.T) {
	l := setupRedisLockerTTL(t, 300*time.Millisecond)
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	time.Sleep(time.Second)

	if _, err := l.Acquire(ctx); !errors.Is(err, ErrHeld) {
		t.Fatalf("Acquire after 3x TTL err = %v, want ErrHeld", err)
	}

	release()
	release()

	if n, _ := l.rdb.Exists(ctx, l.key).Result(); n != 0 {
		t.Error("key should be gone after release")
	}

	release, err = l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	release()
}

func TestRedisLocker_StopsExtendingForeignToken(t *testing.T) {
	l := setupRedisLockerTTL(t, 300*time.Millisecond)
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	if err := l.rdb.Set(ctx, l.key, "other-replica", 200*time.Millisecond).Err(); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(600 * time.Millisecond)

	if n, _ := l.rdb.Exists(ctx, l.key).Result(); n != 0 {
		t.Error("foreign key must expire on its own TTL")
	}
}
