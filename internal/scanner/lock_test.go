package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupLockTest(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestAcquireLock(t *testing.T) {
	client, mr := setupLockTest(t)
	defer mr.Close()
	ctx := context.Background()

	lock, err := AcquireLock(ctx, client, "sundial:test_lock", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lock == nil {
		t.Fatal("expected lock to be acquired")
	}

	if lock.Key() != "sundial:test_lock" {
		t.Errorf("unexpected key %q", lock.Key())
	}
	if lock.Token() == "" {
		t.Error("expected a non-empty token")
	}
	if lock.TTL() != time.Minute {
		t.Errorf("expected TTL of 1m, got %v", lock.TTL())
	}
}

func TestAcquireLock_AlreadyHeld(t *testing.T) {
	client, mr := setupLockTest(t)
	defer mr.Close()
	ctx := context.Background()

	first, err := AcquireLock(ctx, client, "sundial:test_lock", time.Minute)
	if err != nil || first == nil {
		t.Fatalf("first acquire failed: lock=%v err=%v", first, err)
	}

	second, err := AcquireLock(ctx, client, "sundial:test_lock", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != nil {
		t.Error("expected second acquire to return nil while held")
	}
}

func TestLock_Release(t *testing.T) {
	client, mr := setupLockTest(t)
	defer mr.Close()
	ctx := context.Background()

	lock, _ := AcquireLock(ctx, client, "sundial:test_lock", time.Minute)
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	again, err := AcquireLock(ctx, client, "sundial:test_lock", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again == nil {
		t.Error("expected lock to be acquirable after release")
	}
}

func TestLock_ReleaseOnlyOwn(t *testing.T) {
	client, mr := setupLockTest(t)
	defer mr.Close()
	ctx := context.Background()

	lock, _ := AcquireLock(ctx, client, "sundial:test_lock", time.Minute)

	// Another instance takes over after expiry
	mr.FastForward(2 * time.Minute)
	other, _ := AcquireLock(ctx, client, "sundial:test_lock", time.Minute)
	if other == nil {
		t.Fatal("expected acquire after expiry to succeed")
	}

	// The stale holder's release must not remove the new owner's lock
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	val, err := client.Get(ctx, "sundial:test_lock").Result()
	if err != nil {
		t.Fatalf("expected lock key to survive stale release: %v", err)
	}
	if val != other.Token() {
		t.Errorf("expected new owner's token, got %q", val)
	}
}

func TestLock_Extend(t *testing.T) {
	client, mr := setupLockTest(t)
	defer mr.Close()
	ctx := context.Background()

	lock, _ := AcquireLock(ctx, client, "sundial:test_lock", time.Minute)

	if err := lock.Extend(ctx, 5*time.Minute); err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	if lock.TTL() != 5*time.Minute {
		t.Errorf("expected TTL updated to 5m, got %v", lock.TTL())
	}

	ttl := mr.TTL("sundial:test_lock")
	if ttl != 5*time.Minute {
		t.Errorf("expected Redis TTL of 5m, got %v", ttl)
	}
}

func TestLock_ExtendNotOwned(t *testing.T) {
	client, mr := setupLockTest(t)
	defer mr.Close()
	ctx := context.Background()

	lock, _ := AcquireLock(ctx, client, "sundial:test_lock", time.Minute)

	mr.FastForward(2 * time.Minute)
	if _, err := AcquireLock(ctx, client, "sundial:test_lock", time.Minute); err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}

	if err := lock.Extend(ctx, time.Minute); err == nil {
		t.Error("expected extend to fail after losing the lock")
	}
}
