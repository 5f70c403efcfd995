package cron

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeLocker struct {
	held     map[string]string
	failNext bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (f *fakeLocker) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if f.failNext {
		f.failNext = false
		return false, errors.New("redis unavailable")
	}
	if current, ok := f.held[name]; ok && current != owner {
		return false, nil
	}
	f.held[name] = owner
	return true, nil
}

func (f *fakeLocker) ReleaseLock(ctx context.Context, name, owner string) error {
	if f.held[name] == owner {
		delete(f.held, name)
	}
	return nil
}

func TestRedisLockLifecycle(t *testing.T) {
	store := newFakeLocker()
	first, err := NewRedisLock(store, "schedule", time.Minute)
	if err != nil {
		t.Fatalf("construct lock: %v", err)
	}
	second, err := NewRedisLock(store, "schedule", time.Minute)
	if err != nil {
		t.Fatalf("construct lock: %v", err)
	}
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected contended acquire to fail")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release to succeed, ok=%v err=%v", ok, err)
	}
}

func TestRedisLockReleaseWithoutAcquireIsNoOp(t *testing.T) {
	lock, err := NewRedisLock(newFakeLocker(), "schedule", time.Minute)
	if err != nil {
		t.Fatalf("construct lock: %v", err)
	}
	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("expected no-op release, got %v", err)
	}
}

func TestRedisLockAcquireError(t *testing.T) {
	store := newFakeLocker()
	store.failNext = true
	lock, err := NewRedisLock(store, "schedule", time.Minute)
	if err != nil {
		t.Fatalf("construct lock: %v", err)
	}
	if _, err := lock.Acquire(context.Background()); err == nil {
		t.Fatal("expected acquire error")
	}
}
