package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_SetNXAndExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ok, err := s.SetNX(ctx, "k", []byte("a"), 20*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("first setnx ok=%v err=%v", ok, err)
	}
	ok, _ = s.SetNX(ctx, "k", []byte("b"), time.Second)
	if ok {
		t.Fatalf("second setnx succeeded while key live")
	}
	time.Sleep(30 * time.Millisecond)
	ok, _ = s.SetNX(ctx, "k", []byte("b"), time.Second)
	if !ok {
		t.Fatalf("setnx after expiry failed")
	}
	v, found, _ := s.Get(ctx, "k")
	if !found || string(v) != "b" {
		t.Fatalf("get=%q found=%v", v, found)
	}
}

func TestLock_ExclusiveRefreshRelease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	l1, err := AcquireLock(ctx, s, "lock:user", time.Minute)
	if err != nil {
		t.Fatalf("acquire err=%v", err)
	}
	if _, err := AcquireLock(ctx, s, "lock:user", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second acquire err=%v want ErrLockHeld", err)
	}
	if err := l1.Refresh(ctx); err != nil {
		t.Fatalf("refresh err=%v", err)
	}
	if err := l1.Release(ctx); err != nil {
		t.Fatalf("release err=%v", err)
	}
	if err := l1.Refresh(ctx); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("refresh after release err=%v want ErrLockHeld", err)
	}
	l2, err := AcquireLock(ctx, s, "lock:user", time.Minute)
	if err != nil {
		t.Fatalf("reacquire err=%v", err)
	}
	// A stale owner cannot release someone else's lease.
	_ = l1.Release(ctx)
	if _, found, _ := s.Get(ctx, "lock:user"); !found {
		t.Fatalf("stale release removed the new lease")
	}
	_ = l2.Release(ctx)
}

func TestSeen_ClaimOnce(t *testing.T) {
	ctx := context.Background()
	seen := Seen{Store: NewMemoryStore(), TTL: time.Minute}
	first, _ := seen.Claim(ctx, "1:10")
	second, _ := seen.Claim(ctx, "1:10")
	if !first || second {
		t.Fatalf("first=%v second=%v", first, second)
	}
	if has, _ := seen.Has(ctx, "1:10"); !has {
		t.Fatalf("has=false after claim")
	}
}
