package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrLockHeld = errors.New("cache: lock held by another owner")

// Lock is a ttl lease on a key. It must be refreshed before the ttl elapses.
type Lock struct {
	store Store
	key   string
	token []byte
	ttl   time.Duration
}

func AcquireLock(ctx context.Context, store Store, key string, ttl time.Duration) (*Lock, error) {
	if store == nil {
		return nil, errors.New("cache: nil store")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	token := []byte(uuid.NewString())
	ok, err := store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{store: store, key: key, token: token, ttl: ttl}, nil
}

// Refresh extends the lease; ErrLockHeld means it was lost.
func (l *Lock) Refresh(ctx context.Context) error {
	if l == nil {
		return nil
	}
	ok, err := l.store.Refresh(ctx, l.key, l.token, l.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	_, err := l.store.DeleteIf(ctx, l.key, l.token)
	return err
}

func (l *Lock) Key() string {
	if l == nil {
		return ""
	}
	return l.key
}
