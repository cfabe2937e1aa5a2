package cache

import (
	"context"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Refresh extends the ttl of key only while it still holds value.
	Refresh(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// DeleteIf removes key only while it still holds value.
	DeleteIf(ctx context.Context, key string, value []byte) (bool, error)
}
