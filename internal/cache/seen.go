package cache

import (
	"context"
	"time"
)

// Seen records message ids handed to the engine so a refetch does not yield
// them twice while the processed flag is still being persisted.
type Seen struct {
	Store  Store
	Prefix string
	TTL    time.Duration
}

func (s Seen) key(id string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "signalbet:seen:"
	}
	return prefix + id
}

// Claim reports true the first time id is claimed within the ttl.
func (s Seen) Claim(ctx context.Context, id string) (bool, error) {
	if s.Store == nil {
		return true, nil
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return s.Store.SetNX(ctx, s.key(id), []byte("1"), ttl)
}

func (s Seen) Has(ctx context.Context, id string) (bool, error) {
	if s.Store == nil {
		return false, nil
	}
	_, found, err := s.Store.Get(ctx, s.key(id))
	return found, err
}

// Forget drops the marker so the id can be yielded again.
func (s Seen) Forget(ctx context.Context, id string) error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Delete(ctx, s.key(id))
}
