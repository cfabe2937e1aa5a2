package signal

import (
	"context"
	"iter"
	"time"

	"go.uber.org/zap"

	"signalbet/internal/cache"
	"signalbet/internal/models"
	"signalbet/internal/repository"
)

// Cursor records how far the engine has read. It is informational; the store's
// processed flag and the in-flight markers decide what is yielded.
type Cursor struct {
	LastID        string    `json:"last_id,omitempty"`
	LastTimestamp time.Time `json:"last_timestamp,omitempty"`
	Fetched       int64     `json:"fetched"`
}

// Source hands unprocessed messages of active channels to the engine.
// Messages older than MaxAge are marked processed instead of yielded; zero
// keeps every message eligible.
type Source struct {
	Store  repository.MessageStore
	Seen   cache.Seen
	Limit  int
	MaxAge time.Duration
	Logger *zap.Logger
	Now    func() time.Time
}

// FetchNew lists unprocessed messages oldest first and returns a finite
// sequence over them. Each message is claimed in the in-flight cache as it is
// pulled, so one that was yielded but never marked processed is not yielded
// again. Stopping the iteration early leaves the rest unclaimed.
func (s *Source) FetchNew(ctx context.Context, cur Cursor) (iter.Seq[models.Message], Cursor, error) {
	if s == nil || s.Store == nil {
		return func(func(models.Message) bool) {}, cur, nil
	}
	limit := s.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Store.ListActiveChannelMessages(ctx, limit)
	if err != nil {
		return nil, cur, err
	}
	next := cur
	if n := len(rows); n > 0 {
		next.LastID = rows[n-1].ID
		next.LastTimestamp = rows[n-1].Timestamp
		next.Fetched += int64(n)
	}
	var cutoff time.Time
	if s.MaxAge > 0 {
		cutoff = s.now().Add(-s.MaxAge)
	}
	seq := func(yield func(models.Message) bool) {
		for _, msg := range rows {
			if msg.ActionTaken {
				continue
			}
			if !cutoff.IsZero() && !msg.Timestamp.IsZero() && msg.Timestamp.Before(cutoff) {
				s.expire(ctx, msg)
				continue
			}
			fresh, err := s.Seen.Claim(ctx, msg.ID)
			if err != nil {
				s.logger().Warn("signal source: claim failed, relying on processed flag",
					zap.String("message_id", msg.ID), zap.Error(err))
				fresh = true
			}
			if !fresh {
				continue
			}
			if !yield(msg) {
				return
			}
		}
	}
	return seq, next, nil
}

// MarkProcessed flips the stored flag. The in-flight marker stays until it
// expires.
func (s *Source) MarkProcessed(ctx context.Context, id string) error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.MarkProcessed(ctx, id)
}

// Release drops the in-flight marker of a message the engine took but did not
// act on, so the next fetch yields it again.
func (s *Source) Release(ctx context.Context, id string) error {
	if s == nil {
		return nil
	}
	return s.Seen.Forget(ctx, id)
}

// expire retires a signal too old to act on. A failed write only means the
// next fetch sees it again and retries.
func (s *Source) expire(ctx context.Context, msg models.Message) {
	if err := s.Store.MarkProcessed(ctx, msg.ID); err != nil {
		s.logger().Warn("signal source: expire stale message failed",
			zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	s.logger().Info("signal source: skipped stale message",
		zap.String("message_id", msg.ID), zap.Time("timestamp", msg.Timestamp))
}

func (s *Source) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Source) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
