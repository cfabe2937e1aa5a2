package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Bus queues events and hands them to every sink from a single worker.
type Bus struct {
	logger  *zap.Logger
	queue   chan Event
	timeout time.Duration

	mu    sync.RWMutex
	sinks []Sink

	dropped uint64
}

func NewBus(buf int, logger *zap.Logger) *Bus {
	if buf <= 0 {
		buf = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger, queue: make(chan Event, buf), timeout: 5 * time.Second}
}

func (b *Bus) AddSink(s Sink) {
	if b == nil || s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Publish never blocks; a full queue drops the event.
func (b *Bus) Publish(_ context.Context, ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case b.queue <- ev:
	default:
		n := atomic.AddUint64(&b.dropped, 1)
		b.logger.Warn("notify: queue full, event dropped", zap.String("type", string(ev.Type)), zap.Uint64("dropped", n))
	}
}

func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return atomic.LoadUint64(&b.dropped)
}

func (b *Bus) Run(ctx context.Context) error {
	if b == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.queue:
			b.deliver(ctx, ev)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, ev Event) {
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()
	for _, s := range sinks {
		dctx, cancel := context.WithTimeout(ctx, b.timeout)
		err := s.Deliver(dctx, ev)
		cancel()
		if err != nil {
			b.logger.Warn("notify: delivery failed",
				zap.String("sink", s.Name()),
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
		}
	}
}
