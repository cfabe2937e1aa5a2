package signal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"signalbet/internal/models"
	"signalbet/internal/repository"
)

// Hub runs collectors, persists what they deliver, and fans new messages out
// to subscribers.
type Hub struct {
	collectors map[string]Collector
	subs       []chan models.Message
	mu         sync.RWMutex

	store  repository.MessageStore
	logger *zap.Logger

	healthMu sync.RWMutex
	health   map[string]HealthStatus

	inserted      uint64
	duplicates    uint64
	droppedFanout uint64
}

func NewHub(store repository.MessageStore, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		collectors: map[string]Collector{},
		store:      store,
		logger:     logger,
		health:     map[string]HealthStatus{},
	}
}

func (h *Hub) Register(c Collector) {
	if h == nil || c == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.collectors[c.Name()] = c
}

// Subscribe returns a channel that receives newly stored messages.
func (h *Hub) Subscribe(buf int) <-chan models.Message {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan models.Message, buf)
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()
	return ch
}

// Health returns the last reported status per collector.
func (h *Hub) Health() map[string]HealthStatus {
	if h == nil {
		return nil
	}
	h.healthMu.RLock()
	defer h.healthMu.RUnlock()
	out := make(map[string]HealthStatus, len(h.health))
	for k, v := range h.health {
		out[k] = v
	}
	return out
}

func (h *Hub) setHealth(name string, st HealthStatus) {
	h.healthMu.Lock()
	h.health[name] = st
	h.healthMu.Unlock()
}

func (h *Hub) Run(ctx context.Context) error {
	if h == nil {
		return nil
	}
	out := make(chan Envelope, 128)

	h.mu.RLock()
	collectors := make([]Collector, 0, len(h.collectors))
	for _, c := range h.collectors {
		collectors = append(collectors, c)
	}
	h.mu.RUnlock()

	for _, c := range collectors {
		c := c
		h.setHealth(c.Name(), HealthStatus{Status: "unknown"})
		go func() {
			if err := c.Start(ctx, out); err != nil && ctx.Err() == nil {
				h.logger.Warn("signal collector stopped", zap.String("collector", c.Name()), zap.Error(err))
			}
		}()
	}

	healthTicker := time.NewTicker(30 * time.Second)
	defer healthTicker.Stop()
	statsTicker := time.NewTicker(60 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, c := range collectors {
				_ = c.Stop()
			}
			return ctx.Err()
		case <-healthTicker.C:
			for _, c := range collectors {
				h.setHealth(c.Name(), c.Health())
			}
		case <-statsTicker.C:
			h.logger.Info("signal hub stats",
				zap.Uint64("inserted", atomic.LoadUint64(&h.inserted)),
				zap.Uint64("duplicates", atomic.LoadUint64(&h.duplicates)),
				zap.Uint64("dropped_fanout", atomic.LoadUint64(&h.droppedFanout)),
			)
		case env := <-out:
			h.ingest(ctx, env)
		}
	}
}

func (h *Hub) ingest(ctx context.Context, env Envelope) {
	if h.store == nil {
		return
	}
	if env.Channel.ID != "" {
		if err := h.store.UpsertChannel(ctx, &env.Channel); err != nil {
			h.logger.Warn("signal hub: upsert channel failed", zap.String("channel_id", env.Channel.ID), zap.Error(err))
		}
	}
	msg := env.Message
	if msg.ID == "" {
		return
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	// A refetched message never overwrites the stored processed flag.
	n, err := h.store.InsertMessagesIfAbsent(ctx, []models.Message{msg})
	if err != nil {
		h.logger.Warn("signal hub: insert message failed", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	if n == 0 {
		atomic.AddUint64(&h.duplicates, 1)
		return
	}
	atomic.AddUint64(&h.inserted, 1)
	if err := h.store.BumpChannelMessages(ctx, msg.ChannelID, n, msg.Timestamp); err != nil {
		h.logger.Warn("signal hub: bump channel count failed", zap.String("channel_id", msg.ChannelID), zap.Error(err))
	}
	h.fanout(msg)
}

func (h *Hub) fanout(msg models.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			// Slow subscribers lose messages; the hub must not block.
			atomic.AddUint64(&h.droppedFanout, 1)
		}
	}
}
