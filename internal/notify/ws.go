package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// WSHub streams events to connected dashboard clients.
type WSHub struct {
	logger         *zap.Logger
	originPatterns []string
	clientBuf      int
	writeTimeout   time.Duration

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	events chan Event
	// slow is closed when the client falls behind and must be dropped.
	slow     chan struct{}
	slowOnce sync.Once
}

func NewWSHub(originPatterns []string, logger *zap.Logger) *WSHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHub{
		logger:         logger,
		originPatterns: originPatterns,
		clientBuf:      64,
		writeTimeout:   5 * time.Second,
		clients:        map[*wsClient]struct{}{},
	}
}

func (h *WSHub) Name() string { return "websocket" }

func (h *WSHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Deliver queues ev for every client. Clients whose queue is full are cut off.
func (h *WSHub) Deliver(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.events <- ev:
		default:
			c.slowOnce.Do(func() { close(c.slow) })
		}
	}
	return nil
}

func (h *WSHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and writes events until the client leaves.
func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("notify: websocket accept failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// Clients only listen; CloseRead handles pings and the close frame.
	ctx := conn.CloseRead(r.Context())

	c := &wsClient{events: make(chan Event, h.clientBuf), slow: make(chan struct{})}
	h.add(c)
	defer h.remove(c)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.slow:
			_ = conn.Close(websocket.StatusPolicyViolation, "client too slow")
			return
		case ev := <-c.events:
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
