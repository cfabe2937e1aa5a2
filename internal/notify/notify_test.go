package notify

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/shopspring/decimal"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type recordSink struct {
	mu     sync.Mutex
	events []Event
	got    chan struct{}
}

func (r *recordSink) Name() string { return "record" }

func (r *recordSink) Deliver(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func TestBus_DeliversToSinks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewBus(4, nil)
	sink := &recordSink{got: make(chan struct{}, 4)}
	bus.AddSink(sink)
	go func() { _ = bus.Run(ctx) }()

	bus.Publish(ctx, Event{Type: EventBetPlaced, BetType: "home"})
	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatalf("event not delivered")
	}
	if sink.events[0].At.IsZero() {
		t.Fatalf("timestamp not stamped")
	}
}

func TestBus_DropsWhenFull(t *testing.T) {
	bus := NewBus(1, nil)
	bus.Publish(context.Background(), Event{Type: EventBetPlaced})
	bus.Publish(context.Background(), Event{Type: EventBetPlaced})
	if bus.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", bus.Dropped())
	}
}

type fakeSender struct {
	sent []*telego.SendMessageParams
}

func (f *fakeSender) SendMessage(_ context.Context, p *telego.SendMessageParams) (*telego.Message, error) {
	f.sent = append(f.sent, p)
	return &telego.Message{MessageID: len(f.sent)}, nil
}

func TestTelegramNotifier_FiltersEvents(t *testing.T) {
	api := &fakeSender{}
	n := &TelegramNotifier{API: api, ChatID: 77}
	amt := decimal.NewFromInt(25)
	_ = n.Deliver(context.Background(), Event{Type: EventStatusChanged, Status: "running"})
	_ = n.Deliver(context.Background(), Event{Type: EventBetPlaced, BetType: "home", Amount: &amt, RuleID: 3})
	if len(api.sent) != 1 {
		t.Fatalf("sent=%d want 1", len(api.sent))
	}
	if api.sent[0].ChatID.ID != 77 || api.sent[0].Text != "Bet placed: home 25.00 (rule 3)" {
		t.Fatalf("params=%+v", api.sent[0])
	}

	n.Events = map[EventType]bool{EventStatusChanged: true}
	_ = n.Deliver(context.Background(), Event{Type: EventStatusChanged, Status: "running"})
	_ = n.Deliver(context.Background(), Event{Type: EventBetPlaced})
	if len(api.sent) != 2 || api.sent[1].Text != "Automation status: running" {
		t.Fatalf("sent=%d", len(api.sent))
	}
}

func TestFormatText_Fault(t *testing.T) {
	if got := FormatText(Event{Type: EventAutomationFault, Error: "login failed"}); got != "Automation stopped: login failed" {
		t.Fatalf("got=%q", got)
	}
	if got := FormatText(Event{Type: EventAutomationFault, Error: "x", Recoverable: true}); !strings.HasPrefix(got, "Automation error") {
		t.Fatalf("got=%q", got)
	}
}

func TestWSHub_StreamsEvents(t *testing.T) {
	hub := NewWSHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial err=%v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = hub.Deliver(ctx, Event{Type: EventBetResolved, BetID: 9, Outcome: "win"})
	var got Event
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read err=%v", err)
	}
	if got.Type != EventBetResolved || got.BetID != 9 || got.Outcome != "win" {
		t.Fatalf("got=%+v", got)
	}
}
