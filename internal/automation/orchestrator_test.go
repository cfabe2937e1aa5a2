package automation

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signalbet/internal/browser"
	"signalbet/internal/cache"
	"signalbet/internal/models"
	"signalbet/internal/notify"
	"signalbet/internal/repository"
	"signalbet/internal/service"
	"signalbet/internal/signal"
	"signalbet/internal/site"
)

type fakeSource struct {
	mu        sync.Mutex
	messages  []models.Message
	processed map[string]bool
	claimed   map[string]bool
}

func newFakeSource(msgs ...models.Message) *fakeSource {
	return &fakeSource{messages: msgs, processed: map[string]bool{}, claimed: map[string]bool{}}
}

func (s *fakeSource) add(msg models.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

func (s *fakeSource) FetchNew(_ context.Context, cur signal.Cursor) (iter.Seq[models.Message], signal.Cursor, error) {
	s.mu.Lock()
	var rows []models.Message
	for _, m := range s.messages {
		if !s.processed[m.ID] {
			rows = append(rows, m)
		}
	}
	s.mu.Unlock()
	return func(yield func(models.Message) bool) {
		for _, m := range rows {
			s.mu.Lock()
			if s.claimed[m.ID] {
				s.mu.Unlock()
				continue
			}
			s.claimed[m.ID] = true
			s.mu.Unlock()
			if !yield(m) {
				return
			}
		}
	}, cur, nil
}

func (s *fakeSource) MarkProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	s.processed[id] = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Release(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.claimed, id)
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) isProcessed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[id]
}

type fakeRules struct {
	repository.RuleStore
	rules []models.Rule
}

func (f *fakeRules) ListRules(context.Context, string) ([]models.Rule, error) {
	return f.rules, nil
}

type fakeLedger struct {
	repository.LedgerStore

	mu       sync.Mutex
	attempts []models.BetAttempt
	spend    decimal.Decimal
}

func (l *fakeLedger) AppendBetAttempt(_ context.Context, a *models.BetAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a.ID = uint64(len(l.attempts) + 1)
	l.attempts = append(l.attempts, *a)
	return nil
}

func (l *fakeLedger) UpdateOutcome(_ context.Context, id uint64, outcome models.Outcome, profit decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.attempts {
		if l.attempts[i].ID != id {
			continue
		}
		if l.attempts[i].Outcome != models.OutcomePending {
			return repository.ErrOutcomeFinal
		}
		l.attempts[i].Outcome = outcome
		l.attempts[i].Profit = profit
		return nil
	}
	return repository.ErrOutcomeFinal
}

func (l *fakeLedger) ListPendingBetAttempts(context.Context, string) ([]models.BetAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.BetAttempt
	for _, a := range l.attempts {
		if a.Outcome == models.OutcomePending {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *fakeLedger) HasBetForMessage(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.attempts {
		if a.MessageID != nil && *a.MessageID == id {
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLedger) SumStakesSince(context.Context, string, time.Time) (decimal.Decimal, error) {
	return l.spend, nil
}

func (l *fakeLedger) FlagForReview(_ context.Context, id uint64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.attempts {
		if l.attempts[i].ID == id {
			l.attempts[i].NeedsReview = true
			l.attempts[i].ReviewReason = reason
		}
	}
	return nil
}

func (l *fakeLedger) snapshot() []models.BetAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.BetAttempt(nil), l.attempts...)
}

type fakeSettings struct {
	s   service.AutomationSettings
	err error
}

func (f fakeSettings) Load(context.Context) (service.AutomationSettings, error) {
	return f.s, f.err
}

type placed struct {
	betType models.BetType
	amount  decimal.Decimal
}

type fakeAdapter struct {
	mu       sync.Mutex
	loginErr error
	placeErr error
	bets     []placed
	result   site.Result
	closed   int

	// loginGate, when set, holds Login until it is closed.
	loginGate chan struct{}
}

func (a *fakeAdapter) Login(context.Context, site.Credentials) error {
	if a.loginGate != nil {
		<-a.loginGate
	}
	return a.loginErr
}

func (a *fakeAdapter) EnsureOnBettingPage(context.Context) error { return nil }

func (a *fakeAdapter) PlaceBet(_ context.Context, bt models.BetType, amount decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.placeErr != nil {
		return a.placeErr
	}
	a.bets = append(a.bets, placed{bt, amount})
	return nil
}

func (a *fakeAdapter) CheckResult(context.Context) (site.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.result.Outcome == "" {
		return site.Result{Outcome: models.OutcomePending}, nil
	}
	return a.result, nil
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	a.closed++
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) setResult(r site.Result) {
	a.mu.Lock()
	a.result = r
	a.mu.Unlock()
}

func (a *fakeAdapter) placedBets() []placed {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]placed(nil), a.bets...)
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(t notify.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	orch    *Orchestrator
	source  *fakeSource
	rules   *fakeRules
	ledger  *fakeLedger
	adapter *fakeAdapter
	events  *recorder
	locks   cache.Store
}

func testSettings() service.AutomationSettings {
	s := service.DefaultAutomationSettings()
	s.Username = "user"
	s.Password = "pw"
	s.DelayBetweenBets = 0
	return s
}

func newHarness(settings service.AutomationSettings, rules []models.Rule, msgs ...models.Message) *harness {
	h := &harness{
		source:  newFakeSource(msgs...),
		rules:   &fakeRules{rules: rules},
		ledger:  &fakeLedger{spend: decimal.Zero},
		adapter: &fakeAdapter{},
		events:  &recorder{},
		locks:   cache.NewMemoryStore(),
	}
	h.orch = New(context.Background(), Deps{
		Messages:  h.source,
		Rules:     h.rules,
		Ledger:    h.ledger,
		Settings:  fakeSettings{s: settings},
		Adapters:  func(context.Context, service.AutomationSettings) (SiteAdapter, error) { return h.adapter, nil },
		Locks:     h.locks,
		Publisher: h.events,
	}, Options{
		PollInterval:      10 * time.Millisecond,
		ReconcileInterval: 5 * time.Millisecond,
		ResultPollBase:    time.Millisecond,
		ResultPollMax:     5 * time.Millisecond,
	})
	return h
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.orch.Stop(ctx); err != nil {
		t.Fatalf("stop err=%v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func msg(id, content string) models.Message {
	return models.Message{ID: id, ChannelID: "c1", Content: content, HasAction: true, Timestamp: time.Now().UTC()}
}

func flatRule(id uint64, trigger string, bt models.BetType, amount int64) models.Rule {
	return models.Rule{ID: id, Active: true, Trigger: trigger, BetType: bt, BetAmount: decimal.NewFromInt(amount), MartingaleMultiplier: decimal.NewFromInt(2)}
}

func TestEndToEnd_FutebolStudioCasa(t *testing.T) {
	rule := flatRule(1, "Entrada: Futebol Studio - Casa", models.BetTypeHome, 25)
	h := newHarness(testSettings(), []models.Rule{rule}, msg("c1:1", "Entrada: Futebol Studio - Casa"))

	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("start err=%v", err)
	}
	waitFor(t, "message processed", func() bool { return h.source.isProcessed("c1:1") })
	h.stop(t)

	bets := h.adapter.placedBets()
	if len(bets) != 1 || bets[0].betType != models.BetTypeHome || !bets[0].amount.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("bets=%+v want one home 25", bets)
	}
	attempts := h.ledger.snapshot()
	if len(attempts) != 1 || attempts[0].Outcome != models.OutcomePending || !attempts[0].Amount.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("attempts=%+v", attempts)
	}
	if attempts[0].MessageID == nil || *attempts[0].MessageID != "c1:1" {
		t.Fatalf("message back-reference missing: %+v", attempts[0])
	}
	st := h.orch.Status()
	if !st.DailySpend.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("daily spend=%s want 25", st.DailySpend)
	}
	if st.Status != StatusStopped || h.adapter.closed != 1 {
		t.Fatalf("status=%s closed=%d", st.Status, h.adapter.closed)
	}
	if h.events.count(notify.EventBetPlaced) != 1 {
		t.Fatalf("bet placed events=%d", h.events.count(notify.EventBetPlaced))
	}
}

func TestUnmatchedMessageIsProcessedWithoutBet(t *testing.T) {
	rule := flatRule(1, "Entrada: Futebol Studio - Casa", models.BetTypeHome, 25)
	h := newHarness(testSettings(), []models.Rule{rule}, msg("c1:1", "Bom dia a todos"))
	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("start err=%v", err)
	}
	waitFor(t, "message processed", func() bool { return h.source.isProcessed("c1:1") })
	h.stop(t)
	if len(h.adapter.placedBets()) != 0 || len(h.ledger.snapshot()) != 0 {
		t.Fatalf("unmatched message produced a bet")
	}
}

func TestBudgetViolationSkipsWithoutSiteInteraction(t *testing.T) {
	rule := flatRule(1, "Entrada:", models.BetTypeHome, 25)
	h := newHarness(testSettings(), []models.Rule{rule}, msg("c1:1", "Entrada: Casa"))
	h.ledger.spend = decimal.NewFromInt(490)

	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("start err=%v", err)
	}
	waitFor(t, "message processed", func() bool { return h.source.isProcessed("c1:1") })
	h.stop(t)

	if len(h.adapter.placedBets()) != 0 {
		t.Fatalf("bet placed over the daily limit")
	}
	if h.events.count(notify.EventBetSkipped) != 1 {
		t.Fatalf("skipped events=%d", h.events.count(notify.EventBetSkipped))
	}
	if !h.orch.Status().DailySpend.Equal(decimal.NewFromInt(490)) {
		t.Fatalf("spend changed on a skipped bet")
	}
}

func TestMaxBetAmountViolation(t *testing.T) {
	settings := testSettings()
	settings.MaxBetAmount = decimal.NewFromInt(20)
	rule := flatRule(1, "Entrada:", models.BetTypeAway, 25)
	h := newHarness(settings, []models.Rule{rule}, msg("c1:1", "Entrada: Fora"))
	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("start err=%v", err)
	}
	waitFor(t, "message processed", func() bool { return h.source.isProcessed("c1:1") })
	h.stop(t)
	if len(h.adapter.placedBets()) != 0 {
		t.Fatalf("bet above max placed")
	}
}

func TestAtMostOneAttemptPerMessage(t *testing.T) {
	rule := flatRule(1, "Entrada:", models.BetTypeHome, 10)
	h := newHarness(testSettings(), []models.Rule{rule}, msg("c1:1", "Entrada: Casa"))
	// A bet for this message already exists from an earlier run whose
	// processed flag never got persisted.
	id := "c1:1"
	h.ledger.attempts = []models.BetAttempt{{ID: 1, MessageID: &id, RuleID: 1, Amount: decimal.NewFromInt(10), Outcome: models.OutcomeWin}}

	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("start err=%v", err)
	}
	waitFor(t, "message processed", func() bool { return h.source.isProcessed("c1:1") })
	h.stop(t)
	if len(h.adapter.placedBets()) != 0 {
		t.Fatalf("message bet twice")
	}
}

func TestInteractionFailureMarksProcessedAndContinues(t *testing.T) {
	rule := flatRule(1, "Entrada:", models.BetTypeHome, 10)
	h := newHarness(testSettings(), []models.Rule{rule}, msg("c1:1", "Entrada: Casa"))
	h.adapter.placeErr = &browser.InteractionError{Op: "place_bet", Err: errors.New("detached")}

	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("start err=%v", err)
	}
	waitFor(t, "message processed", func() bool { return h.source.isProcessed("c1:1") })
	if st := h.orch.Status().Status; st == StatusFaulted {
		t.Fatalf("interaction error faulted the session")
	}
	h.stop(t)
	if len(h.ledger.snapshot()) != 0 {
		t.Fatalf("failed placement recorded in ledger")
	}
	if h.events.count(notify.EventAutomationFault) == 0 {
		t.Fatalf("no fault event")
	}
}

func TestConfirmationTimeoutRecordedForReview(t *testing.T) {
	rule := flatRule(1, "Entrada:", models.BetTypeDraw, 10)
	h := newHarness(testSettings(), []models.Rule{rule}, msg("c1:1", "Entrada: Empate"))
	h.adapter.placeErr = &site.ConfirmationTimeoutError{BetType: models.BetTypeDraw, Amount: decimal.NewFromInt(10), Err: context.DeadlineExceeded}

	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("start err=%v", err)
	}
	waitFor(t, "message processed", func() bool { return h.source.isProcessed("c1:1") })
	h.stop(t)

	attempts := h.ledger.snapshot()
	if len(attempts) != 1 || attempts[0].Outcome != models.OutcomePending || !attempts[0].NeedsReview {
		t.Fatalf("attempts=%+v want one pending flagged attempt", attempts)
	}
	if !h.orch.Status().DailySpend.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unconfirmed stake not counted")
	}
}

func TestReconcileAdvancesMartingale(t *testing.T) {
	rule := models.Rule{
		ID: 1, Active: true, Trigger: "Entrada:", BetType: models.BetTypeHome,
		BetAmount: decimal.NewFromInt(10), UseMartingale: true, MartingaleLevel: 3,
		MartingaleMultiplier: decimal.NewFromInt(2),
	}
	h := newHarness(testSettings(), []models.Rule{rule}, msg("c1:1", "Entrada: Casa"))
	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("start err=%v", err)
	}
	defer h.stop(t)

	waitFor(t, "first bet", func() bool { return len(h.adapter.placedBets()) == 1 })
	h.adapter.setResult(site.Result{Outcome: models.OutcomeLoss, Ref: "round-1"})
	waitFor(t, "first loss", func() bool {
		a := h.ledger.snapshot()
		return len(a) == 1 && a[0].Outcome == models.OutcomeLoss
	})
	if p := h.ledger.snapshot()[0].Profit; !p.Equal(decimal.NewFromInt(-10)) {
		t.Fatalf("loss profit=%s", p)
	}

	h.source.add(msg("c1:2", "Entrada: Casa"))
	waitFor(t, "second bet", func() bool { return len(h.adapter.placedBets()) == 2 })
	if got := h.adapter.placedBets()[1].amount; !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("stake after loss=%s want 20", got)
	}

	h.adapter.setResult(site.Result{Outcome: models.OutcomeWin, Ref: "round-2"})
	waitFor(t, "win", func() bool {
		a := h.ledger.snapshot()
		return len(a) == 2 && a[1].Outcome == models.OutcomeWin
	})
	if p := h.ledger.snapshot()[1].Profit; !p.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("win profit=%s want 20", p)
	}

	h.source.add(msg("c1:3", "Entrada: Casa"))
	waitFor(t, "third bet", func() bool { return len(h.adapter.placedBets()) == 3 })
	if got := h.adapter.placedBets()[2].amount; !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("stake after win=%s want base 10", got)
	}
}

func TestStartReattachesPendingAndIgnoresStaleResult(t *testing.T) {
	rule := flatRule(1, "Entrada:", models.BetTypeHome, 10)
	h := newHarness(testSettings(), []models.Rule{rule})
	id := "c1:9"
	h.ledger.attempts = []models.BetAttempt{{
		ID: 1, MessageID: &id, RuleID: 1, BetType: models.BetTypeHome,
		Amount: decimal.NewFromInt(10), Outcome: models.OutcomePending, CreatedAt: time.Now().UTC(),
	}}
	h.adapter.result = site.Result{Outcome: models.OutcomeLoss, Ref: "before-start"}

	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("start err=%v", err)
	}
	defer h.stop(t)
	if h.orch.Status().Pending != 1 {
		t.Fatalf("pending=%d want 1", h.orch.Status().Pending)
	}
	time.Sleep(30 * time.Millisecond)
	if h.ledger.snapshot()[0].Outcome != models.OutcomePending {
		t.Fatalf("stale result consumed")
	}

	h.adapter.setResult(site.Result{Outcome: models.OutcomeWin, Ref: "after-start", Payout: decimal.NewFromInt(25), HasPayout: true})
	waitFor(t, "reattached bet resolved", func() bool {
		return h.ledger.snapshot()[0].Outcome == models.OutcomeWin
	})
	if p := h.ledger.snapshot()[0].Profit; !p.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("profit=%s want 15", p)
	}
	if len(h.adapter.placedBets()) != 0 {
		t.Fatalf("reattached bet placed again")
	}
}

func TestLoginFailureFaults(t *testing.T) {
	h := newHarness(testSettings(), nil)
	h.adapter.loginErr = &site.AuthError{Reason: "account marker"}

	err := h.orch.Start(context.Background())
	var ae *site.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("err=%v want AuthError", err)
	}
	st := h.orch.Status()
	if st.Status != StatusFaulted || st.LastError == "" {
		t.Fatalf("status=%+v want faulted", st)
	}
	if h.adapter.closed != 1 {
		t.Fatalf("adapter not closed on fault")
	}
	// The lock was released, so an explicit restart is possible.
	h.adapter.loginErr = nil
	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("restart err=%v", err)
	}
	h.stop(t)
}

func TestStartTwiceAndInstanceLock(t *testing.T) {
	h := newHarness(testSettings(), nil)
	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("start err=%v", err)
	}
	if err := h.orch.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err=%v want ErrAlreadyRunning", err)
	}

	other := New(context.Background(), Deps{
		Messages: newFakeSource(),
		Rules:    &fakeRules{},
		Ledger:   &fakeLedger{},
		Settings: fakeSettings{s: testSettings()},
		Adapters: func(context.Context, service.AutomationSettings) (SiteAdapter, error) { return &fakeAdapter{}, nil },
		Locks:    h.locks,
	}, Options{})
	if err := other.Start(context.Background()); !errors.Is(err, ErrInstanceLocked) {
		t.Fatalf("err=%v want ErrInstanceLocked", err)
	}
	h.stop(t)
	if err := h.orch.Stop(context.Background()); err != nil {
		t.Fatalf("second stop err=%v", err)
	}
}

func TestParseMultipliers(t *testing.T) {
	m, err := ParseMultipliers(map[string]string{"draw": "9"})
	if err != nil || !m[models.BetTypeDraw].Equal(decimal.NewFromInt(9)) || !m[models.BetTypeHome].Equal(decimal.NewFromInt(2)) {
		t.Fatalf("m=%v err=%v", m, err)
	}
	if _, err := ParseMultipliers(map[string]string{"over": "2"}); err == nil {
		t.Fatalf("expected error for unknown bet type")
	}
}

func TestResultFromEarlierRoundNotCredited(t *testing.T) {
	h := newHarness(testSettings(), []models.Rule{flatRule(1, "Entrada:", models.BetTypeHome, 10)}, msg("c1:1", "Entrada: Casa"))
	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("start err=%v", err)
	}
	defer h.stop(t)

	waitFor(t, "first bet", func() bool { return len(h.adapter.placedBets()) == 1 })
	h.adapter.setResult(site.Result{Outcome: models.OutcomeLoss, Ref: "round-1"})
	waitFor(t, "first result", func() bool {
		a := h.ledger.snapshot()
		return len(a) == 1 && a[0].Outcome == models.OutcomeLoss
	})

	// A round nobody bet on finishes before the next signal arrives.
	h.adapter.setResult(site.Result{Outcome: models.OutcomeWin, Ref: "round-2"})
	time.Sleep(20 * time.Millisecond)

	h.source.add(msg("c1:2", "Entrada: Casa"))
	waitFor(t, "second bet", func() bool { return len(h.adapter.placedBets()) == 2 })
	time.Sleep(30 * time.Millisecond)
	if a := h.ledger.snapshot(); len(a) != 2 || a[1].Outcome != models.OutcomePending {
		t.Fatalf("second bet credited with earlier round: %+v", a)
	}

	h.adapter.setResult(site.Result{Outcome: models.OutcomeLoss, Ref: "round-3"})
	waitFor(t, "second result", func() bool {
		a := h.ledger.snapshot()
		return len(a) == 2 && a[1].Outcome == models.OutcomeLoss
	})
}

func TestStopDuringStartupWaitsForRelease(t *testing.T) {
	h := newHarness(testSettings(), nil)
	h.adapter.loginGate = make(chan struct{})

	started := make(chan error, 1)
	go func() { started <- h.orch.Start(context.Background()) }()
	waitFor(t, "initializing", func() bool { return h.orch.Status().Status == StatusInitializing })

	if err := h.orch.Stop(context.Background()); err != nil {
		t.Fatalf("stop err=%v", err)
	}
	if st := h.orch.Status().Status; st != StatusInitializing {
		t.Fatalf("status=%s want initializing until startup unwinds", st)
	}
	if err := h.orch.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("overlapping start err=%v want ErrAlreadyRunning", err)
	}

	close(h.adapter.loginGate)
	if err := <-started; err != nil {
		t.Fatalf("start err=%v", err)
	}
	if st := h.orch.Status().Status; st != StatusStopped {
		t.Fatalf("status=%s want stopped", st)
	}
	h.adapter.mu.Lock()
	closed := h.adapter.closed
	h.adapter.mu.Unlock()
	if closed != 1 {
		t.Fatalf("adapter closed %d times want 1", closed)
	}

	other := New(context.Background(), Deps{
		Messages: newFakeSource(),
		Rules:    &fakeRules{},
		Ledger:   &fakeLedger{},
		Settings: fakeSettings{s: testSettings()},
		Adapters: func(context.Context, service.AutomationSettings) (SiteAdapter, error) { return &fakeAdapter{}, nil },
		Locks:    h.locks,
	}, Options{})
	if err := other.Start(context.Background()); err != nil {
		t.Fatalf("instance lock not released: %v", err)
	}
	if err := other.Stop(context.Background()); err != nil {
		t.Fatalf("other stop err=%v", err)
	}
}
