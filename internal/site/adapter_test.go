package site

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signalbet/internal/browser"
	"signalbet/internal/models"
)

type fakePage struct {
	url      string
	present  map[string]bool
	failWait map[string]bool
	calls    []string
	typed    map[string]string
	probe    resultProbe
	closed   int
}

func newFakePage() *fakePage {
	return &fakePage{present: map[string]bool{}, failWait: map[string]bool{}, typed: map[string]string{}}
}

func (p *fakePage) Navigate(_ context.Context, url string, _ time.Duration) error {
	p.calls = append(p.calls, "navigate "+url)
	p.url = url
	return nil
}

func (p *fakePage) WaitFor(_ context.Context, sel string, timeout time.Duration) error {
	p.calls = append(p.calls, "wait "+sel)
	if p.failWait[sel] {
		return &browser.ElementNotFoundError{Selector: sel, Timeout: timeout, Err: context.DeadlineExceeded}
	}
	return nil
}

func (p *fakePage) Exists(_ context.Context, sel string) (bool, error) {
	return p.present[sel], nil
}

func (p *fakePage) Click(_ context.Context, sel string) error {
	p.calls = append(p.calls, "click "+sel)
	return nil
}

func (p *fakePage) Type(_ context.Context, sel, text string) error {
	p.calls = append(p.calls, "type "+sel)
	p.typed[sel] = text
	return nil
}

func (p *fakePage) ClearAndType(_ context.Context, sel, text string) error {
	p.calls = append(p.calls, "clear_and_type "+sel)
	p.typed[sel] = text
	return nil
}

func (p *fakePage) Evaluate(_ context.Context, _ string, out any) error {
	raw, _ := json.Marshal(p.probe)
	return json.Unmarshal(raw, out)
}

func (p *fakePage) CurrentURL(context.Context) (string, error) { return p.url, nil }

func (p *fakePage) Screenshot(context.Context, string) error { return nil }

func (p *fakePage) Close() error {
	p.closed++
	return nil
}

func testConfig() Config {
	return Config{
		BetURL:    DefaultBetURL,
		URLMarker: "futebol-studio-ao-vivo",
		Selectors: DefaultSelectors(),
		Timeouts:  DefaultTimeouts(),
	}
}

func TestLogin_ShortCircuitsWhenAlreadyLoggedIn(t *testing.T) {
	page := newFakePage()
	page.present[".user-account"] = true
	a := New(page, testConfig(), nil)
	if err := a.Login(context.Background(), Credentials{}); err != nil {
		t.Fatalf("login err=%v", err)
	}
	if a.State() != StateLoggedIn {
		t.Fatalf("state=%s", a.State())
	}
	for _, c := range page.calls {
		if strings.HasPrefix(c, "type ") {
			t.Fatalf("typed credentials while already logged in: %v", page.calls)
		}
	}
}

func TestLogin_MissingCredentials(t *testing.T) {
	a := New(newFakePage(), testConfig(), nil)
	err := a.Login(context.Background(), Credentials{Username: "bob"})
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("err=%v want AuthError", err)
	}
	if a.State() != StateLoggedOut {
		t.Fatalf("state=%s want logged_out", a.State())
	}
}

func TestLogin_MarkerNeverAppears(t *testing.T) {
	page := newFakePage()
	page.failWait[".user-account"] = true
	a := New(page, testConfig(), nil)
	err := a.Login(context.Background(), Credentials{Username: "bob", Password: "pw"})
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("err=%v want AuthError", err)
	}
	var nf *browser.ElementNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err=%v want wrapped ElementNotFoundError", err)
	}
	if page.typed[".username-input"] != "bob" || page.typed[".password-input"] != "pw" {
		t.Fatalf("typed=%v", page.typed)
	}
}

func TestEnsureOnBettingPage_SkipsWhenAlreadyThere(t *testing.T) {
	page := newFakePage()
	page.url = DefaultBetURL + "?tab=1"
	a := New(page, testConfig(), nil)
	if err := a.EnsureOnBettingPage(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(page.calls) != 0 {
		t.Fatalf("calls=%v want none", page.calls)
	}

	page.url = "https://esportiva.bet.br/home"
	if err := a.EnsureOnBettingPage(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(page.calls) != 2 || page.calls[0] != "navigate "+DefaultBetURL || page.calls[1] != "wait .game-container" {
		t.Fatalf("calls=%v", page.calls)
	}
}

func TestPlaceBet_Sequence(t *testing.T) {
	page := newFakePage()
	a := New(page, testConfig(), nil)
	if err := a.PlaceBet(context.Background(), models.BetTypeHome, decimal.NewFromInt(25)); err != nil {
		t.Fatalf("err=%v", err)
	}
	want := []string{
		"click .home-bet-button",
		"wait .bet-form",
		"clear_and_type .bet-amount-input",
		"click .confirm-bet-button",
		"wait .bet-confirmation",
	}
	if strings.Join(page.calls, "|") != strings.Join(want, "|") {
		t.Fatalf("calls=%v want=%v", page.calls, want)
	}
	if page.typed[".bet-amount-input"] != "25" {
		t.Fatalf("amount typed=%q", page.typed[".bet-amount-input"])
	}
	if a.State() != StateAwaitingResult {
		t.Fatalf("state=%s", a.State())
	}
}

func TestPlaceBet_UnknownTypeFailsFast(t *testing.T) {
	page := newFakePage()
	a := New(page, testConfig(), nil)
	err := a.PlaceBet(context.Background(), models.BetType("over"), decimal.NewFromInt(5))
	var ue *UnknownBetTypeError
	if !errors.As(err, &ue) {
		t.Fatalf("err=%v want UnknownBetTypeError", err)
	}
	if len(page.calls) != 0 {
		t.Fatalf("calls=%v want none", page.calls)
	}
}

func TestPlaceBet_ConfirmationTimeout(t *testing.T) {
	page := newFakePage()
	page.failWait[".bet-confirmation"] = true
	a := New(page, testConfig(), nil)
	err := a.PlaceBet(context.Background(), models.BetTypeDraw, decimal.NewFromInt(5))
	var ce *ConfirmationTimeoutError
	if !errors.As(err, &ce) {
		t.Fatalf("err=%v want ConfirmationTimeoutError", err)
	}
}

func TestPlaceBet_BetFormMissingIsInteractionError(t *testing.T) {
	page := newFakePage()
	page.failWait[".bet-form"] = true
	a := New(page, testConfig(), nil)
	err := a.PlaceBet(context.Background(), models.BetTypeAway, decimal.NewFromInt(5))
	var ie *browser.InteractionError
	if !errors.As(err, &ie) {
		t.Fatalf("err=%v want InteractionError", err)
	}
}

func TestCheckResult(t *testing.T) {
	page := newFakePage()
	a := New(page, testConfig(), nil)

	res, err := a.CheckResult(context.Background())
	if err != nil || res.Outcome != models.OutcomePending {
		t.Fatalf("res=%+v err=%v want pending", res, err)
	}

	page.probe = resultProbe{Present: true, Win: true, Text: "Casa venceu", Ref: "r-9", Payout: "50,00"}
	res, err = a.CheckResult(context.Background())
	if err != nil || res.Outcome != models.OutcomeWin || res.Ref != "r-9" {
		t.Fatalf("res=%+v err=%v want win r-9", res, err)
	}
	if !res.HasPayout || !res.Payout.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("payout=%s has=%v", res.Payout.String(), res.HasPayout)
	}

	page.probe = resultProbe{Present: true, Text: "Fora venceu"}
	res, _ = a.CheckResult(context.Background())
	if res.Outcome != models.OutcomeLoss || res.Ref != "Fora venceu" || res.HasPayout {
		t.Fatalf("res=%+v want loss keyed by text", res)
	}
}

func TestSelectorsMerge(t *testing.T) {
	s := DefaultSelectors().Merge(map[string]string{"home_bet": "#casa", "bet_form": "  ", "unknown": "x"})
	if s.HomeBet != "#casa" || s.BetForm != ".bet-form" {
		t.Fatalf("selectors=%+v", s)
	}
}

func TestClose_Delegates(t *testing.T) {
	page := newFakePage()
	a := New(page, testConfig(), nil)
	_ = a.Close()
	if page.closed != 1 {
		t.Fatalf("closed=%d", page.closed)
	}
}
