package site

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signalbet/internal/browser"
	"signalbet/internal/models"
)

type State string

const (
	StateLoggedOut        State = "logged_out"
	StateLoggingIn        State = "logging_in"
	StateLoggedIn         State = "logged_in"
	StateNavigating       State = "navigating"
	StateSelectingOutcome State = "selecting_outcome"
	StateEnteringAmount   State = "entering_amount"
	StateConfirming       State = "confirming"
	StateAwaitingResult   State = "awaiting_result"
)

type Credentials struct {
	Username string
	Password string
}

// Result is one observation of the result marker. Ref identifies the round
// so callers can tell a fresh result from one already consumed.
type Result struct {
	Outcome models.Outcome
	Ref     string
	Payout  decimal.Decimal
	// HasPayout is false when the page did not expose a payout amount.
	HasPayout bool
}

// Adapter drives one betting site through a single Page.
type Adapter struct {
	page   browser.Page
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	state State
}

func New(page browser.Page, cfg Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BetURL == "" {
		cfg.BetURL = DefaultBetURL
	}
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors()
	}
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = DefaultTimeouts()
	}
	return &Adapter{page: page, cfg: cfg, logger: logger, state: StateLoggedOut}
}

// Open launches a browser session and wraps it in an adapter.
func Open(ctx context.Context, opts browser.Options, cfg Config, logger *zap.Logger) (*Adapter, error) {
	page, err := browser.Launch(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	return New(page, cfg, logger), nil
}

func (a *Adapter) State() State {
	if a == nil {
		return StateLoggedOut
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// settle returns to the resting state after a flow step fails.
func (a *Adapter) settle(loggedIn bool) {
	if loggedIn {
		a.setState(StateLoggedIn)
		return
	}
	a.setState(StateLoggedOut)
}

func (a *Adapter) loggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state != StateLoggedOut && a.state != StateLoggingIn
}

// Login signs in unless the account marker is already present.
func (a *Adapter) Login(ctx context.Context, creds Credentials) error {
	if a == nil || a.page == nil {
		return &AuthError{Reason: "no page", Err: browser.ErrNotInitialized}
	}
	a.setState(StateLoggingIn)
	sel := a.cfg.Selectors

	if err := a.page.Navigate(ctx, a.cfg.BetURL, a.cfg.Timeouts.PageLoad); err != nil {
		a.setState(StateLoggedOut)
		return &AuthError{Reason: "open site", Err: err}
	}
	if ok, err := a.page.Exists(ctx, sel.UserAccount); err == nil && ok {
		a.setState(StateLoggedIn)
		a.logger.Info("site: already logged in")
		return nil
	}

	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		a.setState(StateLoggedOut)
		return &AuthError{Reason: "missing credentials"}
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"open login", func() error { return a.page.Click(ctx, sel.LoginButton) }},
		{"login form", func() error { return a.page.WaitFor(ctx, sel.LoginForm, a.cfg.Timeouts.LoginForm) }},
		{"username", func() error { return a.page.Type(ctx, sel.UsernameInput, creds.Username) }},
		{"password", func() error { return a.page.Type(ctx, sel.PasswordInput, creds.Password) }},
		{"submit", func() error { return a.page.Click(ctx, sel.SubmitButton) }},
		{"account marker", func() error { return a.page.WaitFor(ctx, sel.UserAccount, a.cfg.Timeouts.Login) }},
	}
	for _, st := range steps {
		if err := st.fn(); err != nil {
			a.setState(StateLoggedOut)
			return &AuthError{Reason: st.name, Err: err}
		}
	}
	a.setState(StateLoggedIn)
	a.logger.Info("site: logged in", zap.String("username", creds.Username))
	return nil
}

// EnsureOnBettingPage navigates only when the current URL is elsewhere.
func (a *Adapter) EnsureOnBettingPage(ctx context.Context) error {
	if a == nil || a.page == nil {
		return &browser.NavigationError{Err: browser.ErrNotInitialized}
	}
	loggedIn := a.loggedIn()
	current, err := a.page.CurrentURL(ctx)
	if err == nil && a.onBettingPage(current) {
		return nil
	}
	a.setState(StateNavigating)
	if err := a.page.Navigate(ctx, a.cfg.BetURL, a.cfg.Timeouts.PageLoad); err != nil {
		a.settle(loggedIn)
		return err
	}
	if err := a.page.WaitFor(ctx, a.cfg.Selectors.GameContainer, a.cfg.Timeouts.PageLoad); err != nil {
		a.settle(loggedIn)
		return &browser.NavigationError{URL: a.cfg.BetURL, Err: err}
	}
	a.settle(loggedIn)
	return nil
}

func (a *Adapter) onBettingPage(current string) bool {
	current = strings.TrimSpace(current)
	if current == "" {
		return false
	}
	if a.cfg.URLMarker != "" {
		return strings.Contains(current, a.cfg.URLMarker)
	}
	return strings.HasPrefix(current, a.cfg.BetURL)
}

// PlaceBet selects the outcome, enters the amount and confirms. It does not
// retry; a ConfirmationTimeoutError leaves the outcome unknown.
func (a *Adapter) PlaceBet(ctx context.Context, betType models.BetType, amount decimal.Decimal) error {
	if a == nil || a.page == nil {
		return &browser.InteractionError{Op: "place_bet", Err: browser.ErrNotInitialized}
	}
	control, ok := a.cfg.Selectors.Control(betType)
	if !ok {
		return &UnknownBetTypeError{BetType: betType}
	}
	loggedIn := a.loggedIn()
	sel := a.cfg.Selectors

	a.setState(StateSelectingOutcome)
	if err := a.page.Click(ctx, control); err != nil {
		return a.failBet(ctx, loggedIn, err)
	}
	if err := a.page.WaitFor(ctx, sel.BetForm, a.cfg.Timeouts.BetForm); err != nil {
		return a.failBet(ctx, loggedIn, err)
	}

	a.setState(StateEnteringAmount)
	if err := a.page.ClearAndType(ctx, sel.BetAmountInput, amount.String()); err != nil {
		return a.failBet(ctx, loggedIn, err)
	}

	a.setState(StateConfirming)
	if err := a.page.Click(ctx, sel.ConfirmBet); err != nil {
		return a.failBet(ctx, loggedIn, err)
	}
	if err := a.page.WaitFor(ctx, sel.BetConfirmation, a.cfg.Timeouts.Confirm); err != nil {
		a.screenshot(ctx, "confirm-timeout")
		a.settle(loggedIn)
		return &ConfirmationTimeoutError{BetType: betType, Amount: amount, Err: err}
	}

	a.setState(StateAwaitingResult)
	a.logger.Info("site: bet confirmed",
		zap.String("bet_type", string(betType)),
		zap.String("amount", amount.String()),
	)
	return nil
}

func (a *Adapter) failBet(ctx context.Context, loggedIn bool, err error) error {
	a.screenshot(ctx, "bet-failure")
	a.settle(loggedIn)
	var ie *browser.InteractionError
	if errors.As(err, &ie) {
		return err
	}
	return &browser.InteractionError{Op: "place_bet", Err: err}
}

func (a *Adapter) screenshot(ctx context.Context, name string) {
	if a.cfg.ScreenshotDir == "" {
		return
	}
	path := filepath.Join(a.cfg.ScreenshotDir, fmt.Sprintf("%s-%d.png", name, time.Now().UnixNano()))
	if err := a.page.Screenshot(ctx, path); err != nil {
		a.logger.Warn("site: screenshot failed", zap.Error(err))
	}
}

type resultProbe struct {
	Present bool   `json:"present"`
	Win     bool   `json:"win"`
	Text    string `json:"text"`
	Ref     string `json:"ref"`
	Payout  string `json:"payout"`
}

func (a *Adapter) resultExpr() string {
	sel, _ := json.Marshal(a.cfg.Selectors.BetResult)
	win, _ := json.Marshal(a.cfg.Selectors.WinClass)
	return `(() => {
  const el = document.querySelector(` + string(sel) + `);
  if (!el) return {present: false};
  return {
    present: true,
    win: el.classList.contains(` + string(win) + `),
    text: (el.textContent || "").trim(),
    ref: el.getAttribute("data-round-id") || "",
    payout: el.getAttribute("data-payout") || ""
  };
})()`
}

// CheckResult polls the result marker. No marker means pending.
func (a *Adapter) CheckResult(ctx context.Context) (Result, error) {
	if a == nil || a.page == nil {
		return Result{Outcome: models.OutcomePending}, &browser.InteractionError{Op: "check_result", Err: browser.ErrNotInitialized}
	}
	var probe resultProbe
	if err := a.page.Evaluate(ctx, a.resultExpr(), &probe); err != nil {
		return Result{Outcome: models.OutcomePending}, err
	}
	return parseProbe(probe), nil
}

func parseProbe(p resultProbe) Result {
	if !p.Present {
		return Result{Outcome: models.OutcomePending}
	}
	out := Result{Outcome: models.OutcomeLoss, Ref: strings.TrimSpace(p.Ref)}
	if out.Ref == "" {
		out.Ref = strings.TrimSpace(p.Text)
	}
	if p.Win {
		out.Outcome = models.OutcomeWin
	}
	if raw := strings.TrimSpace(strings.ReplaceAll(p.Payout, ",", ".")); raw != "" {
		if v, err := decimal.NewFromString(raw); err == nil {
			out.Payout = v
			out.HasPayout = true
		}
	}
	return out
}

func (a *Adapter) Close() error {
	if a == nil || a.page == nil {
		return nil
	}
	a.setState(StateLoggedOut)
	return a.page.Close()
}
