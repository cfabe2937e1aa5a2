package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"signalbet/internal/automation"
	"signalbet/internal/models"
	"signalbet/internal/repository"
	"signalbet/internal/service"
)

type memRules struct {
	repository.RuleStore

	mu    sync.Mutex
	next  uint64
	rules map[uint64]models.Rule
}

func (m *memRules) ListRules(_ context.Context, userID string) ([]models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Rule
	for _, r := range m.rules {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRules) GetRule(_ context.Context, id uint64) (*models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memRules) CreateRule(_ context.Context, item *models.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rules == nil {
		m.rules = map[uint64]models.Rule{}
	}
	m.next++
	item.ID = m.next
	m.rules[item.ID] = *item
	return nil
}

func (m *memRules) UpdateRule(_ context.Context, item *models.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[item.ID] = *item
	return nil
}

type memLedger struct {
	repository.LedgerStore

	mu   sync.Mutex
	bets map[uint64]models.BetAttempt
}

func (m *memLedger) GetBetAttempt(_ context.Context, id uint64) (*models.BetAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bets[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *memLedger) UpdateOutcome(_ context.Context, id uint64, outcome models.Outcome, profit decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bets[id]
	if !ok || b.Outcome != models.OutcomePending {
		return repository.ErrOutcomeFinal
	}
	now := time.Now().UTC()
	b.Outcome = outcome
	b.Profit = profit
	b.ResolvedAt = &now
	m.bets[id] = b
	return nil
}

type memSettings struct {
	mu    sync.Mutex
	items map[string]models.SystemSetting
}

func (m *memSettings) UpsertSystemSetting(_ context.Context, item *models.SystemSetting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = map[string]models.SystemSetting{}
	}
	m.items[item.Key] = *item
	return nil
}

func (m *memSettings) GetSystemSettingByKey(_ context.Context, key string) (*models.SystemSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (m *memSettings) ListSystemSettings(_ context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SystemSetting
	for k, it := range m.items {
		if params.Prefix != nil && !strings.HasPrefix(k, *params.Prefix) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, r http.Handler, method, path, body string) (int, envelope, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w.Code, env, w.Body.String()
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestRuleHandler_CreateDefaultsAndValidates(t *testing.T) {
	r := newRouter()
	repo := &memRules{}
	(&RuleHandler{Repo: repo}).Register(r)

	code, env, _ := do(t, r, http.MethodPost, "/rules", `{"trigger":"  Futebol Studio - Casa ","bet_type":"HOME"}`)
	if code != http.StatusOK {
		t.Fatalf("code=%d msg=%s", code, env.Message)
	}
	got := repo.rules[1]
	if got.Trigger != "Futebol Studio - Casa" || got.BetType != models.BetTypeHome || got.UserID != "default" {
		t.Fatalf("rule=%+v", got)
	}
	if !got.BetAmount.Equal(decimal.NewFromInt(10)) || !got.Active {
		t.Fatalf("amount=%s active=%v want default bet and active", got.BetAmount, got.Active)
	}

	code, _, _ = do(t, r, http.MethodPost, "/rules", `{"trigger":"x","bet_type":"over"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("code=%d want 400 for bad bet type", code)
	}
	code, _, _ = do(t, r, http.MethodPost, "/rules", `{"trigger":"x","bet_type":"draw","martingale_level":2}`)
	if code != http.StatusOK {
		t.Fatalf("code=%d", code)
	}
	if lvl := repo.rules[2].MartingaleLevel; lvl != 0 {
		t.Fatalf("level=%d want 0 without martingale", lvl)
	}
}

func TestRuleHandler_ToggleAndOwnership(t *testing.T) {
	r := newRouter()
	repo := &memRules{rules: map[uint64]models.Rule{
		1: {ID: 1, UserID: "default", Trigger: "Casa", BetType: models.BetTypeHome, BetAmount: decimal.NewFromInt(5), Active: true},
		2: {ID: 2, UserID: "someone", Trigger: "Fora", BetType: models.BetTypeAway, BetAmount: decimal.NewFromInt(5), Active: true},
	}, next: 2}
	(&RuleHandler{Repo: repo}).Register(r)

	if code, _, _ := do(t, r, http.MethodPost, "/rules/1/toggle", ""); code != http.StatusOK {
		t.Fatalf("toggle code=%d", code)
	}
	if repo.rules[1].Active {
		t.Fatalf("rule still active after toggle")
	}
	if code, _, _ := do(t, r, http.MethodGet, "/rules/2", ""); code != http.StatusNotFound {
		t.Fatalf("code=%d want 404 for another user's rule", code)
	}
	if code, _, _ := do(t, r, http.MethodGet, "/rules/abc", ""); code != http.StatusBadRequest {
		t.Fatalf("code=%d want 400", code)
	}
}

func TestBetHandler_Resolve(t *testing.T) {
	r := newRouter()
	ledger := &memLedger{bets: map[uint64]models.BetAttempt{
		1: {ID: 1, UserID: "default", BetType: models.BetTypeHome, Amount: decimal.NewFromInt(10), Outcome: models.OutcomePending},
		2: {ID: 2, UserID: "default", BetType: models.BetTypeDraw, Amount: decimal.NewFromInt(10), Outcome: models.OutcomePending},
		3: {ID: 3, UserID: "default", BetType: models.BetTypeAway, Amount: decimal.NewFromInt(10), Outcome: models.OutcomePending},
	}}
	mult := map[models.BetType]decimal.Decimal{
		models.BetTypeHome: decimal.NewFromInt(2),
		models.BetTypeDraw: decimal.NewFromInt(12),
	}
	(&BetHandler{Repo: ledger, Multipliers: mult}).Register(r)

	if code, _, _ := do(t, r, http.MethodPost, "/bets/1/resolve", `{"outcome":"win"}`); code != http.StatusOK {
		t.Fatalf("code=%d", code)
	}
	if p := ledger.bets[1].Profit; !p.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("profit=%s want 10", p)
	}
	if code, _, _ := do(t, r, http.MethodPost, "/bets/1/resolve", `{"outcome":"loss"}`); code != http.StatusConflict {
		t.Fatalf("code=%d want 409 on second resolve", code)
	}

	_, _, _ = do(t, r, http.MethodPost, "/bets/2/resolve", `{"outcome":"win"}`)
	if p := ledger.bets[2].Profit; !p.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("draw profit=%s want 110", p)
	}

	if code, _, _ := do(t, r, http.MethodPost, "/bets/3/resolve", `{"outcome":"pending"}`); code != http.StatusBadRequest {
		t.Fatalf("code=%d want 400 for pending", code)
	}
	_, _, _ = do(t, r, http.MethodPost, "/bets/3/resolve", `{"outcome":"loss"}`)
	if p := ledger.bets[3].Profit; !p.Equal(decimal.NewFromInt(-10)) {
		t.Fatalf("loss profit=%s want -10", p)
	}
	if code, _, _ := do(t, r, http.MethodPost, "/bets/9/resolve", `{"outcome":"loss"}`); code != http.StatusNotFound {
		t.Fatalf("code=%d want 404", code)
	}
}

func TestSettingsHandler_NeverEchoesSecrets(t *testing.T) {
	r := newRouter()
	svc := &service.SettingsService{Repo: &memSettings{}}
	(&SettingsHandler{Settings: svc}).Register(r)

	code, _, body := do(t, r, http.MethodPut, "/settings", `{"username":"ana","password":"hunter2","telegram_bot_token":"123:abc","daily_limit":"300"}`)
	if code != http.StatusOK {
		t.Fatalf("code=%d body=%s", code, body)
	}
	if strings.Contains(body, "hunter2") || strings.Contains(body, "123:abc") {
		t.Fatalf("secret echoed: %s", body)
	}

	_, env, body := do(t, r, http.MethodGet, "/settings", "")
	var view struct {
		Username         string          `json:"username"`
		DailyLimit       decimal.Decimal `json:"daily_limit"`
		HasPassword      bool            `json:"has_password"`
		HasTelegramToken bool            `json:"has_telegram_token"`
		DelayBetweenBets int             `json:"delay_between_bets"`
	}
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode err=%v body=%s", err, body)
	}
	if view.Username != "ana" || !view.HasPassword || !view.HasTelegramToken || !view.DailyLimit.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("view=%+v", view)
	}
	if view.DelayBetweenBets != 5 {
		t.Fatalf("delay=%d want default 5s", view.DelayBetweenBets)
	}
	if strings.Contains(body, "hunter2") {
		t.Fatalf("password in body")
	}

	if code, _, _ := do(t, r, http.MethodPut, "/settings", `{"bet_url":"ftp://x"}`); code != http.StatusBadRequest {
		t.Fatalf("code=%d want 400", code)
	}
}

func TestSettingsHandler_TelegramTest(t *testing.T) {
	r := newRouter()
	var gotToken string
	h := &SettingsHandler{
		Settings:      &service.SettingsService{Repo: &memSettings{}},
		TokenFallback: "from-config",
		TestTelegram: func(_ context.Context, token string) (string, error) {
			gotToken = token
			return "signal_bot", nil
		},
	}
	h.Register(r)
	code, env, _ := do(t, r, http.MethodPost, "/settings/telegram/test", `{}`)
	if code != http.StatusOK || gotToken != "from-config" {
		t.Fatalf("code=%d token=%q", code, gotToken)
	}
	if !strings.Contains(string(env.Data), "signal_bot") {
		t.Fatalf("data=%s", env.Data)
	}
}

type fakeEngine struct {
	startErr error
	resets   int
}

func (e *fakeEngine) Start(context.Context) error { return e.startErr }
func (e *fakeEngine) Stop(context.Context) error  { return nil }
func (e *fakeEngine) Status() automation.Session {
	return automation.Session{Status: automation.StatusRunning}
}
func (e *fakeEngine) ResetDailySpend() { e.resets++ }

func TestAutomationHandler_StartConflict(t *testing.T) {
	r := newRouter()
	eng := &fakeEngine{}
	(&AutomationHandler{Engine: eng}).Register(r)

	if code, _, _ := do(t, r, http.MethodPost, "/automation/start", ""); code != http.StatusOK {
		t.Fatalf("code=%d", code)
	}
	eng.startErr = automation.ErrAlreadyRunning
	if code, _, _ := do(t, r, http.MethodPost, "/automation/start", ""); code != http.StatusConflict {
		t.Fatalf("code=%d want 409", code)
	}
	eng.startErr = errors.New("chrome exited")
	if code, _, _ := do(t, r, http.MethodPost, "/automation/start", ""); code != http.StatusBadGateway {
		t.Fatalf("code=%d want 502", code)
	}
	_, _, _ = do(t, r, http.MethodPost, "/automation/reset-daily-spend", "")
	if eng.resets != 1 {
		t.Fatalf("resets=%d", eng.resets)
	}
}
