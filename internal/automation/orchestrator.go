package automation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signalbet/internal/cache"
	"signalbet/internal/config"
	"signalbet/internal/models"
	"signalbet/internal/notify"
	"signalbet/internal/repository"
	"signalbet/internal/risk"
	"signalbet/internal/service"
	"signalbet/internal/signal"
	"signalbet/internal/site"
)

var (
	ErrAlreadyRunning = errors.New("automation: already running")
	ErrInstanceLocked = errors.New("automation: another instance is running for this account")
)

type Status string

const (
	StatusStopped      Status = "stopped"
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusProcessing   Status = "processing"
	StatusFaulted      Status = "faulted"
)

// Session is a snapshot of the automation run.
type Session struct {
	RunID      string          `json:"run_id,omitempty"`
	Status     Status          `json:"status"`
	LoggedIn   bool            `json:"logged_in"`
	DailySpend decimal.Decimal `json:"daily_spend"`
	DailyLimit decimal.Decimal `json:"daily_limit"`
	MaxBet     decimal.Decimal `json:"max_bet_amount"`
	SpendDay   time.Time       `json:"spend_day"`
	Pending    int             `json:"pending"`
	LastError  string          `json:"last_error,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	Cursor     signal.Cursor   `json:"cursor"`
}

// SiteAdapter is the part of site.Adapter the engine drives.
type SiteAdapter interface {
	Login(ctx context.Context, creds site.Credentials) error
	EnsureOnBettingPage(ctx context.Context) error
	PlaceBet(ctx context.Context, betType models.BetType, amount decimal.Decimal) error
	CheckResult(ctx context.Context) (site.Result, error)
	Close() error
}

// AdapterFactory opens a fresh adapter for a run.
type AdapterFactory func(ctx context.Context, settings service.AutomationSettings) (SiteAdapter, error)

type MessageSource interface {
	FetchNew(ctx context.Context, cur signal.Cursor) (iter.Seq[models.Message], signal.Cursor, error)
	MarkProcessed(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
}

type SettingsLoader interface {
	Load(ctx context.Context) (service.AutomationSettings, error)
}

type Deps struct {
	Messages  MessageSource
	Rules     repository.RuleStore
	Ledger    repository.LedgerStore
	Settings  SettingsLoader
	Adapters  AdapterFactory
	Locks     cache.Store
	Publisher notify.Publisher
	Logger    *zap.Logger
}

type Options struct {
	UserID            string
	PollInterval      time.Duration
	ReconcileInterval time.Duration
	ResultPollBase    time.Duration
	ResultPollMax     time.Duration
	MaxPendingAge     time.Duration
	LockTTL           time.Duration
	Location          *time.Location
	PayoutMultipliers map[models.BetType]decimal.Decimal
}

// OptionsFromConfig resolves durations, the timezone and payout multipliers.
func OptionsFromConfig(app config.AppConfig, cfg config.AutomationConfig) (Options, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return Options{}, fmt.Errorf("automation: timezone %q: %w", tz, err)
		}
		loc = l
	}
	mult, err := ParseMultipliers(cfg.PayoutMultipliers)
	if err != nil {
		return Options{}, err
	}
	return Options{
		UserID:            app.UserID,
		PollInterval:      cfg.PollInterval,
		ReconcileInterval: cfg.ReconcileInterval,
		ResultPollBase:    cfg.ResultPollBase,
		ResultPollMax:     cfg.ResultPollMax,
		MaxPendingAge:     cfg.MaxPendingAge,
		LockTTL:           cfg.LockTTL,
		Location:          loc,
		PayoutMultipliers: mult,
	}, nil
}

func DefaultMultipliers() map[models.BetType]decimal.Decimal {
	return map[models.BetType]decimal.Decimal{
		models.BetTypeHome: decimal.NewFromInt(2),
		models.BetTypeAway: decimal.NewFromInt(2),
		models.BetTypeDraw: decimal.NewFromInt(12),
	}
}

// ParseMultipliers overlays configured payout multipliers on the defaults.
func ParseMultipliers(raw map[string]string) (map[models.BetType]decimal.Decimal, error) {
	out := DefaultMultipliers()
	for k, v := range raw {
		bt := models.BetType(strings.ToLower(strings.TrimSpace(k)))
		if !bt.Valid() {
			return nil, fmt.Errorf("automation: payout multiplier for unknown bet type %q", k)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("automation: invalid payout multiplier %q for %s", v, bt)
		}
		out[bt] = d
	}
	return out, nil
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.UserID) == "" {
		o.UserID = "default"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = 5 * time.Second
	}
	if o.ResultPollBase <= 0 {
		o.ResultPollBase = 5 * time.Second
	}
	if o.ResultPollMax < o.ResultPollBase {
		o.ResultPollMax = time.Minute
		if o.ResultPollMax < o.ResultPollBase {
			o.ResultPollMax = o.ResultPollBase
		}
	}
	if o.MaxPendingAge <= 0 {
		o.MaxPendingAge = 30 * time.Minute
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 2 * time.Minute
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if len(o.PayoutMultipliers) == 0 {
		o.PayoutMultipliers = DefaultMultipliers()
	}
	return o
}

// Orchestrator owns the automation session. One loop goroutine drives the
// browser; the mutex only guards the session snapshot and lifecycle fields.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	guard  *risk.Guard
	now    func() time.Time

	baseCtx context.Context

	mu      sync.Mutex
	session Session
	run     *run
	// stopRequested is set by Stop while Start is still initializing; the
	// session stays Initializing until Start has released what it acquired.
	stopRequested bool
}

// New builds an orchestrator. baseCtx bounds the loop goroutine; cancel it on
// process shutdown.
func New(baseCtx context.Context, deps Deps, opts Options) *Orchestrator {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Publisher == nil {
		deps.Publisher = notify.Nop{}
	}
	if deps.Locks == nil {
		deps.Locks = cache.NewMemoryStore()
	}
	opts = opts.withDefaults()
	return &Orchestrator{
		deps:    deps,
		opts:    opts,
		logger:  deps.Logger,
		guard:   risk.NewGuard(risk.Limits{}, opts.Location, deps.Logger),
		now:     func() time.Time { return time.Now().UTC() },
		baseCtx: baseCtx,
		session: Session{Status: StatusStopped},
	}
}

func (o *Orchestrator) lockKey() string {
	return "signalbet:automation:" + o.opts.UserID
}

// Status returns a snapshot of the session.
func (o *Orchestrator) Status() Session {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()
	limits := o.guard.Limits()
	s.DailySpend = o.guard.Spend()
	s.DailyLimit = limits.DailyLimit
	s.MaxBet = limits.MaxBetAmount
	s.SpendDay = risk.DayStart(o.now(), o.guard.Location())
	return s
}

func (o *Orchestrator) setStatus(ctx context.Context, st Status, lastErr string) {
	o.mu.Lock()
	prev := o.session.Status
	o.session.Status = st
	if lastErr != "" {
		o.session.LastError = lastErr
	}
	runID := o.session.RunID
	o.mu.Unlock()
	if prev == st {
		return
	}
	if st == StatusProcessing || prev == StatusProcessing {
		return
	}
	o.deps.Publisher.Publish(ctx, notify.Event{Type: notify.EventStatusChanged, RunID: runID, Status: string(st), Error: lastErr})
}

// Start initializes a run: lock, settings, browser, login, spend rebuild and
// pending re-attach. Failures leave the session Faulted; there is no retry.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	switch o.session.Status {
	case StatusStopped, StatusFaulted:
	default:
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	runID := uuid.NewString()
	o.session = Session{RunID: runID, Status: StatusStopped}
	o.stopRequested = false
	o.mu.Unlock()
	o.setStatus(ctx, StatusInitializing, "")

	// A client disconnect must not abort a login half way.
	ctx = context.WithoutCancel(ctx)

	lock, err := cache.AcquireLock(ctx, o.deps.Locks, o.lockKey(), o.opts.LockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			err = ErrInstanceLocked
		}
		return o.fault(ctx, fmt.Errorf("acquire instance lock: %w", err), nil, nil)
	}

	settings, err := o.deps.Settings.Load(ctx)
	if err != nil {
		return o.fault(ctx, fmt.Errorf("load settings: %w", err), nil, lock)
	}
	o.guard.SetLimits(risk.Limits{MaxBetAmount: settings.MaxBetAmount, DailyLimit: settings.DailyLimit})

	if o.deps.Adapters == nil {
		return o.fault(ctx, errors.New("no site adapter factory"), nil, lock)
	}
	adapter, err := o.deps.Adapters(ctx, settings)
	if err != nil {
		return o.fault(ctx, fmt.Errorf("open site: %w", err), nil, lock)
	}

	creds := site.Credentials{}
	if settings.AutoLogin {
		creds = site.Credentials{Username: settings.Username, Password: settings.Password}
	}
	if err := adapter.Login(ctx, creds); err != nil {
		return o.fault(ctx, fmt.Errorf("login: %w", err), adapter, lock)
	}
	o.mu.Lock()
	o.session.LoggedIn = true
	o.mu.Unlock()
	if err := adapter.EnsureOnBettingPage(ctx); err != nil {
		return o.fault(ctx, fmt.Errorf("open betting page: %w", err), adapter, lock)
	}

	now := o.now()
	spend, err := o.deps.Ledger.SumStakesSince(ctx, o.opts.UserID, risk.DayStart(now, o.opts.Location))
	if err != nil {
		return o.fault(ctx, fmt.Errorf("rebuild daily spend: %w", err), adapter, lock)
	}
	o.guard.Restore(now, spend)

	pending, err := o.deps.Ledger.ListPendingBetAttempts(ctx, o.opts.UserID)
	if err != nil {
		return o.fault(ctx, fmt.Errorf("load pending bets: %w", err), adapter, lock)
	}

	r := newRun(runID, settings, adapter, lock)
	// Whatever result is on screen now predates this run.
	if res, err := adapter.CheckResult(ctx); err == nil && res.Outcome != models.OutcomePending {
		r.lastRef = res.Ref
	}
	for _, p := range pending {
		if p.NeedsReview {
			continue
		}
		r.attach(p, r.lastRef, now, o.opts.ResultPollBase)
	}

	o.mu.Lock()
	if o.stopRequested {
		o.stopRequested = false
		o.session.LoggedIn = false
		o.mu.Unlock()
		o.logger.Info("automation: stop requested during start", zap.String("run_id", runID))
		_ = adapter.Close()
		_ = lock.Release(ctx)
		o.setStatus(ctx, StatusStopped, "")
		return nil
	}
	started := now
	o.session.StartedAt = &started
	o.session.Pending = len(r.pending)
	o.run = r
	o.mu.Unlock()

	o.logger.Info("automation started",
		zap.String("run_id", runID),
		zap.String("daily_spend", spend.StringFixed(2)),
		zap.Int("reattached", len(r.pending)),
	)
	o.setStatus(ctx, StatusRunning, "")
	go o.loop(o.baseCtx, r)
	return nil
}

// fault releases whatever was acquired and leaves the session Faulted.
func (o *Orchestrator) fault(ctx context.Context, err error, adapter SiteAdapter, lock *cache.Lock) error {
	if adapter != nil {
		if cerr := adapter.Close(); cerr != nil {
			o.logger.Warn("automation: close adapter failed", zap.Error(cerr))
		}
	}
	if lock != nil {
		if rerr := lock.Release(ctx); rerr != nil {
			o.logger.Warn("automation: release lock failed", zap.Error(rerr))
		}
	}
	o.mu.Lock()
	o.session.LoggedIn = false
	o.stopRequested = false
	runID := o.session.RunID
	o.mu.Unlock()
	o.logger.Error("automation faulted", zap.String("run_id", runID), zap.Error(err))
	o.setStatus(ctx, StatusFaulted, err.Error())
	o.deps.Publisher.Publish(ctx, notify.Event{Type: notify.EventAutomationFault, RunID: runID, Error: err.Error()})
	return err
}

// Stop asks the loop to finish. The in-flight interaction is not aborted; Stop
// waits for the loop to exit or for ctx to end, whichever comes first.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	switch o.session.Status {
	case StatusStopped, StatusFaulted:
		o.mu.Unlock()
		return nil
	case StatusInitializing:
		o.stopRequested = true
		o.mu.Unlock()
		return nil
	}
	r := o.run
	o.mu.Unlock()
	if r == nil {
		return nil
	}
	r.requestStop()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetDailySpend zeroes the day's spend. The loop also rolls it on its own
// when the day changes.
func (o *Orchestrator) ResetDailySpend() {
	o.guard.Reset(o.now())
	o.logger.Info("automation: daily spend reset")
}
