package automation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signalbet/internal/cache"
	"signalbet/internal/matcher"
	"signalbet/internal/models"
	"signalbet/internal/notify"
	"signalbet/internal/repository"
	"signalbet/internal/risk"
	"signalbet/internal/service"
	"signalbet/internal/signal"
	"signalbet/internal/site"
	"signalbet/internal/staking"
)

const reviewResultTimeout = "result_timeout"
const reviewConfirmTimeout = "confirmation_timeout"

// pendingBet is an attempt awaiting its result, with its own poll backoff.
// baseRef is the result marker seen just before the bet went in; a result
// carrying that ref belongs to an earlier round.
type pendingBet struct {
	attempt   models.BetAttempt
	baseRef   string
	nextCheck time.Time
	delay     time.Duration
}

// run is the state of one Start..Stop cycle. Only the loop goroutine touches
// it after Start returns, except for the stop signal.
type run struct {
	id       string
	settings service.AutomationSettings
	adapter  SiteAdapter
	lock     *cache.Lock

	book      *staking.Book
	rules     map[uint64]models.Rule
	pending   []*pendingBet
	lastRef   string
	cursor    signal.Cursor
	nextFetch time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func newRun(id string, settings service.AutomationSettings, adapter SiteAdapter, lock *cache.Lock) *run {
	return &run{
		id:       id,
		settings: settings,
		adapter:  adapter,
		lock:     lock,
		book:     staking.NewBook(),
		rules:    map[uint64]models.Rule{},
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *run) attach(a models.BetAttempt, baseRef string, now time.Time, base time.Duration) {
	r.pending = append(r.pending, &pendingBet{attempt: a, baseRef: baseRef, nextCheck: now.Add(base), delay: base})
}

func (r *run) requestStop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *run) stopping() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) loop(ctx context.Context, r *run) {
	faulted := false
	defer func() {
		if err := r.adapter.Close(); err != nil {
			o.logger.Warn("automation: close adapter failed", zap.Error(err))
		}
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := r.lock.Release(relCtx); err != nil {
			o.logger.Warn("automation: release lock failed", zap.Error(err))
		}
		cancel()
		o.mu.Lock()
		o.session.LoggedIn = false
		o.session.Pending = len(r.pending)
		if o.run == r {
			o.run = nil
		}
		o.mu.Unlock()
		if !faulted {
			o.setStatus(context.WithoutCancel(ctx), StatusStopped, "")
		}
		o.logger.Info("automation stopped", zap.String("run_id", r.id), zap.Int("pending", len(r.pending)))
		close(r.done)
	}()

	ticker := time.NewTicker(o.opts.ReconcileInterval)
	defer ticker.Stop()
	for {
		if err := o.tick(ctx, r); err != nil {
			faulted = true
			_ = o.fault(context.WithoutCancel(ctx), err, nil, nil)
			return
		}
		if r.stopping() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// tick runs one iteration. Only a lost instance lock is fatal.
func (o *Orchestrator) tick(ctx context.Context, r *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("automation: iteration panic",
				zap.String("run_id", r.id),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			o.recoverable(ctx, r, "", fmt.Errorf("iteration panic: %v", p))
			err = nil
		}
	}()

	if err := r.lock.Refresh(ctx); err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return fmt.Errorf("instance lock lost: %w", ErrInstanceLocked)
		}
		o.logger.Warn("automation: lock refresh failed", zap.Error(err))
	}

	now := o.now()
	o.guard.Roll(now)
	o.reconcile(ctx, r, now)

	if !r.stopping() && !now.Before(r.nextFetch) {
		r.nextFetch = now.Add(o.opts.PollInterval)
		o.processMessages(ctx, r)
	}
	o.mu.Lock()
	o.session.Pending = len(r.pending)
	o.session.Cursor = r.cursor
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) processMessages(ctx context.Context, r *run) {
	rules, err := o.deps.Rules.ListRules(ctx, o.opts.UserID)
	if err != nil {
		o.logger.Warn("automation: list rules failed", zap.Error(err))
		return
	}
	for _, rule := range rules {
		r.rules[rule.ID] = rule
	}

	seq, cur, err := o.deps.Messages.FetchNew(ctx, r.cursor)
	if err != nil {
		o.logger.Warn("automation: fetch messages failed", zap.Error(err))
		return
	}
	r.cursor = cur
	for msg := range seq {
		o.setStatus(ctx, StatusProcessing, "")
		o.handleMessage(ctx, r, msg, rules)
		o.setStatus(ctx, StatusRunning, "")
		// Checked after handling so an unhandled message is never claimed.
		if r.stopping() || ctx.Err() != nil {
			return
		}
	}
}

func (o *Orchestrator) markProcessed(ctx context.Context, id string) {
	if err := o.deps.Messages.MarkProcessed(ctx, id); err != nil {
		o.logger.Warn("automation: mark processed failed", zap.String("message_id", id), zap.Error(err))
	}
}

func (o *Orchestrator) handleMessage(ctx context.Context, r *run, msg models.Message, rules []models.Rule) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("automation: message panic",
				zap.String("message_id", msg.ID),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			o.markProcessed(ctx, msg.ID)
			o.recoverable(ctx, r, msg.ID, fmt.Errorf("message panic: %v", p))
		}
	}()

	rule := matcher.Match(msg, rules)
	if rule == nil {
		o.markProcessed(ctx, msg.ID)
		return
	}
	log := o.logger.With(zap.String("run_id", r.id), zap.String("message_id", msg.ID), zap.Uint64("rule_id", rule.ID))

	placed, err := o.deps.Ledger.HasBetForMessage(ctx, msg.ID)
	if err != nil {
		// Try again on a later fetch rather than risk a second bet.
		log.Warn("automation: ledger check failed", zap.Error(err))
		if rerr := o.deps.Messages.Release(ctx, msg.ID); rerr != nil {
			log.Warn("automation: release message failed", zap.Error(rerr))
		}
		return
	}
	if placed {
		log.Info("automation: message already has a bet")
		o.markProcessed(ctx, msg.ID)
		return
	}

	amount, level := r.book.Stake(*rule, r.settings.UseMartingale)
	if err := o.guard.Check(amount); err != nil {
		var be *risk.BudgetExceededError
		reason := err.Error()
		if errors.As(err, &be) {
			reason = string(be.Violation)
		}
		log.Info("automation: bet skipped", zap.String("reason", reason), zap.String("amount", amount.StringFixed(2)))
		o.markProcessed(ctx, msg.ID)
		o.deps.Publisher.Publish(ctx, notify.Event{
			Type: notify.EventBetSkipped, RunID: r.id, RuleID: rule.ID, MessageID: msg.ID,
			BetType: string(rule.BetType), Amount: notify.Dec(amount), Reason: reason,
		})
		return
	}

	if err := r.adapter.EnsureOnBettingPage(ctx); err != nil {
		o.markProcessed(ctx, msg.ID)
		o.recoverable(ctx, r, msg.ID, fmt.Errorf("open betting page: %w", err))
		return
	}

	attempt := models.BetAttempt{
		UserID:          o.opts.UserID,
		RunID:           r.id,
		MessageID:       &msg.ID,
		RuleID:          rule.ID,
		BetType:         rule.BetType,
		Amount:          amount,
		Outcome:         models.OutcomePending,
		MartingaleLevel: level,
		CreatedAt:       o.now(),
	}
	baseRef := o.currentRef(ctx, r)
	err = r.adapter.PlaceBet(ctx, rule.BetType, amount)
	var cte *site.ConfirmationTimeoutError
	switch {
	case errors.As(err, &cte):
		// The bet may or may not be on the site; record it for a human.
		attempt.NeedsReview = true
		attempt.ReviewReason = reviewConfirmTimeout
		if aerr := o.deps.Ledger.AppendBetAttempt(ctx, &attempt); aerr != nil {
			log.Error("automation: append unconfirmed bet failed", zap.Error(aerr))
		}
		o.guard.Record(amount)
		o.markProcessed(ctx, msg.ID)
		o.recoverable(ctx, r, msg.ID, err)
		return
	case err != nil:
		o.markProcessed(ctx, msg.ID)
		o.recoverable(ctx, r, msg.ID, fmt.Errorf("place bet: %w", err))
		return
	}

	if aerr := o.deps.Ledger.AppendBetAttempt(ctx, &attempt); aerr != nil {
		log.Error("automation: bet placed but ledger append failed", zap.Error(aerr))
		o.recoverable(ctx, r, msg.ID, fmt.Errorf("record bet: %w", aerr))
	} else {
		r.attach(attempt, baseRef, o.now(), o.opts.ResultPollBase)
	}
	spend := o.guard.Record(amount)
	o.markProcessed(ctx, msg.ID)
	log.Info("automation: bet placed",
		zap.String("bet_type", string(rule.BetType)),
		zap.String("amount", amount.StringFixed(2)),
		zap.Int("level", level),
		zap.String("daily_spend", spend.StringFixed(2)),
	)
	o.deps.Publisher.Publish(ctx, notify.Event{
		Type: notify.EventBetPlaced, RunID: r.id, BetID: attempt.ID, RuleID: rule.ID, MessageID: msg.ID,
		BetType: string(rule.BetType), Amount: notify.Dec(amount),
	})

	o.pause(ctx, r, r.settings.DelayBetweenBets)
}

func (o *Orchestrator) pause(ctx context.Context, r *run, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-r.stopCh:
	case <-t.C:
	}
}

func (o *Orchestrator) recoverable(ctx context.Context, r *run, messageID string, err error) {
	o.logger.Warn("automation: recoverable error",
		zap.String("run_id", r.id),
		zap.String("message_id", messageID),
		zap.Error(err),
	)
	o.mu.Lock()
	o.session.LastError = err.Error()
	o.mu.Unlock()
	o.deps.Publisher.Publish(ctx, notify.Event{
		Type: notify.EventAutomationFault, RunID: r.id, MessageID: messageID,
		Error: err.Error(), Recoverable: true,
	})
}

// currentRef reads the round shown on the result marker. When the page cannot
// be read the last consumed ref stands in.
func (o *Orchestrator) currentRef(ctx context.Context, r *run) string {
	res, err := r.adapter.CheckResult(ctx)
	if err != nil {
		o.logger.Warn("automation: read result marker failed", zap.Error(err))
		return r.lastRef
	}
	if res.Outcome == models.OutcomePending {
		return ""
	}
	return res.Ref
}

// reconcile polls the page for the oldest outstanding attempt. The result
// marker is shared by all bets, so only a ref that is neither the one seen
// at placement nor one already consumed counts.
func (o *Orchestrator) reconcile(ctx context.Context, r *run, now time.Time) {
	kept := r.pending[:0]
	for _, p := range r.pending {
		if now.Sub(p.attempt.CreatedAt) > o.opts.MaxPendingAge && !p.attempt.CreatedAt.IsZero() {
			if err := o.deps.Ledger.FlagForReview(ctx, p.attempt.ID, reviewResultTimeout); err != nil {
				o.logger.Warn("automation: flag for review failed", zap.Uint64("bet_id", p.attempt.ID), zap.Error(err))
				kept = append(kept, p)
				continue
			}
			o.recoverable(ctx, r, strPtrVal(p.attempt.MessageID),
				fmt.Errorf("bet %d has no result after %s, flagged for review", p.attempt.ID, o.opts.MaxPendingAge))
			continue
		}
		kept = append(kept, p)
	}
	r.pending = kept
	if len(r.pending) == 0 {
		return
	}

	head := r.pending[0]
	if now.Before(head.nextCheck) {
		return
	}
	res, err := r.adapter.CheckResult(ctx)
	if err != nil {
		o.logger.Warn("automation: check result failed", zap.Uint64("bet_id", head.attempt.ID), zap.Error(err))
		o.backoff(head, now)
		return
	}
	if res.Outcome == models.OutcomePending || res.Ref == head.baseRef || res.Ref == r.lastRef {
		o.backoff(head, now)
		return
	}

	a := head.attempt
	profit := o.profit(a, res)
	err = o.deps.Ledger.UpdateOutcome(ctx, a.ID, res.Outcome, profit)
	switch {
	case errors.Is(err, repository.ErrOutcomeFinal):
		o.logger.Info("automation: bet already resolved elsewhere", zap.Uint64("bet_id", a.ID))
		r.lastRef = res.Ref
		r.pending = r.pending[1:]
		return
	case err != nil:
		o.logger.Warn("automation: update outcome failed", zap.Uint64("bet_id", a.ID), zap.Error(err))
		o.backoff(head, now)
		return
	}
	r.lastRef = res.Ref
	r.pending = r.pending[1:]

	if rule, ok := r.rules[a.RuleID]; ok {
		st := r.book.Record(rule, res.Outcome, r.settings.UseMartingale, r.settings.ResetOnWin)
		o.logger.Info("automation: bet resolved",
			zap.Uint64("bet_id", a.ID),
			zap.String("outcome", string(res.Outcome)),
			zap.String("profit", profit.StringFixed(2)),
			zap.Int("next_level", st.CurrentLevel),
			zap.String("next_amount", st.NextAmount.StringFixed(2)),
		)
	}
	o.deps.Publisher.Publish(ctx, notify.Event{
		Type: notify.EventBetResolved, RunID: r.id, BetID: a.ID, RuleID: a.RuleID,
		MessageID: strPtrVal(a.MessageID), BetType: string(a.BetType), Amount: notify.Dec(a.Amount),
		Outcome: string(res.Outcome), Profit: notify.Dec(profit),
	})
}

func (o *Orchestrator) backoff(p *pendingBet, now time.Time) {
	p.delay *= 2
	if p.delay > o.opts.ResultPollMax {
		p.delay = o.opts.ResultPollMax
	}
	if p.delay <= 0 {
		p.delay = o.opts.ResultPollBase
	}
	p.nextCheck = now.Add(p.delay)
}

// profit is payout minus stake on a win and minus the stake on a loss.
func (o *Orchestrator) profit(a models.BetAttempt, res site.Result) decimal.Decimal {
	if res.Outcome != models.OutcomeWin {
		return a.Amount.Neg()
	}
	payout := res.Payout
	if !res.HasPayout {
		mult, ok := o.opts.PayoutMultipliers[a.BetType]
		if !ok {
			mult = decimal.NewFromInt(2)
		}
		payout = a.Amount.Mul(mult)
	}
	return payout.Sub(a.Amount)
}

func strPtrVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
