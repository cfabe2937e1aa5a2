package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Violation string

const (
	ViolationMaxBet      Violation = "max_bet_amount"
	ViolationDailyLimit  Violation = "daily_limit"
	ViolationNonPositive Violation = "non_positive_amount"
)

// BudgetExceededError is a policy outcome, not a fault.
type BudgetExceededError struct {
	Violation  Violation
	Amount     decimal.Decimal
	DailySpend decimal.Decimal
	Limit      decimal.Decimal
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("risk: %s: amount=%s spend=%s limit=%s",
		e.Violation, e.Amount.StringFixed(2), e.DailySpend.StringFixed(2), e.Limit.StringFixed(2))
}

type Limits struct {
	// Zero disables a limit.
	MaxBetAmount decimal.Decimal
	DailyLimit   decimal.Decimal
}

// Guard tracks the day's spend and checks candidate stakes against limits.
type Guard struct {
	Logger *zap.Logger

	mu       sync.Mutex
	limits   Limits
	spend    decimal.Decimal
	day      time.Time
	location *time.Location
}

func NewGuard(limits Limits, loc *time.Location, logger *zap.Logger) *Guard {
	if loc == nil {
		loc = time.UTC
	}
	return &Guard{Logger: logger, limits: limits, spend: decimal.Zero, location: loc}
}

// Check reports whether amount fits without reserving it.
func (g *Guard) Check(amount decimal.Decimal) error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return check(g.limits, g.spend, amount)
}

func check(l Limits, spend, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &BudgetExceededError{Violation: ViolationNonPositive, Amount: amount, DailySpend: spend}
	}
	if l.MaxBetAmount.IsPositive() && amount.GreaterThan(l.MaxBetAmount) {
		return &BudgetExceededError{Violation: ViolationMaxBet, Amount: amount, DailySpend: spend, Limit: l.MaxBetAmount}
	}
	if l.DailyLimit.IsPositive() && spend.Add(amount).GreaterThan(l.DailyLimit) {
		return &BudgetExceededError{Violation: ViolationDailyLimit, Amount: amount, DailySpend: spend, Limit: l.DailyLimit}
	}
	return nil
}

// Record adds a placed stake to the day's spend.
func (g *Guard) Record(amount decimal.Decimal) decimal.Decimal {
	if g == nil {
		return decimal.Zero
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spend = g.spend.Add(amount)
	return g.spend
}

// Restore sets the spend for the given day, as rebuilt from the ledger.
func (g *Guard) Restore(day time.Time, spend decimal.Decimal) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.day = DayStart(day, g.location)
	g.spend = spend
	g.mu.Unlock()
}

// Roll zeroes the spend when now falls on a later day. It reports whether
// it did.
func (g *Guard) Roll(now time.Time) bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	day := DayStart(now, g.location)
	if !g.day.IsZero() && !day.After(g.day) {
		return false
	}
	prev := g.spend
	g.day = day
	g.spend = decimal.Zero
	if g.Logger != nil {
		g.Logger.Info("risk: daily spend reset",
			zap.Time("day", day),
			zap.String("previous_spend", prev.StringFixed(2)),
		)
	}
	return true
}

// Reset zeroes the spend unconditionally.
func (g *Guard) Reset(now time.Time) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.day = DayStart(now, g.location)
	g.spend = decimal.Zero
	g.mu.Unlock()
}

func (g *Guard) SetLimits(l Limits) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.limits = l
	g.mu.Unlock()
}

func (g *Guard) Spend() decimal.Decimal {
	if g == nil {
		return decimal.Zero
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spend
}

func (g *Guard) Limits() Limits {
	if g == nil {
		return Limits{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits
}

func (g *Guard) Location() *time.Location {
	if g == nil || g.location == nil {
		return time.UTC
	}
	return g.location
}

func DayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
