package staking

import (
	"github.com/shopspring/decimal"

	"signalbet/internal/models"
)

// State is the per-rule progression. It lives in memory only and is rebuilt
// from the rule's base amount whenever automation starts.
type State struct {
	ConsecutiveLosses int
	CurrentLevel      int
	NextAmount        decimal.Decimal
}

// Initial returns the base state for a rule.
func Initial(rule models.Rule) State {
	return State{NextAmount: rule.BetAmount}
}

// Next advances the state after lastOutcome and returns the stake for the next
// bet. It never mutates its inputs.
func Next(rule models.Rule, st State, lastOutcome models.Outcome, resetOnWin bool) (State, decimal.Decimal) {
	if !rule.UseMartingale {
		return st, rule.BetAmount
	}
	if st.NextAmount.IsZero() {
		st.NextAmount = AmountAt(rule, st.CurrentLevel)
	}

	switch lastOutcome {
	case models.OutcomeLoss:
		if st.CurrentLevel < rule.MartingaleLevel {
			next := State{
				ConsecutiveLosses: st.ConsecutiveLosses + 1,
				CurrentLevel:      st.CurrentLevel + 1,
			}
			next.NextAmount = AmountAt(rule, next.CurrentLevel)
			return next, next.NextAmount
		}
		// Cap-out.
		base := Initial(rule)
		return base, base.NextAmount
	case models.OutcomeWin:
		if resetOnWin {
			base := Initial(rule)
			return base, base.NextAmount
		}
		next := st
		next.ConsecutiveLosses = 0
		return next, next.NextAmount
	default:
		return st, st.NextAmount
	}
}

// AmountAt is betAmount * multiplier^level.
func AmountAt(rule models.Rule, level int) decimal.Decimal {
	mult := rule.MartingaleMultiplier
	if mult.LessThan(decimal.NewFromInt(1)) {
		mult = decimal.NewFromInt(2)
	}
	amount := rule.BetAmount
	for i := 0; i < level; i++ {
		amount = amount.Mul(mult)
	}
	return amount
}

// ResetOnWin resolves the effective setting: the rule override wins when set.
func ResetOnWin(rule models.Rule, global bool) bool {
	if rule.ResetOnWin != nil {
		return *rule.ResetOnWin
	}
	return global
}

// Book keeps one State per rule. It is not safe for concurrent use; the
// orchestrator loop is its only caller.
type Book struct {
	states map[uint64]State
}

func NewBook() *Book {
	return &Book{states: map[uint64]State{}}
}

// Stake returns the amount for the next bet on rule. The global martingale
// switch is ANDed with the rule's own flag.
func (b *Book) Stake(rule models.Rule, globalMartingale bool) (decimal.Decimal, int) {
	if !globalMartingale || !rule.UseMartingale {
		return rule.BetAmount, 0
	}
	st, ok := b.states[rule.ID]
	if !ok {
		st = Initial(rule)
		b.states[rule.ID] = st
	}
	if st.NextAmount.IsZero() {
		st.NextAmount = AmountAt(rule, st.CurrentLevel)
	}
	return st.NextAmount, st.CurrentLevel
}

// Record feeds a resolved outcome into the rule's state.
func (b *Book) Record(rule models.Rule, outcome models.Outcome, globalMartingale, globalResetOnWin bool) State {
	if !globalMartingale {
		rule.UseMartingale = false
	}
	st, ok := b.states[rule.ID]
	if !ok {
		st = Initial(rule)
	}
	next, _ := Next(rule, st, outcome, ResetOnWin(rule, globalResetOnWin))
	b.states[rule.ID] = next
	return next
}

func (b *Book) State(ruleID uint64) (State, bool) {
	st, ok := b.states[ruleID]
	return st, ok
}

// Reset drops every state back to base.
func (b *Book) Reset() {
	b.states = map[uint64]State{}
}
