package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BetType string

const (
	BetTypeHome BetType = "home"
	BetTypeAway BetType = "away"
	BetTypeDraw BetType = "draw"
)

func (t BetType) Valid() bool {
	switch t {
	case BetTypeHome, BetTypeAway, BetTypeDraw:
		return true
	}
	return false
}

type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
)

func (o Outcome) Terminal() bool {
	return o == OutcomeWin || o == OutcomeLoss
}

// BetAttempt is an append-only ledger row. Only the outcome, profit and
// review fields move after insert, and outcome only leaves pending once.
type BetAttempt struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	UserID    string  `gorm:"type:varchar(64);not null;index"`
	RunID     string  `gorm:"type:varchar(64);index"`
	MessageID *string `gorm:"type:varchar(120);index"`
	RuleID    uint64  `gorm:"not null;index"`

	BetType BetType         `gorm:"type:varchar(10);not null"`
	Amount  decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Outcome Outcome         `gorm:"type:varchar(10);not null;default:'pending';index"`
	Profit  decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`

	MartingaleLevel int `gorm:"not null;default:0"`

	NeedsReview  bool   `gorm:"not null;default:false;index"`
	ReviewReason string `gorm:"type:text"`

	CreatedAt  time.Time  `gorm:"autoCreateTime;index"`
	ResolvedAt *time.Time
}

func (BetAttempt) TableName() string {
	return "bets"
}
