package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrRuleTrigger    = errors.New("rule trigger is required")
	ErrRuleBetType    = errors.New("rule bet type must be home, away or draw")
	ErrRuleAmount     = errors.New("rule bet amount must be positive")
	ErrRuleMultiplier = errors.New("rule martingale multiplier must be at least 1")
	ErrRuleLevel      = errors.New("rule martingale level must be 0 without martingale and never negative")
)

// Rule maps a trigger substring to a bet. Rules are read-only to the engine.
type Rule struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	UserID   string `gorm:"type:varchar(64);not null;index"`
	Name     string `gorm:"type:varchar(120);not null"`
	Active   bool   `gorm:"not null;default:true;index"`
	Trigger  string `gorm:"type:varchar(500);not null"`
	Position int    `gorm:"not null;default:0;index"`

	BetType   BetType         `gorm:"type:varchar(10);not null"`
	BetAmount decimal.Decimal `gorm:"type:numeric(20,2);not null"`

	UseMartingale        bool            `gorm:"not null;default:false"`
	MartingaleLevel      int             `gorm:"not null;default:0"`
	MartingaleMultiplier decimal.Decimal `gorm:"type:numeric(10,4);not null;default:2"`
	// ResetOnWin overrides the global setting when set.
	ResetOnWin *bool

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Rule) TableName() string {
	return "bet_rules"
}

// Normalize trims the trigger and clamps martingale fields: a rule without
// martingale always carries level 0 and an unset multiplier becomes 2.
func (r *Rule) Normalize() {
	if r == nil {
		return
	}
	r.Name = strings.TrimSpace(r.Name)
	r.Trigger = strings.TrimSpace(r.Trigger)
	if !r.UseMartingale {
		r.MartingaleLevel = 0
	}
	if r.MartingaleMultiplier.IsZero() {
		r.MartingaleMultiplier = decimal.NewFromInt(2)
	}
	if r.Name == "" {
		r.Name = r.Trigger
	}
}

func (r *Rule) Validate() error {
	if r == nil || r.Trigger == "" {
		return ErrRuleTrigger
	}
	if !r.BetType.Valid() {
		return ErrRuleBetType
	}
	if !r.BetAmount.IsPositive() {
		return ErrRuleAmount
	}
	if r.MartingaleLevel < 0 || (!r.UseMartingale && r.MartingaleLevel != 0) {
		return ErrRuleLevel
	}
	if r.MartingaleMultiplier.LessThan(decimal.NewFromInt(1)) {
		return ErrRuleMultiplier
	}
	return nil
}
