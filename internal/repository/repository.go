package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"signalbet/internal/models"
)

// ErrOutcomeFinal is returned when an outcome update targets an attempt that
// is no longer pending.
var ErrOutcomeFinal = errors.New("repository: bet attempt outcome already final")

type MessageStore interface {
	// ListActiveChannelMessages returns unprocessed messages of active
	// channels, oldest first.
	ListActiveChannelMessages(ctx context.Context, limit int) ([]models.Message, error)
	MarkProcessed(ctx context.Context, id string) error
	// InsertMessagesIfAbsent never overwrites an existing row.
	InsertMessagesIfAbsent(ctx context.Context, items []models.Message) (int64, error)
	ListMessages(ctx context.Context, params ListMessagesParams) ([]models.Message, error)
	CountMessages(ctx context.Context, params ListMessagesParams) (int64, error)

	UpsertChannel(ctx context.Context, item *models.Channel) error
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	ListChannels(ctx context.Context) ([]models.Channel, error)
	SetChannelActive(ctx context.Context, id string, active bool) error
	BumpChannelMessages(ctx context.Context, id string, n int64, at time.Time) error
}

type RuleStore interface {
	ListRules(ctx context.Context, userID string) ([]models.Rule, error)
	GetRule(ctx context.Context, id uint64) (*models.Rule, error)
	CreateRule(ctx context.Context, item *models.Rule) error
	UpdateRule(ctx context.Context, item *models.Rule) error
	DeleteRule(ctx context.Context, id uint64) error
}

type LedgerStore interface {
	AppendBetAttempt(ctx context.Context, item *models.BetAttempt) error
	GetBetAttempt(ctx context.Context, id uint64) (*models.BetAttempt, error)
	// UpdateOutcome moves a pending attempt to win or loss exactly once.
	UpdateOutcome(ctx context.Context, id uint64, outcome models.Outcome, profit decimal.Decimal) error
	ListPendingBetAttempts(ctx context.Context, userID string) ([]models.BetAttempt, error)
	HasBetForMessage(ctx context.Context, messageID string) (bool, error)
	SumStakesSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)
	FlagForReview(ctx context.Context, id uint64, reason string) error
	FlagStalePending(ctx context.Context, before time.Time, reason string) (int64, error)
	ListBetAttempts(ctx context.Context, params ListBetAttemptsParams) ([]models.BetAttempt, error)
	CountBetAttempts(ctx context.Context, params ListBetAttemptsParams) (int64, error)
	BetStats(ctx context.Context, userID string, since *time.Time) (BetStats, error)
}

type SettingsStore interface {
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
}

// Repository is everything the gorm store serves.
type Repository interface {
	MessageStore
	RuleStore
	LedgerStore
	SettingsStore
	Ping(ctx context.Context) error
}

type ListMessagesParams struct {
	Limit     int
	Offset    int
	ChannelID *string
	HasAction *bool
	Since     *time.Time
	OrderBy   string
	Asc       *bool
}

type ListBetAttemptsParams struct {
	Limit       int
	Offset      int
	UserID      string
	RuleID      *uint64
	Outcome     *models.Outcome
	NeedsReview *bool
	Since       *time.Time
	OrderBy     string
	Asc         *bool
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}

type BetStats struct {
	Total       int64           `json:"total"`
	Pending     int64           `json:"pending"`
	Wins        int64           `json:"wins"`
	Losses      int64           `json:"losses"`
	NeedsReview int64           `json:"needs_review"`
	Staked      decimal.Decimal `json:"staked"`
	Profit      decimal.Decimal `json:"profit"`
	WinRate     float64         `json:"win_rate"`
}
