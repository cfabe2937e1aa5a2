package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"signalbet/internal/models"
	"signalbet/internal/repository"
)

const (
	SettingBetURL           = "automation.bet_url"
	SettingUsername         = "automation.username"
	SettingPassword         = "automation.password"
	SettingDelayBetweenBets = "automation.delay_between_bets"
	SettingMaxBetAmount     = "automation.max_bet_amount"
	SettingDailyLimit       = "automation.daily_limit"
	SettingUseMartingale    = "automation.use_martingale"
	SettingResetOnWin       = "automation.reset_on_win"
	SettingDefaultBet       = "automation.default_bet"
	SettingAutoLogin        = "automation.auto_login"
	SettingTelegramBotToken = "telegram.bot_token"
)

var ErrInvalidSetting = errors.New("invalid setting value")

// AutomationSettings is what the engine reads at start.
type AutomationSettings struct {
	BetURL           string          `json:"bet_url"`
	Username         string          `json:"username"`
	Password         string          `json:"-"`
	DelayBetweenBets time.Duration   `json:"-"`
	MaxBetAmount     decimal.Decimal `json:"max_bet_amount"`
	DailyLimit       decimal.Decimal `json:"daily_limit"`
	DefaultBet       decimal.Decimal `json:"default_bet"`
	UseMartingale    bool            `json:"use_martingale"`
	ResetOnWin       bool            `json:"reset_on_win"`
	AutoLogin        bool            `json:"auto_login"`
}

func DefaultAutomationSettings() AutomationSettings {
	return AutomationSettings{
		BetURL:           "https://esportiva.bet.br/games/evolution/futebol-studio-ao-vivo",
		DelayBetweenBets: 5 * time.Second,
		MaxBetAmount:     decimal.NewFromInt(100),
		DailyLimit:       decimal.NewFromInt(500),
		DefaultBet:       decimal.NewFromInt(10),
		UseMartingale:    true,
		ResetOnWin:       true,
		AutoLogin:        true,
	}
}

// SettingsPatch carries a partial update; nil fields are left alone.
type SettingsPatch struct {
	BetURL               *string          `json:"bet_url"`
	Username             *string          `json:"username"`
	Password             *string          `json:"password"`
	DelayBetweenBetsSecs *int             `json:"delay_between_bets"`
	MaxBetAmount         *decimal.Decimal `json:"max_bet_amount"`
	DailyLimit           *decimal.Decimal `json:"daily_limit"`
	DefaultBet           *decimal.Decimal `json:"default_bet"`
	UseMartingale        *bool            `json:"use_martingale"`
	ResetOnWin           *bool            `json:"reset_on_win"`
	AutoLogin            *bool            `json:"auto_login"`
	TelegramBotToken     *string          `json:"telegram_bot_token"`
}

type SettingsService struct {
	Repo   repository.SettingsStore
	Cipher *SettingsCipher
}

func (s *SettingsService) Load(ctx context.Context) (AutomationSettings, error) {
	out := DefaultAutomationSettings()
	if s == nil || s.Repo == nil {
		return out, nil
	}
	prefix := "automation."
	items, err := s.Repo.ListSystemSettings(ctx, repository.ListSystemSettingsParams{Prefix: &prefix, Limit: 100})
	if err != nil {
		return out, err
	}
	for _, item := range items {
		raw := []byte(item.Value)
		if IsSensitiveSettingKey(item.Key) {
			raw = s.Cipher.Reveal(item.Key, raw)
		}
		switch item.Key {
		case SettingBetURL:
			setString(raw, &out.BetURL)
		case SettingUsername:
			setString(raw, &out.Username)
		case SettingPassword:
			setString(raw, &out.Password)
		case SettingDelayBetweenBets:
			var secs int
			if json.Unmarshal(raw, &secs) == nil && secs >= 0 {
				out.DelayBetweenBets = time.Duration(secs) * time.Second
			}
		case SettingMaxBetAmount:
			setDecimal(raw, &out.MaxBetAmount)
		case SettingDailyLimit:
			setDecimal(raw, &out.DailyLimit)
		case SettingDefaultBet:
			setDecimal(raw, &out.DefaultBet)
		case SettingUseMartingale:
			setBool(raw, &out.UseMartingale)
		case SettingResetOnWin:
			setBool(raw, &out.ResetOnWin)
		case SettingAutoLogin:
			setBool(raw, &out.AutoLogin)
		}
	}
	return out, nil
}

// Save validates and writes every non-nil field of the patch.
func (s *SettingsService) Save(ctx context.Context, p SettingsPatch) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	type kv struct {
		key   string
		value any
	}
	var writes []kv
	if p.BetURL != nil {
		u := strings.TrimSpace(*p.BetURL)
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return ErrInvalidSetting
		}
		writes = append(writes, kv{SettingBetURL, u})
	}
	if p.Username != nil {
		writes = append(writes, kv{SettingUsername, strings.TrimSpace(*p.Username)})
	}
	if p.Password != nil {
		writes = append(writes, kv{SettingPassword, *p.Password})
	}
	if p.DelayBetweenBetsSecs != nil {
		if *p.DelayBetweenBetsSecs < 0 {
			return ErrInvalidSetting
		}
		writes = append(writes, kv{SettingDelayBetweenBets, *p.DelayBetweenBetsSecs})
	}
	for _, d := range []struct {
		key string
		v   *decimal.Decimal
	}{
		{SettingMaxBetAmount, p.MaxBetAmount},
		{SettingDailyLimit, p.DailyLimit},
		{SettingDefaultBet, p.DefaultBet},
	} {
		if d.v == nil {
			continue
		}
		if d.v.IsNegative() {
			return ErrInvalidSetting
		}
		writes = append(writes, kv{d.key, d.v.String()})
	}
	if p.UseMartingale != nil {
		writes = append(writes, kv{SettingUseMartingale, *p.UseMartingale})
	}
	if p.ResetOnWin != nil {
		writes = append(writes, kv{SettingResetOnWin, *p.ResetOnWin})
	}
	if p.AutoLogin != nil {
		writes = append(writes, kv{SettingAutoLogin, *p.AutoLogin})
	}
	if p.TelegramBotToken != nil {
		writes = append(writes, kv{SettingTelegramBotToken, strings.TrimSpace(*p.TelegramBotToken)})
	}

	now := time.Now().UTC()
	for _, w := range writes {
		raw, err := json.Marshal(w.value)
		if err != nil {
			return err
		}
		raw = s.Cipher.Protect(w.key, raw)
		item := &models.SystemSetting{
			Key:         w.key,
			Value:       datatypes.JSON(raw),
			Description: "automation setting",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// TelegramBotToken returns the stored token, or fallback when none is set.
func (s *SettingsService) TelegramBotToken(ctx context.Context, fallback string) string {
	if s == nil || s.Repo == nil {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, SettingTelegramBotToken)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var token string
	setString(s.Cipher.Reveal(item.Key, item.Value), &token)
	if token == "" {
		return fallback
	}
	return token
}

// RotateSecrets re-encrypts sensitive settings under the primary key.
func (s *SettingsService) RotateSecrets(ctx context.Context) (int, error) {
	if s == nil || s.Repo == nil || !s.Cipher.Enabled() {
		return 0, nil
	}
	items, err := s.Repo.ListSystemSettings(ctx, repository.ListSystemSettingsParams{Limit: 500})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, item := range items {
		next, changed := s.Cipher.Reencrypt(item.Key, item.Value)
		if !changed {
			continue
		}
		item.Value = datatypes.JSON(next)
		item.UpdatedAt = time.Now().UTC()
		if err := s.Repo.UpsertSystemSetting(ctx, &item); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func setString(raw []byte, dst *string) {
	var v string
	if json.Unmarshal(raw, &v) == nil {
		*dst = v
	}
}

func setBool(raw []byte, dst *bool) {
	var v bool
	if json.Unmarshal(raw, &v) == nil {
		*dst = v
	}
}

// setDecimal accepts a JSON string or number.
func setDecimal(raw []byte, dst *decimal.Decimal) {
	var v decimal.Decimal
	if json.Unmarshal(raw, &v) == nil {
		*dst = v
	}
}
