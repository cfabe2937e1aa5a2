package site

import (
	"strings"
	"time"

	"signalbet/internal/config"
	"signalbet/internal/models"
)

const DefaultBetURL = "https://esportiva.bet.br/games/evolution/futebol-studio-ao-vivo"

// Selectors is the integration contract with the betting site's markup.
type Selectors struct {
	UserAccount     string
	LoginButton     string
	LoginForm       string
	UsernameInput   string
	PasswordInput   string
	SubmitButton    string
	GameContainer   string
	HomeBet         string
	AwayBet         string
	DrawBet         string
	BetForm         string
	BetAmountInput  string
	ConfirmBet      string
	BetConfirmation string
	BetResult       string
	// WinClass is the class name on BetResult that marks a win.
	WinClass string
}

func DefaultSelectors() Selectors {
	return Selectors{
		UserAccount:     ".user-account",
		LoginButton:     ".login-button",
		LoginForm:       ".login-form",
		UsernameInput:   ".username-input",
		PasswordInput:   ".password-input",
		SubmitButton:    ".submit-button",
		GameContainer:   ".game-container",
		HomeBet:         ".home-bet-button",
		AwayBet:         ".away-bet-button",
		DrawBet:         ".draw-bet-button",
		BetForm:         ".bet-form",
		BetAmountInput:  ".bet-amount-input",
		ConfirmBet:      ".confirm-bet-button",
		BetConfirmation: ".bet-confirmation",
		BetResult:       ".bet-result",
		WinClass:        "win",
	}
}

// Merge applies non-empty overrides keyed by snake_case name.
func (s Selectors) Merge(overrides map[string]string) Selectors {
	for k, v := range overrides {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "user_account":
			s.UserAccount = v
		case "login_button":
			s.LoginButton = v
		case "login_form":
			s.LoginForm = v
		case "username_input":
			s.UsernameInput = v
		case "password_input":
			s.PasswordInput = v
		case "submit_button":
			s.SubmitButton = v
		case "game_container":
			s.GameContainer = v
		case "home_bet":
			s.HomeBet = v
		case "away_bet":
			s.AwayBet = v
		case "draw_bet":
			s.DrawBet = v
		case "bet_form":
			s.BetForm = v
		case "bet_amount_input":
			s.BetAmountInput = v
		case "confirm_bet":
			s.ConfirmBet = v
		case "bet_confirmation":
			s.BetConfirmation = v
		case "bet_result":
			s.BetResult = v
		case "win_class":
			s.WinClass = v
		}
	}
	return s
}

// Control maps a bet type to its button. Unknown types have no control.
func (s Selectors) Control(t models.BetType) (string, bool) {
	switch t {
	case models.BetTypeHome:
		return s.HomeBet, true
	case models.BetTypeAway:
		return s.AwayBet, true
	case models.BetTypeDraw:
		return s.DrawBet, true
	}
	return "", false
}

type Timeouts struct {
	PageLoad  time.Duration
	LoginForm time.Duration
	Login     time.Duration
	BetForm   time.Duration
	Confirm   time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		PageLoad:  30 * time.Second,
		LoginForm: 10 * time.Second,
		Login:     15 * time.Second,
		BetForm:   5 * time.Second,
		Confirm:   10 * time.Second,
	}
}

type Config struct {
	BetURL        string
	URLMarker     string
	ScreenshotDir string
	Selectors     Selectors
	Timeouts      Timeouts
}

// ConfigFrom builds the adapter config; betURL comes from runtime settings.
func ConfigFrom(cfg config.SiteConfig, betURL, screenshotDir string) Config {
	t := DefaultTimeouts()
	if cfg.PageLoadTimeout > 0 {
		t.PageLoad = cfg.PageLoadTimeout
	}
	if cfg.LoginFormTimeout > 0 {
		t.LoginForm = cfg.LoginFormTimeout
	}
	if cfg.LoginTimeout > 0 {
		t.Login = cfg.LoginTimeout
	}
	if cfg.BetFormTimeout > 0 {
		t.BetForm = cfg.BetFormTimeout
	}
	if cfg.ConfirmTimeout > 0 {
		t.Confirm = cfg.ConfirmTimeout
	}
	betURL = strings.TrimSpace(betURL)
	if betURL == "" {
		betURL = DefaultBetURL
	}
	return Config{
		BetURL:        betURL,
		URLMarker:     strings.TrimSpace(cfg.BetURLMarker),
		ScreenshotDir: strings.TrimSpace(screenshotDir),
		Selectors:     DefaultSelectors().Merge(cfg.Selectors),
		Timeouts:      t,
	}
}
