package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"signalbet/internal/service"
)

// TelegramTester checks a bot token and returns the bot username.
type TelegramTester func(ctx context.Context, token string) (string, error)

type SettingsHandler struct {
	Settings *service.SettingsService
	// TokenFallback is the bot token from static config.
	TokenFallback string
	TestTelegram  TelegramTester
}

func (h *SettingsHandler) Register(r gin.IRouter) {
	g := r.Group("/settings")
	g.GET("", h.get)
	g.PUT("", h.update)
	g.POST("/telegram/test", h.testTelegram)
}

type settingsView struct {
	service.AutomationSettings
	DelayBetweenBets int  `json:"delay_between_bets"`
	HasPassword      bool `json:"has_password"`
	HasTelegramToken bool `json:"has_telegram_token"`
}

func (h *SettingsHandler) view(ctx context.Context) (settingsView, error) {
	s, err := h.Settings.Load(ctx)
	if err != nil {
		return settingsView{}, err
	}
	return settingsView{
		AutomationSettings: s,
		DelayBetweenBets:   int(s.DelayBetweenBets / time.Second),
		HasPassword:        s.Password != "",
		HasTelegramToken:   h.Settings.TelegramBotToken(ctx, h.TokenFallback) != "",
	}, nil
}

// @Summary Read automation settings
// @Tags settings
// @Success 200 {object} apiResponse
// @Router /api/v1/settings [get]
func (h *SettingsHandler) get(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings unavailable", nil)
		return
	}
	v, err := h.view(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, v, nil)
}

// @Summary Update automation settings
// @Tags settings
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/settings [put]
func (h *SettingsHandler) update(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings unavailable", nil)
		return
	}
	var patch service.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if err := h.Settings.Save(c.Request.Context(), patch); err != nil {
		Fail(c, err, nil)
		return
	}
	v, err := h.view(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, v, nil)
}

type telegramTestRequest struct {
	Token string `json:"token"`
}

// @Summary Check a Telegram bot token
// @Tags settings
// @Success 200 {object} apiResponse
// @Router /api/v1/settings/telegram/test [post]
func (h *SettingsHandler) testTelegram(c *gin.Context) {
	if h.TestTelegram == nil {
		Error(c, http.StatusNotImplemented, "telegram test unavailable", nil)
		return
	}
	var req telegramTestRequest
	_ = c.ShouldBindJSON(&req)
	token := strings.TrimSpace(req.Token)
	if token == "" {
		token = h.Settings.TelegramBotToken(c.Request.Context(), h.TokenFallback)
	}
	if token == "" {
		Error(c, http.StatusBadRequest, "no bot token configured", nil)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()
	username, err := h.TestTelegram(ctx, token)
	if err != nil {
		Ok(c, gin.H{"ok": false, "error": err.Error()}, nil)
		return
	}
	Ok(c, gin.H{"ok": true, "username": username}, nil)
}
