package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"signalbet/internal/models"
	"signalbet/internal/repository"
	"signalbet/internal/service"
)

type RuleHandler struct {
	Repo     repository.RuleStore
	Settings *service.SettingsService
	UserID   string
}

func (h *RuleHandler) Register(r gin.IRouter) {
	g := r.Group("/rules")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/toggle", h.toggle)
}

type ruleRequest struct {
	Name                 *string          `json:"name"`
	Trigger              *string          `json:"trigger"`
	BetType              *string          `json:"bet_type"`
	BetAmount            *decimal.Decimal `json:"bet_amount"`
	Active               *bool            `json:"active"`
	Position             *int             `json:"position"`
	UseMartingale        *bool            `json:"use_martingale"`
	MartingaleLevel      *int             `json:"martingale_level"`
	MartingaleMultiplier *decimal.Decimal `json:"martingale_multiplier"`
	ResetOnWin           *bool            `json:"reset_on_win"`
	// ClearResetOnWin drops the per-rule override.
	ClearResetOnWin bool `json:"clear_reset_on_win"`
}

func (req ruleRequest) apply(r *models.Rule) {
	if req.Name != nil {
		r.Name = *req.Name
	}
	if req.Trigger != nil {
		r.Trigger = *req.Trigger
	}
	if req.BetType != nil {
		r.BetType = models.BetType(strings.ToLower(strings.TrimSpace(*req.BetType)))
	}
	if req.BetAmount != nil {
		r.BetAmount = *req.BetAmount
	}
	if req.Active != nil {
		r.Active = *req.Active
	}
	if req.Position != nil {
		r.Position = *req.Position
	}
	if req.UseMartingale != nil {
		r.UseMartingale = *req.UseMartingale
	}
	if req.MartingaleLevel != nil {
		r.MartingaleLevel = *req.MartingaleLevel
	}
	if req.MartingaleMultiplier != nil {
		r.MartingaleMultiplier = *req.MartingaleMultiplier
	}
	if req.ResetOnWin != nil {
		v := *req.ResetOnWin
		r.ResetOnWin = &v
	}
	if req.ClearResetOnWin {
		r.ResetOnWin = nil
	}
}

func (h *RuleHandler) userID() string {
	if strings.TrimSpace(h.UserID) == "" {
		return "default"
	}
	return h.UserID
}

// @Summary List rules in match order
// @Tags rules
// @Success 200 {object} apiResponse
// @Router /api/v1/rules [get]
func (h *RuleHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListRules(c.Request.Context(), h.userID())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if items == nil {
		items = []models.Rule{}
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

func (h *RuleHandler) get(c *gin.Context) {
	item, ok := h.load(c)
	if !ok {
		return
	}
	Ok(c, item, nil)
}

// @Summary Create rule
// @Tags rules
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/rules [post]
func (h *RuleHandler) create(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item := models.Rule{UserID: h.userID(), Active: true}
	if req.BetAmount == nil {
		item.BetAmount = h.defaultBet(c.Request.Context())
	}
	req.apply(&item)
	item.Normalize()
	if err := item.Validate(); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Repo.CreateRule(c.Request.Context(), &item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *RuleHandler) defaultBet(ctx context.Context) decimal.Decimal {
	if h.Settings == nil {
		return service.DefaultAutomationSettings().DefaultBet
	}
	s, err := h.Settings.Load(ctx)
	if err != nil {
		return service.DefaultAutomationSettings().DefaultBet
	}
	return s.DefaultBet
}

// @Summary Update rule
// @Tags rules
// @Param id path int true "rule id"
// @Success 200 {object} apiResponse
// @Router /api/v1/rules/{id} [put]
func (h *RuleHandler) update(c *gin.Context) {
	item, ok := h.load(c)
	if !ok {
		return
	}
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	req.apply(item)
	h.save(c, item)
}

func (h *RuleHandler) toggle(c *gin.Context) {
	item, ok := h.load(c)
	if !ok {
		return
	}
	item.Active = !item.Active
	h.save(c, item)
}

func (h *RuleHandler) save(c *gin.Context, item *models.Rule) {
	item.Normalize()
	if err := item.Validate(); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Repo.UpdateRule(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *RuleHandler) delete(c *gin.Context) {
	item, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.Repo.DeleteRule(c.Request.Context(), item.ID); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"id": item.ID, "deleted": true}, nil)
}

var errRuleNotFound = errors.New("rule not found")

// load resolves :id to a rule owned by the configured user and writes the
// error response itself.
func (h *RuleHandler) load(c *gin.Context) (*models.Rule, bool) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return nil, false
	}
	id := parseUint64(c.Param("id"))
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return nil, false
	}
	item, err := h.Repo.GetRule(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return nil, false
	}
	if item == nil || item.UserID != h.userID() {
		Error(c, http.StatusNotFound, errRuleNotFound.Error(), nil)
		return nil, false
	}
	return item, true
}
