package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signalbet/internal/models"
	"signalbet/internal/repository"
)

type BetHandler struct {
	Repo   repository.LedgerStore
	UserID string
	// Multipliers give the default payout of a manually resolved win.
	Multipliers map[models.BetType]decimal.Decimal
	Logger      *zap.Logger
}

func (h *BetHandler) Register(r gin.IRouter) {
	g := r.Group("/bets")
	g.GET("", h.list)
	g.GET("/stats", h.stats)
	g.POST("/:id/resolve", h.resolve)
}

var betOrder = map[string]string{
	"created_at":  "created_at",
	"resolved_at": "resolved_at",
	"amount":      "amount",
	"profit":      "profit",
}

func (h *BetHandler) userID() string {
	if strings.TrimSpace(h.UserID) == "" {
		return "default"
	}
	return h.UserID
}

// @Summary List bet attempts
// @Tags bets
// @Param outcome query string false "pending|win|loss"
// @Param rule_id query int false "rule id"
// @Param needs_review query bool false "only attempts awaiting manual review"
// @Param since query string false "RFC3339 time or lookback duration"
// @Success 200 {object} apiResponse
// @Router /api/v1/bets [get]
func (h *BetHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListBetAttemptsParams{
		Limit:       limit,
		Offset:      offset,
		UserID:      h.userID(),
		NeedsReview: boolQueryPtr(c, "needs_review"),
		Since:       timeQueryPtr(c, "since"),
		OrderBy:     parseOrder(c.Query("order_by"), betOrder),
		Asc:         boolQueryPtr(c, "asc"),
	}
	if v := strings.ToLower(strings.TrimSpace(c.Query("outcome"))); v != "" {
		o := models.Outcome(v)
		params.Outcome = &o
	}
	if id := parseUint64(c.Query("rule_id")); id > 0 {
		params.RuleID = &id
	}
	items, err := h.Repo.ListBetAttempts(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountBetAttempts(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if items == nil {
		items = []models.BetAttempt{}
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Ledger totals
// @Tags bets
// @Param since query string false "RFC3339 time or lookback duration"
// @Success 200 {object} apiResponse
// @Router /api/v1/bets/stats [get]
func (h *BetHandler) stats(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	st, err := h.Repo.BetStats(c.Request.Context(), h.userID(), timeQueryPtr(c, "since"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, st, nil)
}

type resolveRequest struct {
	Outcome string           `json:"outcome"`
	Profit  *decimal.Decimal `json:"profit"`
}

// @Summary Resolve a pending bet by hand
// @Tags bets
// @Param id path int true "bet id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/bets/{id}/resolve [post]
func (h *BetHandler) resolve(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := parseUint64(c.Param("id"))
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	outcome := models.Outcome(strings.ToLower(strings.TrimSpace(req.Outcome)))
	if !outcome.Terminal() {
		Error(c, http.StatusBadRequest, "outcome must be win or loss", nil)
		return
	}
	item, err := h.Repo.GetBetAttempt(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil || item.UserID != h.userID() {
		Error(c, http.StatusNotFound, "bet not found", nil)
		return
	}

	profit := item.Amount.Neg()
	if req.Profit != nil {
		profit = *req.Profit
	} else if outcome == models.OutcomeWin {
		mult, ok := h.Multipliers[item.BetType]
		if !ok {
			mult = decimal.NewFromInt(2)
		}
		profit = item.Amount.Mul(mult).Sub(item.Amount)
	}

	if err := h.Repo.UpdateOutcome(c.Request.Context(), id, outcome, profit); err != nil {
		Fail(c, err, nil)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("bet resolved manually",
			zap.Uint64("bet_id", id),
			zap.String("outcome", string(outcome)),
			zap.String("profit", profit.StringFixed(2)),
		)
	}
	next, _ := h.Repo.GetBetAttempt(c.Request.Context(), id)
	Ok(c, next, nil)
}
