package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"signalbet/internal/automation"
)

type Engine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() automation.Session
	ResetDailySpend()
}

type AutomationHandler struct {
	Engine Engine
	Logger *zap.Logger
}

func (h *AutomationHandler) Register(r gin.IRouter) {
	g := r.Group("/automation")
	g.POST("/start", h.start)
	g.POST("/stop", h.stop)
	g.GET("/status", h.status)
	g.POST("/reset-daily-spend", h.resetDailySpend)
}

// @Summary Start automation
// @Tags automation
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/automation/start [post]
func (h *AutomationHandler) start(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	if err := h.Engine.Start(c.Request.Context()); err != nil {
		if h.Logger != nil && statusOf(err) != http.StatusConflict {
			h.Logger.Warn("automation start failed", zap.Error(err))
		}
		Fail(c, err, map[string]any{"session": h.Engine.Status()})
		return
	}
	Ok(c, h.Engine.Status(), nil)
}

// @Summary Stop automation
// @Tags automation
// @Success 200 {object} apiResponse
// @Router /api/v1/automation/stop [post]
func (h *AutomationHandler) stop(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	if err := h.Engine.Stop(c.Request.Context()); err != nil {
		// The loop keeps winding down; report where it is.
		Error(c, http.StatusAccepted, err.Error(), map[string]any{"session": h.Engine.Status()})
		return
	}
	Ok(c, h.Engine.Status(), nil)
}

func (h *AutomationHandler) status(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	Ok(c, h.Engine.Status(), nil)
}

func (h *AutomationHandler) resetDailySpend(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	h.Engine.ResetDailySpend()
	Ok(c, h.Engine.Status(), nil)
}
