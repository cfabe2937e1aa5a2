package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"signalbet/internal/models"
	"signalbet/internal/repository"
)

type MessageHandler struct {
	Repo repository.MessageStore
}

func (h *MessageHandler) Register(r gin.IRouter) {
	r.GET("/messages", h.listMessages)
	r.GET("/channels", h.listChannels)
	r.PUT("/channels/:id", h.updateChannel)
}

var messageOrder = map[string]string{
	"timestamp":  "timestamp",
	"created_at": "created_at",
}

// @Summary List stored signal messages
// @Tags messages
// @Param channel_id query string false "channel id"
// @Param has_action query bool false "only messages carrying an action keyword"
// @Param since query string false "RFC3339 time or lookback duration"
// @Param order_by query string false "timestamp|created_at"
// @Param asc query bool false "ascending"
// @Success 200 {object} apiResponse
// @Router /api/v1/messages [get]
func (h *MessageHandler) listMessages(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListMessagesParams{
		Limit:     limit,
		Offset:    offset,
		ChannelID: strQueryPtr(c, "channel_id"),
		HasAction: boolQueryPtr(c, "has_action"),
		Since:     timeQueryPtr(c, "since"),
		OrderBy:   parseOrder(c.Query("order_by"), messageOrder),
		Asc:       boolQueryPtr(c, "asc"),
	}
	items, err := h.Repo.ListMessages(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountMessages(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if items == nil {
		items = []models.Message{}
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *MessageHandler) listChannels(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListChannels(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if items == nil {
		items = []models.Channel{}
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

type channelRequest struct {
	Active *bool `json:"active"`
}

// @Summary Enable or disable a channel
// @Tags messages
// @Param id path string true "channel id"
// @Success 200 {object} apiResponse
// @Router /api/v1/channels/{id} [put]
func (h *MessageHandler) updateChannel(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		Error(c, http.StatusBadRequest, "active is required", nil)
		return
	}
	if err := h.Repo.SetChannelActive(c.Request.Context(), id, *req.Active); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Error(c, http.StatusNotFound, "channel not found", nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	item, err := h.Repo.GetChannel(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}
