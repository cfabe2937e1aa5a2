package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type EventHandler struct {
	Hub http.Handler
}

func (h *EventHandler) Register(r gin.IRouter) {
	r.GET("/events/ws", h.stream)
}

// @Summary Stream automation events over a websocket
// @Tags events
// @Router /api/v1/events/ws [get]
func (h *EventHandler) stream(c *gin.Context) {
	if h.Hub == nil {
		Error(c, http.StatusServiceUnavailable, "event stream unavailable", nil)
		return
	}
	h.Hub.ServeHTTP(c.Writer, c.Request)
}
