package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"signalbet/internal/automation"
	"signalbet/internal/models"
	"signalbet/internal/repository"
	"signalbet/internal/service"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// Fail maps domain errors to a status. Anything unknown is treated as an
// upstream failure.
func Fail(c *gin.Context, err error, meta map[string]any) {
	Error(c, statusOf(err), err.Error(), meta)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidSetting),
		errors.Is(err, models.ErrRuleTrigger),
		errors.Is(err, models.ErrRuleBetType),
		errors.Is(err, models.ErrRuleAmount),
		errors.Is(err, models.ErrRuleMultiplier),
		errors.Is(err, models.ErrRuleLevel):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrOutcomeFinal),
		errors.Is(err, automation.ErrAlreadyRunning),
		errors.Is(err, automation.ErrInstanceLocked):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
