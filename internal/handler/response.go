package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fundflow/internal/apperr"
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

// ErrorFrom writes err with the status matching its kind. Domain errors
// carry their stable code and retry hint in meta.
func ErrorFrom(c *gin.Context, err error, data any) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	c.JSON(statusFor(e.Kind), apiResponse{
		Code:    statusFor(e.Kind),
		Message: e.Message,
		Data:    data,
		Meta: map[string]any{
			"error_code": e.Code,
			"retryable":  e.Retryable,
		},
	})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
