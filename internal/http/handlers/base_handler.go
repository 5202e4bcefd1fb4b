// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"multidrop/internal/modules/capacity"
	"multidrop/internal/modules/dispatch"
	"multidrop/internal/modules/driver"
	"multidrop/internal/modules/route"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts generated ids and operator-supplied drop references.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeDispatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrBusy):
		writeJSON(c, http.StatusConflict, gin.H{"status": "busy"})
	case errors.Is(err, dispatch.ErrRunNotFound), errors.Is(err, route.ErrNotFound), errors.Is(err, driver.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrInvalidMode), errors.Is(err, capacity.ErrUnknownTier):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, route.ErrInvalidState), errors.Is(err, route.ErrConflict),
		errors.Is(err, route.ErrDropConflict), errors.Is(err, dispatch.ErrInsufficientHeadroom):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
