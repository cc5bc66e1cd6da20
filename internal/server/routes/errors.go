package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StatusOf maps pipeline errors to HTTP status codes.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case common.IsClarification(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrSchemaViolation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrResultTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, common.ErrStoreUnavailable), errors.Is(err, common.ErrOverloaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	status := StatusOf(err)
	body := errorResponse{Error: common.UserMessage(err)}
	if kind, ok := common.KindOf(err); ok {
		body.Kind = string(kind)
	}
	if status == http.StatusNotFound {
		body.Error = "Not found"
	}
	if status >= http.StatusInternalServerError {
		logger.Error("[HTTP] Request failed", "path", c.Path(), "status", status, "err", err)
	}
	if status == http.StatusServiceUnavailable && errors.Is(err, common.ErrOverloaded) {
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(status, body)
}
