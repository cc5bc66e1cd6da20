package routes

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/warehouse-risk/internal/server/middleware"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/pipeline"
)

// AskHandler answers one natural language question.
func AskHandler(c echo.Context) error {
	type askBody struct {
		Question string `json:"question" validate:"required,max=2000"`
		Trace    bool   `json:"trace"`
	}

	data := new(askBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}
	question := strings.TrimSpace(data.Question)
	if question == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Question must not be empty"})
	}

	app := c.(*middleware.AppContext).App
	ctx := pipeline.ContextWithRequestID(c.Request().Context(), c.Response().Header().Get(echo.HeaderXRequestID))

	answer, err := app.Pipeline.Ask(ctx, question)
	if err != nil {
		return writeError(c, err)
	}
	if !data.Trace {
		answer.Trace = nil
	}
	return c.JSON(http.StatusOK, answer)
}
