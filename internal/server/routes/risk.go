package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/warehouse-risk/internal/server/middleware"
	"github.com/OFFIS-RIT/warehouse-risk/internal/storage"
)

// GetWarehouseRiskHandler returns the score and recommendations of one
// warehouse on the current snapshot.
func GetWarehouseRiskHandler(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Missing warehouse id"})
	}

	app := c.(*middleware.AppContext).App
	profile, err := app.Scores.Profile(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}

// GetRiskReportHandler scores every warehouse of the current snapshot.
func GetRiskReportHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	report, err := app.Scores.Report(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// GetLatestReportHandler returns the newest report archived by the worker.
func GetLatestReportHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	if app.Archive == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "No report archive configured"})
	}

	report, err := app.Archive.Latest(c.Request().Context())
	if errors.Is(err, storage.ErrNoReport) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "No report archived yet"})
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}
