package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/warehouse-risk/internal/server/middleware"
	"github.com/OFFIS-RIT/warehouse-risk/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo, app *middleware.App) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(app.Metrics.Handler()))

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	apiRoutes.POST("/ask", routes.AskHandler, middleware.RequirePermission(middleware.PermissionAsk))

	// Risk routes
	apiRoutes.GET("/warehouses/risk", routes.GetRiskReportHandler, middleware.RequirePermission(middleware.PermissionReportView))
	apiRoutes.GET("/warehouses/:id/risk", routes.GetWarehouseRiskHandler, middleware.RequirePermission(middleware.PermissionRiskView))
	apiRoutes.GET("/reports/latest", routes.GetLatestReportHandler, middleware.RequirePermission(middleware.PermissionReportView))
}
