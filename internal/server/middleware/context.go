package middleware

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/warehouse-risk/internal/app"
	"github.com/OFFIS-RIT/warehouse-risk/internal/storage"
)

type AppUser struct {
	Subject     string
	Role        string
	Permissions []string
}

type App struct {
	*app.App

	// Keyfunc verifies bearer tokens; nil disables JWT auth.
	Keyfunc      jwt.Keyfunc
	MasterAPIKey string
	// Archive is nil when no bucket is configured.
	Archive *storage.ReportArchive
}

// AuthEnabled reports whether requests have to authenticate.
func (a *App) AuthEnabled() bool {
	return a.Keyfunc != nil || a.MasterAPIKey != ""
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
