package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

func HasPermission(user *AppUser, permission string) bool {
	return user != nil && slices.Contains(user.Permissions, permission)
}

// RequirePermission rejects users lacking every one of permissions.
func RequirePermission(permissions ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.(*AppContext).User
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			if !slices.ContainsFunc(permissions, func(p string) bool { return HasPermission(user, p) }) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden: missing permission " + permissions[0]})
			}

			return next(c)
		}
	}
}
