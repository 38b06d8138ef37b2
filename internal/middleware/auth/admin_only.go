package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/smartapi/authcore/internal/models"
)

// AdminOnly must run after RequireLogin.
func (m *Middleware) AdminOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		role, _ := c.Get("role").(string)
		if role != models.RoleAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "admin access required")
		}
		return next(c)
	}
}
