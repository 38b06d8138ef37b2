package auth

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/smartapi/authcore/internal/service"
)

// Middleware authenticates requests by access token alone. Tokens are not
// checked against any server-side state: a signed, unexpired token is valid
// even if its paired refresh token has since been revoked.
type Middleware struct {
	JWTSecret []byte
}

func (m *Middleware) RequireLogin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
		}

		claims, err := service.AccessClaimsFromToken(raw, m.JWTSecret)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
		}

		userID, err := strconv.ParseUint(claims.Subject, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
		}

		c.Set("userID", uint(userID))
		c.Set("role", claims.Role)
		return next(c)
	}
}
