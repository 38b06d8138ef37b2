package httpserver

import (
	"github.com/labstack/echo/v4"

	"github.com/smartapi/authcore/internal/handlers"
	authmw "github.com/smartapi/authcore/internal/middleware/auth"
)

type Deps struct {
	AuthHandler *handlers.AuthHandler
	UserHandler *handlers.UserHandler
	AuthMW      *authmw.Middleware
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	v1 := e.Group("/api/v1")

	auth := v1.Group("/auth")
	auth.POST("/register", d.AuthHandler.Register)
	auth.POST("/login", d.AuthHandler.Login)
	auth.POST("/refresh", d.AuthHandler.Refresh)
	auth.POST("/revoke", d.AuthHandler.Revoke, d.AuthMW.RequireLogin)
	auth.GET("/me", d.AuthHandler.Me, d.AuthMW.RequireLogin)

	users := v1.Group("/users", d.AuthMW.RequireLogin, d.AuthMW.AdminOnly)
	users.GET("/:id", d.UserHandler.GetUser)
}
