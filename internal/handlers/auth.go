package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/smartapi/authcore/internal/logging"
	"github.com/smartapi/authcore/internal/mykafka"
	"github.com/smartapi/authcore/internal/service"
)

const userEventsTopic = "user_events"

type AuthHandler struct {
	Auth     *service.AuthService
	Producer *mykafka.Producer
}

// ClientIP prefers the forwarded-for header, falls back to the transport
// remote address, and reports "unknown" when neither is usable.
func ClientIP(c echo.Context) string {
	if fwd := c.Request().Header.Get("X-Forwarded-For"); fwd != "" {
		if ip, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(ip)
		}
		return strings.TrimSpace(fwd)
	}
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return "unknown"
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req service.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request data")
	}
	if req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	resp, err := h.Auth.Register(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			return echo.NewHTTPError(http.StatusBadRequest, "username already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "registration failed")
	}

	h.publish(c, "user_registered", resp.User.ID, map[string]any{
		"type":     "user_registered",
		"user_id":  resp.User.ID,
		"username": resp.User.Username,
	})

	return c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request data")
	}

	resp, err := h.Auth.Login(c.Request().Context(), req.Username, req.Password, ClientIP(c))
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid username or password")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}

	h.publish(c, "user_login", resp.User.ID, map[string]any{
		"type":     "user_login",
		"user_id":  resp.User.ID,
		"username": resp.User.Username,
	})

	return c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "refresh token is required")
	}

	resp, err := h.Auth.Refresh(c.Request().Context(), req.RefreshToken, ClientIP(c))
	if err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid or expired refresh token")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "token refresh failed")
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) Revoke(c echo.Context) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "refresh token is required")
	}

	if err := h.Auth.Revoke(c.Request().Context(), req.RefreshToken, ClientIP(c)); err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid refresh token")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "token revocation failed")
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "token revoked successfully"})
}

func (h *AuthHandler) Me(c echo.Context) error {
	userID, ok := c.Get("userID").(uint)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user token")
	}

	user, err := h.Auth.GetUserByID(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "user lookup failed")
	}
	if user == nil {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}

	return c.JSON(http.StatusOK, service.UserInfo{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
	})
}

// publish is fire-and-forget: the request already succeeded, a broker
// failure only gets logged.
func (h *AuthHandler) publish(c echo.Context, kind string, userID uint, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Producer.PublishEvent(ctx, userEventsTopic, fmt.Sprint(userID), event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka publish failed", "event", kind, "error", err)
	}
}
