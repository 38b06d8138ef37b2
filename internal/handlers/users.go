package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/smartapi/authcore/internal/cache"
	"github.com/smartapi/authcore/internal/logging"
	"github.com/smartapi/authcore/internal/models"
	"github.com/smartapi/authcore/internal/service"
)

const userCacheTTL = 5 * time.Minute

type UserHandler struct {
	Auth  *service.AuthService
	Cache *cache.Cache
}

// GetUser serves the admin-only profile read. The cache is a side-read path
// only; a cache outage falls through to the store.
func (h *UserHandler) GetUser(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	ctx := c.Request().Context()
	cacheKey := fmt.Sprintf("user_%d", id)

	var cached models.User
	if h.Cache.Get(ctx, cacheKey, &cached) {
		logging.FromContext(ctx).Info("user retrieved from cache", "user_id", id)
		return c.JSON(http.StatusOK, cached)
	}

	user, err := h.Auth.GetUserByID(ctx, uint(id))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "user lookup failed")
	}
	if user == nil {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}

	h.Cache.Set(ctx, cacheKey, user, userCacheTTL)

	return c.JSON(http.StatusOK, user)
}
