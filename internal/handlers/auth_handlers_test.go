package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	authmw "github.com/smartapi/authcore/internal/middleware/auth"
	"github.com/smartapi/authcore/internal/models"
	"github.com/smartapi/authcore/internal/service"
)

type testEnv struct {
	E    *echo.Echo
	DB   *gorm.DB
	Auth *AuthHandler
	User *UserHandler
	MW   *authmw.Middleware
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to connect to in-memory db")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.RefreshToken{}))

	tokens := &service.TokenService{
		DB: db,
		Settings: service.JWTSettings{
			Secret:     []byte("test-jwt-secret"),
			Issuer:     "smartapi-test",
			Audience:   "smartapi-test-clients",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
	}
	auth := &service.AuthService{DB: db, Tokens: tokens}

	return &testEnv{
		E:    echo.New(),
		DB:   db,
		Auth: &AuthHandler{Auth: auth},
		User: &UserHandler{Auth: auth},
		MW:   &authmw.Middleware{JWTSecret: tokens.Settings.Secret},
	}
}

func (env *testEnv) request(t *testing.T, method, path string, payload any, bearer string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	return rec, env.E.NewContext(req, rec)
}

func (env *testEnv) registerUser(t *testing.T, username, password string) service.AuthResponse {
	t.Helper()

	rec, c := env.request(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	}, "")
	require.NoError(t, env.Auth.Register(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp service.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	resp := env.registerUser(t, "test_user", "password")
	assert.Equal(t, "test_user", resp.User.Username)
	assert.Equal(t, models.RoleUser, resp.User.Role)
	assert.NotZero(t, resp.User.ID)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	_, c := env.request(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username": "test_user",
		"email":    "other@example.com",
		"password": "password",
	}, "")

	err := env.Auth.Register(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "test_user", "password")

	rec, c := env.request(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "test_user",
		"password": "password",
	}, "")
	require.NoError(t, env.Auth.Login(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp service.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	_, c = env.request(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "test_user",
		"password": "wrong",
	}, "")
	err := env.Auth.Login(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestRefreshFlow(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registerUser(t, "test_user", "password")

	rec, c := env.request(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": reg.RefreshToken,
	}, "")
	require.NoError(t, env.Auth.Refresh(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var rotated service.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	assert.NotEqual(t, reg.RefreshToken, rotated.RefreshToken)

	// Replaying the consumed token is a 400.
	_, c = env.request(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": reg.RefreshToken,
	}, "")
	err := env.Auth.Refresh(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestRevoke(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registerUser(t, "test_user", "password")

	rec, c := env.request(t, http.MethodPost, "/api/v1/auth/revoke", map[string]string{
		"refresh_token": reg.RefreshToken,
	}, reg.AccessToken)
	require.NoError(t, env.MW.RequireLogin(env.Auth.Revoke)(c))
	require.Equal(t, http.StatusOK, rec.Code)

	_, c = env.request(t, http.MethodPost, "/api/v1/auth/revoke", map[string]string{
		"refresh_token": reg.RefreshToken,
	}, reg.AccessToken)
	err := env.MW.RequireLogin(env.Auth.Revoke)(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registerUser(t, "test_user", "password")

	rec, c := env.request(t, http.MethodGet, "/api/v1/auth/me", nil, reg.AccessToken)
	require.NoError(t, env.MW.RequireLogin(env.Auth.Me)(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var info service.UserInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, reg.User.ID, info.ID)
	assert.Equal(t, "test_user", info.Username)

	// Missing bearer token.
	_, c = env.request(t, http.MethodGet, "/api/v1/auth/me", nil, "")
	err := env.MW.RequireLogin(env.Auth.Me)(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestGetUser_AdminGate(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registerUser(t, "plain_user", "password")

	handler := env.MW.RequireLogin(env.MW.AdminOnly(env.User.GetUser))

	// Regular users are rejected.
	_, c := env.request(t, http.MethodGet, "/api/v1/users/1", nil, reg.AccessToken)
	c.SetParamNames("id")
	c.SetParamValues("1")
	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	assert.Equal(t, http.StatusForbidden, he.Code)

	// Promote and retry with a fresh access token. The cache is nil here;
	// the handler must fall through to the store.
	require.NoError(t, env.DB.Model(&models.User{}).
		Where("username = ?", "plain_user").
		Update("role", models.RoleAdmin).Error)

	rec, c := env.request(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "plain_user",
		"password": "password",
	}, "")
	require.NoError(t, env.Auth.Login(c))
	var login service.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	rec, c = env.request(t, http.MethodGet, "/api/v1/users/1", nil, login.AccessToken)
	c.SetParamNames("id")
	c.SetParamValues("1")
	require.NoError(t, handler(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var user models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "plain_user", user.Username)
	assert.Empty(t, user.PasswordHash, "password hash must never be serialized")
}
