package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/smartapi/authcore/internal/hash"
	"github.com/smartapi/authcore/internal/logging"
	"github.com/smartapi/authcore/internal/models"
)

// Business rejections. These are expected negative outcomes, returned as
// sentinels so handlers can map them to 4xx without unwinding; everything
// else coming out of this package is an infrastructure failure.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidToken       = errors.New("invalid or expired refresh token")
)

// registrationIP is recorded instead of the caller address on register,
// matching the upstream API contract.
const registrationIP = "Registration"

type UserInfo struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

type AuthResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         UserInfo  `json:"user"`
}

type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type AuthService struct {
	DB     *gorm.DB
	Tokens *TokenService
}

// Login verifies credentials and issues a fresh access/refresh pair. Unknown
// username, wrong password and deactivated account are indistinguishable to
// the caller. Existing refresh tokens for the user are left untouched;
// concurrent sessions are allowed.
func (s *AuthService) Login(ctx context.Context, username, password, ip string) (*AuthResponse, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil || !hash.CheckPassword(user.PasswordHash, password) || !user.IsActive {
		l.Warn("failed login attempt", "username", username, "ip", ip)
		return nil, ErrInvalidCredentials
	}

	resp, err := s.issueTokens(ctx, user, ip)
	if err != nil {
		return nil, err
	}

	l.Info("user logged in", "username", user.Username, "ip", ip)
	return resp, nil
}

// Register creates the user and then runs the same issuance sequence as
// Login. The refresh-token row is tagged with the registration sentinel
// rather than the caller IP.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	existing, err := s.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		l.Warn("registration attempt with existing username", "username", req.Username)
		return nil, ErrUsernameTaken
	}

	pwHash, err := hash.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: pwHash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         models.RoleUser,
		IsActive:     true,
		CreatedAt:    s.Tokens.now(),
	}
	if err := s.DB.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	l.Info("new user registered", "username", user.Username, "user_id", user.ID)

	return s.issueTokens(ctx, &user, registrationIP)
}

// Refresh rotates a refresh token: the old token is conditionally revoked and
// a successor is persisted in one transaction, so a concurrent rotation of
// the same token yields exactly one winner. The old token never validates
// again after this returns successfully.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, ip string) (*AuthResponse, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	valid, err := s.Tokens.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if !valid {
		l.Warn("invalid refresh token used", "ip", ip)
		return nil, ErrInvalidToken
	}

	record, err := s.Tokens.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrInvalidToken
	}

	user, err := s.GetUserByID(ctx, record.UserID)
	if err != nil {
		return nil, err
	}
	// An orphaned or deactivated account silently invalidates its tokens.
	if user == nil || !user.IsActive {
		return nil, ErrInvalidToken
	}

	newValue, err := NewRefreshTokenValue()
	if err != nil {
		return nil, err
	}
	next := models.RefreshToken{
		Token:       newValue,
		UserID:      user.ID,
		ExpiresAt:   s.Tokens.now().Add(s.Tokens.Settings.RefreshTTL),
		CreatedAt:   s.Tokens.now(),
		CreatedByIP: ip,
	}

	if err := s.Tokens.RotateRefreshToken(ctx, refreshToken, &next); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			l.Warn("lost rotation race", "ip", ip)
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	accessToken, expiresAt, err := s.Tokens.CreateAccessToken(user)
	if err != nil {
		return nil, err
	}

	l.Info("token refreshed", "username", user.Username, "ip", ip)

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: newValue,
		ExpiresAt:    expiresAt,
		User:         userInfo(user),
	}, nil
}

// Revoke is the logout path: it only succeeds on a currently valid token.
// The paired access token stays usable until its own expiry; there is no
// server-side access-token blocklist.
func (s *AuthService) Revoke(ctx context.Context, refreshToken, ip string) error {
	valid, err := s.Tokens.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	if !valid {
		return ErrInvalidToken
	}

	revoked, err := s.Tokens.RevokeRefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	if !revoked {
		return ErrInvalidToken
	}

	logging.FromContext(ctx).Info("token revoked", "ip", ip)
	return nil
}

// ValidateUser is the standalone credential probe; same gates as Login.
func (s *AuthService) ValidateUser(ctx context.Context, username, password string) (bool, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	return user != nil && hash.CheckPassword(user.PasswordHash, password) && user.IsActive, nil
}

func (s *AuthService) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user by username: %w", err)
	}
	return &user, nil
}

func (s *AuthService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user by id: %w", err)
	}
	return &user, nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User, ip string) (*AuthResponse, error) {
	accessToken, expiresAt, err := s.Tokens.CreateAccessToken(user)
	if err != nil {
		return nil, err
	}

	refreshValue, err := NewRefreshTokenValue()
	if err != nil {
		return nil, err
	}

	record := models.RefreshToken{
		Token:       refreshValue,
		UserID:      user.ID,
		ExpiresAt:   s.Tokens.now().Add(s.Tokens.Settings.RefreshTTL),
		CreatedAt:   s.Tokens.now(),
		CreatedByIP: ip,
	}
	if err := s.Tokens.SaveRefreshToken(ctx, &record); err != nil {
		return nil, err
	}

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshValue,
		ExpiresAt:    expiresAt,
		User:         userInfo(user),
	}, nil
}

func userInfo(user *models.User) UserInfo {
	return UserInfo{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
	}
}
