package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/smartapi/authcore/internal/logging"
	"github.com/smartapi/authcore/internal/models"
)

const refreshTokenBytes = 64

type JWTSettings struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type AccessClaims struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	jwt.RegisteredClaims
}

// TokenService signs access tokens and owns the refresh-token table.
// Now is overridable in tests; nil means UTC wall clock.
type TokenService struct {
	DB       *gorm.DB
	Settings JWTSettings
	Now      func() time.Time
}

func (t *TokenService) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now().UTC()
}

func (t *TokenService) CreateAccessToken(user *models.User) (string, time.Time, error) {
	expiresAt := t.now().Add(t.Settings.AccessTTL)
	claims := AccessClaims{
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(user.ID),
			Issuer:    t.Settings.Issuer,
			Audience:  jwt.ClaimStrings{t.Settings.Audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(t.now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.Settings.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}

	return signed, expiresAt, nil
}

func AccessClaimsFromToken(tokenStr string, secret []byte) (*AccessClaims, error) {
	var claims AccessClaims
	tkn, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !tkn.Valid {
		return nil, errors.New("invalid token")
	}
	return &claims, nil
}

// NewRefreshTokenValue returns an opaque high-entropy token. Predictability
// here is account takeover, so crypto/rand only.
func NewRefreshTokenValue() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func (t *TokenService) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if err := t.DB.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("saving refresh token: %w", err)
	}
	logging.FromContext(ctx).Info("refresh token saved", "user_id", token.UserID)
	return nil
}

// FindRefreshToken returns nil when no non-revoked row matches. A revoked
// token must look exactly like a missing one to callers.
func (t *TokenService) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var record models.RefreshToken
	err := t.DB.WithContext(ctx).
		Where("token = ? AND revoked = ?", token, false).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up refresh token: %w", err)
	}
	return &record, nil
}

// RevokeRefreshToken flips the revoked flag with a conditional update and
// reports whether this call was the one that flipped it. Revoking an unknown
// or already-revoked token is a no-op, not an error.
func (t *TokenService) RevokeRefreshToken(ctx context.Context, token string) (bool, error) {
	result := t.DB.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("token = ? AND revoked = ?", token, false).
		Update("revoked", true)
	if result.Error != nil {
		return false, fmt.Errorf("revoking refresh token: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		logging.FromContext(ctx).Info("refresh token revoked", "token", tokenPrefix(token))
	}
	return result.RowsAffected > 0, nil
}

// ValidateRefreshToken is the single authoritative validity check: a
// non-revoked row exists and its expiry is still ahead of the clock.
func (t *TokenService) ValidateRefreshToken(ctx context.Context, token string) (bool, error) {
	record, err := t.FindRefreshToken(ctx, token)
	if err != nil {
		return false, err
	}
	return record != nil && record.ExpiresAt.After(t.now()), nil
}

// RotateRefreshToken atomically retires oldToken and persists its successor.
// The conditional revoke adjudicates concurrent rotations: whichever request
// flips the flag first wins, the loser sees zero affected rows and gets
// ErrInvalidToken instead of a second token pair.
func (t *TokenService) RotateRefreshToken(ctx context.Context, oldToken string, next *models.RefreshToken) error {
	return t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.RefreshToken{}).
			Where("token = ? AND revoked = ?", oldToken, false).
			Update("revoked", true)
		if result.Error != nil {
			return fmt.Errorf("revoking rotated token: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrInvalidToken
		}

		if err := tx.Create(next).Error; err != nil {
			return fmt.Errorf("saving rotated token: %w", err)
		}
		return nil
	})
}

func tokenPrefix(token string) string {
	if len(token) <= 10 {
		return token
	}
	return token[:10] + "..."
}
