package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lorawan-replay/replay-server/internal/config"
	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/internal/storage"
	"github.com/lorawan-replay/replay-server/pkg/crypto"
)

const issuer = "lorawan-replay-server"

// JWTManager issues and validates API tokens
type JWTManager struct {
	config *config.JWTConfig
	users  storage.UserStore
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(cfg *config.JWTConfig, users storage.UserStore) *JWTManager {
	return &JWTManager{config: cfg, users: users}
}

// Claims represents JWT claims
type Claims struct {
	jwt.RegisteredClaims
	UserID  uuid.UUID `json:"user_id"`
	Email   string    `json:"email"`
	IsAdmin bool      `json:"is_admin"`
}

// GenerateTokenPair generates access and refresh tokens
func (m *JWTManager) GenerateTokenPair(user *models.User) (string, string, error) {
	accessClaims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Email,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.config.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
		UserID:  user.ID,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
	}

	accessToken := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims)
	accessTokenString, err := accessToken.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}

	refreshClaims := jwt.RegisteredClaims{
		Subject:   user.Email,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.config.RefreshTokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now()),
		Issuer:    issuer,
		ID:        uuid.New().String(),
	}

	refreshToken := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims)
	refreshTokenString, err := refreshToken.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}

	return accessTokenString, refreshTokenString, nil
}

// ValidateToken validates an access token
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.Secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// RefreshToken exchanges a refresh token for a fresh pair. The user is
// re-read so revoked or deactivated accounts stop refreshing.
func (m *JWTManager) RefreshToken(ctx context.Context, refreshTokenString string) (string, string, error) {
	token, err := jwt.ParseWithClaims(refreshTokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.Secret), nil
	})
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("invalid refresh token")
	}

	user, err := m.users.GetUserByEmail(ctx, claims.Subject)
	if err != nil {
		return "", "", fmt.Errorf("unknown user in refresh token")
	}
	if !user.IsActive {
		return "", "", fmt.Errorf("user is inactive")
	}

	return m.GenerateTokenPair(user)
}

// VerifyPassword verifies a password against a hash
func (m *JWTManager) VerifyPassword(password, hash string) bool {
	return crypto.VerifyPassword(password, hash)
}
