package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager handles JWT token generation and validation
type TokenManager struct {
	secret             []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             []byte(secret),
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
	}
}

func (tm *TokenManager) AccessTokenExpiry() time.Duration  { return tm.accessTokenExpiry }
func (tm *TokenManager) RefreshTokenExpiry() time.Duration { return tm.refreshTokenExpiry }

// GenerateAccessToken creates a short-lived access token bound to a device session
func (tm *TokenManager) GenerateAccessToken(userID, email, sessionID string) (string, error) {
	return tm.sign(models.TokenTypeAccess, userID, email, sessionID, tm.accessTokenExpiry)
}

// GenerateRefreshToken creates a long-lived refresh token bound to a device session
func (tm *TokenManager) GenerateRefreshToken(userID, email, sessionID string) (string, error) {
	return tm.sign(models.TokenTypeRefresh, userID, email, sessionID, tm.refreshTokenExpiry)
}

// GenerateTokenPair issues an access and a refresh token for the same session
func (tm *TokenManager) GenerateTokenPair(userID, email, sessionID string) (string, string, error) {
	access, err := tm.GenerateAccessToken(userID, email, sessionID)
	if err != nil {
		return "", "", err
	}
	refresh, err := tm.GenerateRefreshToken(userID, email, sessionID)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (tm *TokenManager) sign(tokenType, userID, email, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := &models.TokenClaims{
		Type:      tokenType,
		UserID:    userID,
		Email:     email,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return tokenString, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type == "" {
		return nil, fmt.Errorf("invalid token: missing type")
	}

	return claims, nil
}

// ValidateTokenOfType rejects tokens whose type differs from want
func (tm *TokenManager) ValidateTokenOfType(tokenString, want string) (*models.TokenClaims, error) {
	claims, err := tm.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, fmt.Errorf("%w: expected %s token", models.ErrUnauthorized, want)
	}
	return claims, nil
}
