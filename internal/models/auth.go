package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type TokenClaims struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// AuthResponse is returned by every flow that ends in a device session.
type AuthResponse struct {
	AccessToken       string        `json:"access_token,omitempty"`
	RefreshToken      string        `json:"refresh_token,omitempty"`
	User              *UserResponse `json:"user,omitempty"`
	SessionID         string        `json:"session_id,omitempty"`
	ConfidenceScore   int           `json:"confidence_score"`
	IsTrusted         bool          `json:"is_trusted"`
	NeedsVerification bool          `json:"needs_verification"`
	MFARequired       bool          `json:"mfa_required"`
	AAL               string        `json:"aal,omitempty"`
}
