package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/BradenHooton/trustgate/internal/models"
)

// AssertionAudience is the audience the OAuth broker must put on assertions
const AssertionAudience = "trustgate"

const maxAssertionAge = 5 * time.Minute

// ErrOAuthDisabled is returned when no assertion secret is configured
var ErrOAuthDisabled = errors.New("oauth sign-in is not configured")

// ProviderClaims is the identity assertion the OAuth broker signs once it
// has completed the provider flow. Subject carries the provider user id.
type ProviderClaims struct {
	Provider      string `json:"provider"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// AssertionVerifier validates HS256 provider assertions
type AssertionVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewAssertionVerifier creates a verifier. An empty secret disables it.
func NewAssertionVerifier(secret string) *AssertionVerifier {
	return &AssertionVerifier{secret: []byte(secret), now: time.Now}
}

// Verify parses and validates an assertion
func (v *AssertionVerifier) Verify(assertion string) (*ProviderClaims, error) {
	if len(v.secret) == 0 {
		return nil, ErrOAuthDisabled
	}

	claims := &ProviderClaims{}
	_, err := jwt.ParseWithClaims(assertion, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(AssertionAudience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}

	if claims.IssuedAt == nil || v.now().Sub(claims.IssuedAt.Time) > maxAssertionAge {
		return nil, fmt.Errorf("%w: assertion too old", models.ErrUnauthorized)
	}
	if claims.Provider == "" || claims.Subject == "" || claims.Email == "" {
		return nil, fmt.Errorf("%w: incomplete assertion", models.ErrUnauthorized)
	}

	return claims, nil
}
