package handlers

import (
	"net/http"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/internal/services"
	"github.com/BradenHooton/trustgate/internal/trust"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// decodeAndValidate reads a JSON body into req and runs its validate tags.
// It writes the 400 itself and reports false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := pkghttp.DecodeJSON(w, r, req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// caller returns the authenticated claims or writes a 401
func caller(w http.ResponseWriter, r *http.Request) (*models.TokenClaims, bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil || claims.SessionID == "" {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return nil, false
	}
	return claims, true
}

func clientDevice(r *http.Request, ipConfig *pkghttp.IPConfig) services.ClientDevice {
	ua := pkghttp.ExtractUserAgent(r)
	return services.ClientDevice{
		Fingerprint: trust.NewFingerprint(ua, pkghttp.ExtractClientIP(r, ipConfig)),
		UserAgent:   ua,
	}
}
