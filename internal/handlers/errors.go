package handlers

import (
	"errors"
	"net/http"

	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/internal/trust"
	pkgauth "github.com/BradenHooton/trustgate/pkg/auth"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// StepUpRequiredResponse is the 403 body for a sensitive action attempted
// outside the grace period.
type StepUpRequiredResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	trust.StepUpDecision
}

func writeStepUpRequired(w http.ResponseWriter, decision trust.StepUpDecision) {
	pkghttp.WriteJSON(w, http.StatusForbidden, StepUpRequiredResponse{
		Error:          "verification_required",
		Message:        "Confirm your identity to continue",
		StepUpDecision: decision,
	})
}

// writeServiceError maps service sentinels to HTTP responses. Services have
// already logged anything unexpected.
func writeServiceError(w http.ResponseWriter, err error) {
	var pwErr *pkgauth.PasswordValidationError
	switch {
	case errors.As(err, &pwErr):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "weak_password", "Password does not meet requirements", pwErr.Error())
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrAccountDisabled),
		errors.Is(err, models.ErrAccountSuspended):
		pkghttp.WriteForbidden(w, "Account is not active")
	case errors.Is(err, models.ErrEmailNotVerified):
		pkghttp.WriteError(w, http.StatusForbidden, "email_not_verified", "Verify your email address first")
	case errors.Is(err, models.ErrSessionNotFound):
		pkghttp.WriteError(w, http.StatusUnauthorized, "session_not_found", "Session has ended")
	case errors.Is(err, models.ErrSessionExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "session_expired", "Session has expired")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Unauthorized")
	case errors.Is(err, models.ErrInvalidCode):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_code", "Invalid or expired code")
	case errors.Is(err, models.ErrTooManyAttempts):
		pkghttp.WriteTooManyRequests(w, "Too many attempts. Request a new code.")
	case errors.Is(err, models.ErrMethodNotAvailable):
		pkghttp.WriteError(w, http.StatusBadRequest, "method_not_available", "Verification method not available")
	case errors.Is(err, models.ErrLastLoginMethod):
		pkghttp.WriteError(w, http.StatusConflict, "last_login_method", "Add another way to sign in before removing this one")
	case errors.Is(err, models.ErrFactorAlreadyVerified):
		pkghttp.WriteConflict(w, "Factor is already verified")
	case errors.Is(err, models.ErrVerificationRequired):
		pkghttp.WriteForbidden(w, "Verification required")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Forbidden")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Resource already exists")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
