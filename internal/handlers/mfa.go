package handlers

import (
	"context"
	"net/http"

	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/internal/services"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// MFAServiceInterface defines the factor operations used by handlers
type MFAServiceInterface interface {
	ListFactors(ctx context.Context, userID string) (*services.FactorSummary, error)
	EnrollTOTP(ctx context.Context, user *models.User, friendlyName string) (*models.MFAEnrollResponse, error)
	EnrollPhone(ctx context.Context, user *models.User, phone, friendlyName string) (*models.MFAEnrollResponse, error)
	VerifyEnrollment(ctx context.Context, user *models.User, sessionID, factorID, code string) (*models.MFAVerifyEnrollmentResponse, error)
	Unenroll(ctx context.Context, userID, sessionID, factorID string) error
	RegenerateBackupCodes(ctx context.Context, userID, sessionID string) ([]string, error)
	Challenge(ctx context.Context, userID, factorID string) error
	VerifyChallenge(ctx context.Context, userID, sessionID string, method models.VerificationMethod, factorID, code string) error
}

// MFAHandler serves 2FA enrollment and the login second step
type MFAHandler struct {
	service MFAServiceInterface
	users   UserLookup
	guard   *StepUpGuard
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(service MFAServiceInterface, users UserLookup, guard *StepUpGuard) *MFAHandler {
	return &MFAHandler{service: service, users: users, guard: guard}
}

// EnrollRequest starts a TOTP or phone enrollment
type EnrollRequest struct {
	FactorType   string `json:"factor_type" validate:"required,oneof=totp phone"`
	FriendlyName string `json:"friendly_name" validate:"max=64"`
	Phone        string `json:"phone" validate:"required_if=FactorType phone,omitempty,e164"`
}

// FactorCodeRequest proves possession of a factor
type FactorCodeRequest struct {
	FactorID string `json:"factor_id" validate:"required,uuid"`
	Code     string `json:"code" validate:"required,max=16"`
}

// FactorRequest names a factor
type FactorRequest struct {
	FactorID string `json:"factor_id" validate:"required,uuid"`
}

// MFAVerifyRequest completes the login second step
type MFAVerifyRequest struct {
	Method   string `json:"method" validate:"required,oneof=totp sms backup_code"`
	FactorID string `json:"factor_id" validate:"required_unless=Method backup_code,omitempty,uuid"`
	Code     string `json:"code" validate:"required,max=16"`
}

// BackupCodesResponse carries freshly generated backup codes
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// AALResponse reports the session's assurance level
type AALResponse struct {
	AAL string `json:"aal"`
}

// ListFactors returns the caller's factors
// @Router /account/2fa [get]
func (h *MFAHandler) ListFactors(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	summary, err := h.service.ListFactors(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, summary)
}

// Enroll starts adding a factor. Requires a recent step-up.
// @Summary Enroll a second factor
// @Accept json
// @Param request body EnrollRequest true "Factor"
// @Produce json
// @Success 201 {object} models.MFAEnrollResponse
// @Failure 403 {object} StepUpRequiredResponse
// @Router /account/2fa/enroll [post]
func (h *MFAHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req EnrollRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if !h.guard.Allow(w, r, claims) {
		return
	}

	user, err := h.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var resp *models.MFAEnrollResponse
	if req.FactorType == models.FactorTypePhone {
		resp, err = h.service.EnrollPhone(r.Context(), user, req.Phone, req.FriendlyName)
	} else {
		resp, err = h.service.EnrollTOTP(r.Context(), user, req.FriendlyName)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, resp)
}

// VerifyEnrollment confirms a pending factor
// @Router /account/2fa/verify [post]
func (h *MFAHandler) VerifyEnrollment(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req FactorCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.service.VerifyEnrollment(r.Context(), user, claims.SessionID, req.FactorID, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Disable removes a factor. Requires a recent step-up.
// @Router /account/2fa/disable [post]
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req FactorRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if !h.guard.Allow(w, r, claims) {
		return
	}

	if err := h.service.Unenroll(r.Context(), claims.UserID, claims.SessionID, req.FactorID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegenerateBackupCodes replaces every backup code. Requires a recent step-up.
// @Router /account/2fa/backup-codes [post]
func (h *MFAHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	if !h.guard.Allow(w, r, claims) {
		return
	}

	codes, err := h.service.RegenerateBackupCodes(r.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

// Challenge starts the login second step for a factor
// @Router /auth/mfa/challenge [post]
func (h *MFAHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req FactorRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.Challenge(r.Context(), claims.UserID, req.FactorID); err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, ChallengeResponse{Sent: true})
}

// VerifyChallenge completes the login second step and raises the session to aal2
// @Router /auth/mfa/verify [post]
func (h *MFAHandler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req MFAVerifyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.VerifyChallenge(r.Context(), claims.UserID, claims.SessionID, models.VerificationMethod(req.Method), req.FactorID, req.Code); err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, AALResponse{AAL: models.AAL2})
}
