package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/internal/services"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// AccountServiceInterface defines the account operations used by handlers
type AccountServiceInterface interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	ChangePassword(ctx context.Context, userID, sessionID, newPassword string) error
	ChangeEmail(ctx context.Context, userID, newEmail string) error
	ConfirmEmailChange(ctx context.Context, userID, sessionID, code string) (*models.User, error)
	DeleteAccount(ctx context.Context, userID, ipAddress string) error
	ListIdentities(ctx context.Context, userID string) ([]models.Identity, error)
	DisconnectIdentity(ctx context.Context, userID, sessionID, identityID string) error
	UploadAvatar(ctx context.Context, userID, sessionID, contentType string, body io.Reader, size int64) (*models.User, error)
}

// EventServiceInterface lists account activity
type EventServiceInterface interface {
	List(ctx context.Context, userID string, limit, offset int) (*models.EventPage, error)
}

// AccountHandler serves the signed-in user's account settings
type AccountHandler struct {
	service  AccountServiceInterface
	events   EventServiceInterface
	guard    *StepUpGuard
	ipConfig *pkghttp.IPConfig
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(service AccountServiceInterface, events EventServiceInterface, guard *StepUpGuard, ipConfig *pkghttp.IPConfig) *AccountHandler {
	return &AccountHandler{
		service:  service,
		events:   events,
		guard:    guard,
		ipConfig: ipConfig,
	}
}

// ChangePasswordRequest sets a new password
type ChangePasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required,max=128"`
}

// ChangeEmailRequest starts an address change
type ChangeEmailRequest struct {
	NewEmail string `json:"new_email" validate:"required,email,max=254"`
}

// ConfirmEmailRequest finishes an address change
type ConfirmEmailRequest struct {
	Code string `json:"code" validate:"required,max=16"`
}

// DisconnectIdentityRequest names a linked identity
type DisconnectIdentityRequest struct {
	IdentityID string `json:"identity_id" validate:"required,uuid"`
}

// IdentityListResponse wraps linked identities
type IdentityListResponse struct {
	Identities []models.Identity `json:"identities"`
}

// Me returns the caller's profile
// @Router /account/me [get]
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, user.ToResponse())
}

// ChangePassword sets a new password and signs out other devices
// @Summary Change password
// @Accept json
// @Param request body ChangePasswordRequest true "New password"
// @Success 204
// @Failure 403 {object} StepUpRequiredResponse
// @Router /account/change-password [post]
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if !h.guard.Allow(w, r, claims) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), claims.UserID, claims.SessionID, req.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangeEmail sends a confirmation code to the new address
// @Router /account/change-email [post]
func (h *AccountHandler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req ChangeEmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if !h.guard.Allow(w, r, claims) {
		return
	}

	if err := h.service.ChangeEmail(r.Context(), claims.UserID, req.NewEmail); err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: "Confirmation code sent to the new address"})
}

// ConfirmEmailChange applies the pending address
// @Router /account/change-email/confirm [post]
func (h *AccountHandler) ConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req ConfirmEmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.service.ConfirmEmailChange(r.Context(), claims.UserID, claims.SessionID, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, user.ToResponse())
}

// Delete permanently removes the account
// @Summary Delete account
// @Success 204
// @Failure 403 {object} StepUpRequiredResponse
// @Router /account/delete [post]
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	if !h.guard.Allow(w, r, claims) {
		return
	}

	if err := h.service.DeleteAccount(r.Context(), claims.UserID, pkghttp.ExtractClientIP(r, h.ipConfig)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListIdentities returns linked OAuth identities
// @Router /account/social [get]
func (h *AccountHandler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	identities, err := h.service.ListIdentities(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, IdentityListResponse{Identities: identities})
}

// DisconnectIdentity unlinks an OAuth identity
// @Router /account/social/disconnect [post]
func (h *AccountHandler) DisconnectIdentity(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req DisconnectIdentityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if !h.guard.Allow(w, r, claims) {
		return
	}

	if err := h.service.DisconnectIdentity(r.Context(), claims.UserID, claims.SessionID, req.IdentityID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadAvatar accepts a multipart "avatar" image
// @Accept multipart/form-data
// @Router /account/avatar [post]
func (h *AccountHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, services.MaxAvatarBytes+64<<10)
	if err := r.ParseMultipartForm(services.MaxAvatarBytes); err != nil {
		pkghttp.WriteBadRequest(w, "Avatar must be an image up to 2MB")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("avatar")
	if err != nil {
		pkghttp.WriteBadRequest(w, "Missing avatar file")
		return
	}
	defer file.Close()

	user, err := h.service.UploadAvatar(r.Context(), claims.UserID, claims.SessionID, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, user.ToResponse())
}

// Events returns one page of account activity
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Router /account/events [get]
func (h *AccountHandler) Events(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		pkghttp.WriteBadRequest(w, "limit must be a number")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		pkghttp.WriteBadRequest(w, "offset must be a number")
		return
	}

	page, err := h.events.List(r.Context(), claims.UserID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, page)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
