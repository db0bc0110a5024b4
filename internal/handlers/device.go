package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/trustgate/internal/models"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// DeviceSessionServiceInterface defines the device session operations used by handlers
type DeviceSessionServiceInterface interface {
	VerifyDevice(ctx context.Context, user *models.User, sessionID, code string) (*models.DeviceSession, error)
	ResendDeviceCode(ctx context.Context, user *models.User, sessionID string) error
	ListSessions(ctx context.Context, userID, currentSessionID string) ([]models.DeviceSessionResponse, error)
	RevokeSession(ctx context.Context, userID, sessionID, currentSessionID string) error
}

// UserLookup loads the caller's account
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// DeviceHandler serves device verification and session management
type DeviceHandler struct {
	sessions DeviceSessionServiceInterface
	users    UserLookup
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(sessions DeviceSessionServiceInterface, users UserLookup) *DeviceHandler {
	return &DeviceHandler{sessions: sessions, users: users}
}

// DeviceCodeRequest carries the emailed device code
type DeviceCodeRequest struct {
	Code string `json:"code" validate:"required,max=16"`
}

// DeviceStatusResponse is the session state after verification
type DeviceStatusResponse struct {
	SessionID         string `json:"session_id"`
	IsTrusted         bool   `json:"is_trusted"`
	NeedsVerification bool   `json:"needs_verification"`
	ConfidenceScore   int    `json:"confidence_score"`
	AAL               string `json:"aal"`
}

// SessionListResponse wraps the caller's sessions
type SessionListResponse struct {
	Sessions []models.DeviceSessionResponse `json:"sessions"`
}

// VerifyDevice marks the current session trusted using the emailed code
// @Summary Verify this device
// @Accept json
// @Param request body DeviceCodeRequest true "Code"
// @Produce json
// @Success 200 {object} DeviceStatusResponse
// @Failure 400 {object} ErrorResponse
// @Router /auth/device/verify [post]
func (h *DeviceHandler) VerifyDevice(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req DeviceCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	session, err := h.sessions.VerifyDevice(r.Context(), user, claims.SessionID, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, DeviceStatusResponse{
		SessionID:         session.ID,
		IsTrusted:         session.IsTrusted,
		NeedsVerification: session.NeedsVerification,
		ConfidenceScore:   session.ConfidenceScore,
		AAL:               session.AAL,
	})
}

// ResendCode emails a fresh device code
// @Router /auth/device/resend [post]
func (h *DeviceHandler) ResendCode(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if err := h.sessions.ResendDeviceCode(r.Context(), user, claims.SessionID); err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: "Verification code sent"})
}

// ListSessions returns the caller's live device sessions
// @Router /account/sessions [get]
func (h *DeviceHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	sessions, err := h.sessions.ListSessions(r.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.DeviceSessionResponse{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, SessionListResponse{Sessions: sessions})
}

// RevokeSession signs out another device
// @Router /account/sessions/{id} [delete]
func (h *DeviceHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	target := chi.URLParam(r, "id")
	if _, err := uuid.Parse(target); err != nil {
		pkghttp.WriteNotFound(w, "Session not found")
		return
	}
	if target == claims.SessionID {
		pkghttp.WriteBadRequest(w, "Use logout to end the current session")
		return
	}

	if err := h.sessions.RevokeSession(r.Context(), claims.UserID, target, claims.SessionID); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			pkghttp.WriteNotFound(w, "Session not found")
			return
		}
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
