package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/internal/services"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	SignUp(ctx context.Context, in services.SignUpInput) (*models.AuthResponse, error)
	Login(ctx context.Context, in services.LoginInput) (*models.AuthResponse, error)
	RequestLoginCode(ctx context.Context, email string) error
	RequestPasswordRecovery(ctx context.Context, email string) error
	FinalizeAuth(ctx context.Context, in services.PostAuthInput) (*models.AuthResponse, error)
	CompletePasswordRecovery(ctx context.Context, in services.PostAuthInput) (*models.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error)
	Logout(ctx context.Context, access *models.TokenClaims, refreshToken string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// SignUpRequest represents the request body for registration
type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=128"`
}

// PostAuthRequest finalizes a non-password sign-in
type PostAuthRequest struct {
	Flow        string `json:"flow" validate:"required,oneof=oauth otp recovery"`
	Assertion   string `json:"assertion" validate:"required_if=Flow oauth"`
	Email       string `json:"email" validate:"omitempty,email"`
	Code        string `json:"code" validate:"omitempty,max=16"`
	NewPassword string `json:"new_password" validate:"required_if=Flow recovery,max=128"`
}

// RecoveryCompleteRequest sets a new password from an emailed code
type RecoveryCompleteRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,max=16"`
	NewPassword string `json:"new_password" validate:"required,max=128"`
}

// EmailRequest carries only an address
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest optionally names the refresh token to revoke with the session
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// SignUp creates a password account and its first, trusted session
// @Summary Register
// @Accept json
// @Param request body SignUpRequest true "Registration"
// @Produce json
// @Success 201 {object} models.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/signup [post]
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.SignUp(r.Context(), services.SignUpInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Device:   clientDevice(r, h.ipConfig),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, resp)
}

// Login handles password sign-in
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} models.AuthResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Login(r.Context(), services.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Device:   clientDevice(r, h.ipConfig),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// PostAuth creates the device session for oauth, otp and recovery sign-ins
// @Summary Finalize sign-in
// @Accept json
// @Param request body PostAuthRequest true "Flow proof"
// @Produce json
// @Success 200 {object} models.AuthResponse
// @Router /auth/post-auth [post]
func (h *AuthHandler) PostAuth(w http.ResponseWriter, r *http.Request) {
	var req PostAuthRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.FinalizeAuth(r.Context(), services.PostAuthInput{
		Flow:        req.Flow,
		Assertion:   req.Assertion,
		Email:       req.Email,
		Code:        req.Code,
		NewPassword: req.NewPassword,
		Device:      clientDevice(r, h.ipConfig),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// RequestLoginCode emails a one-time sign-in code
// @Router /auth/otp/request [post]
func (h *AuthHandler) RequestLoginCode(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	// Same answer for known and unknown addresses
	if err := h.service.RequestLoginCode(r.Context(), req.Email); err != nil {
		h.logger.Warn("login code request failed", slog.Any("error", err))
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: "If the address has an account, a code is on its way"})
}

// RequestRecovery emails a password recovery code
// @Router /auth/recover/request [post]
func (h *AuthHandler) RequestRecovery(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.RequestPasswordRecovery(r.Context(), req.Email); err != nil {
		h.logger.Warn("recovery request failed", slog.Any("error", err))
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: "If the address has an account, a code is on its way"})
}

// CompleteRecovery sets the new password and signs in on this device
// @Summary Complete password recovery
// @Accept json
// @Param request body RecoveryCompleteRequest true "Recovery"
// @Produce json
// @Success 200 {object} models.AuthResponse
// @Router /auth/recover/complete [post]
func (h *AuthHandler) CompleteRecovery(w http.ResponseWriter, r *http.Request) {
	var req RecoveryCompleteRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.CompletePasswordRecovery(r.Context(), services.PostAuthInput{
		Flow:        services.FlowRecovery,
		Email:       req.Email,
		Code:        req.Code,
		NewPassword: req.NewPassword,
		Device:      clientDevice(r, h.ipConfig),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Refresh rotates the token pair
// @Summary Refresh tokens
// @Accept json
// @Param request body RefreshTokenRequest true "Refresh token"
// @Produce json
// @Success 200 {object} models.AuthResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Logout revokes the caller's tokens and ends the device session
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req LogoutRequest
	if r.ContentLength > 0 {
		if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	if err := h.service.Logout(r.Context(), claims, req.RefreshToken); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
