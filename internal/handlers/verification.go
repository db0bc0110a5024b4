package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/internal/trust"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// StepUpServiceInterface defines the step-up operations used by handlers
type StepUpServiceInterface interface {
	Evaluate(ctx context.Context, userID, sessionID string) (trust.StepUpDecision, error)
	RequestChallenge(ctx context.Context, userID, sessionID string, method models.VerificationMethod, factorID string) (bool, error)
	Verify(ctx context.Context, userID, sessionID string, method models.VerificationMethod, factorID, secret string) (time.Time, error)
}

// StepUpGuard runs the grace-period check in front of sensitive actions
type StepUpGuard struct {
	service StepUpServiceInterface
	logger  *slog.Logger
}

// NewStepUpGuard creates a StepUpGuard
func NewStepUpGuard(service StepUpServiceInterface, logger *slog.Logger) *StepUpGuard {
	return &StepUpGuard{service: service, logger: logger}
}

// Allow reports whether the caller may proceed. When it returns false the
// response has been written: 403 with the available methods, or the error.
func (g *StepUpGuard) Allow(w http.ResponseWriter, r *http.Request, claims *models.TokenClaims) bool {
	decision, err := g.service.Evaluate(r.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return false
	}
	if decision.RequiresVerification {
		g.logger.Info("step-up verification required",
			slog.String("user_id", claims.UserID),
			slog.String("session_id", claims.SessionID),
			slog.String("path", r.URL.Path),
			slog.String("reason", decision.Reason),
		)
		writeStepUpRequired(w, decision)
		return false
	}
	return true
}

// VerificationHandler serves the step-up status and proof endpoints
type VerificationHandler struct {
	service     StepUpServiceInterface
	gracePeriod time.Duration
}

// NewVerificationHandler creates a new VerificationHandler
func NewVerificationHandler(service StepUpServiceInterface, gracePeriod time.Duration) *VerificationHandler {
	return &VerificationHandler{service: service, gracePeriod: gracePeriod}
}

// ChallengeRequest asks for a code to be sent for method
type ChallengeRequest struct {
	Method   string `json:"method" validate:"required,oneof=email sms totp backup_code password"`
	FactorID string `json:"factorId" validate:"omitempty,uuid"`
}

// VerifyRequest presents a proof for method
type VerifyRequest struct {
	Method   string `json:"method" validate:"required,oneof=email sms totp backup_code password"`
	FactorID string `json:"factorId" validate:"omitempty,uuid"`
	Code     string `json:"code" validate:"required,max=128"`
}

// ChallengeResponse reports whether a code went out
type ChallengeResponse struct {
	Sent bool `json:"sent"`
}

// VerifyResponse carries the new grace period
type VerifyResponse struct {
	VerifiedAt time.Time `json:"verifiedAt"`
	ValidUntil time.Time `json:"validUntil"`
}

// Status reports whether the session must re-verify and how
// @Summary Step-up verification status
// @Produce json
// @Success 200 {object} trust.StepUpDecision
// @Router /account/verification [get]
func (h *VerificationHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	decision, err := h.service.Evaluate(r.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, decision)
}

// Challenge sends an email or SMS code for a step-up
// @Summary Send a step-up code
// @Accept json
// @Param request body ChallengeRequest true "Method"
// @Produce json
// @Success 200 {object} ChallengeResponse
// @Router /account/verification/challenge [post]
func (h *VerificationHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req ChallengeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	sent, err := h.service.RequestChallenge(r.Context(), claims.UserID, claims.SessionID, models.VerificationMethod(req.Method), req.FactorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, ChallengeResponse{Sent: sent})
}

// Verify checks a step-up proof and opens the grace period
// @Summary Verify identity for sensitive actions
// @Accept json
// @Param request body VerifyRequest true "Proof"
// @Produce json
// @Success 200 {object} VerifyResponse
// @Failure 401 {object} ErrorResponse
// @Router /account/verification/verify [post]
func (h *VerificationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	var req VerifyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	at, err := h.service.Verify(r.Context(), claims.UserID, claims.SessionID, models.VerificationMethod(req.Method), req.FactorID, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifyResponse{VerifiedAt: at, ValidUntil: at.Add(h.gracePeriod)})
}
