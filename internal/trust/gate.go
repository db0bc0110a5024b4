package trust

import (
	"time"

	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/models"
)

// Reasons reported with a step-up decision
const (
	ReasonSessionMissing    = "session_missing"
	ReasonGraceExpired      = "grace_period_expired"
	ReasonWithinGracePeriod = "within_grace_period"
)

// Gate decides whether a sensitive action needs a fresh proof of identity.
type Gate struct {
	cfg *config.TrustConfig
	now func() time.Time
}

func NewGate(cfg *config.TrustConfig) *Gate {
	return &Gate{cfg: cfg, now: time.Now}
}

// GracePeriod returns the configured window as a duration.
func (g *Gate) GracePeriod() time.Duration {
	return time.Duration(g.cfg.GracePeriodMinutes) * time.Minute
}

// Cutoff is the oldest verification time still inside the grace period.
func (g *Gate) Cutoff() time.Time {
	return g.now().Add(-g.GracePeriod())
}

// HasGracePeriodExpired reports whether last is missing or older than the
// grace period measured back from now.
func HasGracePeriodExpired(last *time.Time, gracePeriodMinutes int, now time.Time) bool {
	if last == nil {
		return true
	}
	cutoff := now.Add(-time.Duration(gracePeriodMinutes) * time.Minute)
	return last.Before(cutoff)
}

// TwoFactorRequirements lists the enrolled factors a user can present.
type TwoFactorRequirements struct {
	RequiresTwoFactor bool
	AvailableMethods  []models.VerificationFactor
}

// CheckTwoFactorRequirements requires 2FA whenever at least one verified
// factor exists. Methods come back as TOTP factors, then SMS factors, then
// backup codes.
func CheckTwoFactorRequirements(factors []models.MFAFactor, hasBackupCodes bool) TwoFactorRequirements {
	var totp, sms []models.VerificationFactor
	for _, f := range factors {
		if !f.IsVerified() {
			continue
		}
		switch f.FactorType {
		case models.FactorTypeTOTP:
			totp = append(totp, models.VerificationFactor{Type: models.MethodTOTP, FactorID: f.ID})
		case models.FactorTypePhone:
			sms = append(sms, models.VerificationFactor{Type: models.MethodSMS, FactorID: f.ID})
		}
	}

	if len(totp)+len(sms) == 0 {
		return TwoFactorRequirements{RequiresTwoFactor: false}
	}

	methods := make([]models.VerificationFactor, 0, len(totp)+len(sms)+1)
	methods = append(methods, totp...)
	methods = append(methods, sms...)
	if hasBackupCodes {
		methods = append(methods, models.VerificationFactor{Type: models.MethodBackupCode})
	}
	return TwoFactorRequirements{RequiresTwoFactor: true, AvailableMethods: methods}
}

// GetUserVerificationMethods returns the first-factor proofs for accounts
// without 2FA: password first when the account has one, then email. Email is
// offered for an unverified address only when nothing else is, since a code
// delivered there still proves control of it.
func GetUserVerificationMethods(user *models.User) []models.VerificationFactor {
	methods := []models.VerificationFactor{}
	if user == nil {
		return methods
	}
	if user.HasPassword() {
		methods = append(methods, models.VerificationFactor{Type: models.MethodPassword})
	}
	if user.EmailVerified || (len(methods) == 0 && user.Email != "") {
		methods = append(methods, models.VerificationFactor{Type: models.MethodEmail})
	}
	return methods
}

// StepUpDecision is what a sensitive endpoint acts on.
type StepUpDecision struct {
	RequiresVerification bool                        `json:"requiresVerification"`
	AvailableMethods     []models.VerificationFactor `json:"availableMethods,omitempty"`
	DefaultMethod        *models.VerificationFactor  `json:"defaultMethod,omitempty"`
	Reason               string                      `json:"reason,omitempty"`
}

// Evaluate combines the grace period with the user's factors. A nil or
// expired session always requires verification.
func (g *Gate) Evaluate(session *models.DeviceSession, user *models.User, factors []models.MFAFactor, hasBackupCodes bool) StepUpDecision {
	now := g.now()

	reason := ReasonGraceExpired
	if session == nil || session.IsExpired(now) {
		reason = ReasonSessionMissing
	} else if !HasGracePeriodExpired(session.LastSensitiveVerificationAt, g.cfg.GracePeriodMinutes, now) {
		return StepUpDecision{RequiresVerification: false, Reason: ReasonWithinGracePeriod}
	}

	methods := g.Methods(user, factors, hasBackupCodes)
	return StepUpDecision{
		RequiresVerification: true,
		AvailableMethods:     methods,
		DefaultMethod:        DefaultMethod(methods),
		Reason:               reason,
	}
}

// Methods returns 2FA methods when the user has any, otherwise password/email.
func (g *Gate) Methods(user *models.User, factors []models.MFAFactor, hasBackupCodes bool) []models.VerificationFactor {
	if req := CheckTwoFactorRequirements(factors, hasBackupCodes); req.RequiresTwoFactor {
		return req.AvailableMethods
	}
	return GetUserVerificationMethods(user)
}

// DefaultMethod picks the first method, which is the preferred one given the
// ordering above.
func DefaultMethod(methods []models.VerificationFactor) *models.VerificationFactor {
	if len(methods) == 0 {
		return nil
	}
	m := methods[0]
	return &m
}

// Allows reports whether method is among the offered ones. For 2FA methods
// the factor id must match too, except for backup codes.
func Allows(methods []models.VerificationFactor, method models.VerificationMethod, factorID string) bool {
	for _, m := range methods {
		if m.Type != method {
			continue
		}
		if m.FactorID == "" || m.FactorID == factorID {
			return true
		}
	}
	return false
}
