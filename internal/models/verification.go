package models

import (
	"time"
)

// VerificationMethod names one way a user can prove identity.
type VerificationMethod string

const (
	MethodTOTP       VerificationMethod = "totp"
	MethodSMS        VerificationMethod = "sms"
	MethodBackupCode VerificationMethod = "backup_code"
	MethodPassword   VerificationMethod = "password"
	MethodEmail      VerificationMethod = "email"
)

// IsTwoFactor reports whether the method is backed by an enrolled factor.
func (m VerificationMethod) IsTwoFactor() bool {
	switch m {
	case MethodTOTP, MethodSMS, MethodBackupCode:
		return true
	}
	return false
}

// VerificationFactor is derived on demand and never stored.
type VerificationFactor struct {
	Type     VerificationMethod `json:"type"`
	FactorID string             `json:"factorId,omitempty"`
}

// Verification code purposes
const (
	CodePurposeDeviceVerification = "device_verification"
	CodePurposeStepUpEmail        = "step_up_email"
	CodePurposeStepUpSMS          = "step_up_sms"
	CodePurposeMFASMS             = "mfa_sms"
	CodePurposeEmailChange        = "email_change"
	CodePurposePasswordRecovery   = "password_recovery"
	CodePurposeFactorEnrollment   = "factor_enrollment"
	CodePurposeLoginOTP           = "login_otp"
)

// VerificationCode is a hashed one-time code sent by email or SMS.
type VerificationCode struct {
	ID         string
	UserID     string
	Purpose    string
	Target     string // email address, phone number or factor id
	CodeHash   string
	Attempts   int
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// IsExpired checks if the code has expired
func (c *VerificationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsConsumed checks if the code has already been used
func (c *VerificationCode) IsConsumed() bool {
	return c.ConsumedAt != nil
}
