package models

import (
	"time"
)

// Factor types
const (
	FactorTypeTOTP  = "totp"
	FactorTypePhone = "phone"
)

// Factor status values
const (
	FactorStatusUnverified = "unverified"
	FactorStatusVerified   = "verified"
)

// MFAFactor is an enrolled second factor. TOTP factors carry an
// AES-256-GCM encrypted secret; phone factors carry the E.164 number.
type MFAFactor struct {
	ID                  string
	UserID              string
	FactorType          string
	FriendlyName        string
	Status              string
	TOTPSecretEncrypted []byte
	TOTPSecretNonce     []byte
	Phone               *string
	LastUsedAt          *time.Time // For replay prevention
	CreatedAt           time.Time
	VerifiedAt          *time.Time
}

// IsVerified checks if the factor completed enrollment
func (f *MFAFactor) IsVerified() bool {
	return f.Status == FactorStatusVerified
}

// FactorResponse is the metadata-only view of a factor.
type FactorResponse struct {
	ID           string     `json:"id"`
	FactorType   string     `json:"factor_type"`
	FriendlyName string     `json:"friendly_name"`
	Status       string     `json:"status"`
	Phone        string     `json:"phone,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

func (f *MFAFactor) ToResponse() FactorResponse {
	resp := FactorResponse{
		ID:           f.ID,
		FactorType:   f.FactorType,
		FriendlyName: f.FriendlyName,
		Status:       f.Status,
		CreatedAt:    f.CreatedAt,
		LastUsedAt:   f.LastUsedAt,
	}
	if f.Phone != nil {
		resp.Phone = MaskPhone(*f.Phone)
	}
	return resp
}

// MaskPhone keeps only the last four digits of a phone number.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}

// BackupCode is a single-use recovery code stored as a bcrypt hash.
type BackupCode struct {
	ID        string
	UserID    string
	CodeHash  string
	UsedAt    *time.Time
	CreatedAt time.Time
}

// MFAEnrollResponse is returned when a factor enrollment starts.
type MFAEnrollResponse struct {
	FactorID   string `json:"factor_id"`
	FactorType string `json:"factor_type"`
	QRCode     string `json:"qr_code,omitempty"` // data URL
	Secret     string `json:"secret,omitempty"`  // manual entry fallback
}

// MFAVerifyEnrollmentResponse carries backup codes the first time 2FA is enabled.
type MFAVerifyEnrollmentResponse struct {
	FactorID    string   `json:"factor_id"`
	BackupCodes []string `json:"backup_codes,omitempty"`
}
