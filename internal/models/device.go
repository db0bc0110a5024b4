package models

import (
	"time"
)

// Authenticator assurance levels
const (
	AAL1 = "aal1"
	AAL2 = "aal2"
)

// DeviceFingerprint is an immutable snapshot of the device a request came
// from. Fields are compared by equality or prefix and never updated.
type DeviceFingerprint struct {
	DeviceName string `json:"device_name"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	IPAddress  string `json:"ip_address"`
}

// DeviceSession binds a user to one browser/device context.
// IsTrusted implies !NeedsVerification.
type DeviceSession struct {
	ID                          string
	UserID                      string
	Fingerprint                 DeviceFingerprint
	UserAgent                   string
	IsTrusted                   bool
	NeedsVerification           bool
	ConfidenceScore             int
	AAL                         string
	LastVerifiedAt              *time.Time
	LastSensitiveVerificationAt *time.Time
	CreatedAt                   time.Time
	LastActiveAt                time.Time
	ExpiresAt                   time.Time
}

// IsExpired reports whether the session is past its expiry at now.
func (s *DeviceSession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// DeviceSessionResponse is the view returned by the session listing.
type DeviceSessionResponse struct {
	ID              string    `json:"id"`
	DeviceName      string    `json:"device_name"`
	Browser         string    `json:"browser"`
	OS              string    `json:"os"`
	IPAddress       string    `json:"ip_address"`
	IsTrusted       bool      `json:"is_trusted"`
	ConfidenceScore int       `json:"confidence_score"`
	AAL             string    `json:"aal"`
	Current         bool      `json:"current"`
	CreatedAt       time.Time `json:"created_at"`
	LastActiveAt    time.Time `json:"last_active_at"`
}

func (s *DeviceSession) ToResponse(currentID string) DeviceSessionResponse {
	return DeviceSessionResponse{
		ID:              s.ID,
		DeviceName:      s.Fingerprint.DeviceName,
		Browser:         s.Fingerprint.Browser,
		OS:              s.Fingerprint.OS,
		IPAddress:       s.Fingerprint.IPAddress,
		IsTrusted:       s.IsTrusted,
		ConfidenceScore: s.ConfidenceScore,
		AAL:             s.AAL,
		Current:         s.ID == currentID,
		CreatedAt:       s.CreatedAt,
		LastActiveAt:    s.LastActiveAt,
	}
}
