package models

import "time"

// Data export status values
const (
	ExportStatusPending    = "pending"
	ExportStatusProcessing = "processing"
	ExportStatusCompleted  = "completed"
	ExportStatusFailed     = "failed"
)

type DataExportRequest struct {
	ID          string     `json:"id"`
	UserID      string     `json:"-"`
	Status      string     `json:"status"`
	ObjectKey   *string    `json:"-"`
	Error       *string    `json:"error,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DataExportArchive is the JSON document uploaded for the user.
type DataExportArchive struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Profile     UserResponse            `json:"profile"`
	Identities  []Identity              `json:"identities"`
	Factors     []FactorResponse        `json:"factors"`
	Sessions    []DeviceSessionResponse `json:"sessions"`
	Events      []AccountEvent          `json:"events"`
}
