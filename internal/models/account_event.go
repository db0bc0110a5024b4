package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Account event types
const (
	EventSignup                  = "signup"
	EventLogin                   = "login"
	EventNewDeviceLogin          = "new_device_login"
	EventDeviceTrusted           = "device_trusted"
	EventSessionRevoked          = "session_revoked"
	EventLogout                  = "logout"
	EventTwoFactorEnabled        = "two_factor_enabled"
	EventTwoFactorDisabled       = "two_factor_disabled"
	EventBackupCodesRegenerated  = "backup_codes_regenerated"
	EventPasswordChanged         = "password_changed"
	EventPasswordRecovered       = "password_recovered"
	EventEmailChanged            = "email_changed"
	EventIdentityDisconnected    = "identity_disconnected"
	EventSensitiveActionVerified = "sensitive_action_verified"
	EventAvatarUpdated           = "avatar_updated"
	EventDataExportRequested     = "data_export_requested"
	EventAccountDeleted          = "account_deleted"
)

// Event categories used for display grouping
const (
	EventCategorySecurity = "security"
	EventCategoryDevice   = "device"
	EventCategoryAccount  = "account"
)

var eventCategories = map[string]string{
	EventSignup:                  EventCategoryAccount,
	EventLogin:                   EventCategoryDevice,
	EventNewDeviceLogin:          EventCategoryDevice,
	EventDeviceTrusted:           EventCategoryDevice,
	EventSessionRevoked:          EventCategoryDevice,
	EventLogout:                  EventCategoryDevice,
	EventTwoFactorEnabled:        EventCategorySecurity,
	EventTwoFactorDisabled:       EventCategorySecurity,
	EventBackupCodesRegenerated:  EventCategorySecurity,
	EventPasswordChanged:         EventCategorySecurity,
	EventPasswordRecovered:       EventCategorySecurity,
	EventEmailChanged:            EventCategoryAccount,
	EventIdentityDisconnected:    EventCategorySecurity,
	EventSensitiveActionVerified: EventCategorySecurity,
	EventAvatarUpdated:           EventCategoryAccount,
	EventDataExportRequested:     EventCategoryAccount,
	EventAccountDeleted:          EventCategoryAccount,
}

// EventCategory returns the display category for an event type.
func EventCategory(eventType string) string {
	if c, ok := eventCategories[eventType]; ok {
		return c
	}
	return EventCategoryAccount
}

// AccountEvent is an append-only record shown in the account activity feed.
type AccountEvent struct {
	ID              string        `json:"id"`
	UserID          string        `json:"-"`
	DeviceSessionID *string       `json:"device_session_id,omitempty"`
	EventType       string        `json:"event_type"`
	Metadata        EventMetadata `json:"metadata"`
	CreatedAt       time.Time     `json:"created_at"`
}

// EventMetadata holds the device snapshot, category and description
type EventMetadata map[string]interface{}

// NewEventMetadata builds the standard metadata for an event.
func NewEventMetadata(eventType, description string, device *DeviceFingerprint) EventMetadata {
	m := EventMetadata{
		"category":    EventCategory(eventType),
		"description": description,
	}
	if device != nil {
		m["device"] = map[string]interface{}{
			"device_name": device.DeviceName,
			"browser":     device.Browser,
			"os":          device.OS,
			"ip_address":  device.IPAddress,
		}
	}
	return m
}

// Scan implements sql.Scanner for JSONB
func (em *EventMetadata) Scan(value interface{}) error {
	if value == nil {
		*em = make(EventMetadata)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*em = EventMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (em EventMetadata) Value() (driver.Value, error) {
	if em == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(em))
}

// EventPage is one page of the activity feed.
type EventPage struct {
	Events []AccountEvent `json:"events"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}
