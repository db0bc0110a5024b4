package trust

import (
	"time"

	"github.com/BradenHooton/trustgate/internal/models"
)

// AssuranceLevel reads the session's own aal column. It is authoritative
// because backup codes count towards aal2. Missing, expired or unset
// sessions are aal1.
func AssuranceLevel(session *models.DeviceSession, now time.Time) string {
	if session == nil || session.IsExpired(now) {
		return models.AAL1
	}
	if session.AAL == models.AAL2 {
		return models.AAL2
	}
	return models.AAL1
}
