package trust

import (
	"fmt"

	"github.com/BradenHooton/trustgate/internal/models"
)

// TrustLevel identifies how a session was authenticated.
type TrustLevel int

const (
	// LevelStandard is an email+password login; it goes through scoring.
	LevelStandard TrustLevel = iota
	// LevelNewAccount is the first session of a freshly created account.
	LevelNewAccount
	// LevelOAuth is a login through an external identity provider.
	LevelOAuth
	// LevelEmailLink covers flows where the user proved mailbox ownership,
	// such as completing password recovery.
	LevelEmailLink
)

var levelNames = map[TrustLevel]string{
	LevelStandard:   "standard",
	LevelNewAccount: "new_account",
	LevelOAuth:      "oauth",
	LevelEmailLink:  "email_link",
}

func (l TrustLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("TrustLevel(%d)", int(l))
}

// ParseTrustLevel is the inverse of String.
func ParseTrustLevel(s string) (TrustLevel, error) {
	for level, name := range levelNames {
		if name == s {
			return level, nil
		}
	}
	return LevelStandard, fmt.Errorf("unknown trust level %q", s)
}

// Decision is the outcome recorded on a new device session.
type Decision struct {
	Level             TrustLevel
	Score             int
	Tier              Tier
	IsTrusted         bool
	NeedsVerification bool
}

type override struct {
	score             int
	needsVerification bool
	isTrusted         bool
}

// overrides bypass scoring entirely. LevelStandard is absent on purpose.
var overrides = map[TrustLevel]override{
	LevelNewAccount: {score: 100, needsVerification: false, isTrusted: true},
	LevelOAuth:      {score: 85, needsVerification: false, isTrusted: true},
	LevelEmailLink:  {score: 100, needsVerification: false, isTrusted: true},
}

// Decide produces the trust decision for a new session. hasTwoFactor reports
// whether the account has at least one verified factor; 2FA supersedes device
// verification for low-scoring standard logins.
func (s *Scorer) Decide(level TrustLevel, trusted []models.DeviceSession, candidate models.DeviceFingerprint, hasTwoFactor bool) Decision {
	if o, ok := overrides[level]; ok {
		return Decision{
			Level:             level,
			Score:             o.score,
			Tier:              s.Level(o.score),
			IsTrusted:         o.isTrusted,
			NeedsVerification: o.needsVerification,
		}
	}

	score := s.Score(trusted, candidate)
	isTrusted := s.IsTrustedScore(score)
	return Decision{
		Level:             LevelStandard,
		Score:             score,
		Tier:              s.Level(score),
		IsTrusted:         isTrusted,
		NeedsVerification: !isTrusted && !hasTwoFactor,
	}
}
