// Package trust holds the device-confidence and step-up decision rules.
// Everything here is a pure function of its inputs plus the TrustConfig
// handed to the constructors.
package trust

import (
	"strings"

	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/models"
)

// Signal weights. A perfect match sums to MaxMatchScore, not 100; 100 is only
// reachable through an override.
const (
	WeightDeviceName = 30
	WeightBrowser    = 20
	WeightOSFamily   = 20
	WeightIPNetwork  = 15

	MaxMatchScore = WeightDeviceName + WeightBrowser + WeightOSFamily + WeightIPNetwork
)

// Tier is the coarse bucket a score falls into.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Scorer compares a new fingerprint with a user's trusted device history.
type Scorer struct {
	cfg *config.TrustConfig
}

func NewScorer(cfg *config.TrustConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score returns the best match of candidate against trusted. The caller passes
// only sessions it considers trusted. No history yields 0.
func (s *Scorer) Score(trusted []models.DeviceSession, candidate models.DeviceFingerprint) int {
	best := 0
	for i := range trusted {
		if score := matchScore(trusted[i].Fingerprint, candidate); score > best {
			best = score
		}
	}
	return best
}

// Level maps a score to its tier.
func (s *Scorer) Level(score int) Tier {
	switch {
	case score >= s.cfg.TrustThreshold:
		return TierHigh
	case score >= s.cfg.MediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// IsTrustedScore reports whether a score clears the auto-trust threshold.
func (s *Scorer) IsTrustedScore(score int) bool {
	return score >= s.cfg.TrustThreshold
}

func matchScore(known, candidate models.DeviceFingerprint) int {
	score := 0
	if sameNonEmpty(known.DeviceName, candidate.DeviceName) {
		score += WeightDeviceName
	}
	if sameNonEmpty(known.Browser, candidate.Browser) {
		score += WeightBrowser
	}
	if sameNonEmpty(OSFamily(known.OS), OSFamily(candidate.OS)) {
		score += WeightOSFamily
	}
	if sameNonEmpty(IPNetwork(known.IPAddress), IPNetwork(candidate.IPAddress)) {
		score += WeightIPNetwork
	}
	return score
}

// Empty values carry no signal; two unknowns are not a match.
func sameNonEmpty(a, b string) bool {
	return a != "" && a == b
}

// OSFamily drops everything after the first space, so "Windows 10" and
// "Windows 11" compare equal.
func OSFamily(os string) string {
	os = strings.TrimSpace(os)
	if i := strings.IndexByte(os, ' '); i >= 0 {
		return os[:i]
	}
	return os
}

// IPNetwork returns the first three octets of a dotted-quad address. Anything
// that is not a dotted quad is compared as a whole.
func IPNetwork(ip string) string {
	ip = strings.TrimSpace(ip)
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ip
	}
	for _, p := range parts {
		if p == "" {
			return ""
		}
	}
	return strings.Join(parts[:3], ".")
}
