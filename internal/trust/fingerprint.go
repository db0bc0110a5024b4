package trust

import (
	"regexp"
	"strings"

	"github.com/BradenHooton/trustgate/internal/models"
)

var (
	windowsNTRe = regexp.MustCompile(`windows nt (\d+\.\d+)`)
	macOSRe     = regexp.MustCompile(`mac os x (\d+(?:[_.]\d+)*)`)
	iOSRe       = regexp.MustCompile(`(?:iphone|cpu) os (\d+(?:_\d+)*)`)
	androidRe   = regexp.MustCompile(`android (\d+(?:\.\d+)*)`)
)

var windowsVersions = map[string]string{
	"10.0": "10",
	"6.3":  "8.1",
	"6.2":  "8",
	"6.1":  "7",
}

// NewFingerprint derives a fingerprint from a request's user agent and IP.
func NewFingerprint(userAgent, ip string) models.DeviceFingerprint {
	device, browser, os := ParseUserAgent(userAgent)
	return models.DeviceFingerprint{
		DeviceName: device,
		Browser:    browser,
		OS:         os,
		IPAddress:  strings.TrimSpace(ip),
	}
}

// ParseUserAgent extracts a device name, browser and OS (with version when
// the agent exposes one). Unrecognised parts come back empty so the scorer
// skips them.
func ParseUserAgent(ua string) (device, browser, os string) {
	if strings.TrimSpace(ua) == "" {
		return "", "", ""
	}

	uaLower := strings.ToLower(ua)

	// Order matters: Edge and Opera also advertise Chrome, Chrome advertises Safari
	switch {
	case strings.Contains(uaLower, "firefox") || strings.Contains(uaLower, "fxios"):
		browser = "Firefox"
	case strings.Contains(uaLower, "edg"):
		browser = "Edge"
	case strings.Contains(uaLower, "opr") || strings.Contains(uaLower, "opera"):
		browser = "Opera"
	case strings.Contains(uaLower, "samsungbrowser"):
		browser = "Samsung Internet"
	case strings.Contains(uaLower, "chrome") || strings.Contains(uaLower, "chromium") || strings.Contains(uaLower, "crios"):
		browser = "Chrome"
	case strings.Contains(uaLower, "safari"):
		browser = "Safari"
	}

	switch {
	case strings.Contains(uaLower, "iphone"):
		device = "iPhone"
		os = withVersion("iOS", iOSRe, uaLower, "_")
	case strings.Contains(uaLower, "ipad"):
		device = "iPad"
		os = withVersion("iPadOS", iOSRe, uaLower, "_")
	case strings.Contains(uaLower, "android"):
		device = "Android Tablet"
		if strings.Contains(uaLower, "mobile") {
			device = "Android Phone"
		}
		os = withVersion("Android", androidRe, uaLower, "")
	case strings.Contains(uaLower, "windows"):
		device = "Windows PC"
		os = "Windows"
		if m := windowsNTRe.FindStringSubmatch(uaLower); m != nil {
			if v, ok := windowsVersions[m[1]]; ok {
				os = "Windows " + v
			}
		}
	case strings.Contains(uaLower, "macintosh") || strings.Contains(uaLower, "mac os"):
		device = "Mac"
		os = withVersion("macOS", macOSRe, uaLower, "_")
	case strings.Contains(uaLower, "cros"):
		device = "Chromebook"
		os = "ChromeOS"
	case strings.Contains(uaLower, "linux"):
		device = "Linux PC"
		os = "Linux"
	}

	return device, browser, os
}

func withVersion(name string, re *regexp.Regexp, uaLower, sep string) string {
	m := re.FindStringSubmatch(uaLower)
	if m == nil {
		return name
	}
	version := m[1]
	if sep != "" {
		version = strings.ReplaceAll(version, sep, ".")
	}
	return name + " " + version
}
