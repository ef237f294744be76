package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

// DeviceInfo is what payment audits keep about the client device
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // mobile, tablet, desktop, bot, unknown
	Platform   string `json:"platform"`    // android, ios, windows, mac, linux
	Browser    string `json:"browser"`
}

var tabletMarkers = []string{"ipad", "tablet", "kindle", "nexus 7", "nexus 9", "nexus 10", "sm-t"}

// ParseUserAgent extracts device information from a User-Agent header
func ParseUserAgent(userAgent string) DeviceInfo {
	if userAgent == "" || userAgent == "Unknown" {
		return DeviceInfo{DeviceType: "unknown", Platform: "unknown", Browser: "Unknown"}
	}

	parser := ua.New(userAgent)

	browser, _ := parser.Browser()
	if browser == "" {
		browser = "Unknown"
	}

	return DeviceInfo{
		DeviceType: deviceType(parser),
		Platform:   platform(parser),
		Browser:    browser,
	}
}

// DeviceType is a shortcut for ParseUserAgent(userAgent).DeviceType
func DeviceType(userAgent string) string {
	return ParseUserAgent(userAgent).DeviceType
}

func deviceType(parser *ua.UserAgent) string {
	if parser.Bot() {
		return "bot"
	}
	if !parser.Mobile() {
		lower := strings.ToLower(parser.UA())
		if strings.Contains(lower, "ipad") {
			return "tablet"
		}
		return "desktop"
	}

	lower := strings.ToLower(parser.UA())
	for _, marker := range tabletMarkers {
		if strings.Contains(lower, marker) {
			return "tablet"
		}
	}
	return "mobile"
}

func platform(parser *ua.UserAgent) string {
	name := strings.ToLower(parser.OSInfo().Name)

	switch {
	case strings.Contains(name, "android"):
		return "android"
	case strings.Contains(name, "ios"), strings.Contains(name, "iphone"):
		return "ios"
	case strings.Contains(name, "windows"):
		return "windows"
	case strings.Contains(name, "mac"):
		return "mac"
	case strings.Contains(name, "chrome os"):
		return "chromeos"
	case strings.Contains(name, "linux"), strings.Contains(name, "ubuntu"):
		return "linux"
	}
	return "unknown"
}
