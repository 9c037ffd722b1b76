package attribution

import "strings"

// DeviceTypeFromUserAgent classifies a user agent into mobile, tablet
// or desktop. An empty user agent yields "unknown".
func DeviceTypeFromUserAgent(userAgent string) string {
	if userAgent == "" {
		return "unknown"
	}
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "tablet"), strings.Contains(ua, "ipad"):
		return "tablet"
	case strings.Contains(ua, "iphone"):
		return "mobile"
	case strings.Contains(ua, "android"):
		if strings.Contains(ua, "mobile") {
			return "mobile"
		}
		return "tablet"
	case strings.Contains(ua, "mobile"):
		return "mobile"
	default:
		return "desktop"
	}
}
