package util

import (
	"strings"
)

// NormalizeIdentifier trims whitespace and lowercases email-like identifiers
// so that "A@x.com " and "a@x.com" share one OTP record.
func NormalizeIdentifier(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "@") {
		s = strings.ToLower(s)
	}
	return s
}

// ContainsSuspicious reports markup or template characters that never appear
// in a legitimate identifier.
func ContainsSuspicious(s string) bool {
	return strings.ContainsAny(s, "<>${}\r\n\x00")
}
