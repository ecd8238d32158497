package service

import "strings"

// MaskEmail hides most of the local part: "alice@example.com" becomes
// "a***e@example.com". Short local parts keep only their first rune.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}

	runes := []rune(local)
	switch {
	case len(runes) <= 2:
		return string(runes[0]) + "***@" + domain
	default:
		return string(runes[0]) + "***" + string(runes[len(runes)-1]) + "@" + domain
	}
}
