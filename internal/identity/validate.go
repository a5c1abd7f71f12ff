// Package identity validates, stores and scrubs session identifiers.
package identity

import (
	"regexp"
	"strings"
)

var (
	validID = regexp.MustCompile(`^[A-Za-z0-9._-]{3,100}$`)

	emailPattern = regexp.MustCompile(`([A-Za-z0-9._%+\-]+)@([A-Za-z0-9.\-]+\.[A-Za-z]{2,})`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

const ssnMask = "***-**-****"

// Validate reports whether id is an acceptable session or registered user
// identifier.
func Validate(id string) bool {
	return validID.MatchString(id)
}

// Scrub masks email local parts and SSN-shaped substrings in s. Email local
// parts keep their first character. Strings with neither pass through
// unchanged.
func Scrub(s string) string {
	if s == "" {
		return s
	}
	s = emailPattern.ReplaceAllStringFunc(s, maskEmail)
	return ssnPattern.ReplaceAllString(s, ssnMask)
}

func maskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	local, domain := email[:at], email[at:]
	if len(local) <= 1 {
		return email
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + domain
}
