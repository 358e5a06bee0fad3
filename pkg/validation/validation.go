// Package validation holds the stateless input checks shared by the handlers
// and services. None of the functions here touch storage.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MinPasswordLength    = 8
	MinDisplayNameLength = 2
	MaxDisplayNameLength = 50
	MaxMessageLength     = 500
	InvitationCodeLength = 8
)

var (
	emailPattern          = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	invitationCodePattern = regexp.MustCompile(`^[A-Z0-9]{8}$`)
	displayNamePattern    = regexp.MustCompile(`^[a-zA-Z0-9\s._-]+$`)
	scriptBlockPattern    = regexp.MustCompile(`(?i)<script[^>]*>[\s\S]*?</script>`)
	unsafeCharPattern     = regexp.MustCompile(`[<>'"]`)

	lowerPattern   = regexp.MustCompile(`[a-z]`)
	upperPattern   = regexp.MustCompile(`[A-Z]`)
	digitPattern   = regexp.MustCompile(`\d`)
	specialPattern = regexp.MustCompile(`[@$!%*?&]`)
)

// Result is the outcome of a check that can fail for several reasons at once.
type Result struct {
	Valid  bool     `json:"isValid"`
	Errors []string `json:"errors"`
}

func result(errs []string) Result {
	if errs == nil {
		errs = []string{}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// IsValidEmail checks s against a permissive address pattern.
func IsValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// ValidatePassword reports every rule the password breaks, not just the first.
func ValidatePassword(p string) Result {
	var errs []string
	if len(p) < MinPasswordLength {
		errs = append(errs, "Password must be at least 8 characters long")
	}
	if !lowerPattern.MatchString(p) {
		errs = append(errs, "Password must contain at least one lowercase letter")
	}
	if !upperPattern.MatchString(p) {
		errs = append(errs, "Password must contain at least one uppercase letter")
	}
	if !digitPattern.MatchString(p) {
		errs = append(errs, "Password must contain at least one number")
	}
	if !specialPattern.MatchString(p) {
		errs = append(errs, "Password must contain at least one special character (@$!%*?&)")
	}
	return result(errs)
}

// IsValidInvitationCode checks the 8-character uppercase alphanumeric shape.
func IsValidInvitationCode(code string) bool {
	return invitationCodePattern.MatchString(code)
}

// IsValidRole is a case-insensitive membership test on the known roles.
func IsValidRole(role string) bool {
	switch strings.ToUpper(role) {
	case "DOM", "SUB", "OBSERVER", "ADMIN":
		return true
	default:
		return false
	}
}

// SanitizeInput drops script blocks, then the characters < > ' ", then trims.
// It is not an HTML sanitizer: "<b>x</b>" becomes "bx/b".
func SanitizeInput(s string) string {
	s = scriptBlockPattern.ReplaceAllString(s, "")
	s = unsafeCharPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ValidateDisplayName checks length (2..50 after trimming) and charset.
func ValidateDisplayName(name string) Result {
	var errs []string
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < MinDisplayNameLength {
		errs = append(errs, "Display name must be at least 2 characters long")
	}
	if n > MaxDisplayNameLength {
		errs = append(errs, "Display name must be less than 50 characters")
	}
	if n > 0 && !displayNamePattern.MatchString(name) {
		errs = append(errs, "Display name can only contain letters, numbers, spaces, dots, underscores and hyphens")
	}
	return result(errs)
}

// ValidateMessage caps the length and rejects two literal markers.
func ValidateMessage(msg string) Result {
	var errs []string
	if utf8.RuneCountInString(msg) > MaxMessageLength {
		errs = append(errs, "Message must be less than 500 characters")
	}
	if strings.Contains(msg, "<script>") || strings.Contains(msg, "javascript:") {
		errs = append(errs, "Message contains invalid content")
	}
	return result(errs)
}
