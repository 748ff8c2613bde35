package sanitize

import (
	"strings"
	"unicode/utf8"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 128

	passwordSymbols = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`
)

var commonPasswords = []string{
	"password",
	"12345678",
	"qwerty",
	"admin",
	"letmein",
	"welcome",
	"monkey",
	"abc123",
}

// PasswordResult lists every rule a password breaks.
type PasswordResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidatePasswordStrength checks all rules and reports all failures at once.
func ValidatePasswordStrength(password string) PasswordResult {
	errs := make([]string, 0, 4)

	length := utf8.RuneCountInString(password)
	if length < MinPasswordLength {
		errs = append(errs, "Password must be at least 8 characters long")
	}
	if length > MaxPasswordLength {
		errs = append(errs, "Password must be at most 128 characters long")
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(passwordSymbols, r):
			hasSymbol = true
		}
	}
	if !hasLower {
		errs = append(errs, "Password must contain at least one lowercase letter")
	}
	if !hasUpper {
		errs = append(errs, "Password must contain at least one uppercase letter")
	}
	if !hasDigit {
		errs = append(errs, "Password must contain at least one number")
	}
	if !hasSymbol {
		errs = append(errs, "Password must contain at least one special character")
	}

	lower := strings.ToLower(password)
	for _, weak := range commonPasswords {
		if strings.Contains(lower, weak) {
			errs = append(errs, "Password is too common or contains a common pattern")
			break
		}
	}

	return PasswordResult{Valid: len(errs) == 0, Errors: errs}
}
