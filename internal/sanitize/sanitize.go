// Package sanitize cleans and checks untrusted input before it reaches
// business logic or storage.
//
// Every function here is pure and never panics on malformed input: garbage in
// yields an empty string, false, or a zeroed value. Rejecting a request is the
// caller's decision, made with an explicit IsValidX branch.
package sanitize

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxStringLength   = 10000
	MaxEmailLength    = 255
	MaxFileNameLength = 255
)

var (
	javascriptScheme = regexp.MustCompile(`(?i)javascript:`)
	eventHandlerAttr = regexp.MustCompile(`(?i)on\w+=`)
	emailPattern     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	indianMobile     = regexp.MustCompile(`^(\+?91|0)?[6-9]\d{9}$`)
	unsafeFileChars  = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// String trims s, removes angle brackets, javascript: schemes and inline
// event handler attributes, then caps the result at MaxStringLength runes.
// Anything that is not a string becomes "".
func String(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}

	// Stripping can splice a new pattern together ("javajavascript:script:"),
	// so repeat until nothing changes.
	for {
		next := stripMarkup(s)
		if next == s {
			break
		}
		s = next
	}

	s = strings.TrimSpace(s)
	s = truncate(s, MaxStringLength)
	return strings.TrimSpace(s)
}

func stripMarkup(s string) string {
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	s = javascriptScheme.ReplaceAllString(s, "")
	return eventHandlerAttr.ReplaceAllString(s, "")
}

// Email lower-cases and trims an address. It does not check the format.
func Email(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return truncate(strings.ToLower(strings.TrimSpace(s)), MaxEmailLength)
}

func IsValidEmail(s string) bool {
	if s == "" || len(s) > MaxEmailLength {
		return false
	}
	return emailPattern.MatchString(s)
}

// Phone removes spaces, dashes and plus signs.
func Phone(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.NewReplacer(" ", "", "-", "", "+", "").Replace(strings.TrimSpace(s))
}

// IsValidPhone accepts Indian mobile numbers with an optional +91, 91 or 0
// prefix. Spaces and dashes are ignored.
func IsValidPhone(s string) bool {
	cleaned := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(s))
	if len(cleaned) < 10 || len(cleaned) > 13 {
		return false
	}
	return indianMobile.MatchString(cleaned)
}

// FileName maps a user supplied name onto [A-Za-z0-9._-], removes every ".."
// and leading dots, and caps it at MaxFileNameLength. The result may be empty.
func FileName(name string) string {
	s := unsafeFileChars.ReplaceAllString(name, "_")
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", "")
	}
	s = strings.TrimLeft(s, ".")
	return truncate(s, MaxFileNameLength)
}

// IsValidFileType reports whether name ends with one of the allowed
// extensions, ignoring case. An empty allow-list accepts nothing.
func IsValidFileType(name string, allowed []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range allowed {
		if ext == "" {
			continue
		}
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// IsValidURL accepts absolute http(s) URLs. When allowedDomains is non-empty
// the host must equal one of them or be a subdomain of one.
func IsValidURL(raw string, allowedDomains ...string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if len(allowedDomains) == 0 {
		return true
	}
	for _, domain := range allowedDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// ContainsSuspicious flags raw input that carried markup, template or query
// operator characters. Used for logging, not for rejection.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range []string{"<", ">", "$", "{", "}", "script", "onerror", "onload", "javascript:", "../"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
