// Package middleware holds the HTTP-facing pieces of the security layer:
// client identification, rate limit enforcement and response headers.
package middleware

import "strings"

const UnknownClient = "unknown"

// HeaderGetter is the slice of http.Header the identifier needs.
type HeaderGetter interface {
	Get(key string) string
}

// ClientIdentifier picks the client address from proxy headers in order:
// the first X-Forwarded-For entry, X-Real-IP, CF-Connecting-IP. It returns
// "unknown" when none is present. The headers are trusted as sent, so this
// is only sound behind a proxy that overwrites them.
func ClientIdentifier(h HeaderGetter) string {
	if forwarded := h.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(h.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if cfIP := strings.TrimSpace(h.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}
	return UnknownClient
}
