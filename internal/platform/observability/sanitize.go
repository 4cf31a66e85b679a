package observability

import (
	"strings"
	"unicode"
)

const (
	defaultStringLimit = 256
	resourceIDLimit    = 64
	freeTextLimit      = 512
)

// sanitizeString drops control characters and caps the rune count so values cannot forge log lines.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	var b strings.Builder
	b.Grow(min(len(value), limit))
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute cleans the chi route pattern or raw path logged for a request.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod cleans an HTTP method.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID caps caller identifiers (uids, service account emails).
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, resourceIDLimit)
}

// SanitizeResourceID normalises payment, refund, invoice and gateway event ids. These arrive from request
// bodies and gateway payloads, so anything outside the id alphabet is replaced with '?'.
func SanitizeResourceID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	var b strings.Builder
	n := 0
	for _, r := range id {
		if n == resourceIDLimit {
			break
		}
		if isIDRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('?')
		}
		n++
	}
	return b.String()
}

func isIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-' || r == '.' || r == ':':
		return true
	}
	return false
}

// sanitizeEventField cleans one service event field. Keys ending in "ID"/"Id" are identifiers; other
// strings are free text such as failure reasons and gateway messages.
func sanitizeEventField(key string, value any) any {
	s, ok := value.(string)
	if !ok {
		if err, isErr := value.(error); isErr && err != nil {
			s = err.Error()
		} else {
			return value
		}
	}
	if strings.HasSuffix(key, "ID") || strings.HasSuffix(key, "Id") {
		return SanitizeResourceID(s)
	}
	return sanitizeString(s, freeTextLimit)
}
