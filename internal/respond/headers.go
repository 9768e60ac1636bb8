package respond

import (
	"net/http"
	"strings"
)

// sensitiveHeaders never leave the edge toward an origin.
var sensitiveHeaders = []string{
	"X-Api-Key",
	"Proxy-Authorization",
	"X-Tenant-Id",
	"X-Edge-Tenant",
	"X-Edge-Cache",
	"X-Origin-Status",
	"X-Real-Ip",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"Forwarded",
}

// internalPrefixes cover routing and identity headers set by the platform.
var internalPrefixes = []string{"X-Internal-", "X-Edge-"}

// fallbackHeaders are the only inbound headers reused when fetching the
// original page on a crawler's behalf.
var fallbackHeaders = []string{"Accept-Language", "Accept-Charset"}

// StripSensitive removes edge credentials and internal headers from h in
// place. extra names additional headers, such as a custom credential
// header.
func StripSensitive(h http.Header, extra ...string) {
	for _, name := range sensitiveHeaders {
		h.Del(name)
	}
	for _, name := range extra {
		if name != "" {
			h.Del(name)
		}
	}
	for name := range h {
		canonical := http.CanonicalHeaderKey(name)
		for _, prefix := range internalPrefixes {
			if strings.HasPrefix(canonical, prefix) {
				delete(h, name)
				break
			}
		}
	}
}

// SafeFallbackHeaders copies the language preferences from src.
func SafeFallbackHeaders(src http.Header) http.Header {
	out := http.Header{}
	for _, name := range fallbackHeaders {
		if v := src.Values(name); len(v) > 0 {
			out[http.CanonicalHeaderKey(name)] = append([]string(nil), v...)
		}
	}
	return out
}
