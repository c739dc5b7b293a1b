package security

import (
	"net/http"
)

// SetSecurityHeaders sets the security headers every OAuth endpoint response carries.
// hsts should be true only when the server is reached over HTTPS.
func SetSecurityHeaders(h http.Header, hsts bool) {
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")
	if hsts {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// SetNoStore marks a response as uncacheable (RFC 6749 §5.1).
func SetNoStore(h http.Header) {
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}

// SecurityHeadersMiddleware applies SetSecurityHeaders before calling next.
func SecurityHeadersMiddleware(hsts bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			SetSecurityHeaders(w.Header(), hsts)
			next.ServeHTTP(w, r)
		})
	}
}
