package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders applies the standard security headers for
// authorization endpoints: no framing, no sniffing, no caching of
// token material, and HSTS when the issuer is served over HTTPS.
func SetSecurityHeaders(w http.ResponseWriter, issuerURL string) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(issuerURL); err == nil && parsed.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Token and code responses must never land in shared caches.
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
