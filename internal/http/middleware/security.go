// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, the hardening middleware for the JSON
// API. Every response gets the baseline headers; API responses also get a
// deny-all Content-Security-Policy, which is skipped under DocsPrefix because
// the Swagger UI is an HTML page with its own scripts and styles.
//
// The headers clients need to read from a browser (request id, replay flag,
// Retry-After, ETag) are added to Access-Control-Expose-Headers.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// apiCSP forbids every resource type; JSON needs none.
const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// exposedHeaders are made readable to browser clients.
var exposedHeaders = []string{"X-Request-ID", "Idempotency-Replayed", "Retry-After", "ETag"}

// SecurityOptions configures SecurityHeaders.
//
// EnableHSTS emits Strict-Transport-Security for HTTPS requests only. Enable
// it only when traffic is HTTPS end-to-end. HSTSMaxAge defaults to 180 days.
//
// NoStore adds Cache-Control: no-store (plus legacy Pragma/Expires).
//
// EnablePolicy adds Permissions-Policy and X-Permitted-Cross-Domain-Policies.
//
// DocsPrefix is the path prefix of the HTML docs (e.g. "/swagger/"), exempt
// from the API Content-Security-Policy. Empty means no exemption.
type SecurityOptions struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration
	NoStore      bool
	EnablePolicy bool
	DocsPrefix   string
}

// SecurityHeaders returns a Gin middleware that adds the security headers
// described in SecurityOptions.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		if opt.DocsPrefix == "" || !strings.HasPrefix(c.Request.URL.Path, opt.DocsPrefix) {
			h.Set("Content-Security-Policy", apiCSP)
		}

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		exposeHeaders(h, exposedHeaders)
		c.Next()
	}
}

// exposeHeaders appends names to Access-Control-Expose-Headers, skipping
// those already listed.
func exposeHeaders(h http.Header, names []string) {
	const hdr = "Access-Control-Expose-Headers"
	cur := h.Get(hdr)
	have := strings.ToLower(cur)
	parts := make([]string, 0, len(names)+1)
	if cur != "" {
		parts = append(parts, cur)
	}
	for _, n := range names {
		if !strings.Contains(have, strings.ToLower(n)) {
			parts = append(parts, n)
		}
	}
	h.Set(hdr, strings.Join(parts, ", "))
}

// isHTTPS reports whether the request used HTTPS, directly or through a
// reverse proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
