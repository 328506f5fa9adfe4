// Package cors answers cross-origin requests from an allow-list of exact
// origins. Credentials are always allowed so the browser sends cookies.
package cors

import (
	"net/http"
	"slices"
	"strings"
)

type Policy struct {
	allowedOrigins []string
	fallback       string
	methods        string
	headers        string
}

// NewPolicy returns a policy that echoes allowed origins and answers every
// other origin with fallback.
func NewPolicy(allowedOrigins []string, fallback string, methods ...string) *Policy {
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodOptions}
	}

	return &Policy{
		allowedOrigins: allowedOrigins,
		fallback:       strings.TrimSuffix(fallback, "/"),
		methods:        strings.Join(methods, ", "),
		headers:        "Content-Type",
	}
}

// AllowedOrigin returns the value of Access-Control-Allow-Origin for the
// given request origin.
func (p *Policy) AllowedOrigin(origin string) string {
	if origin != "" && slices.Contains(p.allowedOrigins, origin) {
		return origin
	}

	return p.fallback
}

// Middleware sets the CORS headers and answers preflight requests itself.
func (p *Policy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Add("Vary", "Origin")
		if allowed := p.AllowedOrigin(r.Header.Get("Origin")); allowed != "" {
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", p.methods)
			h.Set("Access-Control-Allow-Headers", p.headers)
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
