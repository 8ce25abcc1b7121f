package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// RequireOrigin blocks cross-site writes from consumer sessions. API-key
// callers and safe methods pass through. A request without Origin or Referer
// is allowed only when its session came from a header, which a browser cannot
// attach cross-site.
func RequireOrigin(allowed []string) func(http.Handler) http.Handler {
	allow := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		allow[strings.TrimRight(strings.ToLower(origin), "/")] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil || p.Mode != ModeConsumer || safeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			origin := requestOrigin(r)
			if origin == "" {
				if p.ViaCookie {
					WriteError(w, r, http.StatusForbidden, CodeForbiddenOrigin, "missing request origin")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allow[origin]; !ok {
				WriteError(w, r, http.StatusForbidden, CodeForbiddenOrigin, "origin not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

// requestOrigin returns the lower-cased scheme://host of Origin, or of Referer when Origin is absent.
func requestOrigin(r *http.Request) string {
	if o := strings.TrimSpace(r.Header.Get("Origin")); o != "" && o != "null" {
		return strings.TrimRight(strings.ToLower(o), "/")
	}
	ref := strings.TrimSpace(r.Header.Get("Referer"))
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
