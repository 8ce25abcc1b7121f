package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit caps consumer requests per client IP. Requests presenting an API
// key are limited per key by the intake guard once authenticated, so they only
// count against the IP budget when authentication fails; an IP that exhausted
// its budget is refused before the key is looked up.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	onLimited := func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get("Retry-After") == "" {
			w.Header().Set("Retry-After", strconv.Itoa(int(per.Seconds())))
		}
		WriteError(w, r, http.StatusTooManyRequests, CodeRateLimitExceeded, "too many requests, retry later")
	}
	limiter := httprate.NewRateLimiter(
		limit,
		per,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return clientIPForRateLimit(r), nil
		}),
		httprate.WithLimitHandler(onLimited),
	)
	return func(next http.Handler) http.Handler {
		limited := limiter.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := apiKeyFromRequest(r); !ok {
				limited.ServeHTTP(w, r)
				return
			}
			ip := clientIPForRateLimit(r)
			if _, rate, err := limiter.Status(ip); err == nil && rate >= float64(limit) {
				onLimited(w, r)
				return
			}
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			if rw.status == http.StatusUnauthorized || rw.status == http.StatusForbidden {
				limiter.OnLimit(discardHeaders{}, r, ip)
			}
		})
	}
}

// discardHeaders absorbs the limiter's headers once the response is already written.
type discardHeaders struct{}

func (discardHeaders) Header() http.Header         { return http.Header{} }
func (discardHeaders) Write(b []byte) (int, error) { return len(b), nil }
func (discardHeaders) WriteHeader(int)             {}

func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
