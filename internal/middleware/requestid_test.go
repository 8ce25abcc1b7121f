package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderRequestID, "client-req-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "client-req-7", seen)
	assert.Equal(t, "client-req-7", rec.Header().Get(HeaderRequestID))

	for _, bad := range []string{"", "has space", strings.Repeat("a", 129)} {
		req = httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(HeaderRequestID, bad)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		_, err := ulid.ParseStrict(seen)
		assert.NoError(t, err, "generated id for %q", bad)
		assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
	}
}

func TestIdempotencyKey(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(IdempotencyKey(r)))
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderRequestID, "rid-1")
	req.Header.Set("Idempotency-Key", "idem-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "idem-1", rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderRequestID, "rid-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "rid-1", rec.Body.String())
}
