package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/batch"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/http/handlers"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/middleware"
)

const testSecret = "router-test-secret"

type stubBatches struct{ userID string }

func (s *stubBatches) SubmitConsumer(ctx context.Context, userID, requestID string, req *batch.ConsumerRequest) (*batch.ConsumerResult, error) {
	s.userID = userID
	return &batch.ConsumerResult{OK: true, BatchID: "b-1", TotalCount: len(req.Prompts)}, nil
}

func (s *stubBatches) SubmitEnterprise(ctx context.Context, sub batch.EnterpriseSubmission) (*batch.EnterpriseResult, error) {
	return nil, domain.ErrNotFound
}

func (s *stubBatches) Get(ctx context.Context, userID, batchID string) (*batch.Detail, error) {
	return nil, domain.ErrNotFound
}

func (s *stubBatches) ListRecent(ctx context.Context, userID string) ([]domain.BatchJob, error) {
	return nil, nil
}

type noKeys struct{ lookups *int }

func (k noKeys) FindByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	if k.lookups != nil {
		*k.lookups++
	}
	return nil, domain.ErrNotFound
}

func (noKeys) TouchLastUsed(ctx context.Context, id string) error { return nil }

func newTestRouter(batches handlers.BatchService) http.Handler {
	return newLimitedRouter(batches, noKeys{}, 100)
}

func newLimitedRouter(batches handlers.BatchService, keys middleware.KeyStore, perMin int) http.Handler {
	log := zerolog.Nop()
	return NewRouter(Deps{
		App:  handlers.NewApp(batches, nil, log),
		Keys: keys,
		Stripe: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		Logger:          log,
		JWTSecret:       testSecret,
		AllowedOrigins:  []string{"https://app.example.com"},
		RateLimitPerMin: perMin,
	})
}

func TestHealthAndOperationalRoutes(t *testing.T) {
	h := newTestRouter(&stubBatches{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "# metrics", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBatchRouteRequiresAuth(t *testing.T) {
	h := newTestRouter(&stubBatches{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/video/batch", strings.NewReader(`{"prompts":["a cat on a bike"]}`)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body middleware.ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, middleware.CodeUnauthorized, body.Error)
	assert.Equal(t, middleware.ModeConsumer, body.Mode)
	assert.NotEmpty(t, body.RequestID)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/video/batch", strings.NewReader(`{"items":[{"prompt":"x"}]}`))
	req.Header.Set("X-API-Key", "vbk_unknown")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, middleware.ModeEnterprise, body.Mode)
}

func TestBatchRouteConsumerSubmit(t *testing.T) {
	stub := &stubBatches{}
	h := newTestRouter(stub)
	token, err := middleware.SignSession(testSecret, "user-1", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/video/batch", strings.NewReader(`{"prompts":["a cat on a bike"]}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "user-1", stub.userID)
	assert.Contains(t, rec.Body.String(), `"batch_id":"b-1"`)
}

func TestBatchRouteRejectsCrossSiteCookie(t *testing.T) {
	h := newTestRouter(&stubBatches{})
	token, err := middleware.SignSession(testSecret, "user-1", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/video/batch", strings.NewReader(`{"prompts":["a cat on a bike"]}`))
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: token})
	req.Header.Set("Origin", "https://evil.example.net")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), middleware.CodeForbiddenOrigin)
}

func TestBatchRouteThrottlesKeyGuessing(t *testing.T) {
	lookups := 0
	h := newLimitedRouter(&stubBatches{}, noKeys{lookups: &lookups}, 2)

	codes := map[int]int{}
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/video/batch", strings.NewReader(`{"items":[{"prompt":"x"}]}`))
		req.RemoteAddr = "203.0.113.9:4000"
		req.Header.Set("X-API-Key", fmt.Sprintf("vbk_guess_%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[rec.Code]++
	}

	assert.Equal(t, 2, codes[http.StatusUnauthorized])
	assert.Equal(t, 48, codes[http.StatusTooManyRequests])
	assert.Equal(t, 2, lookups)
}
