package handlers

import (
	"net/http"
	"strings"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/batch"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/middleware"
)

type consumerResponse struct {
	*batch.ConsumerResult
	Mode      middleware.Mode `json:"mode"`
	RequestID string          `json:"request_id"`
}

type enterpriseResponse struct {
	*batch.EnterpriseResult
	Mode      middleware.Mode `json:"mode"`
	RequestID string          `json:"request_id"`
}

type detailResponse struct {
	OK bool `json:"ok"`
	*batch.Detail
	Mode      middleware.Mode `json:"mode"`
	RequestID string          `json:"request_id"`
}

type listResponse struct {
	OK        bool              `json:"ok"`
	Batches   []domain.BatchJob `json:"batches"`
	Mode      middleware.Mode   `json:"mode"`
	RequestID string            `json:"request_id"`
}

// SubmitBatch accepts a batch from either auth path. The principal decides the pipeline.
func (a *App) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	if p == nil {
		middleware.WriteError(w, r, http.StatusUnauthorized, middleware.CodeUnauthorized, "authentication required")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	requestID := middleware.RequestIDFromContext(r.Context())

	if p.Mode == middleware.ModeEnterprise {
		res, err := a.Batches.SubmitEnterprise(r.Context(), batch.EnterpriseSubmission{
			Key:       p.APIKey,
			RequestID: middleware.IdempotencyKey(r),
			Endpoint:  r.URL.Path,
			IP:        middleware.ClientIP(r),
			UserAgent: r.UserAgent(),
			Country:   middleware.ResolveCountry(r, a.Country),
			Body:      r.Body,
		})
		if err != nil {
			a.error(w, r, err)
			return
		}
		a.json(w, http.StatusOK, enterpriseResponse{EnterpriseResult: res, Mode: p.Mode, RequestID: requestID})
		return
	}

	req, err := batch.DecodeConsumer(r.Body)
	if err != nil {
		a.error(w, r, err)
		return
	}
	res, err := a.Batches.SubmitConsumer(r.Context(), p.UserID, requestID, req)
	if err != nil {
		a.error(w, r, err)
		return
	}
	a.json(w, http.StatusOK, consumerResponse{ConsumerResult: res, Mode: p.Mode, RequestID: requestID})
}

// GetBatch returns one batch with its tasks when batch_id is given, otherwise the recent list.
func (a *App) GetBatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		middleware.WriteError(w, r, http.StatusUnauthorized, middleware.CodeUnauthorized, "authentication required")
		return
	}
	mode := middleware.RequestMode(r)
	requestID := middleware.RequestIDFromContext(r.Context())

	batchID := strings.TrimSpace(r.URL.Query().Get("batch_id"))
	if batchID == "" {
		list, err := a.Batches.ListRecent(r.Context(), userID)
		if err != nil {
			a.error(w, r, err)
			return
		}
		a.json(w, http.StatusOK, listResponse{OK: true, Batches: list, Mode: mode, RequestID: requestID})
		return
	}

	detail, err := a.Batches.Get(r.Context(), userID, batchID)
	if err != nil {
		a.error(w, r, err)
		return
	}
	a.json(w, http.StatusOK, detailResponse{OK: true, Detail: detail, Mode: mode, RequestID: requestID})
}
