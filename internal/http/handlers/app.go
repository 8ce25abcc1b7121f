package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/batch"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/middleware"
)

// maxBodyBytes bounds a submission body; 500 items with long prompts fit well under it.
const maxBodyBytes = 4 << 20

// BatchService is the intake pipeline the handlers drive.
type BatchService interface {
	SubmitConsumer(ctx context.Context, userID, requestID string, req *batch.ConsumerRequest) (*batch.ConsumerResult, error)
	SubmitEnterprise(ctx context.Context, sub batch.EnterpriseSubmission) (*batch.EnterpriseResult, error)
	Get(ctx context.Context, userID, batchID string) (*batch.Detail, error)
	ListRecent(ctx context.Context, userID string) ([]domain.BatchJob, error)
}

type App struct {
	Batches BatchService
	// Country resolves the caller's country for usage rows; nil disables lookups.
	Country middleware.CountryLookup
	Log     infra.Logger
}

func NewApp(batches BatchService, country middleware.CountryLookup, log infra.Logger) *App {
	return &App{Batches: batches, Country: country, Log: log}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	middleware.WriteJSON(w, code, v)
}

// error translates a service error into the API error body. Causes are logged, never returned.
func (a *App) error(w http.ResponseWriter, r *http.Request, err error) {
	var be *batch.Error
	if !errors.As(err, &be) {
		be = &batch.Error{Code: batch.CodeInternal, Status: http.StatusInternalServerError, Message: "internal error", Cause: err}
	}
	if be.Status >= http.StatusInternalServerError {
		a.Log.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("code", be.Code).
			Msg("batch request failed")
	}
	if be.RetryAfter > 0 {
		secs := int(be.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	body := middleware.NewErrorBody(r, be.Code, be.Message)
	body.Required = be.Required
	body.Available = be.Available
	a.json(w, be.Status, body)
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
