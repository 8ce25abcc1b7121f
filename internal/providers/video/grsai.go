package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("grsai: api key is required")

// GrsaiOptions configures the Grsai client.
type GrsaiOptions struct {
	APIKey       string
	BaseURL      string
	HTTPClient   *http.Client
	Logger       *infra.Logger
	PollInterval time.Duration
	// MaxWait bounds how long one video may render before it is failed.
	MaxWait time.Duration
}

// Grsai renders videos through the Grsai async API: submit, then poll the draw result.
type Grsai struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	logger       *infra.Logger
	pollInterval time.Duration
	maxWait      time.Duration
}

type grsaiSubmit struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	URL          string `json:"url,omitempty"`
	AspectRatio  string `json:"aspectRatio,omitempty"`
	Duration     int    `json:"duration,omitempty"`
	WebHook      string `json:"webHook"`
	ShutProgress bool   `json:"shutProgress"`
}

type grsaiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type grsaiTask struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	FailureReason string `json:"failure_reason"`
	Error         string `json:"error"`
	Results       []struct {
		URL string `json:"url"`
	} `json:"results"`
	URL string `json:"url"`
}

func NewGrsai(opts GrsaiOptions) *Grsai {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.grsai.com"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = 15 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		l := zerolog.New(io.Discard)
		logger = &l
	}
	return &Grsai{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		httpClient:   httpClient,
		logger:       logger,
		pollInterval: poll,
		maxWait:      maxWait,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (g *Grsai) HasCredentials() bool {
	return g.apiKey != ""
}

func (g *Grsai) Generate(ctx context.Context, req Request) (*Asset, error) {
	if !g.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	endpoint, model := route(req.Model)
	payload := grsaiSubmit{
		Model:        model,
		Prompt:       strings.TrimSpace(req.Prompt),
		URL:          req.ReferenceURL,
		AspectRatio:  req.AspectRatio,
		WebHook:      "-1",
		ShutProgress: true,
	}
	if d, err := strconv.Atoi(req.Duration); err == nil {
		payload.Duration = d
	}

	var submitted grsaiTask
	if err := g.call(ctx, endpoint, payload, &submitted); err != nil {
		return nil, err
	}
	if submitted.ID == "" {
		return nil, fmt.Errorf("%w: grsai returned no task id", domain.ErrProviderFailure)
	}
	g.logger.Debug().Str("task_id", submitted.ID).Str("model", model).Str("request_id", req.RequestID).Msg("grsai: submitted")

	ctx, cancel := context.WithTimeout(ctx, g.maxWait)
	defer cancel()
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: grsai task %s: %v", domain.ErrProviderFailure, submitted.ID, ctx.Err())
		case <-ticker.C:
		}
		var task grsaiTask
		if err := g.call(ctx, "/v1/draw/result", map[string]string{"id": submitted.ID}, &task); err != nil {
			if errors.Is(err, domain.ErrProviderFailure) {
				return nil, err
			}
			// Transport errors while polling are retried on the next tick.
			g.logger.Warn().Err(err).Str("task_id", submitted.ID).Msg("grsai: poll")
			continue
		}
		switch strings.ToLower(task.Status) {
		case "succeeded", "success":
			url := task.URL
			if len(task.Results) > 0 && task.Results[0].URL != "" {
				url = task.Results[0].URL
			}
			if url == "" {
				return nil, fmt.Errorf("%w: grsai task %s finished without a url", domain.ErrProviderFailure, submitted.ID)
			}
			return &Asset{URL: url, Format: "video/mp4"}, nil
		case "failed", "error":
			reason := task.FailureReason
			if reason == "" {
				reason = task.Error
			}
			if reason == "" {
				reason = "generation failed"
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrProviderFailure, reason)
		}
	}
}

// route maps an intake model name to the Grsai endpoint and model id.
func route(model string) (string, string) {
	switch model {
	case domain.ModelVeoFlash:
		return "/v1/video/veo", "veo3-fast"
	case domain.ModelVeoPro:
		return "/v1/video/veo", "veo3-pro"
	default:
		return "/v1/video/sora-video", "sora-2"
	}
}

// call posts body to path and decodes the envelope's data into out. A non-zero
// envelope code is a provider failure; HTTP and decoding errors are not.
func (g *Grsai) call(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("grsai: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("grsai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("grsai: http request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("grsai: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("grsai: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: grsai status %d: %s", domain.ErrProviderFailure, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var env grsaiEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("grsai: decode response: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("%w: grsai: %s (%d)", domain.ErrProviderFailure, env.Msg, env.Code)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("grsai: decode data: %w", err)
	}
	return nil
}

var _ Generator = (*Grsai)(nil)
