package video

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
)

func newTestGrsai(url string) *Grsai {
	return NewGrsai(GrsaiOptions{APIKey: "sk-test", BaseURL: url, PollInterval: time.Millisecond, MaxWait: time.Second})
}

func TestGrsaiSubmitsAndPolls(t *testing.T) {
	var polls atomic.Int32
	var submitted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/video/veo":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
			_, _ = w.Write([]byte(`{"code":0,"data":{"id":"task-1"}}`))
		case "/v1/draw/result":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "task-1", body["id"])
			if polls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"code":0,"data":{"id":"task-1","status":"running","progress":40}}`))
				return
			}
			_, _ = w.Write([]byte(`{"code":0,"data":{"id":"task-1","status":"succeeded","results":[{"url":"https://cdn.grsai/v.mp4"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	asset, err := newTestGrsai(srv.URL).Generate(context.Background(), Request{
		Prompt: " a fox in snow ", Model: domain.ModelVeoFlash, AspectRatio: "9:16", Duration: "10", ReferenceURL: "https://img/ref.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.grsai/v.mp4", asset.URL)
	assert.Equal(t, int32(3), polls.Load())
	assert.Equal(t, "veo3-fast", submitted["model"])
	assert.Equal(t, "a fox in snow", submitted["prompt"])
	assert.Equal(t, "9:16", submitted["aspectRatio"])
	assert.Equal(t, float64(10), submitted["duration"])
	assert.Equal(t, "https://img/ref.png", submitted["url"])
}

func TestGrsaiReportsProviderFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/video/sora-video":
			_, _ = w.Write([]byte(`{"code":0,"data":{"id":"task-2"}}`))
		default:
			_, _ = w.Write([]byte(`{"code":0,"data":{"id":"task-2","status":"failed","failure_reason":"content policy"}}`))
		}
	}))
	defer srv.Close()

	_, err := newTestGrsai(srv.URL).Generate(context.Background(), Request{Prompt: "x", Model: domain.ModelSora2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProviderFailure))
	assert.Contains(t, err.Error(), "content policy")
}

func TestGrsaiEnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":-1,"msg":"insufficient balance"}`))
	}))
	defer srv.Close()

	_, err := newTestGrsai(srv.URL).Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, domain.ErrProviderFailure)
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestGrsaiTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/draw/result" {
			_, _ = w.Write([]byte(`{"code":0,"data":{"status":"running"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"id":"task-3"}}`))
	}))
	defer srv.Close()

	g := NewGrsai(GrsaiOptions{APIKey: "k", BaseURL: srv.URL, PollInterval: time.Millisecond, MaxWait: 20 * time.Millisecond})
	_, err := g.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, domain.ErrProviderFailure)
}

func TestGrsaiRequiresKey(t *testing.T) {
	_, err := NewGrsai(GrsaiOptions{}).Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestSynthetic(t *testing.T) {
	asset, err := NewSynthetic(0).Generate(context.Background(), Request{Model: "sora-2", RequestID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/videos/sora-2/t-1.mp4", asset.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSynthetic(time.Hour).Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
