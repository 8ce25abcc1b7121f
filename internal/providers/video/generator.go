package video

import (
	"context"
	"fmt"
	"time"
)

// Request is one video to render.
type Request struct {
	Prompt       string
	Model        string
	AspectRatio  string
	Duration     string
	ReferenceURL string
	RequestID    string
}

// Asset is a rendered video.
type Asset struct {
	URL    string
	Format string
}

type Generator interface {
	Generate(ctx context.Context, req Request) (*Asset, error)
}

// Synthetic returns placeholder URLs after a fixed delay. It stands in for the
// real provider when no API key is configured.
type Synthetic struct {
	delay   time.Duration
	baseURL string
}

func NewSynthetic(delay time.Duration) *Synthetic {
	return &Synthetic{delay: delay, baseURL: "https://cdn.example.com/videos"}
}

func (s *Synthetic) Generate(ctx context.Context, req Request) (*Asset, error) {
	select {
	case <-time.After(s.delay):
		return &Asset{
			URL:    fmt.Sprintf("%s/%s/%s.mp4", s.baseURL, req.Model, req.RequestID),
			Format: "video/mp4",
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ Generator = (*Synthetic)(nil)
