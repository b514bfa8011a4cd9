package resilience

import (
	"context"
	"time"

	"github.com/MrWong99/verbe/pkg/provider/image"
)

// DefaultImageDeadline bounds one image generation, retries and fallbacks
// included.
const DefaultImageDeadline = 180 * time.Second

// ImageFallback implements [image.Provider]. Each backend is called through
// [RetryOnce] and guarded by its own breaker; the whole attempt is bounded by
// an overall deadline.
type ImageFallback struct {
	group      *FallbackGroup[image.Provider]
	deadline   time.Duration
	retryDelay time.Duration
}

var _ image.Provider = (*ImageFallback)(nil)

// NewImageFallback creates an [ImageFallback] with primary as the preferred
// backend. Non-positive deadline or retryDelay select the defaults.
func NewImageFallback(primary image.Provider, primaryName string, cfg FallbackConfig, deadline, retryDelay time.Duration) *ImageFallback {
	if deadline <= 0 {
		deadline = DefaultImageDeadline
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &ImageFallback{
		group:      NewFallbackGroup(primary, primaryName, cfg),
		deadline:   deadline,
		retryDelay: retryDelay,
	}
}

// AddFallback registers an additional image backend.
func (f *ImageFallback) AddFallback(name string, provider image.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the underlying group.
func (f *ImageFallback) Group() *FallbackGroup[image.Provider] { return f.group }

// Generate implements image.Provider.
func (f *ImageFallback) Generate(ctx context.Context, prompt string) (*image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, f.deadline)
	defer cancel()
	return ExecuteWithResult(ctx, f.group, func(p image.Provider) (*image.Image, error) {
		return RetryOnce(ctx, f.retryDelay, nil, func(ctx context.Context) (*image.Image, error) {
			return p.Generate(ctx, prompt)
		})
	})
}
