// Package mock provides a test double for the image.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/verbe/pkg/provider/image"
)

// Provider is a mock implementation of image.Provider.
type Provider struct {
	mu sync.Mutex

	// GenerateResult is returned by Generate. May be nil.
	GenerateResult *image.Image

	// GenerateErrs, if non-empty, are returned by successive calls in order.
	// Once exhausted, GenerateErr applies.
	GenerateErrs []error

	// GenerateErr is returned when GenerateErrs is exhausted.
	GenerateErr error

	// Block, if non-nil, makes Generate wait until it is closed or the
	// context ends.
	Block chan struct{}

	// Prompts records every prompt passed to Generate.
	Prompts []string
}

// Generate records the prompt and returns the configured result.
func (p *Provider) Generate(ctx context.Context, prompt string) (*image.Image, error) {
	p.mu.Lock()
	p.Prompts = append(p.Prompts, prompt)
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.GenerateErrs) > 0 {
		err := p.GenerateErrs[0]
		p.GenerateErrs = p.GenerateErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if p.GenerateErr != nil {
		return nil, p.GenerateErr
	}
	return p.GenerateResult, nil
}

// Calls returns a copy of the recorded prompts.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Prompts...)
}

var _ image.Provider = (*Provider)(nil)
