package llm

import (
	"context"
	"io"
)

// DisabledProvider is the null implementation used when no AI credential is
// configured. Every call fails fast with ErrNotConfigured so business logic
// does not need presence checks scattered through it.
type DisabledProvider struct{}

// NewDisabledProvider creates the null provider
func NewDisabledProvider() *DisabledProvider {
	return &DisabledProvider{}
}

// Embed always fails with ErrNotConfigured
func (p *DisabledProvider) Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error) {
	return nil, ErrNotConfigured
}

// Stream always fails with ErrNotConfigured
func (p *DisabledProvider) Stream(ctx context.Context, prompt string, w io.Writer) (string, error) {
	return "", ErrNotConfigured
}

// Generate always fails with ErrNotConfigured
func (p *DisabledProvider) Generate(ctx context.Context, prompt string) (string, error) {
	return "", ErrNotConfigured
}

// Name returns the provider name
func (p *DisabledProvider) Name() string {
	return "disabled"
}

// Configured always reports false
func (p *DisabledProvider) Configured() bool {
	return false
}
