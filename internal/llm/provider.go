// Package llm adapts text-completion backends to a single Generate call used by entity discovery.
package llm

import (
	"context"
	"errors"
)

// ErrNoResponse is returned when a backend answers without any text.
var ErrNoResponse = errors.New("no response content")

// Provider is the opaque text-completion collaborator.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f ProviderFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
