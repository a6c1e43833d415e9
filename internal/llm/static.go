package llm

import (
	"context"
	"sync"
)

// StaticProvider returns a fixed response. It backs the "static" provider for offline runs and
// stands in for a real backend in tests.
type StaticProvider struct {
	Response string
	Err      error

	mu      sync.Mutex
	prompts []string
}

// Generate records prompt and returns the configured response or error.
func (s *StaticProvider) Generate(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Response, nil
}

// Prompts returns every prompt received so far.
func (s *StaticProvider) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
