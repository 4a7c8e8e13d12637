package domain

import (
	"context"
	"sync"
)

type embeddingUsageKey struct{}

// EmbeddingUsage collects provider usage for a single caller request.
// The HTTP handler installs it; the ingestion pipeline writes to it.
type EmbeddingUsage struct {
	mu          sync.Mutex
	totalTokens int
	calls       int
	retries     int
}

// NewContextWithUsage returns a context carrying a fresh usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, embeddingUsageKey{}, u), u
}

// UsageFromContext extracts the usage collector. Returns nil if not set.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(embeddingUsageKey{}).(*EmbeddingUsage)
	return u
}

// AddCall records one provider call and the tokens it consumed.
func (u *EmbeddingUsage) AddCall(tokens int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.calls++
	u.totalTokens += tokens
	u.mu.Unlock()
}

// AddRetry records one rate-limit retry.
func (u *EmbeddingUsage) AddRetry() {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.retries++
	u.mu.Unlock()
}

// Snapshot returns tokens, provider calls, and retries recorded so far.
func (u *EmbeddingUsage) Snapshot() (tokens, calls, retries int) {
	if u == nil {
		return 0, 0, 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.totalTokens, u.calls, u.retries
}
