package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration signals an unusable backend: unreachable database,
	// missing pgvector extension, bad connection parameters. Never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotReady signals that the schema bootstrap has not completed.
	ErrNotReady = errors.New("store not ready")
	// ErrInvalidRecord signals a malformed record or query.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrRecordNotFound signals a missing logical record.
	ErrRecordNotFound = errors.New("record not found")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrReductionModelMissing signals that no reduction model is stored for a collection.
	ErrReductionModelMissing = errors.New("reduction model missing")

	// ErrRateLimited signals a single rate-limited provider response.
	ErrRateLimited = errors.New("rate limited")
	// ErrRateLimitExhausted signals that every retry attempt was rate limited.
	ErrRateLimitExhausted = errors.New("rate limit retries exhausted")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// RateLimitError carries the provider's rate-limit response.
// It matches both ErrRateLimited and ErrEmbeddingProviderError.
type RateLimitError struct {
	StatusCode int
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", ErrRateLimited.Error(), e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", ErrRateLimited.Error(), e.Message)
}

// Is makes errors.Is match the rate-limit and provider sentinels.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited || target == ErrEmbeddingProviderError
}

// IsRateLimited reports whether err is a provider rate-limit signal.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
