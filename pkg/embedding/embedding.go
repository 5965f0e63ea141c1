// Package embedding defines the embedding-provider contract enrichment
// depends on (spec §4.5) and the error taxonomy EnrichmentService uses to
// decide whether a failure is retryable.
package embedding

import (
	"context"
	"errors"
)

// Sentinel errors an embedding Provider may wrap and return from Embed.
// EnrichmentService classifies failures against these with errors.Is.
var (
	// ErrUnavailable means the provider could not be reached; retryable.
	ErrUnavailable = errors.New("embedding: provider unavailable")
	// ErrTimeout means the request exceeded its deadline; retryable.
	ErrTimeout = errors.New("embedding: request timed out")
	// ErrInvalidInput means the request itself was malformed; not retryable.
	ErrInvalidInput = errors.New("embedding: invalid input")
	// ErrDimensionMismatch means the provider returned vectors of an
	// unexpected width; fatal, a configuration error.
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")
)

// Provider turns a batch of texts into a batch of equal-length vectors,
// preserving input order. Implementations may be remote (HTTP/gRPC model
// servers) or in-process.
type Provider interface {
	// Embed returns one vector per input text, in the same order.
	// Returns an error wrapping one of the sentinels above on failure.
	Embed(ctx context.Context, modelID string, texts []string) ([][]float32, error)

	// Dimension reports the vector width this provider produces for
	// modelID, used to validate responses against ErrDimensionMismatch.
	Dimension(modelID string) int
}
