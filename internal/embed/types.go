// Package embed implements C4: a process-singleton client for a remote
// OpenAI-compatible embedding endpoint, with a hard-interval rate limiter,
// rate-limit-only retry, and an LRU result cache.
package embed

import "context"

// Embedder generates vector embeddings for text against a remote model.
// Every returned vector has exactly Dimensions() elements; a client that
// cannot guarantee this for some response must return a
// kberrors.Fatal error rather than a short or long vector (I-C2).
type Embedder interface {
	// EmbedDocuments embeds a batch of chunk texts, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector length this client validates
	// responses against.
	Dimensions() int

	// Close releases any held resources (idle HTTP connections).
	Close() error
}
