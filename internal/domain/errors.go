package domain

import "errors"

var (
	// ErrInvalidQuery signals a missing or malformed query.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrUnauthorized signals a caller not permitted to search the requested scope.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEmbeddingProvider signals an embedding provider failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrVectorStore signals a vector index failure (transient, safe for the caller to retry).
	ErrVectorStore = errors.New("vector store error")
	// ErrGenerationProvider signals a text generation provider failure.
	ErrGenerationProvider = errors.New("generation provider error")
	// ErrNamespaceNotFound signals a missing vector namespace (treated as empty, not fatal).
	ErrNamespaceNotFound = errors.New("namespace not found")
	// ErrNoNamespace signals that no namespace could be resolved for the caller's scope.
	ErrNoNamespace = errors.New("no namespace available for caller")
)
