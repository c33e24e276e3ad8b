// Package query defines the validated, ephemeral search request.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fieldmate-ai/raggate/internal/domain"
)

// Hash returns a short content hash of the query text, safe for logs that
// must not carry the raw query.
func Hash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:8])
}

// Query parameter limits.
const (
	// MaxTextLength is the maximum allowed query length.
	MaxTextLength = 4096
	DefaultTopK   = 10
	MaxTopK       = 100
)

// Request is a validated RAG query. Created per call, discarded after the response.
type Request struct {
	text        string
	topK        int
	namespace   string
	category    string
	docType     string
	skipClarify bool
	stream      bool
}

// New validates and normalizes query parameters.
// Defaults: topK=10, clamped to 100. namespace empty means "resolve from caller
// scope". category and docType are optional metadata pre-filters.
func New(text string, topK int, namespace, category, docType string, skipClarify, stream bool) (Request, error) {
	if text == "" {
		return Request{}, fmt.Errorf("%w: query text is required", domain.ErrInvalidQuery)
	}
	if len(text) > MaxTextLength {
		return Request{}, fmt.Errorf("%w: query too long (max %d chars)", domain.ErrInvalidQuery, MaxTextLength)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	return Request{
		text:        text,
		topK:        topK,
		namespace:   namespace,
		category:    category,
		docType:     docType,
		skipClarify: skipClarify,
		stream:      stream,
	}, nil
}

// Text returns the raw query text.
func (r *Request) Text() string { return r.text }

// TopK returns the number of candidates to retrieve per namespace.
func (r *Request) TopK() int { return r.topK }

// Namespace returns the explicit namespace override, empty for caller-scope resolution.
func (r *Request) Namespace() string { return r.namespace }

// Category returns the optional category pre-filter, empty for none.
func (r *Request) Category() string { return r.category }

// DocType returns the optional document type pre-filter, empty for none.
func (r *Request) DocType() string { return r.docType }

// SkipClarify reports whether the caller explicitly opted out of clarification.
func (r *Request) SkipClarify() bool { return r.skipClarify }

// Stream reports whether the caller requested an incremental response.
func (r *Request) Stream() bool { return r.stream }
