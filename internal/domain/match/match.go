// Package match models a single vector-search hit.
package match

import (
	"fmt"
	"time"
)

// Metadata is the denormalized metadata bag carried by every hit.
// A zero RefDate means the document has no usable date (neutral for recency).
// A zero RequiredClearance and empty access slices mean unrestricted.
type Metadata struct {
	DocID             string
	Title             string
	Category          string
	DocType           string
	RefDate           time.Time
	Pinned            bool
	Content           string
	Roles             []string
	Tiers             []string
	RequiredClearance int
	Departments       []string
	Regions           []string
}

// Match is a single vector-search hit. It never outlives one pipeline invocation.
type Match struct {
	chunkID   string
	score     float64
	namespace string
	meta      Metadata
}

// New validates and creates a Match. Score must be within [0,1] as reported by the store.
func New(chunkID string, score float64, namespace string, meta Metadata) (Match, error) {
	if chunkID == "" {
		return Match{}, fmt.Errorf("chunk id is required")
	}
	if namespace == "" {
		return Match{}, fmt.Errorf("namespace is required")
	}
	if score < 0 || score > 1 {
		return Match{}, fmt.Errorf("score must be within [0,1], got %g", score)
	}
	return Match{chunkID: chunkID, score: score, namespace: namespace, meta: meta}, nil
}

// ID returns the chunk identifier, unique within a namespace.
func (m *Match) ID() string { return m.chunkID }

// Score returns the similarity score.
func (m *Match) Score() float64 { return m.score }

// Namespace returns the originating namespace.
func (m *Match) Namespace() string { return m.namespace }

// Meta returns the metadata bag.
func (m *Match) Meta() Metadata { return m.meta }

// WithScore returns a copy with the score replaced (fusion rebuilds effective scores).
// The fused score may exceed 1 after boosting, so no range check here.
func (m Match) WithScore(score float64) Match {
	m.score = score
	return m
}
