// Package vector adapts the FT.SEARCH store into the per-namespace
// similarity query contract used by the RAG pipeline.
package vector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fieldmate-ai/raggate/internal/db"
	"github.com/fieldmate-ai/raggate/internal/domain"
	"github.com/fieldmate-ai/raggate/internal/domain/match"
	"github.com/fieldmate-ai/raggate/internal/domain/search/filter"
)

// Metadata field names stored per chunk. Access fields are TAG/NUMERIC
// so the store can pre-filter before scoring.
const (
	fieldContent     = "__content"
	fieldScore       = "__vector_score"
	fieldDocID       = "doc_id"
	fieldTitle       = "title"
	fieldCategory    = "category"
	fieldDocType     = "doc_type"
	fieldRefDate     = "ref_date"
	fieldPinned      = "pinned"
	fieldRoles       = "access_roles"
	fieldTiers       = "access_tiers"
	fieldClearance   = "required_clearance_level"
	fieldDepartments = "allowed_departments"
	fieldRegions     = "allowed_regions"
)

var returnFields = []string{
	fieldContent, fieldScore, fieldDocID, fieldTitle, fieldCategory,
	fieldDocType, fieldRefDate, fieldPinned, fieldRoles, fieldTiers,
	fieldClearance, fieldDepartments, fieldRegions,
}

// store is the consumer interface for vector search operations.
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// Repo queries one namespace of the vector index at a time.
type Repo struct {
	store store
}

// New creates a vector search repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// IndexName returns the FT index name for a namespace.
func IndexName(namespace string) string {
	return fmt.Sprintf("%sns:%s:idx", domain.KeyPrefix, namespace)
}

// keyPrefix returns the chunk key prefix for a namespace.
func keyPrefix(namespace string) string {
	return fmt.Sprintf("%sns:%s:", domain.KeyPrefix, namespace)
}

// QueryNamespace runs a top-K similarity query against one namespace with the
// given access pre-filter. Results arrive ordered by descending similarity.
// A namespace with no index maps to domain.ErrNamespaceNotFound; any other
// store failure maps to domain.ErrVectorStore.
func (r *Repo) QueryNamespace(
	ctx context.Context, namespace string,
	vec []float32, topK int, filters filter.Expression,
) ([]match.Match, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	if topK < 1 {
		return nil, fmt.Errorf("topK must be at least 1, got %d", topK)
	}

	q := &db.KNNQuery{
		IndexName:    IndexName(namespace),
		Filters:      filters,
		Vector:       vec,
		K:            topK,
		ReturnFields: returnFields,
	}

	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return nil, fmt.Errorf("namespace %s: %w", namespace, domain.ErrNamespaceNotFound)
		}
		return nil, fmt.Errorf("query namespace %s: %w: %w", namespace, domain.ErrVectorStore, err)
	}

	return parseMatches(sr, namespace)
}

func parseMatches(sr *db.SearchResult, namespace string) ([]match.Match, error) {
	if sr == nil || sr.Total == 0 {
		return nil, nil
	}

	prefix := keyPrefix(namespace)
	matches := make([]match.Match, 0, len(sr.Entries))

	for _, entry := range sr.Entries {
		chunkID := strings.TrimPrefix(entry.Key, prefix)

		m, err := match.New(chunkID, entry.Score, namespace, parseMetadata(entry.Fields))
		if err != nil {
			// Malformed entries degrade to skipped, not to a failed query.
			continue
		}
		matches = append(matches, m)
	}

	return matches, nil
}

func parseMetadata(fields map[string]string) match.Metadata {
	meta := match.Metadata{
		DocID:       fields[fieldDocID],
		Title:       fields[fieldTitle],
		Category:    fields[fieldCategory],
		DocType:     fields[fieldDocType],
		Content:     fields[fieldContent],
		Pinned:      fields[fieldPinned] == "1",
		Roles:       splitTags(fields[fieldRoles]),
		Tiers:       splitTags(fields[fieldTiers]),
		Departments: splitTags(fields[fieldDepartments]),
		Regions:     splitTags(fields[fieldRegions]),
	}

	if v := fields[fieldClearance]; v != "" {
		if lvl, err := strconv.Atoi(v); err == nil && lvl > 0 {
			meta.RequiredClearance = lvl
		}
	}

	if v := fields[fieldRefDate]; v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil && ts > 0 {
			meta.RefDate = time.Unix(ts, 0).UTC()
		}
	}

	return meta
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
