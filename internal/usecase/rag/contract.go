package rag

import (
	"context"

	"github.com/fieldmate-ai/raggate/internal/domain/clarify"
	"github.com/fieldmate-ai/raggate/internal/domain/match"
	"github.com/fieldmate-ai/raggate/internal/domain/search/filter"
)

// VectorSearcher runs a top-K similarity query against one namespace.
type VectorSearcher interface {
	QueryNamespace(
		ctx context.Context, namespace string,
		vec []float32, topK int, filters filter.Expression,
	) ([]match.Match, error)
}

// RuleSource provides the current ambiguity rule set.
type RuleSource interface {
	Rules(ctx context.Context) ([]clarify.Rule, error)
}
