// Package rag composes embedding, retrieval, fusion, ambiguity detection,
// context building, and generation into the two public pipeline operations.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fieldmate-ai/raggate/internal/domain"
	"github.com/fieldmate-ai/raggate/internal/domain/caller"
	"github.com/fieldmate-ai/raggate/internal/domain/clarify"
	"github.com/fieldmate-ai/raggate/internal/domain/match"
	"github.com/fieldmate-ai/raggate/internal/domain/query"
	"github.com/fieldmate-ai/raggate/internal/domain/search/filter"
	"github.com/fieldmate-ai/raggate/internal/logger"
	"github.com/fieldmate-ai/raggate/internal/usecase/access"
	"github.com/fieldmate-ai/raggate/internal/usecase/ambiguity"
	"github.com/fieldmate-ai/raggate/internal/usecase/contextbuild"
	"github.com/fieldmate-ai/raggate/internal/usecase/fusion"
)

// Default pipeline settings.
const (
	DefaultEmbedTimeout    = 10 * time.Second
	DefaultSearchTimeout   = 5 * time.Second
	DefaultGenerateTimeout = 60 * time.Second
	DefaultEmployeePrefix  = "emp:"
)

// Config holds orchestrator settings.
type Config struct {
	// CompanyNamespace is the shared namespace every caller may search.
	CompanyNamespace string
	// EmployeePrefix prefixes per-employee namespaces (default "emp:").
	EmployeePrefix string
	// SystemPrompt is the generation system message. The assembled context is
	// appended to it.
	SystemPrompt string
	// NoContextAnswer is returned when retrieval yields nothing.
	NoContextAnswer string
	EmbedTimeout    time.Duration
	SearchTimeout   time.Duration
	GenerateTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.EmployeePrefix == "" {
		c.EmployeePrefix = DefaultEmployeePrefix
	}
	if c.NoContextAnswer == "" {
		c.NoContextAnswer = "관련 자료를 찾지 못했습니다. 질문을 조금 더 구체적으로 해주세요."
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = DefaultEmbedTimeout
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = DefaultSearchTimeout
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = DefaultGenerateTimeout
	}
	return c
}

// SearchStats reports retrieval-side measurements.
type SearchStats struct {
	Namespaces  []string `json:"namespaces"`
	Candidates  int      `json:"candidates"`
	Returned    int      `json:"returned"`
	EmbedTokens int      `json:"embedTokens"`
	TookMS      int64    `json:"tookMs"`
}

// SearchResult is the output of pure retrieval.
type SearchResult struct {
	Matches []match.Match
	Stats   SearchStats
}

// QueryStats extends SearchStats with generation-side measurements.
type QueryStats struct {
	SearchStats
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// QueryResult is the output of the full pipeline. Either Clarification is
// set (and Answer empty), or Answer/Sources are set.
type QueryResult struct {
	Answer        string
	Sources       []contextbuild.Source
	Clarification *clarify.Clarification
	Stats         QueryStats
}

// Service orchestrates the RAG pipeline. Stateless per call: the only shared
// inputs are the read-only rule cache and the vector index.
type Service struct {
	embed     domain.Embedder
	vectors   VectorSearcher
	rules     RuleSource
	policy    *access.Policy
	detector  *ambiguity.Detector
	fuser     *fusion.Engine
	builder   *contextbuild.Builder
	generator domain.Generator
	cfg       Config
}

// New creates the orchestrator.
func New(
	embed domain.Embedder,
	vectors VectorSearcher,
	rules RuleSource,
	policy *access.Policy,
	detector *ambiguity.Detector,
	fuser *fusion.Engine,
	builder *contextbuild.Builder,
	generator domain.Generator,
	cfg Config,
) *Service {
	return &Service{
		embed:     embed,
		vectors:   vectors,
		rules:     rules,
		policy:    policy,
		detector:  detector,
		fuser:     fuser,
		builder:   builder,
		generator: generator,
		cfg:       cfg.withDefaults(),
	}
}

// resolveNamespaces derives the searchable namespaces from the caller's
// scope and the optional explicit override. An override outside the caller's
// scope is rejected; admins may override freely.
func (s *Service) resolveNamespaces(c caller.Caller, override string) ([]string, error) {
	own := ""
	if c.EmployeeID() != "" {
		own = s.cfg.EmployeePrefix + c.EmployeeID()
	}

	if override != "" {
		if override == s.cfg.CompanyNamespace || override == own || c.Role() == "admin" {
			return []string{override}, nil
		}
		return nil, fmt.Errorf("namespace %q outside caller scope: %w", override, domain.ErrUnauthorized)
	}

	var namespaces []string
	if s.cfg.CompanyNamespace != "" {
		namespaces = append(namespaces, s.cfg.CompanyNamespace)
	}
	if own != "" {
		namespaces = append(namespaces, own)
	}
	if len(namespaces) == 0 {
		return nil, domain.ErrNoNamespace
	}
	return namespaces, nil
}

// Search runs pure retrieval: embedding, namespace resolution, parallel
// per-namespace query, fusion, truncation to topK. No generation.
func (s *Service) Search(
	ctx context.Context, c caller.Caller, req *query.Request,
) (SearchResult, error) {
	start := time.Now()
	log := logger.FromContext(ctx)

	namespaces, err := s.resolveNamespaces(c, req.Namespace())
	if err != nil {
		return SearchResult{}, err
	}

	filters, err := s.policy.BuildFilter(c)
	if err != nil {
		return SearchResult{}, fmt.Errorf("build access filter: %w", err)
	}
	filters, err = withRequestFilters(filters, req)
	if err != nil {
		return SearchResult{}, fmt.Errorf("build request filter: %w", err)
	}

	embCtx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
	embResult, err := s.embed.Embed(embCtx, req.Text())
	cancel()
	if err != nil {
		return SearchResult{}, fmt.Errorf("vectorize query: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout)
	defer cancel()

	// Fan out one query per namespace. A namespace failure degrades to an
	// empty contribution unless it was the caller's only namespace.
	lists := make([][]match.Match, len(namespaces))
	sole := len(namespaces) == 1

	g, gctx := errgroup.WithContext(searchCtx)
	for i, ns := range namespaces {
		i, ns := i, ns
		g.Go(func() error {
			matches, err := s.vectors.QueryNamespace(gctx, ns, embResult.Embedding, req.TopK(), filters)
			if err != nil {
				if errors.Is(err, domain.ErrNamespaceNotFound) {
					log.Debug("Namespace missing, treating as empty", zap.String("namespace", ns))
					return nil
				}
				if sole {
					return err
				}
				log.Warn("Namespace query degraded to empty",
					zap.String("namespace", ns),
					zap.String("query_hash", query.Hash(req.Text())),
					zap.Error(err),
				)
				return nil
			}
			lists[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SearchResult{}, fmt.Errorf("namespace search: %w", err)
	}

	// Defense in depth: the store pre-filtered, re-check anyway.
	candidates := 0
	for i := range lists {
		kept := lists[i][:0]
		for _, m := range lists[i] {
			if s.policy.Allows(c, &m) {
				kept = append(kept, m)
			}
		}
		lists[i] = kept
		candidates += len(kept)
	}

	fused := s.fuser.Fuse(lists, req.TopK())

	return SearchResult{
		Matches: fused,
		Stats: SearchStats{
			Namespaces:  namespaces,
			Candidates:  candidates,
			Returned:    len(fused),
			EmbedTokens: embResult.TotalTokens,
			TookMS:      time.Since(start).Milliseconds(),
		},
	}, nil
}

// Query runs the full pipeline: retrieval, ambiguity decision, context
// build, generation. When clarification is required it is returned instead
// of an answer; that is a normal outcome, not an error.
func (s *Service) Query(
	ctx context.Context, c caller.Caller, req *query.Request,
) (QueryResult, error) {
	rules := s.loadRules(ctx)

	if !req.SkipClarify() {
		if pre := s.detector.PreCheck(req.Text(), rules); pre.NeedsClarification {
			return QueryResult{Clarification: pre.Clarification}, nil
		}
	}

	searched, err := s.Search(ctx, c, req)
	if err != nil {
		return QueryResult{}, err
	}
	stats := QueryStats{SearchStats: searched.Stats}

	if !req.SkipClarify() {
		if post := s.detector.PostCheck(searched.Matches); post.NeedsClarification {
			return QueryResult{Clarification: post.Clarification, Stats: stats}, nil
		}
	}

	if len(searched.Matches) == 0 {
		return QueryResult{Answer: s.cfg.NoContextAnswer, Stats: stats}, nil
	}

	block := s.builder.Build(searched.Matches)

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	gen, err := s.generator.Generate(genCtx, s.prompt(req.Text(), block))
	if err != nil {
		return QueryResult{}, fmt.Errorf("generate answer: %w", err)
	}

	stats.PromptTokens = gen.PromptTokens
	stats.CompletionTokens = gen.CompletionTokens

	return QueryResult{
		Answer:  gen.Text,
		Sources: block.Sources,
		Stats:   stats,
	}, nil
}

// Index field names for the optional request-level pre-filters.
const (
	fieldCategory = "category"
	fieldDocType  = "doc_type"
)

// withRequestFilters merges the caller-supplied category/docType pre-filters
// into the access expression as additional must conditions.
func withRequestFilters(expr filter.Expression, req *query.Request) (filter.Expression, error) {
	if req.Category() == "" && req.DocType() == "" {
		return expr, nil
	}
	must := expr.Must()
	if req.Category() != "" {
		cond, err := filter.NewMatch(fieldCategory, req.Category())
		if err != nil {
			return filter.Expression{}, err
		}
		must = append(must, cond)
	}
	if req.DocType() != "" {
		cond, err := filter.NewMatch(fieldDocType, req.DocType())
		if err != nil {
			return filter.Expression{}, err
		}
		must = append(must, cond)
	}
	return filter.NewExpression(must, expr.Should(), expr.MustNot())
}

// loadRules tolerates a rule store failure: ambiguity detection degrades to
// the distribution check only.
func (s *Service) loadRules(ctx context.Context) []clarify.Rule {
	rules, err := s.rules.Rules(ctx)
	if err != nil {
		logger.FromContext(ctx).Warn("Ambiguity rules unavailable", zap.Error(err))
		return nil
	}
	return rules
}

func (s *Service) prompt(question string, block contextbuild.ContextBlock) domain.Prompt {
	var sb strings.Builder
	sb.WriteString(s.cfg.SystemPrompt)
	if block.Text != "" {
		sb.WriteString("\n\n참고 자료:\n")
		sb.WriteString(block.Text)
	}
	return domain.Prompt{System: sb.String(), User: question}
}
