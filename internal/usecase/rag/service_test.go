package rag

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fieldmate-ai/raggate/internal/domain"
	"github.com/fieldmate-ai/raggate/internal/domain/caller"
	"github.com/fieldmate-ai/raggate/internal/domain/clarify"
	"github.com/fieldmate-ai/raggate/internal/domain/match"
	"github.com/fieldmate-ai/raggate/internal/domain/query"
	"github.com/fieldmate-ai/raggate/internal/domain/search/filter"
	"github.com/fieldmate-ai/raggate/internal/usecase/access"
	"github.com/fieldmate-ai/raggate/internal/usecase/ambiguity"
	"github.com/fieldmate-ai/raggate/internal/usecase/contextbuild"
	"github.com/fieldmate-ai/raggate/internal/usecase/fusion"
)

// --- Mocks ---

type mockEmbedder struct {
	vec    []float32
	err    error
	called bool
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.called = true
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec, TotalTokens: 7}, nil
}

type mockVectors struct {
	mu          sync.Mutex
	byNamespace map[string][]match.Match
	errs        map[string]error
	queried     []string
	lastFilters filter.Expression
}

func (m *mockVectors) QueryNamespace(
	_ context.Context, namespace string, _ []float32, _ int, filters filter.Expression,
) ([]match.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queried = append(m.queried, namespace)
	m.lastFilters = filters
	if err, ok := m.errs[namespace]; ok {
		return nil, err
	}
	return m.byNamespace[namespace], nil
}

func (m *mockVectors) queriedNamespaces() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.queried...)
	sort.Strings(out)
	return out
}

type mockRules struct {
	rules []clarify.Rule
	err   error
}

func (m *mockRules) Rules(_ context.Context) ([]clarify.Rule, error) {
	return m.rules, m.err
}

type mockGenerator struct {
	text        string
	err         error
	streamErr   error
	chunkSize   int
	lastUser    string
	lastSys     string
	hadDeadline bool
}

func (m *mockGenerator) Generate(ctx context.Context, p domain.Prompt) (domain.GenerationResult, error) {
	m.lastSys, m.lastUser = p.System, p.User
	_, m.hadDeadline = ctx.Deadline()
	if m.err != nil {
		return domain.GenerationResult{}, m.err
	}
	return domain.GenerationResult{Text: m.text, PromptTokens: 11, CompletionTokens: 5}, nil
}

// GenerateStream emits the same text as Generate, split into fixed-size rune
// chunks, so the stream-vs-sync equivalence can be asserted.
func (m *mockGenerator) GenerateStream(ctx context.Context, p domain.Prompt) (<-chan domain.Fragment, error) {
	m.lastSys, m.lastUser = p.System, p.User
	_, m.hadDeadline = ctx.Deadline()
	if m.err != nil {
		return nil, m.err
	}

	out := make(chan domain.Fragment)
	go func() {
		defer close(out)
		if m.streamErr != nil {
			out <- domain.Fragment{Err: m.streamErr}
			return
		}
		size := m.chunkSize
		if size <= 0 {
			size = 3
		}
		runes := []rune(m.text)
		for start := 0; start < len(runes); start += size {
			end := start + size
			if end > len(runes) {
				end = len(runes)
			}
			select {
			case out <- domain.Fragment{Text: string(runes[start:end])}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// --- Fixtures ---

var fixedNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func testMatch(t *testing.T, id, ns string, score float64, meta match.Metadata) match.Match {
	t.Helper()
	m, err := match.New(id, score, ns, meta)
	if err != nil {
		t.Fatalf("match.New: %v", err)
	}
	return m
}

func agentCaller(t *testing.T) caller.Caller {
	t.Helper()
	c, err := caller.New("agent", "basic", 1, "E1042", "", "")
	if err != nil {
		t.Fatalf("caller.New: %v", err)
	}
	return c
}

func testRequest(t *testing.T, text string) *query.Request {
	t.Helper()
	q, err := query.New(text, 10, "", "", "", false, false)
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	return &q
}

func settlementRule() clarify.Rule {
	return clarify.Rule{
		ID:       "settlement",
		Keywords: []string{"정산"},
		DocTypes: []string{"compensation", "mdrt"},
		Question: "정산 관련 자료 중 어떤 것을 찾으시나요?",
		Options: []clarify.Option{
			{Label: "수수료 정산", Value: "compensation"},
			{Label: "MDRT 실적", Value: "mdrt"},
		},
	}
}

type deps struct {
	embed   *mockEmbedder
	vectors *mockVectors
	rules   *mockRules
	gen     *mockGenerator
}

func newTestService(t *testing.T, d deps) *Service {
	t.Helper()
	if d.embed == nil {
		d.embed = &mockEmbedder{vec: []float32{0.1, 0.2}}
	}
	if d.vectors == nil {
		d.vectors = &mockVectors{}
	}
	if d.rules == nil {
		d.rules = &mockRules{}
	}
	if d.gen == nil {
		d.gen = &mockGenerator{text: "answer"}
	}
	return New(
		d.embed,
		d.vectors,
		d.rules,
		access.New(),
		ambiguity.New(ambiguity.Config{BypassKeywords: []string{"mdrt", "fyc"}}),
		fusion.New(fusion.Options{Now: func() time.Time { return fixedNow }}),
		contextbuild.New(8000),
		d.gen,
		Config{CompanyNamespace: "company", SystemPrompt: "system"},
	)
}

// --- Search ---

func TestSearch_FansOutToCompanyAndEmployeeNamespaces(t *testing.T) {
	vectors := &mockVectors{byNamespace: map[string][]match.Match{
		"company":   {testMatch(t, "c1", "company", 0.9, match.Metadata{})},
		"emp:E1042": {testMatch(t, "e1", "emp:E1042", 0.8, match.Metadata{})},
	}}
	svc := newTestService(t, deps{vectors: vectors})

	res, err := svc.Search(context.Background(), agentCaller(t), testRequest(t, "FYC 달성률"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"company", "emp:E1042"}
	got := vectors.queriedNamespaces()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("queried namespaces %v, want %v", got, want)
	}
	if len(res.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(res.Matches))
	}
	if res.Matches[0].ID() != "c1" {
		t.Errorf("expected highest score first, got %s", res.Matches[0].ID())
	}
	if res.Stats.EmbedTokens != 7 {
		t.Errorf("embed tokens not propagated: %d", res.Stats.EmbedTokens)
	}
}

func TestSearch_DeduplicatesAcrossNamespaces(t *testing.T) {
	vectors := &mockVectors{byNamespace: map[string][]match.Match{
		"company":   {testMatch(t, "dup", "company", 0.7, match.Metadata{})},
		"emp:E1042": {testMatch(t, "dup", "emp:E1042", 0.9, match.Metadata{})},
	}}
	svc := newTestService(t, deps{vectors: vectors})

	res, err := svc.Search(context.Background(), agentCaller(t), testRequest(t, "중복 질문"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("expected 1 deduplicated match, got %d", len(res.Matches))
	}
	if res.Matches[0].Namespace() != "emp:E1042" {
		t.Errorf("dedupe kept the lower-scored instance from %s", res.Matches[0].Namespace())
	}
}

func TestSearch_MissingNamespaceTreatedAsEmpty(t *testing.T) {
	vectors := &mockVectors{
		byNamespace: map[string][]match.Match{
			"company": {testMatch(t, "c1", "company", 0.9, match.Metadata{})},
		},
		errs: map[string]error{"emp:E1042": domain.ErrNamespaceNotFound},
	}
	svc := newTestService(t, deps{vectors: vectors})

	res, err := svc.Search(context.Background(), agentCaller(t), testRequest(t, "질문"))
	if err != nil {
		t.Fatalf("missing namespace must not fail the search: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Errorf("expected 1 match from the surviving namespace, got %d", len(res.Matches))
	}
}

func TestSearch_PartialFailureDegrades(t *testing.T) {
	vectors := &mockVectors{
		byNamespace: map[string][]match.Match{
			"company": {testMatch(t, "c1", "company", 0.9, match.Metadata{})},
		},
		errs: map[string]error{"emp:E1042": errors.New("index corrupted")},
	}
	svc := newTestService(t, deps{vectors: vectors})

	res, err := svc.Search(context.Background(), agentCaller(t), testRequest(t, "질문"))
	if err != nil {
		t.Fatalf("partial failure must degrade, not abort: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Errorf("expected results from the healthy namespace, got %d", len(res.Matches))
	}
}

func TestSearch_SoleNamespaceFailureAborts(t *testing.T) {
	vectors := &mockVectors{errs: map[string]error{"company": errors.New("down")}}
	svc := newTestService(t, deps{vectors: vectors})

	// Caller without an employee id searches company only.
	c, err := caller.New("agent", "", 0, "", "", "")
	if err != nil {
		t.Fatalf("caller.New: %v", err)
	}

	if _, err := svc.Search(context.Background(), c, testRequest(t, "질문")); err == nil {
		t.Fatal("expected the sole namespace failure to abort")
	}
}

func TestSearch_NamespaceOverrideAuthorization(t *testing.T) {
	vectors := &mockVectors{byNamespace: map[string][]match.Match{}}
	svc := newTestService(t, deps{vectors: vectors})

	newReq := func(ns string) *query.Request {
		q, err := query.New("질문", 10, ns, "", "", false, false)
		if err != nil {
			t.Fatalf("query.New: %v", err)
		}
		return &q
	}

	// Own employee namespace: allowed.
	if _, err := svc.Search(context.Background(), agentCaller(t), newReq("emp:E1042")); err != nil {
		t.Errorf("own namespace override rejected: %v", err)
	}

	// Someone else's namespace: rejected for non-admins.
	_, err := svc.Search(context.Background(), agentCaller(t), newReq("emp:E9999"))
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	// Admins may override freely.
	admin, err := caller.New("admin", "", 0, "", "", "")
	if err != nil {
		t.Fatalf("caller.New: %v", err)
	}
	if _, err := svc.Search(context.Background(), admin, newReq("emp:E9999")); err != nil {
		t.Errorf("admin override rejected: %v", err)
	}
}

func TestSearch_PostFilterRejectsLeakedMatches(t *testing.T) {
	// The store should have pre-filtered; simulate an index drift returning a
	// match the caller's policy rejects.
	vectors := &mockVectors{byNamespace: map[string][]match.Match{
		"company": {
			testMatch(t, "ok", "company", 0.9, match.Metadata{}),
			testMatch(t, "leaked", "company", 0.95, match.Metadata{Roles: []string{"admin"}}),
		},
	}}
	svc := newTestService(t, deps{vectors: vectors})

	res, err := svc.Search(context.Background(), agentCaller(t), testRequest(t, "질문"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, m := range res.Matches {
		if m.ID() == "leaked" {
			t.Fatal("access post-filter let a restricted match through")
		}
	}
	if len(res.Matches) != 1 {
		t.Errorf("expected 1 allowed match, got %d", len(res.Matches))
	}
}

func TestSearch_RequestFiltersPushedDown(t *testing.T) {
	vectors := &mockVectors{byNamespace: map[string][]match.Match{}}
	svc := newTestService(t, deps{vectors: vectors})

	q, err := query.New("질문", 10, "", "notice", "regulation", false, false)
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	if _, err := svc.Search(context.Background(), agentCaller(t), &q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var gotCategory, gotDocType bool
	for _, cond := range vectors.lastFilters.Must() {
		switch cond.Key() {
		case fieldCategory:
			gotCategory = cond.Match() == "notice"
		case fieldDocType:
			gotDocType = cond.Match() == "regulation"
		}
	}
	if !gotCategory || !gotDocType {
		t.Errorf("request filters missing from pushdown: %+v", vectors.lastFilters.Must())
	}
}

func TestSearch_EmbeddingFailureAborts(t *testing.T) {
	svc := newTestService(t, deps{
		embed: &mockEmbedder{err: domain.ErrEmbeddingProvider},
	})

	_, err := svc.Search(context.Background(), agentCaller(t), testRequest(t, "질문"))
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Errorf("expected embedding error to propagate, got %v", err)
	}
}

// --- Query ---

func TestQuery_KeywordClarificationShortCircuits(t *testing.T) {
	embed := &mockEmbedder{vec: []float32{0.1}}
	svc := newTestService(t, deps{
		embed: embed,
		rules: &mockRules{rules: []clarify.Rule{settlementRule()}},
	})

	res, err := svc.Query(context.Background(), agentCaller(t), testRequest(t, "이번 달 정산 얼마야?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Clarification == nil {
		t.Fatal("expected a clarification")
	}
	if res.Clarification.Reason != clarify.ReasonKeyword {
		t.Errorf("expected reason keyword_match, got %s", res.Clarification.Reason)
	}
	if len(res.Clarification.Options) != 2 {
		t.Errorf("expected 2 options, got %d", len(res.Clarification.Options))
	}
	if res.Answer != "" {
		t.Errorf("clarification response must carry no answer, got %q", res.Answer)
	}
	if embed.called {
		t.Error("pre-check clarification must not reach embedding")
	}
}

func TestQuery_KeywordCheckPreemptsDistributionCheck(t *testing.T) {
	// The results would also trip the distribution check, but the keyword
	// clarification fires before search and wins with its curated question.
	vectors := &mockVectors{byNamespace: map[string][]match.Match{
		"company": {
			testMatch(t, "c1", "company", 0.90, match.Metadata{DocType: "compensation"}),
			testMatch(t, "c2", "company", 0.85, match.Metadata{DocType: "compensation"}),
			testMatch(t, "c3", "company", 0.88, match.Metadata{DocType: "mdrt"}),
			testMatch(t, "c4", "company", 0.80, match.Metadata{DocType: "mdrt"}),
		},
	}}
	svc := newTestService(t, deps{
		vectors: vectors,
		rules:   &mockRules{rules: []clarify.Rule{settlementRule()}},
	})

	res, err := svc.Query(context.Background(), agentCaller(t), testRequest(t, "이번 달 정산 얼마야?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Clarification == nil {
		t.Fatal("expected a clarification")
	}
	if res.Clarification.Reason != clarify.ReasonKeyword {
		t.Errorf("expected reason keyword_match, got %s", res.Clarification.Reason)
	}
	if res.Clarification.Question != "정산 관련 자료 중 어떤 것을 찾으시나요?" {
		t.Errorf("expected the curated rule question, got %s", res.Clarification.Question)
	}
	if got := vectors.queriedNamespaces(); len(got) != 0 {
		t.Errorf("keyword clarification must pre-empt search, queried %v", got)
	}
}

func TestQuery_BypassKeywordProducesAnswer(t *testing.T) {
	vectors := &mockVectors{byNamespace: map[string][]match.Match{
		"company": {
			testMatch(t, "c1", "company", 0.9, match.Metadata{
				DocID: "post-1", Title: "FYC 기준", Content: "FYC 산정 기준 안내", DocType: "compensation",
			}),
			testMatch(t, "c2", "company", 0.8, match.Metadata{
				DocID: "post-2", Title: "수수료 안내", Content: "수수료 지급 일정", DocType: "compensation",
			}),
		},
	}}
	gen := &mockGenerator{text: "FYC 달성률은 다음과 같습니다."}
	svc := newTestService(t, deps{
		vectors: vectors,
		gen:     gen,
		rules:   &mockRules{rules: []clarify.Rule{settlementRule()}},
	})

	res, err := svc.Query(context.Background(), agentCaller(t), testRequest(t, "FYC 달성률"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Clarification != nil {
		t.Fatal("bypass keyword must suppress clarification")
	}
	if res.Answer != gen.text {
		t.Errorf("unexpected answer: %q", res.Answer)
	}
	if len(res.Sources) == 0 {
		t.Fatal("expected non-empty sources")
	}
	for i := 1; i < len(res.Sources); i++ {
		if res.Sources[i].Score > res.Sources[i-1].Score {
			t.Errorf("sources not sorted by descending score: %+v", res.Sources)
		}
	}
	if !strings.Contains(gen.lastSys, "참고 자료") {
		t.Error("assembled context missing from the system prompt")
	}
	if gen.lastUser != "FYC 달성률" {
		t.Errorf("user prompt should be the raw question, got %q", gen.lastUser)
	}
	if res.Stats.PromptTokens != 11 || res.Stats.CompletionTokens != 5 {
		t.Errorf("generation stats not propagated: %+v", res.Stats)
	}
}

func TestQuery_NoMatchesReturnsGracefulAnswer(t *testing.T) {
	gen := &mockGenerator{text: "should not be called"}
	svc := newTestService(t, deps{
		vectors: &mockVectors{byNamespace: map[string][]match.Match{}},
		gen:     gen,
	})

	res, err := svc.Query(context.Background(), agentCaller(t), testRequest(t, "아무도 모르는 질문"))
	if err != nil {
		t.Fatalf("zero matches must not be an error: %v", err)
	}
	if res.Answer == "" || res.Answer == gen.text {
		t.Errorf("expected the configured no-context answer, got %q", res.Answer)
	}
	if len(res.Sources) != 0 {
		t.Errorf("no-context answer must cite nothing, got %+v", res.Sources)
	}
}

func TestQuery_RuleStoreFailureDegrades(t *testing.T) {
	vectors := &mockVectors{byNamespace: map[string][]match.Match{
		"company": {testMatch(t, "c1", "company", 0.9, match.Metadata{Content: "내용"})},
	}}
	svc := newTestService(t, deps{
		vectors: vectors,
		rules:   &mockRules{err: errors.New("store down")},
	})

	res, err := svc.Query(context.Background(), agentCaller(t), testRequest(t, "정산 알려줘"))
	if err != nil {
		t.Fatalf("rule store failure must not fail the query: %v", err)
	}
	if res.Answer == "" {
		t.Error("expected an answer despite rule store failure")
	}
}

func TestQuery_GenerationFailurePropagates(t *testing.T) {
	vectors := &mockVectors{byNamespace: map[string][]match.Match{
		"company": {testMatch(t, "c1", "company", 0.9, match.Metadata{Content: "내용"})},
	}}
	svc := newTestService(t, deps{
		vectors: vectors,
		gen:     &mockGenerator{err: domain.ErrGenerationProvider},
	})

	_, err := svc.Query(context.Background(), agentCaller(t), testRequest(t, "질문"))
	if !errors.Is(err, domain.ErrGenerationProvider) {
		t.Errorf("expected generation error to propagate, got %v", err)
	}
}

func TestQuery_SkipClarifyBypassesBothChecks(t *testing.T) {
	vectors := &mockVectors{byNamespace: map[string][]match.Match{
		"company": {
			testMatch(t, "a1", "company", 0.90, match.Metadata{DocType: "compensation", Content: "a"}),
			testMatch(t, "a2", "company", 0.85, match.Metadata{DocType: "compensation", Content: "b"}),
			testMatch(t, "b1", "company", 0.88, match.Metadata{DocType: "mdrt", Content: "c"}),
			testMatch(t, "b2", "company", 0.80, match.Metadata{DocType: "mdrt", Content: "d"}),
		},
	}}
	svc := newTestService(t, deps{
		vectors: vectors,
		rules:   &mockRules{rules: []clarify.Rule{settlementRule()}},
	})

	q, err := query.New("이번 달 정산 얼마야?", 10, "", "", "", true, false)
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}

	res, err := svc.Query(context.Background(), agentCaller(t), &q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Clarification != nil {
		t.Error("skipClarify must suppress both ambiguity checks")
	}
	if res.Answer == "" {
		t.Error("expected an answer")
	}
}

func TestResolveNamespaces_NoScope(t *testing.T) {
	svc := New(
		&mockEmbedder{vec: []float32{0.1}},
		&mockVectors{},
		&mockRules{},
		access.New(),
		ambiguity.New(ambiguity.Config{}),
		fusion.New(fusion.Options{}),
		contextbuild.New(0),
		&mockGenerator{},
		Config{CompanyNamespace: ""},
	)

	c, err := caller.New("agent", "", 0, "", "", "")
	if err != nil {
		t.Fatalf("caller.New: %v", err)
	}

	_, err = svc.Search(context.Background(), c, testRequest(t, "질문"))
	if !errors.Is(err, domain.ErrNoNamespace) {
		t.Errorf("expected ErrNoNamespace, got %v", err)
	}
}
