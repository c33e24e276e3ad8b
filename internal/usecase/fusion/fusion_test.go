package fusion

import (
	"testing"
	"time"

	"github.com/fieldmate-ai/raggate/internal/domain/match"
)

var testNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func makeMatch(t *testing.T, id string, score float64, meta match.Metadata) match.Match {
	t.Helper()
	m, err := match.New(id, score, "company", meta)
	if err != nil {
		t.Fatalf("match.New: %v", err)
	}
	return m
}

func ids(matches []match.Match) []string {
	out := make([]string, len(matches))
	for i := range matches {
		out[i] = matches[i].ID()
	}
	return out
}

func TestFuse_Deterministic(t *testing.T) {
	e := New(Options{Now: fixedNow})

	lists := [][]match.Match{
		{
			makeMatch(t, "b", 0.8, match.Metadata{}),
			makeMatch(t, "a", 0.8, match.Metadata{}),
		},
		{
			makeMatch(t, "c", 0.9, match.Metadata{}),
		},
	}

	first := ids(e.Fuse(lists, 0))
	second := ids(e.Fuse(lists, 0))

	if len(first) != 3 {
		t.Fatalf("expected 3 results, got %d", len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("non-deterministic ordering: %v vs %v", first, second)
		}
	}
	// Equal scores tie-break ascending by id.
	if first[0] != "c" || first[1] != "a" || first[2] != "b" {
		t.Errorf("expected [c a b], got %v", first)
	}
}

func TestFuse_DedupeKeepsHighestScore(t *testing.T) {
	e := New(Options{Now: fixedNow})

	lists := [][]match.Match{
		{makeMatch(t, "dup", 0.5, match.Metadata{})},
		{makeMatch(t, "dup", 0.9, match.Metadata{}), makeMatch(t, "other", 0.4, match.Metadata{})},
	}

	fused := e.Fuse(lists, 0)
	if len(fused) != 2 {
		t.Fatalf("expected 2 results after dedupe, got %d", len(fused))
	}
	if fused[0].ID() != "dup" {
		t.Fatalf("expected dup first, got %s", fused[0].ID())
	}
	if fused[0].Score() < 0.9 {
		t.Errorf("dedupe kept the lower score: %g", fused[0].Score())
	}

	seen := map[string]bool{}
	for _, m := range fused {
		if seen[m.ID()] {
			t.Fatalf("duplicate id %s in output", m.ID())
		}
		seen[m.ID()] = true
	}
}

func TestFuse_RecencyMonotonic(t *testing.T) {
	e := New(Options{Now: fixedNow})

	recent := testNow.AddDate(0, 0, -10)
	old := testNow.AddDate(-2, 0, 0)

	lists := [][]match.Match{{
		makeMatch(t, "old", 0.7, match.Metadata{RefDate: old}),
		makeMatch(t, "recent", 0.7, match.Metadata{RefDate: recent}),
	}}

	fused := e.Fuse(lists, 0)
	if fused[0].ID() != "recent" {
		t.Errorf("expected the more recent match to rank first, got %v", ids(fused))
	}
}

func TestFuse_DatelessGetsNoBoost(t *testing.T) {
	e := New(Options{Now: fixedNow})

	lists := [][]match.Match{{
		makeMatch(t, "dated", 0.7, match.Metadata{RefDate: testNow}),
		makeMatch(t, "dateless", 0.7, match.Metadata{}),
	}}

	fused := e.Fuse(lists, 0)
	if fused[0].ID() != "dated" {
		t.Fatalf("expected dated match first, got %v", ids(fused))
	}
	for _, m := range fused {
		if m.ID() == "dateless" && m.Score() != 0.7 {
			t.Errorf("dateless match score changed: %g", m.Score())
		}
	}
}

func TestFuse_PriorityBelowFloorIgnored(t *testing.T) {
	e := New(Options{Now: fixedNow})

	// Below the 0.35 floor the pinned weight (0.05) must not apply; with it,
	// pinned-weak (0.28+0.05) would overtake plain (0.3).
	lists := [][]match.Match{{
		makeMatch(t, "pinned-weak", 0.28, match.Metadata{Pinned: true}),
		makeMatch(t, "plain", 0.3, match.Metadata{}),
	}}

	fused := e.Fuse(lists, 0)
	if fused[0].ID() != "plain" {
		t.Errorf("priority applied below the floor: %v", ids(fused))
	}
}

func TestFuse_PriorityCappedByMaxGap(t *testing.T) {
	e := New(Options{
		Now:            fixedNow,
		PinnedWeight:   0.5,
		TypeWeights:    map[string]float64{"notice": 0.5},
		MaxPriorityGap: 0.1,
	})

	lists := [][]match.Match{{
		makeMatch(t, "boosted", 0.5, match.Metadata{Pinned: true, DocType: "notice"}),
		makeMatch(t, "strong", 0.7, match.Metadata{}),
	}}

	// Raw priority would be 1.0; capped at 0.1 so 0.5+0.1 < 0.7.
	fused := e.Fuse(lists, 0)
	if fused[0].ID() != "strong" {
		t.Errorf("priority exceeded the configured gap: %v", ids(fused))
	}
}

func TestFuse_TopKCut(t *testing.T) {
	e := New(Options{Now: fixedNow})

	lists := [][]match.Match{{
		makeMatch(t, "a", 0.9, match.Metadata{}),
		makeMatch(t, "b", 0.8, match.Metadata{}),
		makeMatch(t, "c", 0.7, match.Metadata{}),
	}}

	fused := e.Fuse(lists, 2)
	if len(fused) != 2 {
		t.Fatalf("expected 2 results, got %d", len(fused))
	}
	if fused[0].ID() != "a" || fused[1].ID() != "b" {
		t.Errorf("topK cut dropped the wrong matches: %v", ids(fused))
	}
}

func TestFuse_EmptyInput(t *testing.T) {
	e := New(Options{Now: fixedNow})
	if got := e.Fuse(nil, 10); len(got) != 0 {
		t.Errorf("expected empty output, got %d", len(got))
	}
	if got := e.Fuse([][]match.Match{{}, {}}, 10); len(got) != 0 {
		t.Errorf("expected empty output, got %d", len(got))
	}
}
