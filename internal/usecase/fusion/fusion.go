// Package fusion merges per-namespace match lists into one deduplicated,
// reranked candidate set.
package fusion

import (
	"math"
	"sort"
	"time"

	"github.com/fieldmate-ai/raggate/internal/domain/match"
)

// Defaults for the rerank blend. The exact weighting between similarity and
// the priority signal is deliberately configurable; these defaults keep
// priority a bounded nudge, never an override of a clearly superior match.
const (
	DefaultHalfLife       = 180 * 24 * time.Hour
	DefaultMaxBoost       = 0.08
	DefaultPinnedWeight   = 0.05
	DefaultPriorityFloor  = 0.35
	DefaultMaxPriorityGap = 0.12
)

// Options tunes the fusion blend.
type Options struct {
	// HalfLife of the exponential recency decay: a document this old gets
	// half of MaxBoost.
	HalfLife time.Duration
	// MaxBoost is the score boost of a document dated "now". Matches without
	// a date receive no boost: neutral, not penalized.
	MaxBoost float64
	// PinnedWeight is the priority contribution of an explicitly pinned document.
	PinnedWeight float64
	// TypeWeights maps document types to additional priority contributions.
	TypeWeights map[string]float64
	// PriorityFloor: priority only applies to matches whose base similarity
	// is at least this value.
	PriorityFloor float64
	// MaxPriorityGap caps the total priority contribution, bounding how far
	// a prioritized match can climb over unprioritized ones.
	MaxPriorityGap float64
	// Now is the clock, injectable for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.HalfLife <= 0 {
		o.HalfLife = DefaultHalfLife
	}
	if o.MaxBoost <= 0 {
		o.MaxBoost = DefaultMaxBoost
	}
	if o.PinnedWeight <= 0 {
		o.PinnedWeight = DefaultPinnedWeight
	}
	if o.PriorityFloor <= 0 {
		o.PriorityFloor = DefaultPriorityFloor
	}
	if o.MaxPriorityGap <= 0 {
		o.MaxPriorityGap = DefaultMaxPriorityGap
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine fuses per-namespace result lists.
type Engine struct {
	opts Options
}

// New creates a fusion engine, applying defaults for unset options.
func New(opts Options) *Engine {
	return &Engine{opts: opts.withDefaults()}
}

// Fuse deduplicates, reranks, and merges the per-namespace lists into one
// ordered candidate set. Steps, in order: dedupe by chunk id keeping the
// highest-scoring instance, recency boost, bounded priority lift, final
// descending order with a stable tie-break by chunk id. topK <= 0 means no cut.
// The output ordering is a deterministic function of the input lists.
func (e *Engine) Fuse(lists [][]match.Match, topK int) []match.Match {
	deduped := e.dedupe(lists)

	fused := make([]match.Match, 0, len(deduped))
	for _, m := range deduped {
		fused = append(fused, m.WithScore(e.composite(&m)))
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score() != fused[j].Score() {
			return fused[i].Score() > fused[j].Score()
		}
		return fused[i].ID() < fused[j].ID()
	})

	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}

// dedupe collapses matches sharing a chunk id across namespaces, keeping the
// highest-scoring instance. The same logical chunk carries the same id in
// every namespace it is mirrored into.
func (e *Engine) dedupe(lists [][]match.Match) []match.Match {
	seen := make(map[string]int)
	out := make([]match.Match, 0)

	for _, list := range lists {
		for _, m := range list {
			idx, ok := seen[m.ID()]
			if !ok {
				seen[m.ID()] = len(out)
				out = append(out, m)
				continue
			}
			if m.Score() > out[idx].Score() {
				out[idx] = m
			}
		}
	}
	return out
}

// composite computes the effective sort key: boosted similarity plus a
// bounded priority lift.
func (e *Engine) composite(m *match.Match) float64 {
	score := m.Score() + e.recencyBoost(m.Meta().RefDate)

	if prio := e.priority(m); prio > 0 && m.Score() >= e.opts.PriorityFloor {
		score += math.Min(prio, e.opts.MaxPriorityGap)
	}
	return score
}

// recencyBoost decays exponentially with document age. A match without a
// date gets zero boost.
func (e *Engine) recencyBoost(refDate time.Time) float64 {
	if refDate.IsZero() {
		return 0
	}
	age := e.opts.Now().Sub(refDate)
	if age < 0 {
		age = 0
	}
	return e.opts.MaxBoost * math.Exp2(-age.Hours()/e.opts.HalfLife.Hours())
}

func (e *Engine) priority(m *match.Match) float64 {
	var prio float64
	meta := m.Meta()
	if meta.Pinned {
		prio += e.opts.PinnedWeight
	}
	if w, ok := e.opts.TypeWeights[meta.DocType]; ok {
		prio += w
	}
	return prio
}
