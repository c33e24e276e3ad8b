// Package ambiguity decides whether a query is multi-intent and needs a
// clarification from the user before an answer can be generated.
//
// The two checks run at different pipeline stages and never together on the
// same request: PreCheck fires before search and short-circuits the pipeline,
// so PostCheck only ever sees queries the pre-check already passed.
package ambiguity

import (
	"sort"
	"strings"

	"github.com/fieldmate-ai/raggate/internal/domain/clarify"
	"github.com/fieldmate-ai/raggate/internal/domain/match"
)

// Defaults for the distribution post-check.
const (
	DefaultScoreThreshold    = 0.15
	DefaultMinResultsPerType = 2
)

// Config tunes the detector. Zero values fall back to the defaults above.
type Config struct {
	// ScoreThreshold: two doc types are competing when the runner-up's top
	// score is within this fraction of the leader's top score.
	ScoreThreshold float64
	// MinResultsPerType: a doc type only competes with at least this many matches.
	MinResultsPerType int
	// BypassKeywords short-circuit ambiguity entirely: an unambiguous strong
	// signal always wins over a weak competing-keyword match.
	BypassKeywords []string
	// DistributionQuestion is asked when only the post-check fires.
	DistributionQuestion string
}

// Decision is the detector's combined verdict.
type Decision struct {
	NeedsClarification bool
	Reason             clarify.Reason
	Clarification      *clarify.Clarification
}

// Detector is a pure function of (query, rules, optional results) -> Decision.
type Detector struct {
	cfg Config
}

// New creates a detector, applying defaults for unset config fields.
func New(cfg Config) *Detector {
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = DefaultScoreThreshold
	}
	if cfg.MinResultsPerType <= 0 {
		cfg.MinResultsPerType = DefaultMinResultsPerType
	}
	if cfg.DistributionQuestion == "" {
		cfg.DistributionQuestion = "어떤 유형의 자료를 찾으시나요?"
	}
	return &Detector{cfg: cfg}
}

// PreCheck scans the normalized query text against the rules before search.
// A bypass keyword disables ambiguity regardless of competing keywords.
func (d *Detector) PreCheck(queryText string, rules []clarify.Rule) Decision {
	norm := normalize(queryText)

	for _, kw := range d.cfg.BypassKeywords {
		if kw != "" && strings.Contains(norm, normalize(kw)) {
			return Decision{Reason: clarify.ReasonNone}
		}
	}

	for _, rule := range rules {
		if len(rule.DocTypes) < 2 {
			continue
		}
		for _, kw := range rule.Keywords {
			if kw == "" || !strings.Contains(norm, normalize(kw)) {
				continue
			}
			return Decision{
				NeedsClarification: true,
				Reason:             clarify.ReasonKeyword,
				Clarification: &clarify.Clarification{
					Question: rule.Question,
					Options:  rule.Options,
					Reason:   clarify.ReasonKeyword,
				},
			}
		}
	}

	return Decision{Reason: clarify.ReasonNone}
}

// PostCheck inspects the score distribution of search results after search.
// Two or more doc types compete when each contributes minResultsPerType
// matches and the runner-up's top score is within scoreThreshold of the
// leader's, i.e. no clearly dominant type.
func (d *Detector) PostCheck(matches []match.Match) Decision {
	type typeStats struct {
		docType string
		count   int
		top     float64
	}

	byType := make(map[string]*typeStats)
	for i := range matches {
		m := &matches[i]
		dt := m.Meta().DocType
		if dt == "" {
			continue
		}
		st, ok := byType[dt]
		if !ok {
			st = &typeStats{docType: dt}
			byType[dt] = st
		}
		st.count++
		if m.Score() > st.top {
			st.top = m.Score()
		}
	}

	competing := make([]*typeStats, 0, len(byType))
	for _, st := range byType {
		if st.count >= d.cfg.MinResultsPerType {
			competing = append(competing, st)
		}
	}
	if len(competing) < 2 {
		return Decision{Reason: clarify.ReasonNone}
	}

	sort.Slice(competing, func(i, j int) bool {
		if competing[i].top != competing[j].top {
			return competing[i].top > competing[j].top
		}
		return competing[i].docType < competing[j].docType
	})

	leader, runnerUp := competing[0], competing[1]
	if leader.top <= 0 || runnerUp.top < leader.top*(1-d.cfg.ScoreThreshold) {
		return Decision{Reason: clarify.ReasonNone}
	}

	options := make([]clarify.Option, 0, len(competing))
	for _, st := range competing {
		options = append(options, clarify.Option{Label: st.docType, Value: st.docType})
	}

	return Decision{
		NeedsClarification: true,
		Reason:             clarify.ReasonDistribution,
		Clarification: &clarify.Clarification{
			Question: d.cfg.DistributionQuestion,
			Options:  options,
			Reason:   clarify.ReasonDistribution,
		},
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
