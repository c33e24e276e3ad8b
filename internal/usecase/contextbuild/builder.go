// Package contextbuild assembles the prompt context from ranked candidates
// under a size budget.
package contextbuild

import (
	"strings"

	"github.com/fieldmate-ai/raggate/internal/domain/match"
)

// DefaultBudget is the default context size in runes.
const DefaultBudget = 8000

const entrySeparator = "\n\n---\n\n"

// Source is one included reference, emitted for citation.
type Source struct {
	DocID string  `json:"docId"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// ContextBlock is the assembled prompt context plus its citations.
type ContextBlock struct {
	Text    string
	Sources []Source
}

// Builder assembles context blocks under a rune budget.
type Builder struct {
	budget int
}

// New creates a context builder. budget <= 0 falls back to DefaultBudget.
func New(budget int) *Builder {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Builder{budget: budget}
}

// Build greedily includes candidates in ranked order until the budget would
// be exceeded. A candidate is never split across the boundary: the boundary
// candidate is truncated to the remaining budget and ends inclusion, except
// a candidate that alone exceeds the entire budget is dropped and the next
// one considered. Sources list exactly the included candidates, in order.
func (b *Builder) Build(candidates []match.Match) ContextBlock {
	var (
		sb        strings.Builder
		sources   []Source
		remaining = b.budget
	)

	for i := range candidates {
		m := &candidates[i]
		if remaining <= 0 {
			break
		}

		entry := formatEntry(m)
		runes := []rune(entry)
		sep := 0
		if len(sources) > 0 {
			sep = len([]rune(entrySeparator))
		}

		switch {
		case sep+len(runes) <= remaining:
			if sep > 0 {
				sb.WriteString(entrySeparator)
			}
			sb.WriteString(entry)
			remaining -= sep + len(runes)
			sources = append(sources, sourceOf(m))

		case len(runes) > b.budget:
			// Oversized even for an empty context: skip, try the next one.
			continue

		default:
			// Boundary candidate: truncate to fit, then stop.
			keep := remaining - sep
			if keep <= 0 {
				break
			}
			if sep > 0 {
				sb.WriteString(entrySeparator)
			}
			sb.WriteString(string(runes[:keep]))
			remaining = 0
			sources = append(sources, sourceOf(m))
		}

		if remaining == 0 {
			break
		}
	}

	return ContextBlock{Text: sb.String(), Sources: sources}
}

func formatEntry(m *match.Match) string {
	meta := m.Meta()
	if meta.Title == "" {
		return meta.Content
	}
	return "[" + meta.Title + "]\n" + meta.Content
}

func sourceOf(m *match.Match) Source {
	return Source{DocID: m.Meta().DocID, Title: m.Meta().Title, Score: m.Score()}
}
