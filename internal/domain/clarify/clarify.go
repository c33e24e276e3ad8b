// Package clarify models ambiguity rules and the clarification returned
// when a query's intent cannot be resolved without asking the user.
package clarify

// Reason reports which ambiguity check fired.
type Reason string

// Ambiguity decision reasons.
const (
	ReasonNone         Reason = "none"
	ReasonKeyword      Reason = "keyword_match"
	ReasonDistribution Reason = "result_distribution"
)

// Option is one presentable choice in a clarification.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Rule maps trigger keywords to competing document types and a clarification
// question. Rules live in an external store and are read-only for the pipeline.
type Rule struct {
	ID       string   `json:"id"`
	Keywords []string `json:"keywords"`
	DocTypes []string `json:"doc_types"`
	Question string   `json:"question"`
	Options  []Option `json:"options"`
}

// Clarification is the structured follow-up question returned instead of an answer.
type Clarification struct {
	Question string   `json:"question"`
	Options  []Option `json:"options"`
	Reason   Reason   `json:"reason"`
}
