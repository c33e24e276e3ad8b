package raggate

// Caller identifies the end user on whose behalf the client queries.
// It is forwarded as identity headers; Role is required by the server.
type Caller struct {
	Role       string
	Tier       string
	Clearance  int
	EmployeeID string
	Department string
	Region     string
}

// Filter narrows retrieval by document metadata.
type Filter struct {
	Category string `json:"category,omitempty"`
	DocType  string `json:"docType,omitempty"`
}

// QueryOptions tunes a single search or chat call. The zero value uses
// server-side defaults.
type QueryOptions struct {
	TopK        int     `json:"topK,omitempty"`
	Namespace   string  `json:"namespace,omitempty"`
	Filters     *Filter `json:"filters,omitempty"`
	SkipClarify bool    `json:"skipClarify,omitempty"`
}

// Match is one retrieved chunk.
type Match struct {
	ID        string  `json:"id"`
	Score     float64 `json:"score"`
	Namespace string  `json:"namespace"`
	DocID     string  `json:"docId"`
	Title     string  `json:"title"`
	Category  string  `json:"category,omitempty"`
	DocType   string  `json:"docType,omitempty"`
	Date      string  `json:"date,omitempty"`
	Content   string  `json:"content"`
}

// SearchStats reports retrieval-side measurements.
type SearchStats struct {
	Namespaces  []string `json:"namespaces"`
	Candidates  int      `json:"candidates"`
	Returned    int      `json:"returned"`
	EmbedTokens int      `json:"embedTokens"`
	TookMS      int64    `json:"tookMs"`
}

// SearchResult is the /search response.
type SearchResult struct {
	Results []Match     `json:"results"`
	Stats   SearchStats `json:"stats"`
}

// Source is one document cited by a generated answer.
type Source struct {
	DocID string  `json:"docId"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// ClarifyOption is one suggested disambiguation choice.
type ClarifyOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Clarification is a follow-up question returned instead of an answer.
type Clarification struct {
	Question string          `json:"question"`
	Options  []ClarifyOption `json:"options,omitempty"`
	Reason   string          `json:"reason"`
}

// ChatStats extends SearchStats with generation-side measurements.
type ChatStats struct {
	SearchStats
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// ChatResult is the non-streaming /chat response. Either Clarification is set
// (and Answer empty), or Answer/Sources are set.
type ChatResult struct {
	Answer        string         `json:"answer,omitempty"`
	Sources       []Source       `json:"sources,omitempty"`
	Clarification *Clarification `json:"clarification,omitempty"`
	Stats         ChatStats      `json:"stats"`
}

// EventType discriminates streaming chat events.
type EventType string

// Streaming event types, in emission order.
const (
	EventSearching     EventType = "searching"
	EventContext       EventType = "context"
	EventGenerating    EventType = "generating"
	EventChunk         EventType = "chunk"
	EventClarification EventType = "clarification"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// ContextItem summarizes one retrieved source in the context event.
type ContextItem struct {
	PostID   string  `json:"postId"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	Date     string  `json:"date,omitempty"`
	Score    float64 `json:"score"`
}

// Event is one streaming chat event. Err is set only for transport-level
// failures (broken stream, malformed payload), never by the server.
type Event struct {
	Type          EventType      `json:"type"`
	Context       []ContextItem  `json:"context,omitempty"`
	Chunk         string         `json:"chunk,omitempty"`
	Clarification *Clarification `json:"clarification,omitempty"`
	Message       string         `json:"message,omitempty"`
	Err           error          `json:"-"`
}
