// Package stream defines the ordered lifecycle events emitted during a
// streaming RAG response. Events are produced and consumed within a single
// request and never persisted.
package stream

import "github.com/fieldmate-ai/raggate/internal/domain/clarify"

// EventType discriminates the streaming event union.
type EventType string

// Streaming lifecycle event types, emitted in strict order:
// searching -> context -> generating -> chunk* -> done, or a terminal error.
const (
	EventSearching     EventType = "searching"
	EventContext       EventType = "context"
	EventGenerating    EventType = "generating"
	EventChunk         EventType = "chunk"
	EventClarification EventType = "clarification"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// ContextItem summarizes one retrieved source in the context event payload.
type ContextItem struct {
	PostID   string  `json:"postId"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	Date     string  `json:"date,omitempty"`
	Score    float64 `json:"score"`
}

// Event is one tagged streaming event. Exactly one payload field is set,
// matching the Type discriminator.
type Event struct {
	Type          EventType              `json:"type"`
	Context       []ContextItem          `json:"context,omitempty"`
	Chunk         string                 `json:"chunk,omitempty"`
	Clarification *clarify.Clarification `json:"clarification,omitempty"`
	Message       string                 `json:"message,omitempty"`
}

// Searching creates the initial lifecycle event.
func Searching() Event { return Event{Type: EventSearching} }

// Context creates the retrieved-sources event.
func Context(items []ContextItem) Event { return Event{Type: EventContext, Context: items} }

// Generating creates the generation-started event.
func Generating() Event { return Event{Type: EventGenerating} }

// Chunk creates a text-fragment event.
func Chunk(text string) Event { return Event{Type: EventChunk, Chunk: text} }

// Clarify creates a clarification event (the stream then finishes with Done).
func Clarify(c clarify.Clarification) Event {
	return Event{Type: EventClarification, Clarification: &c}
}

// Done creates the successful terminal event.
func Done() Event { return Event{Type: EventDone} }

// Error creates the failure terminal event. No events follow it.
func Error(msg string) Event { return Event{Type: EventError, Message: msg} }
