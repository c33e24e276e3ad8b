package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fieldmate-ai/raggate/internal/domain/match"
	"github.com/fieldmate-ai/raggate/internal/domain/stream"
)

func parseSSE(t *testing.T, body string) []stream.Event {
	t.Helper()
	var events []stream.Event
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("unmarshal event %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestChat_StreamLifecycle(t *testing.T) {
	s := newTestServer(t, serverDeps{
		vectors: &stubVectors{matches: []match.Match{companyMatch(t, "a", 0.9)}},
		gen:     &stubGenerator{text: "스트림 답변"},
	})

	w := httptest.NewRecorder()
	s.Chat(w, newRequest(t, http.MethodPost, "/chat", map[string]any{
		"query":   "FYC 지급일",
		"options": map[string]any{"stream": true},
	}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if !w.Flushed {
		t.Error("stream must be flushed")
	}

	events := parseSSE(t, w.Body.String())
	if len(events) < 4 {
		t.Fatalf("too few events: %+v", events)
	}
	if events[0].Type != stream.EventSearching {
		t.Errorf("first event = %s", events[0].Type)
	}
	if events[1].Type != stream.EventContext || len(events[1].Context) != 1 {
		t.Errorf("context event malformed: %+v", events[1])
	}
	if events[len(events)-1].Type != stream.EventDone {
		t.Errorf("last event = %s", events[len(events)-1].Type)
	}

	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == stream.EventChunk {
			sb.WriteString(ev.Chunk)
		}
	}
	if sb.String() != "스트림 답변" {
		t.Errorf("chunks = %q", sb.String())
	}
}

func TestChat_StreamValidationFailsBeforeStreaming(t *testing.T) {
	s := newTestServer(t, serverDeps{})

	w := httptest.NewRecorder()
	s.Chat(w, newRequest(t, http.MethodPost, "/chat", map[string]any{
		"query":   "",
		"options": map[string]any{"stream": true},
	}))

	// Validation happens before headers are committed: a plain JSON error.
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}
