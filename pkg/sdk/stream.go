package raggate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ChatStream runs the full pipeline and returns the server's lifecycle events
// as they arrive. The channel closes after a done or error event, or after a
// transport failure delivered as a final Event with Err set. Cancel ctx to
// abandon the stream early.
func (c *Client) ChatStream(ctx context.Context, query string, opts *QueryOptions) (<-chan Event, error) {
	resp, err := c.post(ctx, "/chat", query, opts, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		readEvents(ctx, resp.Body, out)
	}()
	return out, nil
}

// readEvents parses `data: <JSON>` lines separated by blank lines.
func readEvents(ctx context.Context, body io.Reader, out chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			deliver(ctx, out, Event{Type: EventError, Err: fmt.Errorf("raggate: malformed event: %w", err)})
			return
		}
		if !deliver(ctx, out, ev) {
			return
		}
		if ev.Type == EventDone || ev.Type == EventError {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		deliver(ctx, out, Event{Type: EventError, Err: fmt.Errorf("raggate: stream broken: %w", err)})
	}
}

func deliver(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
