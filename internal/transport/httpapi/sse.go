package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/fieldmate-ai/raggate/internal/domain/caller"
	"github.com/fieldmate-ai/raggate/internal/domain/query"
	"github.com/fieldmate-ai/raggate/internal/domain/stream"
)

// chatStream adapts the pipeline's event channel to a server-sent event
// response. Each event is written as `data: <JSON>\n\n` and flushed
// immediately. Client disconnect cancels the request context, which stops
// the pipeline; the handler then just drains to the channel close.
func (s *Server) chatStream(w http.ResponseWriter, r *http.Request, c caller.Caller, q *query.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := s.pipeline.QueryStream(r.Context(), c, q)
	for ev := range events {
		if err := writeEvent(w, flusher, ev); err != nil {
			// Wire is gone; ctx cancellation shuts the producer down.
			s.logger.Debug("SSE write failed", zap.Error(err))
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev stream.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
