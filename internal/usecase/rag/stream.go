package rag

import (
	"context"

	"go.uber.org/zap"

	"github.com/fieldmate-ai/raggate/internal/domain/caller"
	"github.com/fieldmate-ai/raggate/internal/domain/match"
	"github.com/fieldmate-ai/raggate/internal/domain/query"
	"github.com/fieldmate-ai/raggate/internal/domain/stream"
	"github.com/fieldmate-ai/raggate/internal/logger"
)

// QueryStream runs the full pipeline incrementally, emitting lifecycle
// events in strict order: searching -> context -> generating -> chunk* ->
// done, or a terminal error after which nothing follows. The channel is
// always closed. Cancelling ctx stops upstream generation; no work dangles
// after the consumer is gone.
func (s *Service) QueryStream(
	ctx context.Context, c caller.Caller, req *query.Request,
) <-chan stream.Event {
	out := make(chan stream.Event)

	go func() {
		defer close(out)
		s.runStream(ctx, c, req, out)
	}()

	return out
}

func (s *Service) runStream(
	ctx context.Context, c caller.Caller, req *query.Request, out chan<- stream.Event,
) {
	log := logger.FromContext(ctx)

	if !emit(ctx, out, stream.Searching()) {
		return
	}

	rules := s.loadRules(ctx)

	if !req.SkipClarify() {
		if pre := s.detector.PreCheck(req.Text(), rules); pre.NeedsClarification {
			if emit(ctx, out, stream.Clarify(*pre.Clarification)) {
				emit(ctx, out, stream.Done())
			}
			return
		}
	}

	searched, err := s.Search(ctx, c, req)
	if err != nil {
		log.Error("Streaming search failed",
			zap.String("query_hash", query.Hash(req.Text())),
			zap.String("stage", "search"),
			zap.Error(err),
		)
		emit(ctx, out, stream.Error(err.Error()))
		return
	}

	if !emit(ctx, out, stream.Context(contextItems(searched.Matches))) {
		return
	}

	if !req.SkipClarify() {
		if post := s.detector.PostCheck(searched.Matches); post.NeedsClarification {
			if emit(ctx, out, stream.Clarify(*post.Clarification)) {
				emit(ctx, out, stream.Done())
			}
			return
		}
	}

	if !emit(ctx, out, stream.Generating()) {
		return
	}

	if len(searched.Matches) == 0 {
		if emit(ctx, out, stream.Chunk(s.cfg.NoContextAnswer)) {
			emit(ctx, out, stream.Done())
		}
		return
	}

	block := s.builder.Build(searched.Matches)

	// Generation gets the same deadline as the synchronous path. The timeout
	// covers the whole stream, not just the first fragment.
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	fragments, err := s.generator.GenerateStream(genCtx, s.prompt(req.Text(), block))
	if err != nil {
		log.Error("Streaming generation failed to start",
			zap.String("query_hash", query.Hash(req.Text())),
			zap.String("stage", "generate"),
			zap.Error(err),
		)
		emit(ctx, out, stream.Error(err.Error()))
		return
	}

	for frag := range fragments {
		if frag.Err != nil {
			log.Error("Streaming generation failed",
				zap.String("query_hash", query.Hash(req.Text())),
				zap.String("stage", "generate"),
				zap.Error(frag.Err),
			)
			emit(ctx, out, stream.Error(frag.Err.Error()))
			return
		}
		if !emit(ctx, out, stream.Chunk(frag.Text)) {
			// Consumer gone. The generator watches the same ctx and stops;
			// drain is unnecessary since its channel closes on cancel.
			return
		}
	}

	emit(ctx, out, stream.Done())
}

// emit delivers an event unless the consumer has cancelled.
func emit(ctx context.Context, out chan<- stream.Event, ev stream.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func contextItems(matches []match.Match) []stream.ContextItem {
	items := make([]stream.ContextItem, 0, len(matches))
	for i := range matches {
		m := &matches[i]
		meta := m.Meta()
		item := stream.ContextItem{
			PostID:   meta.DocID,
			Title:    meta.Title,
			Category: meta.Category,
			Score:    m.Score(),
		}
		if !meta.RefDate.IsZero() {
			item.Date = meta.RefDate.Format("2006-01-02")
		}
		items = append(items, item)
	}
	return items
}
