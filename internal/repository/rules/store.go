// Package rules loads ambiguity rules from the store and caches them in
// memory. Rules are mutated by administrators elsewhere; this side only reads.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldmate-ai/raggate/internal/domain"
	"github.com/fieldmate-ai/raggate/internal/domain/clarify"
)

var rulesKeyPrefix = domain.KeyPrefix + "rule:"

// DefaultTTL is how long a loaded rule set is considered fresh.
const DefaultTTL = 5 * time.Minute

// store is the consumer interface for rule loading.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Store is a read-mostly cache of ambiguity rules with last-known-good fallback.
type Store struct {
	store  store
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.RWMutex
	cached   []clarify.Rule
	loadedAt time.Time
	loaded   bool
}

// New creates a rule store. ttl <= 0 falls back to DefaultTTL.
func New(s store, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{store: s, ttl: ttl, logger: logger}
}

// Rules returns the current rule set, refreshing from the store when the
// cache has expired. A failed refresh keeps serving the last-known-good set;
// only a failure before any successful load surfaces an error.
func (s *Store) Rules(ctx context.Context) ([]clarify.Rule, error) {
	s.mu.RLock()
	fresh := s.loaded && time.Since(s.loadedAt) < s.ttl
	cached := s.cached
	s.mu.RUnlock()

	if fresh {
		return cached, nil
	}

	loaded, err := s.load(ctx)
	if err != nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.loaded {
			s.logger.Warn("Rule refresh failed, serving last-known-good",
				zap.Int("cached_rules", len(s.cached)),
				zap.Error(err),
			)
			return s.cached, nil
		}
		return nil, fmt.Errorf("load ambiguity rules: %w", err)
	}

	s.mu.Lock()
	s.cached = loaded
	s.loadedAt = time.Now()
	s.loaded = true
	s.mu.Unlock()

	return loaded, nil
}

func (s *Store) load(ctx context.Context) ([]clarify.Rule, error) {
	keys, err := s.store.Scan(ctx, rulesKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan rules: %w", err)
	}

	rules := make([]clarify.Rule, 0, len(keys))
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get rule %s: %w", key, err)
		}

		var r clarify.Rule
		if err := json.Unmarshal(data, &r); err != nil {
			// One malformed rule must not take down the whole set.
			s.logger.Warn("Skipping malformed ambiguity rule",
				zap.String("key", key), zap.Error(err))
			continue
		}
		rules = append(rules, r)
	}

	return rules, nil
}
