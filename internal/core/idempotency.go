package core

import (
	"context"
	"fmt"

	"PoolIndexer/internal/observability"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DBIdempotencyChecker is the store-backed dedup lookup.
type DBIdempotencyChecker interface {
	HasEvent(ctx context.Context, key string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication by txHash:logIndex.
// Not thread-safe; only accessed from the single-threaded core.
type IdempotencyChecker struct {
	// Tier 1: in-memory LRU
	lru *lru.Cache[string, struct{}]

	// Tier 2: the store's event log
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) (*IdempotencyChecker, error) {
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("create dedup lru: %w", err)
	}
	return &IdempotencyChecker{
		lru:       cache,
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// IsDuplicate checks whether an event key was already applied.
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, eventType, key string) bool {
	if ic.lru.Contains(key) {
		ic.recordDuplicate(eventType, "lru")
		return true
	}

	if ic.dbChecker == nil {
		return false
	}

	isDup, err := ic.dbChecker.HasEvent(ctx, key)
	if err != nil {
		// Treat as new. The event-log row is committed with the entity
		// writes, so a real duplicate fails at commit instead.
		ic.logger.Warn().Err(err).Str("key", key).Msg("tier-2 dedup lookup failed")
		if ic.metrics != nil {
			ic.metrics.PersistErrors.WithLabelValues("dedup_lookup").Inc()
		}
		return false
	}
	if isDup {
		ic.recordDuplicate(eventType, "store")
		ic.lru.Add(key, struct{}{})
		return true
	}
	return false
}

// MarkProcessed adds key to the LRU after a successful commit.
func (ic *IdempotencyChecker) MarkProcessed(key string) {
	ic.lru.Add(key, struct{}{})
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Len()))
	}
}

// Warm loads recently applied keys into the LRU.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.lru.Add(key, struct{}{})
	}
}

func (ic *IdempotencyChecker) recordDuplicate(eventType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}
