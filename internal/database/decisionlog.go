package database

import (
	"context"

	"crypto-trading-assistant/internal/cache"
	"crypto-trading-assistant/internal/engine"

	"github.com/rs/zerolog"
)

// DecisionLog persists decisions to Postgres and mirrors them into the
// Redis recent list. Reads prefer the cache and fall back to the database
// when the cache is degraded or short. Implements engine.DecisionLog.
type DecisionLog struct {
	repo   *Repository
	cache  *cache.Service
	logger zerolog.Logger
}

// NewDecisionLog creates a decision log. cache may be nil.
func NewDecisionLog(repo *Repository, cache *cache.Service, logger zerolog.Logger) *DecisionLog {
	return &DecisionLog{
		repo:   repo,
		cache:  cache,
		logger: logger.With().Str("component", "decision_log").Logger(),
	}
}

// Append writes the decision to the database, then best-effort to the cache.
func (l *DecisionLog) Append(ctx context.Context, d engine.Decision) error {
	if err := l.repo.InsertDecision(ctx, d); err != nil {
		return err
	}
	l.cache.PushDecision(ctx, d)
	return nil
}

// Recent serves from the cache when it has enough entries, otherwise from
// the database.
func (l *DecisionLog) Recent(ctx context.Context, limit int) ([]engine.Decision, error) {
	if limit <= 0 {
		limit = 50
	}

	cached, err := l.cache.RecentDecisions(ctx, limit)
	if err == nil && len(cached) >= limit {
		return cached, nil
	}
	if err != nil {
		l.logger.Debug().Err(err).Msg("cache read failed, falling back to database")
	}

	return l.repo.RecentDecisions(ctx, limit)
}
