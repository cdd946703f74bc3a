// Package cache provides Redis-backed signal deduplication and a hot list
// of recent decisions for the dashboard. Redis is an accelerator, not a
// source of truth: when it is unavailable every operation degrades
// gracefully and callers fall back to in-memory or database paths.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"crypto-trading-assistant/internal/engine"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Key layouts.
const (
	keySignalSeen      = "signal:seen:%s"   // signal key -> 1
	keyRecentDecisions = "decisions:recent" // LPUSH list of decision JSON
)

// Default TTLs and bounds.
const (
	signalSeenTTL   = 24 * time.Hour
	recentListLimit = 200
	maxFailures     = 3
	recoveryBackoff = 30 * time.Second
)

// Service wraps the Redis client with a small health gate so repeated
// failures stop hammering a dead server.
type Service struct {
	client *redis.Client
	logger zerolog.Logger

	mu           sync.Mutex
	failureCount int
	downSince    time.Time

	// In-memory dedup fallback used while Redis is unavailable, so
	// duplicate signals are still suppressed within the process.
	seenFallback map[string]time.Time
}

// Config holds the Redis connection settings.
type Config struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// NewService connects to Redis and verifies connectivity. A nil Service is
// valid and means "no cache"; callers treat it as always-degraded.
func NewService(cfg Config, logger zerolog.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return &Service{
		client:       client,
		logger:       logger.With().Str("component", "cache").Logger(),
		seenFallback: make(map[string]time.Time),
	}, nil
}

// MarkSignalSeen records a signal key and reports whether it was new.
// Duplicate (pair, generated_at) deliveries return false and must be treated
// as no-ops by the caller.
func (s *Service) MarkSignalSeen(ctx context.Context, key string) bool {
	if s == nil || !s.healthy() {
		return s.markSeenFallback(key)
	}

	ok, err := s.client.SetNX(ctx, fmt.Sprintf(keySignalSeen, key), 1, signalSeenTTL).Result()
	if err != nil {
		s.recordFailure(err)
		return s.markSeenFallback(key)
	}
	s.recordSuccess()
	return ok
}

// PushDecision prepends a decision to the bounded recent list.
func (s *Service) PushDecision(ctx context.Context, d engine.Decision) {
	if s == nil || !s.healthy() {
		return
	}

	payload, err := json.Marshal(d)
	if err != nil {
		s.logger.Error().Err(err).Str("decision_id", d.ID).Msg("failed to marshal decision for cache")
		return
	}

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, keyRecentDecisions, payload)
	pipe.LTrim(ctx, keyRecentDecisions, 0, recentListLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		s.recordFailure(err)
		return
	}
	s.recordSuccess()
}

// RecentDecisions returns up to limit cached decisions, newest first.
// A nil slice with nil error means the cache has nothing usable and the
// caller should query the durable store.
func (s *Service) RecentDecisions(ctx context.Context, limit int) ([]engine.Decision, error) {
	if s == nil || !s.healthy() {
		return nil, nil
	}
	if limit <= 0 || limit > recentListLimit {
		limit = recentListLimit
	}

	raw, err := s.client.LRange(ctx, keyRecentDecisions, 0, int64(limit-1)).Result()
	if err != nil {
		s.recordFailure(err)
		return nil, nil
	}
	s.recordSuccess()

	out := make([]engine.Decision, 0, len(raw))
	for _, item := range raw {
		var d engine.Decision
		if err := json.Unmarshal([]byte(item), &d); err != nil {
			s.logger.Warn().Err(err).Msg("dropping unparseable cached decision")
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Close releases the Redis connection.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Service) healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failureCount < maxFailures {
		return true
	}
	if time.Since(s.downSince) > recoveryBackoff {
		// Let one request through to probe recovery.
		s.failureCount = maxFailures - 1
		return true
	}
	return false
}

func (s *Service) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failureCount++
	if s.failureCount == maxFailures {
		s.downSince = time.Now()
		s.logger.Warn().Err(err).Msg("redis marked unhealthy, degrading to fallbacks")
	}
}

func (s *Service) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount = 0
}

func (s *Service) markSeenFallback(key string) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-signalSeenTTL)
	for k, seen := range s.seenFallback {
		if seen.Before(cutoff) {
			delete(s.seenFallback, k)
		}
	}

	if _, dup := s.seenFallback[key]; dup {
		return false
	}
	s.seenFallback[key] = time.Now()
	return true
}
