// Package portfolio builds immutable portfolio snapshots from exchange
// balances. A snapshot is produced once per decision cycle and never mutated
// in place; in-flight evaluations all see the same view.
package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crypto-trading-assistant/internal/exchange"
	"crypto-trading-assistant/internal/policy"

	"github.com/rs/zerolog"
)

// Holding is a single asset position inside a snapshot.
type Holding struct {
	Asset     string  `json:"asset"`
	Amount    float64 `json:"amount"`
	Value     float64 `json:"value"`     // in home currency
	Protected float64 `json:"protected"` // minimum quantity that may never be sold
}

// Snapshot is an immutable view of the portfolio for one decision cycle.
type Snapshot struct {
	ID          string             `json:"id"`
	Holdings    map[string]Holding `json:"holdings"`
	TotalValue  float64            `json:"total_value"`
	Allocations map[string]float64 `json:"allocations"` // asset -> percent of total
	TakenAt     time.Time          `json:"taken_at"`
}

// Holding returns the holding for an asset, zero-valued if absent.
func (s *Snapshot) Holding(asset string) Holding {
	if h, ok := s.Holdings[asset]; ok {
		return h
	}
	return Holding{Asset: asset}
}

// AllocationPercent returns the asset's share of total value in percent.
func (s *Snapshot) AllocationPercent(asset string) float64 {
	return s.Allocations[asset]
}

// Provider fetches balances from the exchange gateway and caches the
// resulting snapshot for the cycle TTL. Reads are freely concurrent.
type Provider struct {
	gateway exchange.Gateway
	ttl     time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	cached *Snapshot
}

// NewProvider creates a snapshot provider with the given cache TTL.
func NewProvider(gateway exchange.Gateway, ttl time.Duration, logger zerolog.Logger) *Provider {
	return &Provider{
		gateway: gateway,
		ttl:     ttl,
		logger:  logger.With().Str("component", "portfolio").Logger(),
	}
}

// Snapshot returns the current cycle snapshot, refreshing from the gateway
// when the cached one has expired. The policy supplies protected minimums.
func (p *Provider) Snapshot(ctx context.Context, pol policy.RiskPolicy) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && time.Since(p.cached.TakenAt) < p.ttl {
		return p.cached, nil
	}

	balances, err := p.gateway.GetPortfolio(ctx)
	if err != nil {
		if p.cached != nil {
			// Serve the stale snapshot rather than stall the cycle.
			p.logger.Warn().Err(err).Msg("portfolio refresh failed, serving cached snapshot")
			return p.cached, nil
		}
		return nil, fmt.Errorf("failed to fetch portfolio: %w", err)
	}

	snap := Build(balances, pol)
	p.cached = snap

	p.logger.Debug().
		Int("assets", len(snap.Holdings)).
		Float64("total_value", snap.TotalValue).
		Msg("portfolio snapshot refreshed")

	return snap, nil
}

// Invalidate drops the cached snapshot so the next call refreshes.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}

// Build assembles a snapshot from raw balances and the active policy.
func Build(balances []exchange.Balance, pol policy.RiskPolicy) *Snapshot {
	now := time.Now()
	snap := &Snapshot{
		ID:          fmt.Sprintf("pf-%d", now.UnixNano()),
		Holdings:    make(map[string]Holding, len(balances)),
		Allocations: make(map[string]float64, len(balances)),
		TakenAt:     now,
	}

	for _, b := range balances {
		snap.Holdings[b.Asset] = Holding{
			Asset:     b.Asset,
			Amount:    b.Amount,
			Value:     b.Value,
			Protected: pol.ProtectedReserve[b.Asset],
		}
		snap.TotalValue += b.Value
	}

	if snap.TotalValue > 0 {
		for asset, h := range snap.Holdings {
			snap.Allocations[asset] = h.Value / snap.TotalValue * 100
		}
	}

	return snap
}
