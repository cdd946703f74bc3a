// Package policy holds the risk-policy configuration consumed by the
// decision engine. The policy is data: it is never mutated by the engine
// itself, only through an explicit validated update.
package policy

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidPolicy is returned when a policy update fails validation.
	ErrInvalidPolicy = errors.New("invalid risk policy")
	// ErrMissingReserve is returned at startup when a held protected asset
	// has no protected-reserve entry.
	ErrMissingReserve = errors.New("missing protected-reserve entry")
)

// RiskPolicy is the full set of risk parameters applied to every decision.
type RiskPolicy struct {
	MaxTradeAmount            float64            `json:"max_trade_amount"`
	MaxDailyVolume            float64            `json:"max_daily_volume"`
	MaxAssetAllocationPercent float64            `json:"max_asset_allocation_percent"`
	ProtectedReserve          map[string]float64 `json:"protected_reserve"` // asset -> minimum quantity
	StopLossPercent           float64            `json:"stop_loss_percent"`
	TakeProfitPercent         float64            `json:"take_profit_percent"`
	MaxTradesPerDay           int                `json:"max_trades_per_day"`
	MaxConsecutiveLosses      int                `json:"max_consecutive_losses"`
	MinConfidence             float64            `json:"min_confidence"`
	TradablePairs             []string           `json:"tradable_pairs"`
}

// Validate checks that every cap is positive and every percentage in range.
func (p RiskPolicy) Validate() error {
	if p.MaxTradeAmount <= 0 {
		return fmt.Errorf("%w: max_trade_amount must be positive, got %.2f", ErrInvalidPolicy, p.MaxTradeAmount)
	}
	if p.MaxDailyVolume <= 0 {
		return fmt.Errorf("%w: max_daily_volume must be positive, got %.2f", ErrInvalidPolicy, p.MaxDailyVolume)
	}
	if p.MaxAssetAllocationPercent <= 0 || p.MaxAssetAllocationPercent > 100 {
		return fmt.Errorf("%w: max_asset_allocation_percent must be in (0,100], got %.2f", ErrInvalidPolicy, p.MaxAssetAllocationPercent)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence must be in [0,1], got %.2f", ErrInvalidPolicy, p.MinConfidence)
	}
	if p.MaxTradesPerDay <= 0 {
		return fmt.Errorf("%w: max_trades_per_day must be positive, got %d", ErrInvalidPolicy, p.MaxTradesPerDay)
	}
	if p.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("%w: max_consecutive_losses must be positive, got %d", ErrInvalidPolicy, p.MaxConsecutiveLosses)
	}
	if p.StopLossPercent < 0 || p.TakeProfitPercent < 0 {
		return fmt.Errorf("%w: stop-loss and take-profit percentages cannot be negative", ErrInvalidPolicy)
	}
	for asset, min := range p.ProtectedReserve {
		if min < 0 {
			return fmt.Errorf("%w: protected reserve for %s cannot be negative", ErrInvalidPolicy, asset)
		}
	}
	if len(p.TradablePairs) == 0 {
		return fmt.Errorf("%w: at least one tradable pair is required", ErrInvalidPolicy)
	}
	return nil
}

// IsTradable reports whether the pair is configured for trading.
func (p RiskPolicy) IsTradable(pair string) bool {
	for _, tp := range p.TradablePairs {
		if tp == pair {
			return true
		}
	}
	return false
}

// ValidateReserves verifies that every asset declared protected and actually
// held has a reserve quantity in the policy. Held quantities come from the
// latest portfolio snapshot. A failure here is fatal at startup, not a
// per-decision condition.
func (p RiskPolicy) ValidateReserves(protected []string, held map[string]float64) error {
	for _, asset := range protected {
		if held[asset] <= 0 {
			// A protected asset that is not held needs no reserve yet.
			continue
		}
		if _, ok := p.ProtectedReserve[asset]; !ok {
			return fmt.Errorf("%w: asset %s is held and protected but has no reserve quantity", ErrMissingReserve, asset)
		}
	}
	return nil
}

// clone returns a deep copy so callers can never alias the stored maps.
func (p RiskPolicy) clone() RiskPolicy {
	cp := p
	cp.ProtectedReserve = make(map[string]float64, len(p.ProtectedReserve))
	for k, v := range p.ProtectedReserve {
		cp.ProtectedReserve[k] = v
	}
	cp.TradablePairs = append([]string(nil), p.TradablePairs...)
	return cp
}

// Store holds the current policy and serializes updates.
type Store struct {
	mu      sync.RWMutex
	current RiskPolicy
}

// NewStore creates a policy store, validating the initial policy.
func NewStore(initial RiskPolicy) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Store{current: initial.clone()}, nil
}

// Current returns a copy of the active policy.
func (s *Store) Current() RiskPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Update replaces the active policy after validation. This is the only
// mutation path.
func (s *Store) Update(next RiskPolicy) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = next.clone()
	return nil
}
