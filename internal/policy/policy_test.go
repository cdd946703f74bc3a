package policy

import (
	"errors"
	"testing"
)

func validPolicy() RiskPolicy {
	return RiskPolicy{
		MaxTradeAmount:            5000,
		MaxDailyVolume:            10000,
		MaxAssetAllocationPercent: 50,
		ProtectedReserve:          map[string]float64{"XRP": 1000},
		StopLossPercent:           5,
		TakeProfitPercent:         10,
		MaxTradesPerDay:           20,
		MaxConsecutiveLosses:      3,
		MinConfidence:             0.6,
		TradablePairs:             []string{"BTC/USDT", "XRP/USDT"},
	}
}

// ============================================================================
// TEST: Validation
// ============================================================================

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RiskPolicy)
	}{
		{"zero trade amount", func(p *RiskPolicy) { p.MaxTradeAmount = 0 }},
		{"negative daily volume", func(p *RiskPolicy) { p.MaxDailyVolume = -1 }},
		{"allocation over 100", func(p *RiskPolicy) { p.MaxAssetAllocationPercent = 150 }},
		{"allocation zero", func(p *RiskPolicy) { p.MaxAssetAllocationPercent = 0 }},
		{"confidence above 1", func(p *RiskPolicy) { p.MinConfidence = 1.5 }},
		{"negative confidence", func(p *RiskPolicy) { p.MinConfidence = -0.1 }},
		{"zero trades per day", func(p *RiskPolicy) { p.MaxTradesPerDay = 0 }},
		{"zero loss limit", func(p *RiskPolicy) { p.MaxConsecutiveLosses = 0 }},
		{"negative stop loss", func(p *RiskPolicy) { p.StopLossPercent = -1 }},
		{"negative reserve", func(p *RiskPolicy) { p.ProtectedReserve = map[string]float64{"XRP": -5} }},
		{"no pairs", func(p *RiskPolicy) { p.TradablePairs = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPolicy()
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("expected ErrInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestValidate_AcceptsGoodPolicy(t *testing.T) {
	if err := validPolicy().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIsTradable(t *testing.T) {
	p := validPolicy()
	if !p.IsTradable("BTC/USDT") {
		t.Error("expected BTC/USDT to be tradable")
	}
	if p.IsTradable("DOGE/USDT") {
		t.Error("expected DOGE/USDT to not be tradable")
	}
}

// ============================================================================
// TEST: Protected reserve startup check
// ============================================================================

func TestValidateReserves(t *testing.T) {
	p := validPolicy()
	held := map[string]float64{"XRP": 2000, "BTC": 0.5}

	if err := p.ValidateReserves([]string{"XRP"}, held); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// BTC is declared protected but has no reserve entry
	err := p.ValidateReserves([]string{"XRP", "BTC"}, held)
	if !errors.Is(err, ErrMissingReserve) {
		t.Errorf("expected ErrMissingReserve, got %v", err)
	}

	// protected asset not held at all needs no entry
	if err := p.ValidateReserves([]string{"ADA"}, held); err != nil {
		t.Errorf("unexpected error for unheld asset: %v", err)
	}
}

// ============================================================================
// TEST: Store isolation and atomic swap
// ============================================================================

func TestStore_UpdateValidatesAndSwaps(t *testing.T) {
	s, err := NewStore(validPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := validPolicy()
	bad.MaxTradeAmount = -1
	if err := s.Update(bad); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
	if s.Current().MaxTradeAmount != 5000 {
		t.Error("failed update must not change the active policy")
	}

	next := validPolicy()
	next.MaxTradeAmount = 2500
	if err := s.Update(next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Current().MaxTradeAmount != 2500 {
		t.Error("expected updated policy to be active")
	}
}

func TestStore_CurrentReturnsCopy(t *testing.T) {
	s, err := NewStore(validPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := s.Current()
	got.ProtectedReserve["XRP"] = 0
	got.TradablePairs[0] = "HACKED"

	fresh := s.Current()
	if fresh.ProtectedReserve["XRP"] != 1000 {
		t.Error("mutating a returned policy must not affect the store")
	}
	if fresh.TradablePairs[0] != "BTC/USDT" {
		t.Error("mutating a returned pair list must not affect the store")
	}
}
