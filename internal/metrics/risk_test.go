package metrics

import (
	"math"
	"testing"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

// ============================================================================
// TEST: Value at risk
// ============================================================================

func TestValueAtRisk(t *testing.T) {
	if v := valueAtRisk(nil); v != 0 {
		t.Errorf("expected zero VaR with no history, got %.2f", v)
	}

	// all-profit history has no loss tail
	if v := valueAtRisk([]float64{10, 20, 30}); v != 0 {
		t.Errorf("expected zero VaR for all-profit history, got %.2f", v)
	}

	// the worst day sits in the 5% tail of a 20-day history
	pnl := make([]float64, 20)
	for i := range pnl {
		pnl[i] = 10
	}
	pnl[7] = -500
	v := valueAtRisk(pnl)
	if !floatEquals(v, 500, 1e-9) {
		t.Errorf("expected VaR 500, got %.2f", v)
	}
}

// ============================================================================
// TEST: Sharpe ratio
// ============================================================================

func TestSharpe(t *testing.T) {
	if s := sharpe([]float64{5}); s != 0 {
		t.Errorf("expected zero sharpe for a single sample, got %.2f", s)
	}
	if s := sharpe([]float64{5, 5, 5}); s != 0 {
		t.Errorf("expected zero sharpe for zero volatility, got %.2f", s)
	}

	if s := sharpe([]float64{10, 20, 15, 25}); s <= 0 {
		t.Errorf("expected positive sharpe for profitable history, got %.2f", s)
	}
	if s := sharpe([]float64{-10, -20, -15, -25}); s >= 0 {
		t.Errorf("expected negative sharpe for losing history, got %.2f", s)
	}
}

// ============================================================================
// TEST: Diversification
// ============================================================================

func TestDiversification(t *testing.T) {
	// single asset at 100% is fully concentrated
	if d := diversification(map[string]float64{"BTC": 100}); !floatEquals(d, 0, 1e-9) {
		t.Errorf("expected 0 for single asset, got %.4f", d)
	}

	// four equal assets: 1 - 4*(0.25^2) = 0.75
	even := map[string]float64{"BTC": 25, "ETH": 25, "XRP": 25, "USDT": 25}
	if d := diversification(even); !floatEquals(d, 0.75, 1e-9) {
		t.Errorf("expected 0.75 for even split, got %.4f", d)
	}

	if d := diversification(nil); d != 0 {
		t.Errorf("expected 0 for empty portfolio, got %.4f", d)
	}
}

// ============================================================================
// TEST: Composite score and recommendations
// ============================================================================

func TestCompute_ConcentratedLosingPortfolio(t *testing.T) {
	pnl := []float64{-200, -300, -150, -250, -100, -350, -200, -300, -150, -250,
		-100, -350, -200, -300, -150, -250, -100, -350, -200, -500}
	allocations := map[string]float64{"BTC": 95, "USDT": 5}

	m := Compute(pnl, allocations, 10000)

	if m.PortfolioVaR <= 0 {
		t.Errorf("expected positive VaR, got %.2f", m.PortfolioVaR)
	}
	if m.SharpeRatio >= 0 {
		t.Errorf("expected negative sharpe, got %.2f", m.SharpeRatio)
	}
	if m.RiskScore < 50 {
		t.Errorf("expected high risk score, got %.1f", m.RiskScore)
	}
	if len(m.Recommendations) == 0 {
		t.Fatal("expected recommendations for a risky portfolio")
	}
}

func TestCompute_CalmPortfolio(t *testing.T) {
	pnl := []float64{10, 12, 8, 15, 11, 9, 14, 10, 13, 12}
	allocations := map[string]float64{"BTC": 30, "ETH": 25, "XRP": 20, "USDT": 25}

	m := Compute(pnl, allocations, 50000)

	if m.RiskScore > 30 {
		t.Errorf("expected low risk score, got %.1f", m.RiskScore)
	}
	if len(m.Recommendations) != 1 || m.Recommendations[0] != "Risk profile is within configured limits" {
		t.Errorf("expected the all-clear recommendation, got %v", m.Recommendations)
	}
	if m.RiskScore < 0 || m.RiskScore > 100 {
		t.Errorf("risk score out of range: %.1f", m.RiskScore)
	}
}
