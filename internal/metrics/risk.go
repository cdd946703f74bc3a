package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// RiskMetrics is the dashboard's risk overview, computed from realized trade
// history and the current allocation mix, never simulated.
type RiskMetrics struct {
	RiskScore            float64  `json:"risk_score"`            // 0 (calm) .. 100 (critical)
	PortfolioVaR         float64  `json:"portfolio_var"`         // 95% one-day value at risk, home currency
	SharpeRatio          float64  `json:"sharpe_ratio"`          // annualized
	DiversificationScore float64  `json:"diversification_score"` // 0 (concentrated) .. 1 (spread)
	Recommendations      []string `json:"recommendations"`
}

// Compute derives risk metrics from daily P&L history and the allocation
// percentages of the current portfolio snapshot. dailyPnL carries one entry
// per trading day, oldest first.
func Compute(dailyPnL []float64, allocations map[string]float64, totalValue float64) RiskMetrics {
	m := RiskMetrics{
		PortfolioVaR:         valueAtRisk(dailyPnL),
		SharpeRatio:          sharpe(dailyPnL),
		DiversificationScore: diversification(allocations),
	}
	m.RiskScore = riskScore(m, totalValue)
	m.Recommendations = recommend(m, totalValue)
	return m
}

// valueAtRisk returns the 95% historical one-day VaR as a positive loss
// amount. With no loss history the VaR is zero.
func valueAtRisk(dailyPnL []float64) float64 {
	if len(dailyPnL) == 0 {
		return 0
	}
	sorted := append([]float64(nil), dailyPnL...)
	sort.Float64s(sorted)
	q := stat.Quantile(0.05, stat.Empirical, sorted, nil)
	if q >= 0 {
		return 0
	}
	return -q
}

// sharpe annualizes the daily mean/volatility ratio over 365 trading days
// (crypto trades every day). Zero volatility yields zero rather than Inf.
func sharpe(dailyPnL []float64) float64 {
	if len(dailyPnL) < 2 {
		return 0
	}
	mean := stat.Mean(dailyPnL, nil)
	sd := stat.StdDev(dailyPnL, nil)
	if sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(365)
}

// diversification is one minus the Herfindahl index of allocation shares.
func diversification(allocations map[string]float64) float64 {
	var hhi float64
	for _, pct := range allocations {
		share := pct / 100
		hhi += share * share
	}
	if hhi == 0 {
		return 0
	}
	score := 1 - hhi
	if score < 0 {
		return 0
	}
	return score
}

// riskScore is a 0..100 composite: VaR relative to portfolio size dominates,
// concentration and a negative Sharpe add to it.
func riskScore(m RiskMetrics, totalValue float64) float64 {
	score := 0.0

	if totalValue > 0 {
		varRatio := m.PortfolioVaR / totalValue
		score += math.Min(varRatio*100/0.10, 1) * 50 // 10% daily VaR saturates this term
	}
	score += (1 - m.DiversificationScore) * 30
	if m.SharpeRatio < 0 {
		score += math.Min(-m.SharpeRatio/2, 1) * 20
	}

	return math.Min(math.Round(score*10)/10, 100)
}

func recommend(m RiskMetrics, totalValue float64) []string {
	var recs []string

	if totalValue > 0 && m.PortfolioVaR/totalValue > 0.05 {
		recs = append(recs, fmt.Sprintf("Daily VaR is %.1f%% of the portfolio; consider reducing position sizes", m.PortfolioVaR/totalValue*100))
	}
	if m.DiversificationScore < 0.4 {
		recs = append(recs, "Portfolio is concentrated in few assets; spreading allocations would lower drawdown risk")
	}
	if m.SharpeRatio < 0 {
		recs = append(recs, "Risk-adjusted returns are negative over the trailing window; review active strategies")
	}
	if len(recs) == 0 {
		recs = append(recs, "Risk profile is within configured limits")
	}
	return recs
}
