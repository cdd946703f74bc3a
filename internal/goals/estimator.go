package goals

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Confidence buckets for a probability estimate, by sample size.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Trading-day thresholds for the confidence buckets.
const (
	minSampleDays    = 3
	mediumSampleDays = 7
	highSampleDays   = 20
	trailingWindow   = 30
)

// TradeResult is a realized trade outcome used for goal progress and the
// probability model.
type TradeResult struct {
	Pair     string    `json:"pair"`
	PnL      float64   `json:"pnl"`
	ClosedAt time.Time `json:"closed_at"`
}

// DailyPnL buckets realized trades into per-trading-day P&L sums, in the
// given timezone, and returns the trailing window oldest first. Days without
// trades are not trading days and contribute no sample.
func DailyPnL(trades []TradeResult, loc *time.Location) []float64 {
	byDay := make(map[string]float64)
	for _, tr := range trades {
		day := tr.ClosedAt.In(loc).Format("2006-01-02")
		byDay[day] += tr.PnL
	}

	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	if len(days) > trailingWindow {
		days = days[len(days)-trailingWindow:]
	}

	out := make([]float64, len(days))
	for i, d := range days {
		out[i] = byDay[d]
	}
	return out
}

// EstimateProbability returns P(cumulative P&L over daysRemaining days >=
// targetRemaining) together with a confidence bucket for the estimate.
//
// Daily P&L is modeled as i.i.d. normal, so cumulative P&L over d days is
// Normal(mu*d, sigma*sqrt(d)). With fewer than three trading days of history
// the estimate is maximally uncertain (0.5) rather than extrapolated.
func EstimateProbability(dailyPnL []float64, targetRemaining, daysRemaining float64) (float64, string) {
	confidence := confidenceFor(len(dailyPnL))

	// An already-met target is certain whatever the history looks like.
	if targetRemaining <= 0 {
		return 1.0, confidence
	}

	if len(dailyPnL) < minSampleDays {
		return 0.5, ConfidenceLow
	}
	if daysRemaining <= 0 {
		// Time is up and the target is still outstanding.
		return 0.0, confidence
	}

	mu := stat.Mean(dailyPnL, nil)
	sigma := stat.StdDev(dailyPnL, nil)

	if sigma == 0 {
		// Degenerate history: the outcome is deterministic.
		if mu*daysRemaining >= targetRemaining {
			return 1.0, confidence
		}
		return 0.0, confidence
	}

	dist := distuv.Normal{
		Mu:    mu * daysRemaining,
		Sigma: sigma * math.Sqrt(daysRemaining),
	}
	return dist.Survival(targetRemaining), confidence
}

func confidenceFor(sampleDays int) string {
	switch {
	case sampleDays >= highSampleDays:
		return ConfidenceHigh
	case sampleDays >= mediumSampleDays:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
