package goals

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

// history returns n days of daily P&L alternating around the given mean.
func history(n int, mean float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		jitter := float64(i%5-2) * 10 // -20..+20 spread
		out[i] = mean + jitter
	}
	return out
}

// ============================================================================
// TEST: Confidence buckets by sample size
// ============================================================================

func TestEstimateProbability_ConfidenceBuckets(t *testing.T) {
	cases := []struct {
		days int
		want string
	}{
		{25, ConfidenceHigh},
		{20, ConfidenceHigh},
		{10, ConfidenceMedium},
		{7, ConfidenceMedium},
		{5, ConfidenceLow},
		{3, ConfidenceLow},
	}
	for _, tc := range cases {
		_, conf := EstimateProbability(history(tc.days, 50), 500, 10)
		if conf != tc.want {
			t.Errorf("%d days: expected confidence %s, got %s", tc.days, tc.want, conf)
		}
	}
}

func TestEstimateProbability_TooLittleHistory(t *testing.T) {
	p, conf := EstimateProbability(history(2, 50), 500, 10)
	if p != 0.5 {
		t.Errorf("with <3 days expected maximally uncertain 0.5, got %.3f", p)
	}
	if conf != ConfidenceLow {
		t.Errorf("expected low confidence, got %s", conf)
	}
}

// ============================================================================
// TEST: A met target is certain (scenario: progress == target)
// ============================================================================

func TestEstimateProbability_TargetAlreadyMet(t *testing.T) {
	// Wildly volatile history must not matter once the target is reached.
	volatile := []float64{-900, 1200, -800, 950, -1000, 1100}
	p, _ := EstimateProbability(volatile, 0, 10)
	if p != 1.0 {
		t.Errorf("expected probability 1.0 for met target, got %.3f", p)
	}
	p, _ = EstimateProbability(volatile, -50, 10)
	if p != 1.0 {
		t.Errorf("expected probability 1.0 for exceeded target, got %.3f", p)
	}
}

func TestEstimateProbability_TimeUp(t *testing.T) {
	p, _ := EstimateProbability(history(10, 50), 500, 0)
	if p != 0.0 {
		t.Errorf("expected 0.0 when time is up with target outstanding, got %.3f", p)
	}
}

func TestEstimateProbability_ZeroVariance(t *testing.T) {
	flat := []float64{50, 50, 50, 50, 50}

	if p, _ := EstimateProbability(flat, 400, 10); p != 1.0 {
		t.Errorf("deterministic 500 over 10 days covers 400: expected 1.0, got %.3f", p)
	}
	if p, _ := EstimateProbability(flat, 600, 10); p != 0.0 {
		t.Errorf("deterministic 500 over 10 days misses 600: expected 0.0, got %.3f", p)
	}
}

// ============================================================================
// TEST: Monotonicity — probability never decreases as progress rises
// (required property, not a tendency)
// ============================================================================

func TestEstimateProbability_MonotonicInProgress(t *testing.T) {
	hist := history(15, 40)
	const target = 2000.0
	const daysLeft = 12.0

	prev := -1.0
	for progress := 0.0; progress <= target+200; progress += 50 {
		p, _ := EstimateProbability(hist, target-progress, daysLeft)
		if p < prev-1e-12 {
			t.Fatalf("probability decreased from %.6f to %.6f at progress %.0f", prev, p, progress)
		}
		prev = p
	}

	// And it must end at certainty once progress covers the target.
	if p, _ := EstimateProbability(hist, 0, daysLeft); p != 1.0 {
		t.Errorf("expected 1.0 at full progress, got %.3f", p)
	}
}

// ============================================================================
// TEST: Daily P&L bucketing
// ============================================================================

func TestDailyPnL_BucketsByLocalDay(t *testing.T) {
	loc := time.UTC
	day := func(d int, pnl float64) TradeResult {
		return TradeResult{PnL: pnl, ClosedAt: time.Date(2026, 8, d, 12, 0, 0, 0, loc)}
	}

	daily := DailyPnL([]TradeResult{
		day(1, 100), day(1, -30), day(2, 50), day(4, 20),
	}, loc)

	if len(daily) != 3 {
		t.Fatalf("expected 3 trading days, got %d", len(daily))
	}
	if !floatEquals(daily[0], 70, 1e-9) {
		t.Errorf("expected day 1 sum 70, got %.2f", daily[0])
	}
	if !floatEquals(daily[1], 50, 1e-9) || !floatEquals(daily[2], 20, 1e-9) {
		t.Errorf("unexpected daily sums: %v", daily)
	}
}

func TestDailyPnL_TrailingWindow(t *testing.T) {
	loc := time.UTC
	var trades []TradeResult
	for i := 0; i < 45; i++ {
		trades = append(trades, TradeResult{
			PnL:      float64(i),
			ClosedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, loc).AddDate(0, 0, i),
		})
	}

	daily := DailyPnL(trades, loc)
	if len(daily) != 30 {
		t.Fatalf("expected trailing 30 trading days, got %d", len(daily))
	}
	// Oldest retained day is i=15.
	if !floatEquals(daily[0], 15, 1e-9) {
		t.Errorf("expected oldest retained day sum 15, got %.2f", daily[0])
	}
}

// ============================================================================
// TEST: Tracker progress windows and target updates
// ============================================================================

func TestTracker_UpdateProgressWindows(t *testing.T) {
	loc := time.UTC
	tr := NewTracker(100, 500, 2000, loc, zerolog.Nop())
	// Wednesday 2026-08-26; week starts Monday 2026-08-24.
	tr.now = func() time.Time { return time.Date(2026, 8, 26, 15, 0, 0, 0, loc) }

	trades := []TradeResult{
		{PnL: 80, ClosedAt: time.Date(2026, 8, 26, 10, 0, 0, 0, loc)},  // today
		{PnL: 40, ClosedAt: time.Date(2026, 8, 24, 10, 0, 0, 0, loc)},  // this week
		{PnL: 60, ClosedAt: time.Date(2026, 8, 3, 10, 0, 0, 0, loc)},   // this month
		{PnL: 999, ClosedAt: time.Date(2026, 7, 20, 10, 0, 0, 0, loc)}, // last month
	}
	targets := tr.UpdateProgress(trades)

	byPeriod := make(map[Period]Target)
	for _, tg := range targets {
		byPeriod[tg.Period] = tg
	}

	if !floatEquals(byPeriod[PeriodDaily].CurrentProgress, 80, 1e-9) {
		t.Errorf("daily progress: expected 80, got %.2f", byPeriod[PeriodDaily].CurrentProgress)
	}
	if !floatEquals(byPeriod[PeriodWeekly].CurrentProgress, 120, 1e-9) {
		t.Errorf("weekly progress: expected 120, got %.2f", byPeriod[PeriodWeekly].CurrentProgress)
	}
	if !floatEquals(byPeriod[PeriodMonthly].CurrentProgress, 180, 1e-9) {
		t.Errorf("monthly progress: expected 180, got %.2f", byPeriod[PeriodMonthly].CurrentProgress)
	}
}

func TestTracker_UpdateTargetsValidation(t *testing.T) {
	tr := NewTracker(100, 500, 2000, time.UTC, zerolog.Nop())

	if err := tr.UpdateTargets(0, 500); err == nil {
		t.Error("expected INVALID_TARGET for zero monthly target")
	}
	if err := tr.UpdateTargets(2000, -1); err == nil {
		t.Error("expected INVALID_TARGET for negative weekly target")
	}
	if err := tr.UpdateTargets(3000, 800); err != nil {
		t.Errorf("valid update rejected: %v", err)
	}

	for _, tg := range tr.Progress() {
		if tg.Period == PeriodMonthly && tg.TargetAmount != 3000 {
			t.Errorf("monthly target not applied, got %.2f", tg.TargetAmount)
		}
	}
}
