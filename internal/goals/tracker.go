// Package goals tracks time-boxed profit targets and estimates the
// probability of reaching them from realized trade history.
package goals

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrInvalidTarget is returned when a target update carries a non-positive
// amount.
var ErrInvalidTarget = errors.New("invalid target")

// Period is the goal horizon.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Target is one profit goal with its current standing. CurrentProgress is
// recomputed from realized P&L each cycle; Probability is always derived
// from history, never set directly.
type Target struct {
	Period          Period  `json:"period"`
	TargetAmount    float64 `json:"target_amount"`
	CurrentProgress float64 `json:"current_progress"`
	Probability     float64 `json:"probability_estimate"`
	ConfidenceLevel string  `json:"confidence_level"`
}

// Tracker recomputes goal progress and probability estimates. All times are
// interpreted in the exchange-local timezone.
type Tracker struct {
	mu      sync.RWMutex
	loc     *time.Location
	targets map[Period]*Target
	history []TradeResult
	logger  zerolog.Logger
	now     func() time.Time
}

// NewTracker creates a tracker with initial target amounts.
func NewTracker(daily, weekly, monthly float64, loc *time.Location, logger zerolog.Logger) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{
		loc: loc,
		targets: map[Period]*Target{
			PeriodDaily:   {Period: PeriodDaily, TargetAmount: daily, ConfidenceLevel: ConfidenceLow, Probability: 0.5},
			PeriodWeekly:  {Period: PeriodWeekly, TargetAmount: weekly, ConfidenceLevel: ConfidenceLow, Probability: 0.5},
			PeriodMonthly: {Period: PeriodMonthly, TargetAmount: monthly, ConfidenceLevel: ConfidenceLow, Probability: 0.5},
		},
		logger: logger.With().Str("component", "goals").Logger(),
		now:    time.Now,
	}
}

// UpdateProgress recomputes every target from the full realized trade
// history and returns the refreshed targets.
func (t *Tracker) UpdateProgress(trades []TradeResult) []Target {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append([]TradeResult(nil), trades...)
	daily := DailyPnL(t.history, t.loc)
	now := t.now().In(t.loc)

	for period, target := range t.targets {
		start, end := periodWindow(period, now)

		var progress float64
		for _, tr := range t.history {
			closed := tr.ClosedAt.In(t.loc)
			if !closed.Before(start) && closed.Before(end) {
				progress += tr.PnL
			}
		}
		target.CurrentProgress = progress

		remaining := target.TargetAmount - progress
		daysLeft := end.Sub(now).Hours() / 24
		target.Probability, target.ConfidenceLevel = EstimateProbability(daily, remaining, daysLeft)
	}

	return t.snapshot()
}

// UpdateTargets replaces the monthly and weekly target amounts. Both must be
// positive.
func (t *Tracker) UpdateTargets(monthly, weekly float64) error {
	if monthly <= 0 {
		return fmt.Errorf("%w: monthly target %.2f must be positive", ErrInvalidTarget, monthly)
	}
	if weekly <= 0 {
		return fmt.Errorf("%w: weekly target %.2f must be positive", ErrInvalidTarget, weekly)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.targets[PeriodMonthly].TargetAmount = monthly
	t.targets[PeriodWeekly].TargetAmount = weekly
	t.logger.Info().Float64("monthly", monthly).Float64("weekly", weekly).Msg("goal targets updated")
	return nil
}

// Progress returns the current targets, freshest estimates included.
func (t *Tracker) Progress() []Target {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot()
}

// snapshot copies targets in a stable order. Caller must hold the lock.
func (t *Tracker) snapshot() []Target {
	out := make([]Target, 0, len(t.targets))
	for _, p := range []Period{PeriodDaily, PeriodWeekly, PeriodMonthly} {
		out = append(out, *t.targets[p])
	}
	return out
}

// periodWindow returns [start, end) of the period containing now. Weeks
// start on Monday.
func periodWindow(p Period, now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	loc := now.Location()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)

	switch p {
	case PeriodDaily:
		return today, today.AddDate(0, 0, 1)
	case PeriodWeekly:
		offset := (int(today.Weekday()) + 6) % 7 // Monday = 0
		start := today.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	default: // monthly
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	}
}
