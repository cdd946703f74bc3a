// Package ledger implements the mutable budget counters behind the decision
// engine. All budget checks and the subsequent decrement happen under a
// single lock so that no two concurrent evaluations can both pass the same
// check against stale budget.
package ledger

import (
	"errors"
	"sync"
	"time"
)

// Refusal reasons surfaced by Reserve. These are valid decision outcomes,
// not system failures; the engine maps them to rejection reason codes.
var (
	ErrAllocationCapExceeded = errors.New("allocation cap exceeded")
	ErrDailyVolumeExceeded   = errors.New("daily volume exceeded")
	ErrTradeCountExceeded    = errors.New("trade count exceeded")
	ErrConsecutiveLossHalt   = errors.New("consecutive loss halt")
)

// Limits are the policy-derived caps applied by a single Reserve call.
// MaxAssetExposure is the home-currency exposure cap for the asset being
// traded; zero or negative disables the exposure check (used for sells,
// which reduce exposure).
type Limits struct {
	MaxDailyVolume       float64
	MaxTradesPerDay      int
	MaxConsecutiveLosses int
	MaxAssetExposure     float64
}

// State is a serializable copy of the ledger counters, used for persistence
// and API reads.
type State struct {
	Date              string             `json:"date"`
	SpentToday        float64            `json:"spent_today"`
	PerAssetExposure  map[string]float64 `json:"per_asset_exposure"`
	TradeCountToday   int                `json:"trade_count_today"`
	ConsecutiveLosses int                `json:"consecutive_losses"`
}

// Ledger tracks spent budget and exposure for one budget pool. The main
// trading ledger rolls its counters over at the start of each calendar day
// in the exchange-local timezone; campaign capital pools never roll over.
type Ledger struct {
	mu                sync.Mutex
	loc               *time.Location
	rollover          bool
	day               time.Time
	spentToday        float64
	perAssetExposure  map[string]float64
	tradeCountToday   int
	consecutiveLosses int
}

// New creates the main daily ledger for the given exchange-local timezone.
func New(loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{
		loc:              loc,
		rollover:         true,
		day:              startOfDay(time.Now(), loc),
		perAssetExposure: make(map[string]float64),
	}
}

// NewCapitalPool creates a ledger backed by a fixed capital pool instead of
// a daily budget. Counters persist for the lifetime of the pool.
func NewCapitalPool(loc *time.Location) *Ledger {
	l := New(loc)
	l.rollover = false
	return l
}

// Reserve atomically applies the budget checks and, if they all pass,
// commits the reservation. The returned amount may be smaller than the
// requested one when only part of the daily budget remains (partial fill).
// guard, when non-nil, runs under the lock immediately before the commit;
// a non-nil guard error aborts the reservation without mutating anything.
func (l *Ledger) Reserve(asset string, amount float64, lim Limits, guard func() error) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverIfDue(time.Now())

	approved := amount

	if lim.MaxAssetExposure > 0 {
		headroom := lim.MaxAssetExposure - l.perAssetExposure[asset]
		if headroom <= 0 {
			return 0, ErrAllocationCapExceeded
		}
		if approved > headroom {
			approved = headroom
		}
	}

	remaining := lim.MaxDailyVolume - l.spentToday
	if remaining <= 0 {
		return 0, ErrDailyVolumeExceeded
	}
	if approved > remaining {
		approved = remaining
	}

	if l.tradeCountToday >= lim.MaxTradesPerDay {
		return 0, ErrTradeCountExceeded
	}

	if l.consecutiveLosses >= lim.MaxConsecutiveLosses {
		return 0, ErrConsecutiveLossHalt
	}

	if guard != nil {
		if err := guard(); err != nil {
			return 0, err
		}
	}

	l.spentToday += approved
	l.perAssetExposure[asset] += approved
	l.tradeCountToday++

	return approved, nil
}

// RecordOutcome updates the loss streak from a realized trade result.
// A winning or flat trade resets the streak; clearing a streak that has hit
// the policy maximum still requires ResetConsecutiveLosses (manual action).
func (l *Ledger) RecordOutcome(pnl float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pnl < 0 {
		l.consecutiveLosses++
		return
	}
	l.consecutiveLosses = 0
}

// ReduceExposure lowers the tracked exposure for an asset after a sell or a
// reconciled failed execution. Exposure never goes below zero.
func (l *Ledger) ReduceExposure(asset string, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.perAssetExposure[asset] -= amount
	if l.perAssetExposure[asset] < 0 {
		l.perAssetExposure[asset] = 0
	}
}

// ResetConsecutiveLosses clears the loss streak. Explicit administrative
// action; the daily rollover never touches the streak.
func (l *Ledger) ResetConsecutiveLosses() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutiveLosses = 0
}

// Snapshot returns a copy of the current counters.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverIfDue(time.Now())

	exposure := make(map[string]float64, len(l.perAssetExposure))
	for k, v := range l.perAssetExposure {
		exposure[k] = v
	}
	return State{
		Date:              l.day.Format("2006-01-02"),
		SpentToday:        l.spentToday,
		PerAssetExposure:  exposure,
		TradeCountToday:   l.tradeCountToday,
		ConsecutiveLosses: l.consecutiveLosses,
	}
}

// Restore loads persisted counters, typically at startup. State from a
// previous calendar day only restores the loss streak.
func (l *Ledger) Restore(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consecutiveLosses = s.ConsecutiveLosses

	today := startOfDay(time.Now(), l.loc).Format("2006-01-02")
	if l.rollover && s.Date != today {
		return
	}

	l.spentToday = s.SpentToday
	l.tradeCountToday = s.TradeCountToday
	l.perAssetExposure = make(map[string]float64, len(s.PerAssetExposure))
	for k, v := range s.PerAssetExposure {
		l.perAssetExposure[k] = v
	}
}

// rolloverIfDue resets the daily counters when the calendar day has changed.
// Caller must hold the lock.
func (l *Ledger) rolloverIfDue(now time.Time) {
	if !l.rollover {
		return
	}
	today := startOfDay(now, l.loc)
	if !today.After(l.day) {
		return
	}
	l.day = today
	l.spentToday = 0
	l.tradeCountToday = 0
	l.perAssetExposure = make(map[string]float64)
	// consecutiveLosses deliberately survives the rollover.
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
