// Package bot runs the polling cycle that feeds ML signals through the
// decision engine and keeps goals, campaigns and persisted state current.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crypto-trading-assistant/internal/cache"
	"crypto-trading-assistant/internal/campaign"
	"crypto-trading-assistant/internal/engine"
	"crypto-trading-assistant/internal/events"
	"crypto-trading-assistant/internal/exchange"
	"crypto-trading-assistant/internal/goals"
	"crypto-trading-assistant/internal/ledger"
	"crypto-trading-assistant/internal/metrics"
	"crypto-trading-assistant/internal/policy"
	"crypto-trading-assistant/internal/portfolio"

	"github.com/rs/zerolog"
)

const (
	ModeDry  = "dry"
	ModeLive = "live"

	// main ledger scope key in ledger_states
	LedgerScopeMain = "main"

	goalHistoryWindow = 90 * 24 * time.Hour
)

// ErrAlreadyRunning is returned by Start when the cycle loop is active.
var ErrAlreadyRunning = errors.New("bot already running")

// ErrNotRunning is returned by Stop when the cycle loop is not active.
var ErrNotRunning = errors.New("bot not running")

// SignalSource supplies the latest ML signals for a set of pairs. The bot
// never generates signals itself.
type SignalSource interface {
	Latest(ctx context.Context, pairs []string) ([]engine.Signal, error)
}

// Persistence is the subset of the database repository the bot writes to
// each cycle. nil disables persistence.
type Persistence interface {
	SaveLedgerState(ctx context.Context, scope string, st ledger.State) error
	InsertRealizedTrade(ctx context.Context, t goals.TradeResult, decisionID string) error
	RealizedTradesSince(ctx context.Context, since time.Time) ([]goals.TradeResult, error)
	UpsertGoalTargets(ctx context.Context, targets []goals.Target) error
}

// Status is the bot's externally visible state.
type Status struct {
	Running         bool      `json:"running"`
	Mode            string    `json:"mode"`
	Halted          bool      `json:"emergency_halted"`
	CycleInterval   string    `json:"cycle_interval"`
	CyclesCompleted int64     `json:"cycles_completed"`
	LastCycle       time.Time `json:"last_cycle,omitempty"`
}

// position tracks the home-currency cost basis of an asset bought through
// the engine, so realized P&L can be attributed on the way out.
type position struct {
	basis float64
}

// Bot drives the evaluation cycle.
type Bot struct {
	eng        *engine.Engine
	signals    SignalSource
	portfolios *portfolio.Provider
	policies   *policy.Store
	led        *ledger.Ledger
	tracker    *goals.Tracker
	campaigns  *campaign.Manager
	cache      *cache.Service
	repo       Persistence
	gateway    exchange.Gateway
	bus        *events.Bus
	loc        *time.Location
	logger     zerolog.Logger

	interval time.Duration
	mode     string

	mu        sync.Mutex
	running   bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
	cycles    int64
	lastCycle time.Time
	positions map[string]*position
}

// New creates a bot. interval is the polling cadence.
func New(
	eng *engine.Engine,
	signals SignalSource,
	portfolios *portfolio.Provider,
	policies *policy.Store,
	led *ledger.Ledger,
	tracker *goals.Tracker,
	campaigns *campaign.Manager,
	cacheSvc *cache.Service,
	repo Persistence,
	gateway exchange.Gateway,
	bus *events.Bus,
	loc *time.Location,
	interval time.Duration,
	logger zerolog.Logger,
) *Bot {
	if loc == nil {
		loc = time.UTC
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Bot{
		eng:        eng,
		signals:    signals,
		portfolios: portfolios,
		policies:   policies,
		led:        led,
		tracker:    tracker,
		campaigns:  campaigns,
		cache:      cacheSvc,
		repo:       repo,
		gateway:    gateway,
		bus:        bus,
		loc:        loc,
		logger:     logger.With().Str("component", "bot").Logger(),
		interval:   interval,
		mode:       ModeDry,
		positions:  make(map[string]*position),
	}
}

// Start launches the cycle loop in the given mode.
func (b *Bot) Start(mode string) error {
	if mode != ModeDry && mode != ModeLive {
		return fmt.Errorf("unknown mode %q", mode)
	}

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.running = true
	b.mode = mode
	b.stopChan = make(chan struct{})
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run()

	b.logger.Info().Str("mode", mode).Dur("interval", b.interval).Msg("bot started")
	b.bus.Emit(events.EventBotStarted, map[string]interface{}{"mode": mode})
	return nil
}

// Stop halts the cycle loop and waits for the in-flight cycle to finish.
func (b *Bot) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrNotRunning
	}
	b.running = false
	close(b.stopChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info().Msg("bot stopped")
	b.bus.Emit(events.EventBotStopped, nil)
	return nil
}

// Status reports the bot's current state.
func (b *Bot) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Running:         b.running,
		Mode:            b.mode,
		Halted:          b.eng.Halt().Engaged(),
		CycleInterval:   b.interval.String(),
		CyclesCompleted: b.cycles,
		LastCycle:       b.lastCycle,
	}
}

// TriggerEmergencyStop engages the halt flag, pauses every campaign and
// best-effort cancels open orders. Returns false when already engaged.
func (b *Bot) TriggerEmergencyStop(ctx context.Context, reason string) bool {
	if !b.eng.Halt().Engage() {
		return false
	}

	metrics.EmergencyStops.Inc()
	paused := b.campaigns.PauseAll(ctx)

	cancelCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cancelled, err := b.gateway.CancelAllOrders(cancelCtx)
	if err != nil {
		b.logger.Error().Err(err).Msg("emergency stop: order cancellation failed, halt stays engaged")
	}

	b.logger.Warn().
		Str("reason", reason).
		Int("campaigns_paused", paused).
		Int("orders_cancelled", cancelled).
		Msg("EMERGENCY STOP engaged")
	b.bus.Emit(events.EventEmergencyStop, map[string]interface{}{
		"reason":           reason,
		"campaigns_paused": paused,
		"orders_cancelled": cancelled,
	})
	return true
}

// ClearEmergencyStop releases the halt flag. Paused campaigns stay paused
// until resumed individually. Returns false when not engaged.
func (b *Bot) ClearEmergencyStop() bool {
	if !b.eng.Halt().Clear() {
		return false
	}
	b.logger.Info().Msg("emergency stop cleared")
	b.bus.Emit(events.EventEmergencyCleared, nil)
	return true
}

// ResetConsecutiveLosses clears the loss streak on the main ledger.
func (b *Bot) ResetConsecutiveLosses() {
	b.led.ResetConsecutiveLosses()
	b.bus.Emit(events.EventLedgerReset, nil)
	b.logger.Info().Msg("consecutive loss counter reset")
}

func (b *Bot) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	// immediate first cycle, then on the ticker
	b.cycle()
	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.cycle()
		}
	}
}

// cycle runs one full evaluation pass.
func (b *Bot) cycle() {
	ctx, cancel := context.WithTimeout(context.Background(), b.interval)
	defer cancel()

	start := time.Now()

	if n := b.campaigns.SweepExpired(ctx); n > 0 {
		b.logger.Info().Int("count", n).Msg("campaigns expired")
	}

	pol := b.policies.Current()
	snap, err := b.portfolios.Snapshot(ctx, pol)
	if err != nil {
		b.logger.Error().Err(err).Msg("cycle skipped: no portfolio snapshot")
		return
	}

	sigs, err := b.signals.Latest(ctx, pol.TradablePairs)
	if err != nil {
		b.logger.Error().Err(err).Msg("cycle skipped: signal source unavailable")
		return
	}

	var evaluated int
	var wg sync.WaitGroup
	decisions := make(chan engine.Decision, len(sigs))
	for _, sig := range sigs {
		if !b.cache.MarkSignalSeen(ctx, sig.Key()) {
			continue
		}
		evaluated++
		wg.Add(1)
		go func(sig engine.Signal) {
			defer wg.Done()
			decisions <- b.eng.Evaluate(ctx, sig, snap, pol, b.led)
		}(sig)
	}
	wg.Wait()
	close(decisions)

	for d := range decisions {
		b.settleDecision(ctx, d, snap)
	}

	b.refreshGoals(ctx)
	b.persistLedger(ctx)

	b.mu.Lock()
	b.cycles++
	b.lastCycle = time.Now()
	b.mu.Unlock()

	b.logger.Debug().
		Int("signals", len(sigs)).
		Int("evaluated", evaluated).
		Dur("took", time.Since(start)).
		Msg("cycle complete")
}

// settleDecision updates cost-basis tracking and records realized P&L for
// filled sells. Executions that are pending or failed leave positions alone.
func (b *Bot) settleDecision(ctx context.Context, d engine.Decision, snap *portfolio.Snapshot) {
	if d.Outcome != engine.OutcomeApproved || d.Execution != engine.ExecutionFilled {
		return
	}

	asset := exchange.BaseAsset(d.Pair)

	b.mu.Lock()
	switch d.Signal.Action {
	case engine.ActionBuy:
		pos, ok := b.positions[asset]
		if !ok {
			pos = &position{}
			b.positions[asset] = pos
		}
		pos.basis += d.ApprovedAmount
		b.mu.Unlock()

	case engine.ActionSell:
		pnl := b.realizeLocked(asset, d.ApprovedAmount, snap)
		b.mu.Unlock()

		b.led.RecordOutcome(pnl)
		b.led.ReduceExposure(asset, d.ApprovedAmount)
		if b.repo != nil {
			trade := goals.TradeResult{Pair: d.Pair, PnL: pnl, ClosedAt: time.Now().In(b.loc)}
			if err := b.repo.InsertRealizedTrade(ctx, trade, d.ID); err != nil {
				b.logger.Error().Err(err).Msg("failed to persist realized trade")
			}
		}
		b.logger.Info().Str("pair", d.Pair).Float64("pnl", pnl).Msg("trade realized")

	default:
		b.mu.Unlock()
	}
}

// realizeLocked computes the realized P&L of selling soldNotional of asset
// and reduces the tracked basis proportionally. Holdings without a tracked
// basis (held before the bot started) realize zero. Caller holds b.mu.
func (b *Bot) realizeLocked(asset string, soldNotional float64, snap *portfolio.Snapshot) float64 {
	holding := snap.Holding(asset)
	pos := b.positions[asset]
	if pos == nil || holding.Value <= 0 {
		return 0
	}

	fraction := soldNotional / holding.Value
	if fraction > 1 {
		fraction = 1
	}
	costOut := pos.basis * fraction
	pos.basis -= costOut
	if pos.basis < 1e-9 {
		delete(b.positions, asset)
	}
	return soldNotional - costOut
}

// refreshGoals recomputes goal progress from the trailing trade history.
func (b *Bot) refreshGoals(ctx context.Context) {
	if b.repo == nil || b.tracker == nil {
		return
	}

	since := time.Now().In(b.loc).Add(-goalHistoryWindow)
	trades, err := b.repo.RealizedTradesSince(ctx, since)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to load trade history for goals")
		return
	}

	targets := b.tracker.UpdateProgress(trades)
	if err := b.repo.UpsertGoalTargets(ctx, targets); err != nil {
		b.logger.Error().Err(err).Msg("failed to persist goal targets")
	}
	b.bus.Emit(events.EventGoalUpdated, map[string]interface{}{"targets": targets})
}

func (b *Bot) persistLedger(ctx context.Context) {
	if b.repo == nil {
		return
	}
	if err := b.repo.SaveLedgerState(ctx, LedgerScopeMain, b.led.Snapshot()); err != nil {
		b.logger.Error().Err(err).Msg("failed to persist ledger state")
	}
}
