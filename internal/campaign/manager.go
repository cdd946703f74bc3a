// Package campaign manages capital-bounded trading campaigns. Each campaign
// draws from its own capital pool, fully independent of the main trading
// budget: exhausting one never blocks the other.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"crypto-trading-assistant/internal/engine"
	"crypto-trading-assistant/internal/events"
	"crypto-trading-assistant/internal/exchange"
	"crypto-trading-assistant/internal/ledger"
	"crypto-trading-assistant/internal/metrics"
	"crypto-trading-assistant/internal/policy"
	"crypto-trading-assistant/internal/portfolio"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidParams rejects campaign creation with non-positive capital
	// or profit target.
	ErrInvalidParams = errors.New("invalid campaign params")
	// ErrNotFound is returned for unknown campaign ids.
	ErrNotFound = errors.New("campaign not found")
	// ErrTerminated rejects operations on COMPLETED or FAILED campaigns.
	ErrTerminated = errors.New("campaign terminated")
	// ErrNotPausable is returned when pausing a campaign that is not active.
	ErrNotPausable = errors.New("campaign is not active")
	// ErrNotPaused is returned when resuming a campaign that is not paused.
	ErrNotPaused = errors.New("campaign is not paused")
)

// Status is the campaign lifecycle state.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether the status accepts no further executions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Campaign is a user-scoped trading initiative with its own capital pool.
type Campaign struct {
	ID               string    `json:"id"`
	AllocatedCapital float64   `json:"allocated_capital"`
	ProfitTarget     float64   `json:"profit_target"`
	TimeframeDays    int       `json:"timeframe_days"`
	RiskLevel        string    `json:"risk_level"`
	Pairs            []string  `json:"pairs"`
	CreatedAt        time.Time `json:"created_at"`
	Status           Status    `json:"status"`
	RealizedProfit   float64   `json:"realized_profit"`

	subLedger *ledger.Ledger
	// basis tracks the cost, in home currency, of assets bought through this
	// campaign, so sells can realize P&L against it.
	basis map[string]float64
}

// Deadline is the instant the campaign's timeframe elapses.
func (c *Campaign) Deadline() time.Time {
	return c.CreatedAt.AddDate(0, 0, c.TimeframeDays)
}

// SubLedgerState exposes the sub-ledger counters for the API.
func (c *Campaign) SubLedgerState() ledger.State {
	return c.subLedger.Snapshot()
}

// CreateParams are the user-supplied campaign parameters.
type CreateParams struct {
	AllocatedCapital float64  `json:"allocated_capital"`
	ProfitTarget     float64  `json:"profit_target"`
	TimeframeDays    int      `json:"timeframe_days"`
	RiskLevel        string   `json:"risk_level"`
	Pairs            []string `json:"pairs"`
}

// SignalSource supplies the latest signals for a set of pairs.
type SignalSource interface {
	Latest(ctx context.Context, pairs []string) ([]engine.Signal, error)
}

// Deduper filters signals that were already evaluated. Campaign executions
// share one (pair, generated_at) window with the bot cycle, so a signal is
// acted on at most once process-wide. nil disables filtering.
type Deduper interface {
	MarkSignalSeen(ctx context.Context, key string) bool
}

// Store persists campaign records. The manager writes through on every
// state change; nil disables persistence (dry mode).
type Store interface {
	SaveCampaign(ctx context.Context, c *Campaign) error
}

// ExecuteResult summarizes one Execute call.
type ExecuteResult struct {
	CampaignID     string            `json:"campaign_id"`
	TradesExecuted int               `json:"trades_executed"`
	Decisions      []engine.Decision `json:"decisions"`
}

// Manager owns campaign records and their sub-ledgers. It consults the main
// decision engine for evaluations but never the main budget ledger.
type Manager struct {
	mu        sync.RWMutex
	campaigns map[string]*Campaign

	eng       *engine.Engine
	signals   SignalSource
	dedup     Deduper
	snapshots func(ctx context.Context, pol policy.RiskPolicy) (*portfolio.Snapshot, error)
	policies  *policy.Store
	store     Store
	bus       *events.Bus
	loc       *time.Location
	logger    zerolog.Logger
	now       func() time.Time
}

// NewManager creates a campaign manager.
func NewManager(
	eng *engine.Engine,
	signals SignalSource,
	dedup Deduper,
	snapshots func(ctx context.Context, pol policy.RiskPolicy) (*portfolio.Snapshot, error),
	policies *policy.Store,
	store Store,
	bus *events.Bus,
	loc *time.Location,
	logger zerolog.Logger,
) *Manager {
	if loc == nil {
		loc = time.UTC
	}
	return &Manager{
		campaigns: make(map[string]*Campaign),
		eng:       eng,
		signals:   signals,
		dedup:     dedup,
		snapshots: snapshots,
		policies:  policies,
		store:     store,
		bus:       bus,
		loc:       loc,
		logger:    logger.With().Str("component", "campaign").Logger(),
		now:       time.Now,
	}
}

// Create validates the parameters and registers a new CREATED campaign with
// a freshly seeded capital pool. The pool equals the allocated capital
// regardless of the main ledger's remaining daily volume.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Campaign, error) {
	if p.AllocatedCapital <= 0 {
		return nil, fmt.Errorf("%w: allocated_capital %.2f must be positive", ErrInvalidParams, p.AllocatedCapital)
	}
	if p.ProfitTarget <= 0 {
		return nil, fmt.Errorf("%w: profit_target %.2f must be positive", ErrInvalidParams, p.ProfitTarget)
	}
	if p.TimeframeDays <= 0 {
		return nil, fmt.Errorf("%w: timeframe_days %d must be positive", ErrInvalidParams, p.TimeframeDays)
	}
	if len(p.Pairs) == 0 {
		return nil, fmt.Errorf("%w: at least one pair is required", ErrInvalidParams)
	}

	c := &Campaign{
		ID:               uuid.New().String(),
		AllocatedCapital: p.AllocatedCapital,
		ProfitTarget:     p.ProfitTarget,
		TimeframeDays:    p.TimeframeDays,
		RiskLevel:        p.RiskLevel,
		Pairs:            append([]string(nil), p.Pairs...),
		CreatedAt:        m.now(),
		Status:           StatusCreated,
		subLedger:        ledger.NewCapitalPool(m.loc),
		basis:            make(map[string]float64),
	}

	m.mu.Lock()
	m.campaigns[c.ID] = c
	m.mu.Unlock()

	m.persist(ctx, c)
	m.bus.Emit(events.EventCampaignCreated, map[string]interface{}{
		"campaign_id": c.ID, "capital": c.AllocatedCapital, "target": c.ProfitTarget,
	})
	metrics.CampaignTransitions.WithLabelValues(string(StatusCreated)).Inc()
	m.logger.Info().Str("campaign_id", c.ID).
		Float64("capital", c.AllocatedCapital).Float64("target", c.ProfitTarget).
		Msg("campaign created")

	return c, nil
}

// Execute pulls the latest signals for the campaign's pairs and runs each
// through the decision engine against the campaign's own capital pool.
func (m *Manager) Execute(ctx context.Context, id string) (*ExecuteResult, error) {
	c, err := m.get(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if c.Status.Terminal() {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: campaign %s is %s", ErrTerminated, c.ID, c.Status)
	}
	if c.Status == StatusPaused {
		m.mu.Unlock()
		return nil, fmt.Errorf("campaign %s is paused; resume it before executing", c.ID)
	}
	if m.now().After(c.Deadline()) {
		m.transitionLocked(ctx, c, StatusFailed)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: campaign %s expired before reaching its target", ErrTerminated, c.ID)
	}
	m.mu.Unlock()

	sigs, err := m.signals.Latest(ctx, c.Pairs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch campaign signals: %w", err)
	}

	pol := m.policies.Current()
	// Campaign checks run against the capital pool: daily volume becomes
	// the remaining allocated capital.
	pol.MaxDailyVolume = c.AllocatedCapital

	snap, err := m.snapshots(ctx, pol)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot portfolio: %w", err)
	}

	result := &ExecuteResult{CampaignID: c.ID}
	for _, sig := range sigs {
		if m.dedup != nil && !m.dedup.MarkSignalSeen(ctx, sig.Key()) {
			continue
		}
		d := m.eng.EvaluateCampaign(ctx, sig, snap, pol, c.subLedger, c.ID)
		result.Decisions = append(result.Decisions, d)
		if d.Outcome != engine.OutcomeApproved {
			continue
		}
		result.TradesExecuted++
		if d.Execution == engine.ExecutionFilled {
			m.settle(ctx, c, d, snap)
		}

		m.mu.RLock()
		terminal := c.Status.Terminal()
		m.mu.RUnlock()
		if terminal {
			break
		}
	}

	if result.TradesExecuted > 0 {
		m.mu.Lock()
		if c.Status == StatusCreated {
			m.transitionLocked(ctx, c, StatusActive)
		}
		m.mu.Unlock()
	}

	return result, nil
}

// settle books a filled campaign decision against the campaign's cost basis.
// Buys accumulate basis; sells realize P&L, release sub-ledger exposure and
// advance the state machine when the profit target is reached.
func (m *Manager) settle(ctx context.Context, c *Campaign, d engine.Decision, snap *portfolio.Snapshot) {
	asset := exchange.BaseAsset(d.Pair)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch d.Signal.Action {
	case engine.ActionBuy:
		c.basis[asset] += d.ApprovedAmount
		m.persist(ctx, c)

	case engine.ActionSell:
		pnl := realizeLocked(c, asset, d.ApprovedAmount, snap)
		c.subLedger.ReduceExposure(asset, d.ApprovedAmount)
		m.logger.Info().Str("campaign_id", c.ID).Str("pair", d.Pair).
			Float64("pnl", pnl).Msg("campaign trade realized")
		m.recordProfitLocked(ctx, c, pnl)
	}
}

// realizeLocked computes the realized P&L of selling soldNotional of asset
// and reduces the tracked basis proportionally. Holdings without a tracked
// basis realize zero. Caller holds m.mu.
func realizeLocked(c *Campaign, asset string, soldNotional float64, snap *portfolio.Snapshot) float64 {
	holding := snap.Holding(asset)
	basis, ok := c.basis[asset]
	if !ok || holding.Value <= 0 {
		return 0
	}

	fraction := soldNotional / holding.Value
	if fraction > 1 {
		fraction = 1
	}
	costOut := basis * fraction
	c.basis[asset] = basis - costOut
	if c.basis[asset] < 1e-9 {
		delete(c.basis, asset)
	}
	return soldNotional - costOut
}

// RecordProfit applies a realized P&L to the campaign outside the Execute
// settlement path, for results reconciled against the exchange after the
// fact. Advances the state machine when the target is reached.
func (m *Manager) RecordProfit(ctx context.Context, id string, pnl float64) error {
	c, err := m.get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Status.Terminal() {
		return fmt.Errorf("%w: campaign %s is %s", ErrTerminated, c.ID, c.Status)
	}

	m.recordProfitLocked(ctx, c, pnl)
	return nil
}

// recordProfitLocked accrues realized P&L, feeds the sub-ledger loss streak
// and completes the campaign at target. Caller holds m.mu.
func (m *Manager) recordProfitLocked(ctx context.Context, c *Campaign, pnl float64) {
	c.RealizedProfit += pnl
	c.subLedger.RecordOutcome(pnl)

	if c.RealizedProfit >= c.ProfitTarget && !c.Status.Terminal() {
		m.transitionLocked(ctx, c, StatusCompleted)
		return
	}
	m.persist(ctx, c)
}

// Pause suspends an active campaign.
func (m *Manager) Pause(ctx context.Context, id string) error {
	c, err := m.get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Status != StatusActive && c.Status != StatusCreated {
		return fmt.Errorf("%w: campaign %s is %s", ErrNotPausable, c.ID, c.Status)
	}
	m.transitionLocked(ctx, c, StatusPaused)
	return nil
}

// Resume reactivates a paused campaign.
func (m *Manager) Resume(ctx context.Context, id string) error {
	c, err := m.get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Status != StatusPaused {
		return fmt.Errorf("%w: campaign %s is %s", ErrNotPaused, c.ID, c.Status)
	}
	m.transitionLocked(ctx, c, StatusActive)
	return nil
}

// PauseAll suspends every active campaign; invoked by the emergency stop.
func (m *Manager) PauseAll(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for _, c := range m.campaigns {
		if c.Status == StatusActive {
			m.transitionLocked(ctx, c, StatusPaused)
			n++
		}
	}
	return n
}

// SweepExpired fails every non-terminal campaign whose timeframe elapsed
// without reaching its target. Called once per decision cycle.
func (m *Manager) SweepExpired(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int
	for _, c := range m.campaigns {
		if c.Status.Terminal() {
			continue
		}
		if now.After(c.Deadline()) && c.RealizedProfit < c.ProfitTarget {
			m.transitionLocked(ctx, c, StatusFailed)
			n++
		}
	}
	return n
}

// Get returns a copy of the campaign.
func (m *Manager) Get(id string) (Campaign, error) {
	c, err := m.get(id)
	if err != nil {
		return Campaign{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *c, nil
}

// List returns copies of all campaigns, newest first.
func (m *Manager) List() []Campaign {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Campaign, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Restore re-registers a persisted campaign at startup.
func (m *Manager) Restore(c Campaign, sub ledger.State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	restored := c
	restored.subLedger = ledger.NewCapitalPool(m.loc)
	restored.subLedger.Restore(sub)
	restored.basis = make(map[string]float64)
	m.campaigns[restored.ID] = &restored
}

func (m *Manager) get(id string) (*Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// transitionLocked moves the campaign to the new status and emits the
// matching event. Caller must hold the lock.
func (m *Manager) transitionLocked(ctx context.Context, c *Campaign, to Status) {
	from := c.Status
	c.Status = to

	event := map[Status]events.EventType{
		StatusActive:    events.EventCampaignActivated,
		StatusPaused:    events.EventCampaignPaused,
		StatusCompleted: events.EventCampaignCompleted,
		StatusFailed:    events.EventCampaignFailed,
	}[to]
	if from == StatusPaused && to == StatusActive {
		event = events.EventCampaignResumed
	}
	m.bus.Emit(event, map[string]interface{}{
		"campaign_id": c.ID, "from": string(from), "to": string(to),
		"realized_profit": c.RealizedProfit,
	})
	metrics.CampaignTransitions.WithLabelValues(string(to)).Inc()
	m.logger.Info().Str("campaign_id", c.ID).
		Str("from", string(from)).Str("to", string(to)).
		Msg("campaign transition")

	m.persist(ctx, c)
}

func (m *Manager) persist(ctx context.Context, c *Campaign) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveCampaign(ctx, c); err != nil {
		m.logger.Error().Err(err).Str("campaign_id", c.ID).Msg("failed to persist campaign")
	}
}
