package bot

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"crypto-trading-assistant/internal/campaign"
	"crypto-trading-assistant/internal/engine"
	"crypto-trading-assistant/internal/events"
	"crypto-trading-assistant/internal/exchange"
	"crypto-trading-assistant/internal/goals"
	"crypto-trading-assistant/internal/ledger"
	"crypto-trading-assistant/internal/policy"
	"crypto-trading-assistant/internal/portfolio"

	"github.com/rs/zerolog"
)

type stubSignals struct {
	sigs []engine.Signal
}

func (s *stubSignals) Latest(ctx context.Context, pairs []string) ([]engine.Signal, error) {
	return s.sigs, nil
}

func testPolicy() policy.RiskPolicy {
	return policy.RiskPolicy{
		MaxTradeAmount:            1000,
		MaxDailyVolume:            5000,
		MaxAssetAllocationPercent: 50,
		ProtectedReserve:          map[string]float64{},
		StopLossPercent:           5,
		TakeProfitPercent:         10,
		MaxTradesPerDay:           20,
		MaxConsecutiveLosses:      3,
		MinConfidence:             0.6,
		TradablePairs:             []string{"BTCUSDT", "ETHUSDT"},
	}
}

func newTestBot(t *testing.T) (*Bot, *ledger.Ledger) {
	t.Helper()

	logger := zerolog.Nop()
	bus := events.NewBus()
	gateway := exchange.NewPaperGateway("USDT",
		map[string]float64{"USDT": 10000, "BTC": 0.5},
		map[string]float64{"BTC": 60000}, logger)

	eng := engine.New(engine.Config{QuoteCurrency: "USDT"},
		gateway, engine.NewMemoryLog(100), engine.NewEmergencyStop(), bus, logger)

	policies, err := policy.NewStore(testPolicy())
	if err != nil {
		t.Fatalf("policy store: %v", err)
	}

	portfolios := portfolio.NewProvider(gateway, time.Minute, logger)
	led := ledger.New(time.UTC)
	campaigns := campaign.NewManager(eng, nil, nil, portfolios.Snapshot, policies, nil, bus, time.UTC, logger)

	b := New(eng, &stubSignals{}, portfolios, policies, led, nil, campaigns,
		nil, nil, gateway, bus, time.UTC, time.Hour, logger)
	return b, led
}

func filledDecision(pair string, action engine.Action, amount float64) engine.Decision {
	return engine.Decision{
		ID:             "d-1",
		Pair:           pair,
		Signal:         engine.Signal{Pair: pair, Action: action},
		Outcome:        engine.OutcomeApproved,
		ApprovedAmount: amount,
		Execution:      engine.ExecutionFilled,
	}
}

func snapshotWith(asset string, value float64) *portfolio.Snapshot {
	return &portfolio.Snapshot{
		ID:         "snap-1",
		Holdings:   map[string]portfolio.Holding{asset: {Asset: asset, Value: value}},
		TotalValue: value,
	}
}

// ============================================================================
// TEST: Cost-basis settlement
// ============================================================================

func TestSettleDecision_SellRealizesProportionalProfit(t *testing.T) {
	b, led := newTestBot(t)
	ctx := context.Background()

	// buy 1000 of BTC, then sell half the holding after it appreciated to 2000
	b.settleDecision(ctx, filledDecision("BTCUSDT", engine.ActionBuy, 1000), snapshotWith("BTC", 1000))
	b.settleDecision(ctx, filledDecision("BTCUSDT", engine.ActionSell, 1000), snapshotWith("BTC", 2000))

	// half the basis (500) leaves against 1000 of proceeds
	pos := b.positions["BTC"]
	if pos == nil {
		t.Fatal("expected remaining position after partial sell")
	}
	if math.Abs(pos.basis-500) > 1e-9 {
		t.Errorf("remaining basis = %.2f, want 500", pos.basis)
	}
	if st := led.Snapshot(); st.ConsecutiveLosses != 0 {
		t.Errorf("profitable sell must not count as a loss, streak = %d", st.ConsecutiveLosses)
	}
}

func TestSettleDecision_LosingSellExtendsStreak(t *testing.T) {
	b, led := newTestBot(t)
	ctx := context.Background()

	// full basis of 2000 sold for 1500 after the price dropped
	b.settleDecision(ctx, filledDecision("BTCUSDT", engine.ActionBuy, 2000), snapshotWith("BTC", 2000))
	b.settleDecision(ctx, filledDecision("BTCUSDT", engine.ActionSell, 1500), snapshotWith("BTC", 1500))

	if _, ok := b.positions["BTC"]; ok {
		t.Error("fully sold position should be dropped")
	}
	if st := led.Snapshot(); st.ConsecutiveLosses != 1 {
		t.Errorf("losing sell should extend the streak, got %d", st.ConsecutiveLosses)
	}
}

func TestSettleDecision_UntrackedHoldingRealizesZero(t *testing.T) {
	b, led := newTestBot(t)

	// no prior buy: holdings that predate the bot have no tracked basis
	b.settleDecision(context.Background(), filledDecision("ETHUSDT", engine.ActionSell, 400), snapshotWith("ETH", 1000))

	if st := led.Snapshot(); st.ConsecutiveLosses != 0 {
		t.Errorf("zero-basis sell realized a loss, streak = %d", st.ConsecutiveLosses)
	}
}

func TestSettleDecision_IgnoresPendingAndFailedExecutions(t *testing.T) {
	b, _ := newTestBot(t)

	d := filledDecision("BTCUSDT", engine.ActionBuy, 1000)
	d.Execution = engine.ExecutionPending
	b.settleDecision(context.Background(), d, snapshotWith("BTC", 1000))

	d.Execution = engine.ExecutionFailed
	b.settleDecision(context.Background(), d, snapshotWith("BTC", 1000))

	if len(b.positions) != 0 {
		t.Errorf("unfilled executions must not touch positions, got %v", b.positions)
	}
}

// ============================================================================
// TEST: Emergency stop
// ============================================================================

func TestEmergencyStop_EngageAndClear(t *testing.T) {
	b, _ := newTestBot(t)
	ctx := context.Background()

	if !b.TriggerEmergencyStop(ctx, "test") {
		t.Fatal("first trigger should engage")
	}
	if !b.Status().Halted {
		t.Error("status should report halted")
	}
	if b.TriggerEmergencyStop(ctx, "again") {
		t.Error("second trigger should report already engaged")
	}

	if !b.ClearEmergencyStop() {
		t.Fatal("clear should release the halt")
	}
	if b.Status().Halted {
		t.Error("status should report cleared")
	}
	if b.ClearEmergencyStop() {
		t.Error("second clear should report not engaged")
	}
}

// ============================================================================
// TEST: Lifecycle
// ============================================================================

func TestBot_StartStop(t *testing.T) {
	b, _ := newTestBot(t)

	if err := b.Start("warp"); err == nil {
		t.Fatal("unknown mode should be rejected")
	}

	if err := b.Start(ModeDry); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := b.Start(ModeDry); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second start = %v, want ErrAlreadyRunning", err)
	}

	st := b.Status()
	if !st.Running || st.Mode != ModeDry {
		t.Errorf("status = %+v, want running in dry mode", st)
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := b.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second stop = %v, want ErrNotRunning", err)
	}

	st = b.Status()
	if st.Running {
		t.Error("status should report stopped")
	}
	if st.CyclesCompleted < 1 {
		t.Errorf("the first cycle runs before the ticker, completed = %d", st.CyclesCompleted)
	}
}

var _ Persistence = (*persistenceSpy)(nil)

// persistenceSpy records the writes the bot makes per cycle.
type persistenceSpy struct {
	ledgerSaves int
	trades      []goals.TradeResult
}

func (p *persistenceSpy) SaveLedgerState(ctx context.Context, scope string, st ledger.State) error {
	p.ledgerSaves++
	return nil
}

func (p *persistenceSpy) InsertRealizedTrade(ctx context.Context, tr goals.TradeResult, decisionID string) error {
	p.trades = append(p.trades, tr)
	return nil
}

func (p *persistenceSpy) RealizedTradesSince(ctx context.Context, since time.Time) ([]goals.TradeResult, error) {
	return nil, nil
}

func (p *persistenceSpy) UpsertGoalTargets(ctx context.Context, targets []goals.Target) error {
	return nil
}

func TestSettleDecision_PersistsRealizedTrade(t *testing.T) {
	b, _ := newTestBot(t)
	spy := &persistenceSpy{}
	b.repo = spy

	ctx := context.Background()
	b.settleDecision(ctx, filledDecision("BTCUSDT", engine.ActionBuy, 1000), snapshotWith("BTC", 1000))
	b.settleDecision(ctx, filledDecision("BTCUSDT", engine.ActionSell, 1000), snapshotWith("BTC", 2000))

	if len(spy.trades) != 1 {
		t.Fatalf("expected one persisted trade, got %d", len(spy.trades))
	}
	if tr := spy.trades[0]; tr.Pair != "BTCUSDT" || math.Abs(tr.PnL-500) > 1e-9 {
		t.Errorf("persisted trade = %+v, want BTCUSDT with pnl 500", tr)
	}
}
