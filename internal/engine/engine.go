// Package engine implements the trading decision pipeline: a raw prediction
// signal plus portfolio, policy, and budget state in; an auditable
// APPROVE/REJECT/HOLD decision out. Checks short-circuit on first failure,
// each with a distinct reason code, and the budget commit is atomic with its
// checks so concurrent evaluations can never overrun a cap.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crypto-trading-assistant/internal/events"
	"crypto-trading-assistant/internal/exchange"
	"crypto-trading-assistant/internal/ledger"
	"crypto-trading-assistant/internal/metrics"
	"crypto-trading-assistant/internal/policy"
	"crypto-trading-assistant/internal/portfolio"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds engine parameters that are not risk policy.
type Config struct {
	QuoteCurrency    string        // home currency asset, e.g. "USDT"
	ExecutionTimeout time.Duration // deadline for the post-approval gateway call
}

// Engine evaluates signals. It owns no persistent state of its own: it reads
// portfolio and policy, and exclusively owns the write path into the budget
// ledger and the decision log.
type Engine struct {
	cfg     Config
	gateway exchange.Gateway
	log     DecisionLog
	halt    *EmergencyStop
	bus     *events.Bus
	logger  zerolog.Logger
}

// New creates a decision engine.
func New(cfg Config, gateway exchange.Gateway, log DecisionLog, halt *EmergencyStop, bus *events.Bus, logger zerolog.Logger) *Engine {
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 10 * time.Second
	}
	return &Engine{
		cfg:     cfg,
		gateway: gateway,
		log:     log,
		halt:    halt,
		bus:     bus,
		logger:  logger.With().Str("component", "engine").Logger(),
	}
}

// Halt exposes the engine's emergency stop flag.
func (e *Engine) Halt() *EmergencyStop {
	return e.halt
}

// Evaluate runs a signal through the decision pipeline against the main
// trading ledger.
func (e *Engine) Evaluate(ctx context.Context, sig Signal, snap *portfolio.Snapshot, pol policy.RiskPolicy, led *ledger.Ledger) Decision {
	return e.evaluate(ctx, sig, snap, pol, led, "")
}

// EvaluateCampaign runs a campaign-originated signal against the campaign's
// sub-ledger. The checks are identical; only the budget pool differs.
func (e *Engine) EvaluateCampaign(ctx context.Context, sig Signal, snap *portfolio.Snapshot, pol policy.RiskPolicy, led *ledger.Ledger, campaignID string) Decision {
	return e.evaluate(ctx, sig, snap, pol, led, campaignID)
}

func (e *Engine) evaluate(ctx context.Context, sig Signal, snap *portfolio.Snapshot, pol policy.RiskPolicy, led *ledger.Ledger, campaignID string) Decision {
	d := Decision{
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		Pair:         sig.Pair,
		Signal:       sig,
		PortfolioRef: snap.ID,
		Confidence:   sig.Confidence,
		CampaignID:   campaignID,
	}

	// Check 0: process-wide halt, before anything else.
	if e.halt.Engaged() {
		return e.reject(ctx, d, ReasonEmergencyHalt, "emergency stop is engaged; all trading is halted")
	}

	// Check 1: signal validity.
	if msg, ok := validateSignal(sig, pol); !ok {
		return e.reject(ctx, d, ReasonInvalidSignal, msg)
	}

	if sig.Action == ActionHold {
		d.Outcome = OutcomeHold
		d.ReasonCode = ReasonSignalHold
		d.Reason = fmt.Sprintf("signal advises holding %s (confidence %.2f)", sig.Pair, sig.Confidence)
		return e.finish(ctx, d)
	}

	asset := e.baseAsset(sig.Pair)
	holding := snap.Holding(asset)
	requested := sig.Strength

	// Check 2: protected reserve. Absolute for sells; no confidence level
	// overrides it.
	if sig.Action == ActionSell {
		if holding.Amount <= 0 {
			return e.reject(ctx, d, ReasonInvalidSignal, fmt.Sprintf("sell signal for %s but nothing is held", asset))
		}
		price := holding.Value / holding.Amount
		quantity := requested / price
		reserve := pol.ProtectedReserve[asset]
		if holding.Amount-quantity < reserve {
			return e.reject(ctx, d, ReasonProtectedAsset,
				fmt.Sprintf("selling %.4f %s would leave %.4f, below the protected reserve of %.4f",
					quantity, asset, holding.Amount-quantity, reserve))
		}
	}

	// Check 3: confidence threshold.
	if sig.Confidence < pol.MinConfidence {
		return e.reject(ctx, d, ReasonLowConfidence,
			fmt.Sprintf("confidence %.2f is below the policy minimum %.2f", sig.Confidence, pol.MinConfidence))
	}

	// Check 4: position sizing against the per-trade cap and the allocation
	// headroom still available in the current portfolio.
	amount := requested
	if amount > pol.MaxTradeAmount {
		amount = pol.MaxTradeAmount
	}

	maxAssetValue := pol.MaxAssetAllocationPercent / 100 * snap.TotalValue
	lim := ledger.Limits{
		MaxDailyVolume:       pol.MaxDailyVolume,
		MaxTradesPerDay:      pol.MaxTradesPerDay,
		MaxConsecutiveLosses: pol.MaxConsecutiveLosses,
	}
	if sig.Action == ActionBuy {
		headroom := maxAssetValue - holding.Value
		if headroom <= 0 {
			return e.reject(ctx, d, ReasonAllocationCap,
				fmt.Sprintf("%s already holds %.1f%% of the portfolio, at or above the %.1f%% cap",
					asset, snap.AllocationPercent(asset), pol.MaxAssetAllocationPercent))
		}
		if amount > headroom {
			amount = headroom
		}
		lim.MaxAssetExposure = maxAssetValue
	}

	// Checks 5-7 plus the decrement happen atomically inside the ledger; the
	// halt flag is re-checked immediately before the commit.
	approved, err := led.Reserve(asset, amount, lim, e.halt.Guard)
	if err != nil {
		code, msg := refusalReason(err, pol)
		return e.reject(ctx, d, code, msg)
	}

	d.Outcome = OutcomeApproved
	d.ReasonCode = ReasonApproved
	d.ApprovedAmount = approved
	d.Risk = assessRisk(approved, sig.Confidence, snap.TotalValue)
	d.Reason = fmt.Sprintf("approved %s of %.2f %s on %s at %s risk",
		sig.Action, approved, e.cfg.QuoteCurrency, sig.Pair, d.Risk.Level)

	e.execute(ctx, &d)

	return e.finish(ctx, d)
}

// execute forwards an approved decision to the exchange gateway. A timeout
// does not roll back the reservation: that capital is considered at risk
// until reconciled against the exchange's order state.
func (e *Engine) execute(ctx context.Context, d *Decision) {
	side := exchange.SideBuy
	if d.Signal.Action == ActionSell {
		side = exchange.SideSell
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	defer cancel()

	res, err := e.gateway.PlaceOrder(callCtx, d.Pair, side, d.ApprovedAmount)
	switch {
	case err == nil:
		d.Execution = ExecutionFilled
		d.OrderID = res.OrderID
	case errors.Is(err, context.DeadlineExceeded):
		d.Execution = ExecutionPending
		e.logger.Warn().Str("decision_id", d.ID).Str("pair", d.Pair).
			Msg("order placement timed out; reservation kept pending reconciliation")
		e.bus.Emit(events.EventExecutionPending, map[string]interface{}{
			"decision_id": d.ID, "pair": d.Pair, "amount": d.ApprovedAmount,
		})
	default:
		d.Execution = ExecutionFailed
		e.logger.Error().Err(err).Str("decision_id", d.ID).Str("pair", d.Pair).
			Msg("order placement failed")
		e.bus.Emit(events.EventExecutionFailed, map[string]interface{}{
			"decision_id": d.ID, "pair": d.Pair, "error": err.Error(),
		})
	}
	metrics.ExecutionOutcomes.WithLabelValues(string(d.Execution)).Inc()
}

func (e *Engine) reject(ctx context.Context, d Decision, code Reason, msg string) Decision {
	d.Outcome = OutcomeRejected
	d.ReasonCode = code
	d.Reason = msg
	return e.finish(ctx, d)
}

// finish records the decision. No outcome is ever dropped: a policy refusal
// is a correct decision and is logged with the same care as an approval.
func (e *Engine) finish(ctx context.Context, d Decision) Decision {
	if err := e.log.Append(ctx, d); err != nil {
		e.logger.Error().Err(err).Str("decision_id", d.ID).Msg("failed to append decision to log")
	}

	metrics.DecisionsTotal.WithLabelValues(string(d.Outcome), string(d.ReasonCode)).Inc()

	switch d.Outcome {
	case OutcomeApproved:
		metrics.ApprovedVolume.Add(d.ApprovedAmount)
		e.bus.Emit(events.EventDecisionApproved, decisionPayload(d))
		e.logger.Info().Str("decision_id", d.ID).Str("pair", d.Pair).
			Float64("amount", d.ApprovedAmount).Str("risk", string(d.Risk.Level)).
			Msg("trade approved")
	case OutcomeRejected:
		e.bus.Emit(events.EventDecisionRejected, decisionPayload(d))
		e.logger.Info().Str("decision_id", d.ID).Str("pair", d.Pair).
			Str("reason_code", string(d.ReasonCode)).Str("reason", d.Reason).
			Msg("trade rejected")
	case OutcomeHold:
		e.bus.Emit(events.EventDecisionHold, decisionPayload(d))
		e.logger.Debug().Str("decision_id", d.ID).Str("pair", d.Pair).Msg("signal held")
	}

	return d
}

func (e *Engine) baseAsset(pair string) string {
	return strings.TrimSuffix(pair, e.cfg.QuoteCurrency)
}

// validateSignal applies the malformed-signal checks: confidence range,
// recognized action, configured pair, and a positive requested amount for
// actionable signals.
func validateSignal(sig Signal, pol policy.RiskPolicy) (string, bool) {
	if sig.Confidence < 0 || sig.Confidence > 1 {
		return fmt.Sprintf("confidence %.3f is outside [0,1]", sig.Confidence), false
	}
	switch sig.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return fmt.Sprintf("unrecognized action %q", sig.Action), false
	}
	if !pol.IsTradable(sig.Pair) {
		return fmt.Sprintf("%s is not a configured tradable pair", sig.Pair), false
	}
	if sig.Action != ActionHold && sig.Strength <= 0 {
		return fmt.Sprintf("requested amount %.2f must be positive", sig.Strength), false
	}
	return "", true
}

// refusalReason maps a ledger refusal to the decision reason code and text.
func refusalReason(err error, pol policy.RiskPolicy) (Reason, string) {
	switch {
	case errors.Is(err, ledger.ErrAllocationCapExceeded):
		return ReasonAllocationCap, "per-asset exposure has no remaining headroom under the allocation cap"
	case errors.Is(err, ledger.ErrDailyVolumeExceeded):
		return ReasonDailyVolume, fmt.Sprintf("daily trading volume cap of %.2f is exhausted", pol.MaxDailyVolume)
	case errors.Is(err, ledger.ErrTradeCountExceeded):
		return ReasonTradeCount, fmt.Sprintf("daily trade count cap of %d is reached", pol.MaxTradesPerDay)
	case errors.Is(err, ledger.ErrConsecutiveLossHalt):
		return ReasonLossHalt, fmt.Sprintf("%d consecutive losses reached the halt threshold; manual reset required", pol.MaxConsecutiveLosses)
	case errors.Is(err, ErrHalted):
		return ReasonEmergencyHalt, "emergency stop engaged before the budget commit"
	default:
		return ReasonInvalidSignal, err.Error()
	}
}

// assessRisk buckets an approved trade: LOW below 5% of portfolio value with
// confidence above 0.7, HIGH above 15% or confidence below 0.5, else MEDIUM.
func assessRisk(amount, confidence, totalValue float64) RiskAssessment {
	var share float64
	if totalValue > 0 {
		share = amount / totalValue
	}

	switch {
	case share > 0.15 || confidence < 0.5:
		return RiskAssessment{
			Level:       RiskHigh,
			Description: fmt.Sprintf("trade is %.1f%% of portfolio value at confidence %.2f", share*100, confidence),
		}
	case share < 0.05 && confidence > 0.7:
		return RiskAssessment{
			Level:       RiskLow,
			Description: fmt.Sprintf("small position (%.1f%% of portfolio) with strong confidence %.2f", share*100, confidence),
		}
	default:
		return RiskAssessment{
			Level:       RiskMedium,
			Description: fmt.Sprintf("moderate position (%.1f%% of portfolio) at confidence %.2f", share*100, confidence),
		}
	}
}

func decisionPayload(d Decision) map[string]interface{} {
	return map[string]interface{}{
		"decision_id": d.ID,
		"pair":        d.Pair,
		"outcome":     string(d.Outcome),
		"reason_code": string(d.ReasonCode),
		"amount":      d.ApprovedAmount,
		"confidence":  d.Confidence,
		"campaign_id": d.CampaignID,
	}
}
