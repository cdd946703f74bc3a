package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crypto-trading-assistant/internal/campaign"
	"crypto-trading-assistant/internal/engine"
	"crypto-trading-assistant/internal/goals"
	"crypto-trading-assistant/internal/ledger"

	"github.com/jackc/pgx/v5"
)

// Repository provides data access on top of DB.
type Repository struct {
	db *DB
}

// NewRepository creates a repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// =====================================================
// DECISION LOG
// =====================================================

// InsertDecision appends a decision to the audit log.
func (r *Repository) InsertDecision(ctx context.Context, d engine.Decision) error {
	signal, err := json.Marshal(d.Signal)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	query := `
		INSERT INTO decisions (
			id, ts, pair, signal, portfolio_ref, outcome, reason_code, reason,
			risk_level, risk_description, approved_amount, confidence,
			execution_status, order_id, campaign_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		d.ID, d.Timestamp, d.Pair, signal, d.PortfolioRef,
		string(d.Outcome), string(d.ReasonCode), d.Reason,
		string(d.Risk.Level), d.Risk.Description, d.ApprovedAmount, d.Confidence,
		string(d.Execution), nullable(d.OrderID), nullable(d.CampaignID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// RecentDecisions returns up to limit decisions, newest first.
func (r *Repository) RecentDecisions(ctx context.Context, limit int) ([]engine.Decision, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, ts, pair, signal, portfolio_ref, outcome, reason_code, reason,
			risk_level, risk_description, approved_amount, confidence,
			execution_status, order_id, campaign_id
		FROM decisions
		ORDER BY ts DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []engine.Decision
	for rows.Next() {
		var d engine.Decision
		var signal []byte
		var outcome, reasonCode, riskLevel, execStatus string
		var orderID, campaignID *string

		if err := rows.Scan(
			&d.ID, &d.Timestamp, &d.Pair, &signal, &d.PortfolioRef,
			&outcome, &reasonCode, &d.Reason,
			&riskLevel, &d.Risk.Description, &d.ApprovedAmount, &d.Confidence,
			&execStatus, &orderID, &campaignID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}

		if err := json.Unmarshal(signal, &d.Signal); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signal for decision %s: %w", d.ID, err)
		}
		d.Outcome = engine.Outcome(outcome)
		d.ReasonCode = engine.Reason(reasonCode)
		d.Risk.Level = engine.RiskLevel(riskLevel)
		d.Execution = engine.ExecutionStatus(execStatus)
		if orderID != nil {
			d.OrderID = *orderID
		}
		if campaignID != nil {
			d.CampaignID = *campaignID
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// =====================================================
// LEDGER STATES
// =====================================================

// SaveLedgerState upserts the ledger counters for a scope and date.
func (r *Repository) SaveLedgerState(ctx context.Context, scope string, st ledger.State) error {
	state, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger state: %w", err)
	}

	query := `
		INSERT INTO ledger_states (scope, date, state, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (scope, date) DO UPDATE SET state = $3, updated_at = NOW()
	`
	if _, err := r.db.Pool.Exec(ctx, query, scope, st.Date, state); err != nil {
		return fmt.Errorf("failed to save ledger state: %w", err)
	}
	return nil
}

// LatestLedgerState returns the most recent state for a scope. Returns
// (nil, nil) when the scope has never been persisted.
func (r *Repository) LatestLedgerState(ctx context.Context, scope string) (*ledger.State, error) {
	query := `
		SELECT state FROM ledger_states
		WHERE scope = $1
		ORDER BY date DESC
		LIMIT 1
	`
	var raw []byte
	err := r.db.Pool.QueryRow(ctx, query, scope).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger state: %w", err)
	}

	var st ledger.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger state: %w", err)
	}
	return &st, nil
}

// =====================================================
// CAMPAIGNS
// =====================================================

// SaveCampaign upserts a campaign record with its sub-ledger counters.
func (r *Repository) SaveCampaign(ctx context.Context, c *campaign.Campaign) error {
	pairs, err := json.Marshal(c.Pairs)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign pairs: %w", err)
	}
	subLedger, err := json.Marshal(c.SubLedgerState())
	if err != nil {
		return fmt.Errorf("failed to marshal sub-ledger: %w", err)
	}

	query := `
		INSERT INTO campaigns (
			id, allocated_capital, profit_target, timeframe_days, risk_level,
			pairs, created_at, status, realized_profit, sub_ledger, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = $8, realized_profit = $9, sub_ledger = $10, updated_at = NOW()
	`
	_, err = r.db.Pool.Exec(ctx, query,
		c.ID, c.AllocatedCapital, c.ProfitTarget, c.TimeframeDays, c.RiskLevel,
		pairs, c.CreatedAt, string(c.Status), c.RealizedProfit, subLedger,
	)
	if err != nil {
		return fmt.Errorf("failed to save campaign: %w", err)
	}
	return nil
}

// CampaignRecord is a persisted campaign plus its sub-ledger counters,
// used to restore the manager at startup.
type CampaignRecord struct {
	Campaign  campaign.Campaign
	SubLedger ledger.State
}

// LoadCampaigns returns every persisted campaign.
func (r *Repository) LoadCampaigns(ctx context.Context) ([]CampaignRecord, error) {
	query := `
		SELECT id, allocated_capital, profit_target, timeframe_days, risk_level,
			pairs, created_at, status, realized_profit, sub_ledger
		FROM campaigns
		ORDER BY created_at DESC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	var out []CampaignRecord
	for rows.Next() {
		var rec CampaignRecord
		var pairs, subLedger []byte
		var status string

		if err := rows.Scan(
			&rec.Campaign.ID, &rec.Campaign.AllocatedCapital, &rec.Campaign.ProfitTarget,
			&rec.Campaign.TimeframeDays, &rec.Campaign.RiskLevel,
			&pairs, &rec.Campaign.CreatedAt, &status, &rec.Campaign.RealizedProfit, &subLedger,
		); err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}

		if err := json.Unmarshal(pairs, &rec.Campaign.Pairs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal campaign pairs: %w", err)
		}
		if err := json.Unmarshal(subLedger, &rec.SubLedger); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sub-ledger: %w", err)
		}
		rec.Campaign.Status = campaign.Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =====================================================
// GOAL TARGETS
// =====================================================

// UpsertGoalTargets persists the current goal standings.
func (r *Repository) UpsertGoalTargets(ctx context.Context, targets []goals.Target) error {
	query := `
		INSERT INTO goal_targets (period, target_amount, current_progress, probability, confidence_level, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (period) DO UPDATE SET
			target_amount = $2, current_progress = $3, probability = $4,
			confidence_level = $5, updated_at = NOW()
	`
	for _, t := range targets {
		if _, err := r.db.Pool.Exec(ctx, query,
			string(t.Period), t.TargetAmount, t.CurrentProgress, t.Probability, t.ConfidenceLevel,
		); err != nil {
			return fmt.Errorf("failed to upsert goal target %s: %w", t.Period, err)
		}
	}
	return nil
}

// GoalTargetAmounts returns persisted target amounts by period. Missing
// periods are simply absent from the map.
func (r *Repository) GoalTargetAmounts(ctx context.Context) (map[goals.Period]float64, error) {
	query := `SELECT period, target_amount FROM goal_targets`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query goal targets: %w", err)
	}
	defer rows.Close()

	out := make(map[goals.Period]float64)
	for rows.Next() {
		var period string
		var amount float64
		if err := rows.Scan(&period, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan goal target: %w", err)
		}
		out[goals.Period(period)] = amount
	}
	return out, rows.Err()
}

// =====================================================
// REALIZED TRADES
// =====================================================

// InsertRealizedTrade records a realized trade outcome.
func (r *Repository) InsertRealizedTrade(ctx context.Context, t goals.TradeResult, decisionID string) error {
	query := `
		INSERT INTO realized_trades (pair, pnl, closed_at, decision_id)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.Pool.Exec(ctx, query, t.Pair, t.PnL, t.ClosedAt, nullable(decisionID)); err != nil {
		return fmt.Errorf("failed to insert realized trade: %w", err)
	}
	return nil
}

// RealizedTradesSince returns realized trades closed at or after the cutoff,
// oldest first.
func (r *Repository) RealizedTradesSince(ctx context.Context, since time.Time) ([]goals.TradeResult, error) {
	query := `
		SELECT pair, pnl, closed_at FROM realized_trades
		WHERE closed_at >= $1
		ORDER BY closed_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query realized trades: %w", err)
	}
	defer rows.Close()

	var out []goals.TradeResult
	for rows.Next() {
		var t goals.TradeResult
		if err := rows.Scan(&t.Pair, &t.PnL, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan realized trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
