package engine

import (
	"fmt"
	"time"
)

// Direction is the ML source's market read.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// Action is the trade action a signal proposes.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Signal is a confidence-scored trade suggestion. Immutable once received.
// Strength is the requested notional amount in home currency.
type Signal struct {
	Pair        string    `json:"pair"`
	Direction   Direction `json:"direction"`
	Action      Action    `json:"action"`
	Confidence  float64   `json:"confidence"`
	Strength    float64   `json:"strength"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Key identifies a signal for idempotent handling: a late or duplicate
// delivery of the same (pair, generated_at) is a no-op.
func (s Signal) Key() string {
	return fmt.Sprintf("%s@%d", s.Pair, s.GeneratedAt.UnixNano())
}

// Outcome is the engine's verdict on a signal.
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeHold     Outcome = "HOLD"
)

// Reason codes attached to decisions. Each rejecting check in the pipeline
// produces a distinct code.
type Reason string

const (
	ReasonEmergencyHalt   Reason = "EMERGENCY_HALT"
	ReasonInvalidSignal   Reason = "INVALID_SIGNAL"
	ReasonProtectedAsset  Reason = "PROTECTED_ASSET"
	ReasonLowConfidence   Reason = "LOW_CONFIDENCE"
	ReasonAllocationCap   Reason = "ALLOCATION_CAP_EXCEEDED"
	ReasonDailyVolume     Reason = "DAILY_VOLUME_EXCEEDED"
	ReasonTradeCount      Reason = "TRADE_COUNT_EXCEEDED"
	ReasonLossHalt        Reason = "CONSECUTIVE_LOSS_HALT"
	ReasonSignalHold      Reason = "SIGNAL_HOLD"
	ReasonApproved        Reason = "APPROVED"
)

// RiskLevel buckets the risk of an approved trade.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// RiskAssessment explains the computed risk level.
type RiskAssessment struct {
	Level       RiskLevel `json:"risk_level"`
	Description string    `json:"description"`
}

// ExecutionStatus records what happened after an approval was forwarded to
// the exchange gateway. The risk-policy verdict itself is unaffected: a
// failed or pending execution still belongs to a correctly APPROVED decision
// and is reconciled separately.
type ExecutionStatus string

const (
	ExecutionNone    ExecutionStatus = ""
	ExecutionFilled  ExecutionStatus = "EXECUTED"
	ExecutionPending ExecutionStatus = "EXECUTION_PENDING"
	ExecutionFailed  ExecutionStatus = "EXECUTION_FAILED"
)

// Decision is the auditable unit persisted to the decision log. Immutable
// once created.
type Decision struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Pair           string          `json:"pair"`
	Signal         Signal          `json:"signal"`
	PortfolioRef   string          `json:"portfolio_ref"`
	Outcome        Outcome         `json:"final_decision"`
	ReasonCode     Reason          `json:"reason_code"`
	Reason         string          `json:"reason"`
	Risk           RiskAssessment  `json:"risk_assessment"`
	ApprovedAmount float64         `json:"approved_amount,omitempty"`
	Confidence     float64         `json:"confidence"`
	Execution      ExecutionStatus `json:"execution_status,omitempty"`
	OrderID        string          `json:"order_id,omitempty"`
	CampaignID     string          `json:"campaign_id,omitempty"`
}
