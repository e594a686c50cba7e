package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bus channels and streams used for signal fan-out.
const (
	ChannelOpportunities = "crossarb:opportunities"
	ChannelOutcomes      = "crossarb:outcomes"
	ChannelResolutions   = "crossarb:resolutions"
	StreamExecutions     = "crossarb:executions"
)

// OpportunityEvent is the wire form of a detected candidate published on
// the signal bus for external observers.
type OpportunityEvent struct {
	PairID      string          `json:"pair_id"`
	PairCost    decimal.Decimal `json:"pair_cost"`
	NetProfit   decimal.Decimal `json:"net_profit"`
	Size        decimal.Decimal `json:"size"`
	Investment  decimal.Decimal `json:"investment"`
	RiskScore   float64         `json:"risk_score"`
	TotalProfit decimal.Decimal `json:"total_profit"`
	DetectedAt  time.Time       `json:"detected_at"`
}

// NewOpportunityEvent projects an opportunity onto its bus form.
func NewOpportunityEvent(o ArbitrageOpportunity) OpportunityEvent {
	return OpportunityEvent{
		PairID:      o.Pair.ID,
		PairCost:    o.PairCost,
		NetProfit:   o.NetProfit,
		Size:        o.Size,
		Investment:  o.Investment,
		RiskScore:   o.RiskScore,
		TotalProfit: o.TotalProfit(),
		DetectedAt:  o.DetectedAt,
	}
}

// OutcomeEvent is the wire form of an execution attempt's result.
type OutcomeEvent struct {
	Kind        OutcomeKind  `json:"kind"`
	PairID      string       `json:"pair_id"`
	PositionID  string       `json:"position_id,omitempty"`
	Reason      RejectReason `json:"reason,omitempty"`
	Error       string       `json:"error,omitempty"`
	LatencyMS   int64        `json:"latency_ms"`
	AttemptedAt time.Time    `json:"attempted_at"`
}

// NewOutcomeEvent projects an outcome onto its bus form.
func NewOutcomeEvent(pairID string, out ExecutionOutcome) OutcomeEvent {
	ev := OutcomeEvent{
		Kind:        out.Kind,
		PairID:      pairID,
		Reason:      out.Reason,
		LatencyMS:   out.Latency.Milliseconds(),
		AttemptedAt: out.AttemptedAt,
	}
	if out.Position != nil {
		ev.PositionID = out.Position.ID
	}
	if out.Err != nil {
		ev.Error = out.Err.Error()
	}
	return ev
}
