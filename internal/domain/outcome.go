package domain

import "time"

// OutcomeKind is the closed set of results an execution attempt can produce.
type OutcomeKind string

const (
	// OutcomeSuccess: both legs filled; a Complete position exists.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomePartialFillUnwound: exactly one leg filled and the unwind sell
	// closed it.
	OutcomePartialFillUnwound OutcomeKind = "partial_fill_unwound"
	// OutcomePartialFillUnwindFailed: one leg filled and the unwind also
	// failed. The executor halts until operator reset.
	OutcomePartialFillUnwindFailed OutcomeKind = "partial_fill_unwind_failed"
	// OutcomeBothRejected: neither leg filled; no position exists.
	OutcomeBothRejected OutcomeKind = "both_rejected"
	// OutcomeRejected: a pre-submission gate refused the attempt.
	OutcomeRejected OutcomeKind = "rejected"
	// OutcomeAPIError: transport-level failure before any fill was
	// confirmed, distinct from a genuine venue rejection.
	OutcomeAPIError OutcomeKind = "api_error"
)

// RejectReason identifies which gate refused a candidate.
type RejectReason string

const (
	RejectCooldown            RejectReason = "cooldown"
	RejectDailyLoss           RejectReason = "daily_loss_limit"
	RejectCircuitOpen         RejectReason = "circuit_breaker_open"
	RejectInsufficientBalance RejectReason = "insufficient_balance"
	RejectHalted              RejectReason = "halted"
)

// ExecutionOutcome is the tagged result of one execution attempt. Exactly
// one of Position / StrandedLeg / Reason / Err is meaningful per Kind.
type ExecutionOutcome struct {
	Kind        OutcomeKind
	Position    *ArbitragePosition // set on Success
	StrandedLeg *LegFill           // set on the partial-fill outcomes
	Reason      RejectReason       // set on Rejected
	Err         error              // set on APIError and UnwindFailed
	Latency     time.Duration      // submission to reconciliation
	AttemptedAt time.Time
}

// Succeeded reports whether the attempt produced a complete paired position.
func (o ExecutionOutcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

// Attempted reports whether orders actually left for the venue. Gate
// rejections never count as attempts for metrics purposes.
func (o ExecutionOutcome) Attempted() bool {
	return o.Kind != OutcomeRejected
}
