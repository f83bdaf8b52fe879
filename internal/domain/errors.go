package domain

import (
	"errors"
	"fmt"
)

// Taxonomía de errores del motor. Se comparan con errors.Is.
var (
	ErrStaleOrInvalidTick  = errors.New("stale or invalid tick")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrNoQuote             = errors.New("no quote")
	ErrContractResolution  = errors.New("contract resolution failure")
	ErrRiskLimitBreached   = errors.New("risk limit breached")
	ErrSubmissionTimeout   = errors.New("submission timeout")
	ErrSubmissionRejected  = errors.New("submission rejected")
	ErrFeedDegraded        = errors.New("feed degraded")
)

// RejectReason identifica qué gate del risk gateway rechazó una intent.
type RejectReason string

const (
	RejectNotionalCap   RejectReason = "max_usd_per_trade"
	RejectHourlyTrades  RejectReason = "max_trades_per_hour"
	RejectDailyLoss     RejectReason = "max_daily_loss"
	RejectFeedDegraded  RejectReason = "feed_degraded"
	RejectInvalidIntent RejectReason = "invalid_intent"
)

// RiskRejection es el error tipado que devuelve el gateway al rechazar una intent.
type RiskRejection struct {
	Reason RejectReason
	Detail string
}

func (r *RiskRejection) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("risk rejected: %s", r.Reason)
	}
	return fmt.Sprintf("risk rejected: %s: %s", r.Reason, r.Detail)
}

// Unwrap permite errors.Is contra ErrFeedDegraded / ErrRiskLimitBreached.
func (r *RiskRejection) Unwrap() error {
	if r.Reason == RejectFeedDegraded {
		return ErrFeedDegraded
	}
	return ErrRiskLimitBreached
}
