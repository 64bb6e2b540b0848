package domain

import "time"

// RejectReason explains why a simulated or live order did not fill fully.
type RejectReason string

const (
	RejectNone           RejectReason = ""
	RejectRandomFill     RejectReason = "FILL_REJECTED"   // book moved away / order missed
	RejectStale          RejectReason = "STALE_SIGNAL"    // trade too old to copy
	RejectPriceDeviation RejectReason = "PRICE_DEVIATION" // winner's-curse guard
	RejectPriceQuality   RejectReason = "PRICE_QUALITY"   // entry price offers no room
	RejectRiskBlocked    RejectReason = "RISK_BLOCKED"
	RejectHedgeBlocked   RejectReason = "HEDGE_BLOCKED" // already hold this market slot
	RejectLowConfidence  RejectReason = "LOW_CONFIDENCE"
	RejectNearExpiry     RejectReason = "NEAR_EXPIRY"
	RejectHalted         RejectReason = "HALTED"
)

// Fill is the outcome of attempting an entry or exit.
type Fill struct {
	Price     float64 // effective price after slippage, 0 when rejected
	Shares    float64
	CostUSDC  float64 // signed: entry cost or exit proceeds
	FeesUSDC  float64
	GasUSDC   float64
	Partial   bool    // filled, but for less than requested
	FillRatio float64 // 1.0 for complete fills, 0 when rejected
	Reject    RejectReason
	At        time.Time
}

// Filled reports whether any size executed.
func (f Fill) Filled() bool { return f.Reject == RejectNone && f.FillRatio > 0 }
