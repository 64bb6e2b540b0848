package domain

import (
	"fmt"
	"time"
)

// PositionStatus is the lifecycle state of a copied position.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionClosed  PositionStatus = "CLOSED"  // exited before resolution
	PositionSettled PositionStatus = "SETTLED" // market resolved while held
)

// CloseReason records why a position left the OPEN state.
type CloseReason string

const (
	CloseTakeProfit CloseReason = "TAKE_PROFIT"
	CloseStopLoss   CloseReason = "STOP_LOSS"
	CloseCopyExit   CloseReason = "COPY_EXIT"   // tracked account exited
	CloseMaxHold    CloseReason = "MAX_HOLD"    // held too long for its regime
	CloseExpiry     CloseReason = "NEAR_EXPIRY" // forced out near resolution
	CloseResolved   CloseReason = "RESOLVED"
	CloseManual     CloseReason = "MANUAL"
)

// Position is one copied trade from entry to exit.
type Position struct {
	ID          string         `json:"id"`
	Account     string         `json:"account"` // account being copied
	Market      string         `json:"market"`
	TokenID     string         `json:"token_id"`
	Outcome     string         `json:"outcome"`
	Category    Category       `json:"category"`
	Question    string         `json:"question"`
	Status      PositionStatus `json:"status"`
	SignalPrice float64        `json:"signal_price"` // price the tracked account paid
	EntryPrice  float64        `json:"entry_price"`  // price we actually got
	Shares      float64        `json:"shares"`
	CostUSDC    float64        `json:"cost_usdc"` // entry cost including fees
	FeesUSDC    float64        `json:"fees_usdc"` // entry + exit fees accumulated
	TakeProfit  float64        `json:"take_profit"` // exit trigger price, above entry
	StopLoss    float64        `json:"stop_loss"`   // exit trigger price, below entry
	OpenedAt    time.Time      `json:"opened_at"`
	ClosedAt    *time.Time     `json:"closed_at,omitempty"`
	ExitPrice   float64        `json:"exit_price,omitempty"`
	PnLUSDC     float64        `json:"pnl_usdc"`
	CloseReason CloseReason    `json:"close_reason,omitempty"`
	SignalID    string         `json:"signal_id"`
	EndDate     time.Time      `json:"end_date,omitempty"` // market resolution time, zero if unknown
}

// Key identifies the market slot a position occupies. At most one open
// position per market: the engine never holds both sides.
func (p Position) Key() string { return p.Market }

// MarkToMarket returns unrealized PnL at the given price.
func (p Position) MarkToMarket(price float64) float64 {
	return p.Shares*price - p.CostUSDC
}

// HitTakeProfit reports whether price has reached the TP trigger.
func (p Position) HitTakeProfit(price float64) bool { return price >= p.TakeProfit }

// HitStopLoss reports whether price has reached the SL trigger.
func (p Position) HitStopLoss(price float64) bool { return price <= p.StopLoss }

// HeldFor returns how long the position has been open.
func (p Position) HeldFor(now time.Time) time.Duration { return now.Sub(p.OpenedAt) }

// NearExpiry reports whether the market resolves within the window.
func (p Position) NearExpiry(now time.Time, window time.Duration) bool {
	if p.EndDate.IsZero() {
		return false
	}
	return p.EndDate.Sub(now) <= window
}

// Close marca la posición como cerrada con el precio y motivo dados.
// Idempotente: cerrar una posición ya cerrada es un error.
func (p *Position) Close(price float64, reason CloseReason, fees float64, at time.Time) error {
	if p.Status != PositionOpen {
		return fmt.Errorf("domain.Position: close %s: already %s", p.ID, p.Status)
	}
	p.Status = PositionClosed
	if reason == CloseResolved {
		p.Status = PositionSettled
	}
	p.ExitPrice = price
	p.FeesUSDC += fees
	p.PnLUSDC = p.Shares*price - p.CostUSDC - fees
	p.CloseReason = reason
	t := at
	p.ClosedAt = &t
	return nil
}

// ExitTriggers calcula los precios absolutos de TP y SL a partir del
// precio de entrada y el régimen, acotados a (0,1).
func ExitTriggers(entry float64, r Regime) (tp, sl float64) {
	tp = entry * (1 + r.TakeProfitPct)
	sl = entry * (1 - r.StopLossPct)
	if tp > 0.99 {
		tp = 0.99
	}
	if sl < 0.01 {
		sl = 0.01
	}
	return tp, sl
}
