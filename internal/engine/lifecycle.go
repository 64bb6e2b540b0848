package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polycopy/internal/adapters/storage"
	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/sim"
)

// manageOpen evalúa cada posición abierta contra sus disparadores de
// salida. La precedencia es fija: resolución del mercado, copy exit
// pendiente, take profit, stop loss, tiempo máximo de tenencia y por
// último la ventana de expiración. El primer disparador que aplica gana.
func (e *Engine) manageOpen(ctx context.Context, summary *storage.CycleSummary) {
	now := e.nowFn()

	for id, pos := range e.open {
		info, err := e.markets.MarketInfo(ctx, pos.Market)
		if err != nil {
			slog.Debug("engine: market refresh failed", "market", pos.Market, "err", err)
			info = domain.MarketInfo{}
		}

		if info.Resolved {
			e.settle(pos, info, now, summary)
			continue
		}

		price, err := e.price(ctx, pos.TokenID)
		if err != nil {
			slog.Debug("engine: exit price lookup failed", "token", pos.TokenID, "err", err)
			continue
		}

		reason := e.exitReason(id, pos, price, now)
		if reason == "" {
			continue
		}
		e.closePosition(ctx, pos, price, reason, info.EndDate, now, summary)
	}
}

// exitReason devuelve el primer disparador aplicable, o "" si la posición
// sigue viva.
func (e *Engine) exitReason(id string, pos *domain.Position, price float64, now time.Time) domain.CloseReason {
	if p, ok := e.pending[id]; ok {
		return p.reason
	}
	if pos.HitTakeProfit(price) {
		return domain.CloseTakeProfit
	}
	if pos.HitStopLoss(price) {
		return domain.CloseStopLoss
	}
	if regime := e.regimeFor(pos.Category); regime.MaxHold > 0 && pos.HeldFor(now) >= regime.MaxHold {
		return domain.CloseMaxHold
	}
	if pos.NearExpiry(now, e.cfg.ExpiryWindow) {
		return domain.CloseExpiry
	}
	return ""
}

// settle liquida una posición de un mercado resuelto al payout final:
// 1 USDC por share si nuestro token ganó, 0 si perdió. No hay slippage ni
// fees en la redención.
func (e *Engine) settle(pos *domain.Position, info domain.MarketInfo, now time.Time, summary *storage.CycleSummary) {
	payout := 0.0
	if info.WinnerToken == pos.TokenID {
		payout = 1.0
	}

	if err := pos.Close(payout, domain.CloseResolved, 0, now); err != nil {
		slog.Warn("engine: settle", "position", pos.ID, "err", err)
		return
	}
	e.finalize(pos, summary)

	slog.Info("engine: position settled",
		"market", pos.Question,
		"outcome", pos.Outcome,
		"won", payout == 1.0,
		"pnl", pos.PnLUSDC,
	)
}

// closePosition ejecuta la salida por el simulador. Un rechazo del libro
// deja la posición abierta y en pendientes: se reintenta el ciclo
// siguiente al precio que haya, y pasado ExitRetryTimeout se fuerza el
// cierre a mercado.
func (e *Engine) closePosition(
	ctx context.Context,
	pos *domain.Position,
	price float64,
	reason domain.CloseReason,
	endDate time.Time,
	now time.Time,
	summary *storage.CycleSummary,
) {
	fill := e.sim.ExecuteExit(sim.ExitRequest{
		Position:     *pos,
		CurrentPrice: price,
		EndDate:      endDate,
	}, now)
	if !fill.Filled() {
		p, ok := e.pending[pos.ID]
		if !ok {
			e.pending[pos.ID] = pendingExit{reason: reason, since: now}
			slog.Debug("engine: exit rejected, retrying next cycle",
				"position", pos.ID, "reason", reason)
			return
		}
		if e.cfg.ExitRetryTimeout <= 0 || now.Sub(p.since) < e.cfg.ExitRetryTimeout {
			return
		}
		// Demasiados ciclos rechazados: cerrar a mercado sin fricción
		// antes que seguir expuestos a un libro que no nos quiere.
		if err := pos.Close(price, reason, 0, now); err != nil {
			slog.Warn("engine: forced close", "position", pos.ID, "err", err)
			return
		}
		slog.Warn("engine: exit forced after repeated rejections",
			"position", pos.ID, "reason", reason, "waited", now.Sub(p.since))
		e.finalize(pos, summary)
		return
	}

	if err := pos.Close(fill.Price, reason, fill.FeesUSDC+fill.GasUSDC, now); err != nil {
		slog.Warn("engine: close", "position", pos.ID, "err", err)
		return
	}
	e.mirrorOrder(ctx, pos.TokenID, domain.SideSell, fill)
	e.finalize(pos, summary)

	if e.archive != nil {
		if err := e.archive.RecordFill(ctx, pos.ID, "exit", fill); err != nil {
			slog.Warn("engine: archive fill", "err", err)
		}
	}

	slog.Info("engine: position closed",
		"market", pos.Question,
		"reason", reason,
		"entry", pos.EntryPrice,
		"exit", pos.ExitPrice,
		"pnl", pos.PnLUSDC,
	)
}

// finalize saca la posición del libro abierto, ajusta riesgo y scores y
// recorta el histórico cerrado.
func (e *Engine) finalize(pos *domain.Position, summary *storage.CycleSummary) {
	delete(e.open, pos.ID)
	delete(e.byKey, pos.Key())
	delete(e.pending, pos.ID)

	e.guard.Release(pos.Market, pos.CostUSDC)
	e.guard.RecordPnL(pos.PnLUSDC, e.nowFn())
	e.scores.RecordResult(pos.Account, pos.Category, pos.PnLUSDC, e.nowFn())

	e.closed = append(e.closed, *pos)
	if len(e.closed) > closedHistory {
		e.closed = e.closed[len(e.closed)-closedHistory:]
	}

	e.dirty = true
	summary.Exits++
	e.counters.Exits++

	if e.notifier != nil {
		e.notifier.NotifyExit(*pos)
	}
}
