package engine

import (
	"time"

	"github.com/alejandrodnm/polycopy/internal/dedup"
	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/risk"
	"github.com/alejandrodnm/polycopy/internal/scoring"
	"github.com/alejandrodnm/polycopy/internal/sim"
)

// Counters acumula la actividad del engine desde el arranque.
type Counters struct {
	Cycles     int
	Entries    int
	Exits      int
	Rejections int
}

// Status es la foto operativa que renderiza el notifier de consola.
type Status struct {
	At         time.Time
	State      risk.State
	Bankroll   float64
	Exposure   float64
	DailyPnL   float64
	Open       []domain.Position
	Closed     []domain.Position // recent history, newest last
	Counters   Counters
	SimStats   sim.Stats
	Rankings   []scoring.Ranking
	HotFlows   []dedup.Flow // clusters currently in the window
	TotalPnL   float64 // realized, since start
	Unrealized float64
}

// Status arma la foto operativa. Los PnL no realizados usan el último
// precio conocido de cada token; posiciones sin print reciente cuentan a
// precio de entrada.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	snap := e.guard.Snapshot()

	st := Status{
		At:       now,
		State:    e.guard.CurrentState(now),
		Bankroll: snap.Bankroll,
		Exposure: snap.Exposure,
		DailyPnL: snap.DailyPnL,
		Counters: e.counters,
		SimStats: e.sim.Stats(),
		Rankings: e.scores.Rankings(),
		HotFlows: e.clusters.Hot(now),
	}

	for _, p := range e.open {
		st.Open = append(st.Open, *p)
		price := p.EntryPrice
		if pt, ok := e.lastPrice[p.TokenID]; ok {
			price = pt.price
		}
		st.Unrealized += p.MarkToMarket(price)
	}
	for _, p := range e.closed {
		st.TotalPnL += p.PnLUSDC
	}
	st.Closed = append(st.Closed, e.closed...)
	return st
}
