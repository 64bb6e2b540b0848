// Package risk enforces the exposure ceilings and the daily-loss halt.
// Every entry reserves exposure atomically before any order is placed;
// exits always pass, even when halted.
package risk

import (
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// State is the guard's operating mode.
type State string

const (
	StateNormal State = "NORMAL"
	StateHalted State = "HALTED" // entries rejected, exits allowed
)

// Config are the risk limits.
type Config struct {
	InitialBankroll   float64
	MaxExposure       float64 // global open-exposure ceiling, USDC
	MaxMarketExposure float64 // per-market ceiling, USDC
	MaxDailyLoss      float64 // positive number; losing this much halts entries
	KillSwitchFile    string  // touching this file halts entries until removed
}

// DefaultConfig returns the limits used in paper runs.
func DefaultConfig() Config {
	return Config{
		InitialBankroll:   1000,
		MaxExposure:       300,
		MaxMarketExposure: 100,
		MaxDailyLoss:      50,
	}
}

// Snapshot is the persisted scalar state. Exposure here is advisory; the
// position ledger wins at startup.
type Snapshot struct {
	Day         string  `json:"day"` // YYYY-MM-DD UTC
	Bankroll    float64 `json:"bankroll"`
	PeakBalance float64 `json:"peak_balance"`
	DailyPnL    float64 `json:"daily_pnl"`
	Exposure    float64 `json:"exposure"`
	State       State   `json:"state"`
}

// Guard is the risk gate. Safe for concurrent use.
type Guard struct {
	mu        sync.Mutex
	cfg       Config
	day       string
	bankroll  float64
	peak      float64
	dailyPnL  float64
	exposure  float64
	perMarket map[string]float64
	state     State
}

// New creates a guard with a fresh bankroll.
func New(cfg Config) *Guard {
	return &Guard{
		cfg:       cfg,
		bankroll:  cfg.InitialBankroll,
		peak:      cfg.InitialBankroll,
		perMarket: make(map[string]float64),
		state:     StateNormal,
	}
}

func dayOf(t time.Time) string { return t.UTC().Format("2006-01-02") }

// scale crece los techos con la banca: nunca por debajo de los límites
// base, proporcional al máximo histórico sobre el capital inicial. Usar
// el pico y no la banca actual evita que un drawdown encoja los techos
// justo cuando las salidas necesitan margen.
func (g *Guard) scale() float64 {
	if g.cfg.InitialBankroll <= 0 {
		return 1
	}
	return math.Max(1, g.peak/g.cfg.InitialBankroll)
}

// TryReserve reserva exposición para una entrada de forma atómica.
// Devuelve el motivo de rechazo o RejectNone si la reserva quedó hecha.
func (g *Guard) TryReserve(market string, sizeUSDC float64, now time.Time) domain.RejectReason {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover(now)

	if g.state == StateHalted || g.killSwitchOn() {
		return domain.RejectHalted
	}

	scale := g.scale()
	if g.exposure+sizeUSDC > g.cfg.MaxExposure*scale {
		return domain.RejectRiskBlocked
	}
	if g.perMarket[market]+sizeUSDC > g.cfg.MaxMarketExposure*scale {
		return domain.RejectRiskBlocked
	}

	g.exposure += sizeUSDC
	g.perMarket[market] += sizeUSDC
	return domain.RejectNone
}

// Release libera la exposición reservada (rechazo aguas abajo o salida).
func (g *Guard) Release(market string, sizeUSDC float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.exposure -= sizeUSDC
	if g.exposure < 0 {
		g.exposure = 0
	}
	g.perMarket[market] -= sizeUSDC
	if g.perMarket[market] <= 0 {
		delete(g.perMarket, market)
	}
}

// Settle ajusta una reserva al coste real del fill: libera el exceso de
// un fill parcial o suma la diferencia por fees y gas, de modo que la
// exposición escalar siempre case con el ledger de posiciones abiertas.
func (g *Guard) Settle(market string, reservedUSDC, costUSDC float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delta := costUSDC - reservedUSDC
	g.exposure += delta
	if g.exposure < 0 {
		g.exposure = 0
	}
	g.perMarket[market] += delta
	if g.perMarket[market] <= 0 {
		delete(g.perMarket, market)
	}
}

// RecordPnL aplica un resultado realizado a la banca y a la pérdida
// diaria. Superar la pérdida máxima del día pasa el guard a Halted.
func (g *Guard) RecordPnL(pnlUSDC float64, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover(now)
	g.bankroll += pnlUSDC
	if g.bankroll > g.peak {
		g.peak = g.bankroll
	}
	g.dailyPnL += pnlUSDC

	if g.state == StateNormal && g.dailyPnL <= -g.cfg.MaxDailyLoss {
		g.state = StateHalted
		slog.Warn("risk: daily loss limit hit, entries halted",
			"daily_pnl", g.dailyPnL, "limit", g.cfg.MaxDailyLoss)
	}
}

// rollover resetea el día. Caller holds the lock.
func (g *Guard) rollover(now time.Time) {
	d := dayOf(now)
	if g.day == d {
		return
	}
	if g.day != "" && g.state == StateHalted {
		slog.Info("risk: date rollover, resuming entries", "day", d)
	}
	g.day = d
	g.dailyPnL = 0
	g.state = StateNormal
}

func (g *Guard) killSwitchOn() bool {
	if g.cfg.KillSwitchFile == "" {
		return false
	}
	_, err := os.Stat(g.cfg.KillSwitchFile)
	return err == nil
}

// Bankroll returns the current bankroll.
func (g *Guard) Bankroll() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bankroll
}

// Exposure returns global open exposure.
func (g *Guard) Exposure() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exposure
}

// CurrentState returns the operating mode, applying any pending rollover.
func (g *Guard) CurrentState(now time.Time) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(now)
	if g.state == StateNormal && g.killSwitchOn() {
		return StateHalted
	}
	return g.state
}

// Snapshot returns the persistable scalars.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		Day:         g.day,
		Bankroll:    g.bankroll,
		PeakBalance: g.peak,
		DailyPnL:    g.dailyPnL,
		Exposure:    g.exposure,
		State:       g.state,
	}
}

// Restore carga los escalares persistidos. La exposición se sobreescribe
// después con Reconcile; aquí solo entra como valor provisional.
func (g *Guard) Restore(s Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.day = s.Day
	if s.Bankroll > 0 {
		g.bankroll = s.Bankroll
	}
	if s.PeakBalance > g.peak {
		g.peak = s.PeakBalance
	}
	if g.bankroll > g.peak {
		g.peak = g.bankroll
	}
	g.dailyPnL = s.DailyPnL
	g.exposure = s.Exposure
	if s.State != "" {
		g.state = s.State
	}
}

// Reconcile recalcula la exposición desde el ledger de posiciones
// abiertas. El ledger siempre gana: si el escalar persistido difiere,
// se registra la discrepancia y se corrige.
func (g *Guard) Reconcile(open []domain.Position) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ledger := 0.0
	perMarket := make(map[string]float64)
	for _, p := range open {
		if p.Status != domain.PositionOpen {
			continue
		}
		ledger += p.CostUSDC
		perMarket[p.Market] += p.CostUSDC
	}

	if math.Abs(ledger-g.exposure) > 0.01 {
		slog.Warn("risk: exposure mismatch, ledger wins",
			"persisted", g.exposure, "ledger", ledger, "open", len(open))
	}
	g.exposure = ledger
	g.perMarket = perMarket
}
