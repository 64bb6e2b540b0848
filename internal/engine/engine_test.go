package engine

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polycopy/internal/adapters/storage"
	"github.com/alejandrodnm/polycopy/internal/dedup"
	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/risk"
	"github.com/alejandrodnm/polycopy/internal/scoring"
	"github.com/alejandrodnm/polycopy/internal/sim"
	"github.com/alejandrodnm/polycopy/internal/sizing"
)

// Hora pico UTC para que el multiplicador off-hours no toque los números.
var testNow = time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)

const (
	condID  = "0xcond1"
	yesTok  = "111"
	noTok   = "222"
	traderA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	traderB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	traderC = "0xcccccccccccccccccccccccccccccccccccccccc"
)

type fakeMarkets struct {
	infos  map[string]domain.MarketInfo
	prices map[string]float64
}

func (f *fakeMarkets) MarketInfo(_ context.Context, conditionID string) (domain.MarketInfo, error) {
	return f.infos[conditionID], nil
}

func (f *fakeMarkets) MarketByToken(_ context.Context, tokenID string) (domain.MarketInfo, error) {
	for _, info := range f.infos {
		for _, tok := range info.Tokens {
			if tok.TokenID == tokenID {
				return info, nil
			}
		}
	}
	return domain.MarketInfo{}, nil
}

func (f *fakeMarkets) Price(_ context.Context, tokenID string) (float64, error) {
	return f.prices[tokenID], nil
}

type recNotifier struct {
	entries []domain.Position
	exits   []domain.Position
	halts   []string
}

func (r *recNotifier) NotifyEntry(pos domain.Position, _ domain.Fill) {
	r.entries = append(r.entries, pos)
}
func (r *recNotifier) NotifyExit(pos domain.Position) { r.exits = append(r.exits, pos) }
func (r *recNotifier) NotifyHalt(reason string)       { r.halts = append(r.halts, reason) }

// quietSim desactiva todas las capas probabilísticas: fills totales al
// precio de referencia, sin fees ni gas.
func quietSim() *sim.Simulator {
	cfg := sim.DefaultConfig()
	cfg.BaseSlippage = 0
	cfg.RandomSlippage = 0
	cfg.StalenessPerSec = 0
	cfg.RejectionBase = 0
	cfg.PartialChance = 0
	cfg.CrowdSlippage = 0
	cfg.DepletionPerTrade = 0
	cfg.FeeBps = 0
	cfg.GasMinUSDC = 0
	cfg.GasMaxUSDC = 0
	cfg.PeakStartUTC = 0
	cfg.PeakEndUTC = 24
	return sim.New(cfg, rand.New(rand.NewSource(1)))
}

type harness struct {
	engine   *Engine
	markets  *fakeMarkets
	notifier *recNotifier
	guard    *risk.Guard
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	markets := &fakeMarkets{
		infos: map[string]domain.MarketInfo{
			condID: {
				ConditionID: condID,
				Question:    "Will BTC close above 100k?",
				Category:    domain.CategoryCrypto,
				Active:      true,
				Tokens: [2]domain.Token{
					{TokenID: yesTok, Outcome: "YES"},
					{TokenID: noTok, Outcome: "NO"},
				},
			},
		},
		prices: map[string]float64{yesTok: 0.50, noTok: 0.50},
	}

	scores := scoring.NewStore(10000)
	guard := risk.New(risk.DefaultConfig())
	notifier := &recNotifier{}

	h := &harness{markets: markets, notifier: notifier, guard: guard, now: testNow}
	h.engine = New(
		DefaultConfig(),
		markets,
		quietSim(),
		sizing.New(sizing.DefaultConfig(), scores),
		scores,
		guard,
		dedup.NewCache(10*time.Minute, 1000),
		dedup.NewClusterer(90*time.Second, 3),
		nil, // sin persistencia
		nil, // sin archivo
		notifier,
		nil,
	)
	h.engine.nowFn = func() time.Time { return h.now }
	return h
}

func (h *harness) push(sig domain.Signal) { h.engine.in <- sig }

func (h *harness) cycle() { h.engine.runCycle(context.Background()) }

func buySignal(account string, price float64) domain.Signal {
	return domain.Signal{
		ID:        "sig-" + account[:6],
		Origin:    domain.OriginPoll,
		Account:   account,
		Market:    condID,
		TokenID:   yesTok,
		Outcome:   "YES",
		Side:      domain.SideBuy,
		Price:     price,
		SizeUSDC:  250,
		TradeTime: testNow.Add(-10 * time.Second),
		TxHash:    "0xtx-" + account[:6],
	}
}

// --- Entradas ---

func TestEntry_OpensPosition(t *testing.T) {
	h := newHarness(t)

	h.push(buySignal(traderA, 0.50))
	h.cycle()

	require.Len(t, h.engine.open, 1)
	require.Len(t, h.notifier.entries, 1)

	var pos domain.Position
	for _, p := range h.engine.open {
		pos = *p
	}
	assert.Equal(t, traderA, pos.Account)
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.Equal(t, domain.CategoryCrypto, pos.Category)
	// sin fricciones el fill entra al precio de referencia
	assert.InDelta(t, 0.50, pos.EntryPrice, 1e-9)
	// cuenta sin historial: banca 1000 × fallback 1% × confianza 0.425
	assert.InDelta(t, 4.25, pos.CostUSDC, 1e-9)
	assert.InDelta(t, 8.5, pos.Shares, 1e-9)
	// tp = 0.50 × 1.20, sl = 0.50 × 0.88 (régimen rápido)
	assert.InDelta(t, 0.60, pos.TakeProfit, 1e-9)
	assert.InDelta(t, 0.44, pos.StopLoss, 1e-9)

	assert.InDelta(t, 4.25, h.guard.Exposure(), 1e-9)
}

func TestEntry_DuplicateIgnored(t *testing.T) {
	h := newHarness(t)

	sig := buySignal(traderA, 0.50)
	h.push(sig)
	h.cycle()

	// el mismo fill visto por el watcher on-chain: sin condition ID todavía
	// y con precio ligeramente distinto, pero mismo tx hash
	dup := sig
	dup.Origin = domain.OriginOnchain
	dup.ID = "sig-onchain"
	dup.Market = ""
	dup.Price = 0.4998
	h.push(dup)
	h.cycle()

	assert.Len(t, h.engine.open, 1)
	assert.Equal(t, 1, h.engine.counters.Entries)
}

func TestEntry_AntiHedge(t *testing.T) {
	h := newHarness(t)

	h.push(buySignal(traderA, 0.50))
	h.cycle()
	require.Len(t, h.engine.open, 1)

	// otra cuenta compra la otra cara del mismo mercado
	other := buySignal(traderB, 0.50)
	other.TokenID = noTok
	other.Outcome = "NO"
	h.push(other)
	h.cycle()

	assert.Len(t, h.engine.open, 1)
	assert.Equal(t, 1, h.engine.counters.Rejections)
}

func TestEntry_SlotFreedAfterClose(t *testing.T) {
	h := newHarness(t)

	h.push(buySignal(traderA, 0.50))
	h.cycle()
	require.Len(t, h.engine.open, 1)
	require.True(t, h.engine.slotTaken(condID))

	h.markets.prices[yesTok] = 0.70
	h.now = h.now.Add(time.Minute)
	h.cycle()
	require.Empty(t, h.engine.open)
	require.False(t, h.engine.slotTaken(condID))

	// cerrado el slot, el mercado vuelve a estar disponible
	h.markets.prices[yesTok] = 0.50
	again := buySignal(traderB, 0.50)
	again.TradeTime = h.now.Add(-5 * time.Second)
	h.push(again)
	h.cycle()

	assert.Len(t, h.engine.open, 1)
	assert.Equal(t, 2, h.engine.counters.Entries)
}

func TestEntry_PriceQualitySkip(t *testing.T) {
	h := newHarness(t)
	h.markets.prices[yesTok] = 0.93

	h.push(buySignal(traderA, 0.93))
	h.cycle()

	assert.Empty(t, h.engine.open)
	assert.Equal(t, 1, h.engine.counters.Rejections)
}

func TestEntry_ClusterBoostsSize(t *testing.T) {
	h := newHarness(t)

	// dos cuentas entran demasiado caro y se rechazan, pero su convicción
	// cuenta para el clúster que ve la tercera
	rich := buySignal(traderA, 0.93)
	h.push(rich)
	rich2 := buySignal(traderB, 0.93)
	rich2.TradeTime = testNow.Add(-9 * time.Second)
	h.push(rich2)
	last := buySignal(traderC, 0.50)
	last.TradeTime = testNow.Add(-8 * time.Second)
	h.push(last)

	h.markets.prices[yesTok] = 0.50
	h.cycle()

	// las dos primeras superan MaxEntryPrice; solo la tercera abre.
	// clúster de 3 con mínimo 3 → convicción 0.25 → multiplicador 1.125
	require.Len(t, h.engine.open, 1)
	for _, p := range h.engine.open {
		assert.InDelta(t, 4.25*1.125, p.CostUSDC, 1e-9)
	}
}

func TestEntry_BelowMinClusterNoBoost(t *testing.T) {
	h := newHarness(t)

	rich := buySignal(traderA, 0.93)
	h.push(rich)
	last := buySignal(traderB, 0.50)
	last.TradeTime = testNow.Add(-9 * time.Second)
	h.push(last)

	h.markets.prices[yesTok] = 0.50
	h.cycle()

	// dos cuentas no llegan al mínimo de clúster: tamaño base sin boost
	require.Len(t, h.engine.open, 1)
	for _, p := range h.engine.open {
		assert.InDelta(t, 4.25, p.CostUSDC, 1e-9)
	}
}

func TestEntry_ExposureMatchesFillCost(t *testing.T) {
	h := newHarness(t)

	// solo fricciones de coste deterministas: el coste real del fill
	// supera el tamaño reservado por fees y gas
	cfg := sim.DefaultConfig()
	cfg.BaseSlippage = 0
	cfg.RandomSlippage = 0
	cfg.StalenessPerSec = 0
	cfg.RejectionBase = 0
	cfg.PartialChance = 0
	cfg.CrowdSlippage = 0
	cfg.DepletionPerTrade = 0
	cfg.FeeBps = 100
	cfg.GasMinUSDC = 0.05
	cfg.GasMaxUSDC = 0.05
	cfg.PeakStartUTC = 0
	cfg.PeakEndUTC = 24
	h.engine.sim = sim.New(cfg, rand.New(rand.NewSource(1)))

	h.push(buySignal(traderA, 0.50))
	h.cycle()
	require.Len(t, h.engine.open, 1)

	var pos *domain.Position
	for _, p := range h.engine.open {
		pos = p
	}
	require.Greater(t, pos.CostUSDC, 4.25)
	assert.InDelta(t, pos.CostUSDC, h.guard.Exposure(), 1e-9,
		"la exposición debe casar con el coste del ledger")

	h.markets.prices[yesTok] = 0.70
	h.now = h.now.Add(time.Minute)
	h.cycle()
	require.Empty(t, h.engine.open)
	assert.InDelta(t, 0, h.guard.Exposure(), 1e-9)
}

func TestFeedPrint_UpdatesPriceOnly(t *testing.T) {
	h := newHarness(t)

	h.push(domain.Signal{
		Origin:    domain.OriginFeed,
		TokenID:   yesTok,
		Price:     0.61,
		Side:      domain.SideBuy,
		TradeTime: testNow,
	})
	h.cycle()

	assert.Empty(t, h.engine.open)
	p, ok := h.engine.lastPrice[yesTok]
	require.True(t, ok)
	assert.InDelta(t, 0.61, p.price, 1e-9)
}

// --- Orden dentro del ciclo ---

func TestOrdering_EntryBeforeExitAtSameTimestamp(t *testing.T) {
	h := newHarness(t)

	// la venta llega al canal antes que la compra, con el mismo timestamp:
	// la compra debe procesarse primero para que la venta tenga qué cerrar
	sell := buySignal(traderA, 0.50)
	sell.ID = "sig-sell"
	sell.Side = domain.SideSell
	buy := buySignal(traderA, 0.50)

	h.push(sell)
	h.push(buy)
	h.cycle()

	assert.Empty(t, h.engine.open)
	require.Len(t, h.engine.closed, 1)
	assert.Equal(t, domain.CloseCopyExit, h.engine.closed[0].CloseReason)
	assert.Equal(t, 1, h.engine.counters.Entries)
	assert.Equal(t, 1, h.engine.counters.Exits)
}

// --- Salidas ---

func TestExit_TakeProfit(t *testing.T) {
	h := newHarness(t)

	h.push(buySignal(traderA, 0.50))
	h.cycle()
	require.Len(t, h.engine.open, 1)

	h.markets.prices[yesTok] = 0.70
	h.now = h.now.Add(time.Minute)
	h.cycle()

	assert.Empty(t, h.engine.open)
	require.Len(t, h.engine.closed, 1)
	pos := h.engine.closed[0]
	assert.Equal(t, domain.CloseTakeProfit, pos.CloseReason)
	assert.InDelta(t, 0.70, pos.ExitPrice, 1e-9)
	// pnl = 8.5 shares × 0.70 − 4.25 de coste
	assert.InDelta(t, 1.70, pos.PnLUSDC, 1e-9)

	assert.InDelta(t, 0, h.guard.Exposure(), 1e-9)
	assert.InDelta(t, 1001.70, h.guard.Bankroll(), 1e-9)
	require.Len(t, h.notifier.exits, 1)
}

func TestExit_ForcedAfterRetryTimeout(t *testing.T) {
	h := newHarness(t)

	h.push(buySignal(traderA, 0.50))
	h.cycle()
	require.Len(t, h.engine.open, 1)

	// a partir de aquí el libro rechaza todas las salidas
	rejectCfg := sim.DefaultConfig()
	rejectCfg.RejectionBase = 1
	rejectCfg.RejectionCap = 1
	h.engine.sim = sim.New(rejectCfg, rand.New(rand.NewSource(1)))

	h.markets.prices[yesTok] = 0.70
	h.now = h.now.Add(time.Minute)
	h.cycle()

	// TP disparado pero rechazado: sigue abierta y en pendientes
	require.Len(t, h.engine.open, 1)
	assert.Empty(t, h.engine.closed)

	h.now = h.now.Add(time.Minute)
	h.cycle()
	require.Len(t, h.engine.open, 1)

	// pasado el timeout de reintentos se cierra a mercado sin fricción
	h.now = h.now.Add(2 * time.Minute)
	h.cycle()

	assert.Empty(t, h.engine.open)
	require.Len(t, h.engine.closed, 1)
	pos := h.engine.closed[0]
	assert.Equal(t, domain.CloseTakeProfit, pos.CloseReason)
	assert.InDelta(t, 0.70, pos.ExitPrice, 1e-9)
	assert.InDelta(t, 0, h.guard.Exposure(), 1e-9)
}

func TestExit_StopLoss(t *testing.T) {
	h := newHarness(t)

	h.push(buySignal(traderA, 0.50))
	h.cycle()

	h.markets.prices[yesTok] = 0.40
	h.now = h.now.Add(time.Minute)
	h.cycle()

	require.Len(t, h.engine.closed, 1)
	assert.Equal(t, domain.CloseStopLoss, h.engine.closed[0].CloseReason)
	assert.Less(t, h.engine.closed[0].PnLUSDC, 0.0)
}

func TestExit_MaxHold(t *testing.T) {
	h := newHarness(t)

	h.push(buySignal(traderA, 0.50))
	h.cycle()

	// precio plano, pero el régimen rápido expulsa a las 6 horas
	h.now = h.now.Add(6*time.Hour + time.Minute)
	h.cycle()

	require.Len(t, h.engine.closed, 1)
	assert.Equal(t, domain.CloseMaxHold, h.engine.closed[0].CloseReason)
}

func TestExit_ResolvedSettlesAtPayout(t *testing.T) {
	h := newHarness(t)

	h.push(buySignal(traderA, 0.50))
	h.cycle()

	info := h.markets.infos[condID]
	info.Resolved = true
	info.WinnerToken = yesTok
	h.markets.infos[condID] = info

	h.now = h.now.Add(time.Minute)
	h.cycle()

	require.Len(t, h.engine.closed, 1)
	pos := h.engine.closed[0]
	assert.Equal(t, domain.PositionSettled, pos.Status)
	assert.Equal(t, domain.CloseResolved, pos.CloseReason)
	// redención a 1 USDC por share, sin fricción
	assert.InDelta(t, 1.0, pos.ExitPrice, 1e-9)
	assert.InDelta(t, 8.5-4.25, pos.PnLUSDC, 1e-9)
}

// --- Halt ---

func TestHalted_BlocksEntriesAllowsExits(t *testing.T) {
	h := newHarness(t)

	h.push(buySignal(traderA, 0.50))
	h.cycle()
	require.Len(t, h.engine.open, 1)

	// pérdida que supera el límite diario de 50
	h.guard.RecordPnL(-60, h.now)

	h.push(buySignal(traderB, 0.50))
	h.markets.prices[yesTok] = 0.70
	h.now = h.now.Add(time.Minute)
	h.cycle()

	// la entrada nueva se rechaza; la salida por take profit sí se ejecuta
	assert.Empty(t, h.engine.open)
	require.Len(t, h.engine.closed, 1)
	assert.Equal(t, domain.CloseTakeProfit, h.engine.closed[0].CloseReason)
	assert.Equal(t, 1, h.engine.counters.Rejections)
	require.Len(t, h.notifier.halts, 1)
}

// --- Persistencia y arranque ---

func TestRestore_LedgerWinsOverScalars(t *testing.T) {
	h := newHarness(t)

	dir := t.TempDir()
	store, err := storage.NewFileStore(dir, 3)
	require.NoError(t, err)
	h.engine.state = store

	open := domain.Position{
		ID: "p1", Account: traderA, Market: condID, TokenID: yesTok,
		Status: domain.PositionOpen, Category: domain.CategoryCrypto,
		EntryPrice: 0.5, Shares: 60, CostUSDC: 30,
		TakeProfit: 0.60, StopLoss: 0.44,
		OpenedAt: testNow.Add(-time.Hour),
	}
	closed := domain.Position{
		ID: "p2", Account: traderB, Market: "0xother", TokenID: "333",
		Status: domain.PositionClosed, PnLUSDC: 5,
	}
	require.NoError(t, store.SavePositions([]domain.Position{open, closed}))

	// snapshot con exposición absurda: el ledger debe mandar
	require.NoError(t, store.SaveRisk(risk.Snapshot{
		Day: "2026-08-31", Bankroll: 1005, Exposure: 999, State: risk.StateNormal,
	}))

	require.NoError(t, h.engine.Restore())

	assert.Len(t, h.engine.open, 1)
	assert.Len(t, h.engine.closed, 1)
	assert.InDelta(t, 30, h.guard.Exposure(), 1e-9)
	assert.InDelta(t, 1005, h.guard.Bankroll(), 1e-9)

	// el slot restaurado sigue bloqueando el anti-hedge
	h.push(buySignal(traderC, 0.50))
	h.cycle()
	assert.Len(t, h.engine.open, 1)
	assert.Equal(t, 1, h.engine.counters.Rejections)
}

func TestPersist_StableAcrossCycles(t *testing.T) {
	h := newHarness(t)

	dir := t.TempDir()
	store, err := storage.NewFileStore(dir, 3)
	require.NoError(t, err)
	h.engine.state = store

	// varias posiciones para que el orden de iteración del map importe
	for i, mkt := range []string{"0xm1", "0xm2", "0xm3", "0xm4", "0xm5"} {
		pos := &domain.Position{
			ID: fmt.Sprintf("p%d", i), Account: traderA, Market: mkt,
			TokenID: fmt.Sprintf("%d", 100+i), Status: domain.PositionOpen,
			EntryPrice: 0.5, Shares: 10, CostUSDC: 5,
			OpenedAt: testNow.Add(time.Duration(-i) * time.Minute),
		}
		h.engine.open[pos.ID] = pos
		h.engine.byKey[pos.Key()] = pos.ID
	}

	h.engine.persist()
	first, err := os.ReadFile(filepath.Join(dir, "positions.json"))
	require.NoError(t, err)

	for range 10 {
		h.engine.persist()
	}
	last, err := os.ReadFile(filepath.Join(dir, "positions.json"))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(last), "unchanged state must persist byte-identical")

	// contenido idéntico no debe quemar generaciones de backup
	_, err = os.Stat(filepath.Join(dir, "positions.json.bak1"))
	assert.True(t, os.IsNotExist(err))
}

func TestStatus_Snapshot(t *testing.T) {
	h := newHarness(t)

	h.push(buySignal(traderA, 0.50))
	h.cycle()

	st := h.engine.Status()
	assert.Equal(t, risk.StateNormal, st.State)
	assert.Len(t, st.Open, 1)
	assert.Equal(t, 1, st.Counters.Entries)
	assert.InDelta(t, 4.25, st.Exposure, 1e-9)
	assert.NotEmpty(t, st.Rankings)
}
