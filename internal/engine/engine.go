// Package engine es el orquestador del copy-trading: consume las señales
// de los watchers, decide qué copiar y gestiona el ciclo de vida de las
// posiciones abiertas. Un solo goroutine procesa los ciclos; los watchers
// solo escriben en el canal de entrada.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polycopy/internal/adapters/storage"
	"github.com/alejandrodnm/polycopy/internal/dedup"
	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/ports"
	"github.com/alejandrodnm/polycopy/internal/risk"
	"github.com/alejandrodnm/polycopy/internal/scoring"
	"github.com/alejandrodnm/polycopy/internal/sim"
	"github.com/alejandrodnm/polycopy/internal/sizing"
)

// Config contiene los parámetros del loop principal.
type Config struct {
	CycleInterval    time.Duration // how often the engine drains and manages
	SignalBuffer     int           // input channel capacity; overflow drops
	MaxEntryPrice    float64       // skip copies above this price, no room left
	ExpiryWindow     time.Duration // force exits this close to resolution
	PriceFreshness   time.Duration // feed prices older than this are refetched
	ExitRetryTimeout time.Duration // rejected exits older than this close at market
	Regimes          map[domain.Category]domain.Regime
}

// DefaultConfig devuelve los parámetros de los runs de papel.
func DefaultConfig() Config {
	fast := domain.Regime{TakeProfitPct: 0.20, StopLossPct: 0.12, MaxHold: 6 * time.Hour}
	slow := domain.Regime{TakeProfitPct: 0.30, StopLossPct: 0.15, MaxHold: 48 * time.Hour}
	return Config{
		CycleInterval:    2 * time.Second,
		SignalBuffer:     512,
		MaxEntryPrice:    0.90,
		ExpiryWindow:     10 * time.Minute,
		PriceFreshness:   10 * time.Second,
		ExitRetryTimeout: 2 * time.Minute,
		Regimes: map[domain.Category]domain.Regime{
			domain.CategoryCrypto:   fast,
			domain.CategorySports:   fast,
			domain.CategoryPolitics: slow,
			domain.CategoryOther:    slow,
		},
	}
}

// Kicker despierta al poller de respaldo cuando el feed ve actividad.
type Kicker interface {
	Kick()
}

// pendingExit es una salida en cola: copy exit o rechazo del simulador en
// reintento. since marca el primer intento para acotar los reintentos.
type pendingExit struct {
	reason domain.CloseReason
	since  time.Time
}

// Engine coordina señales, sizing, riesgo y simulación de ejecución.
// Un único goroutine ejecuta los ciclos; mu protege las lecturas de
// Status desde fuera.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	markets  ports.MarketProvider
	sim      *sim.Simulator
	sizer    *sizing.Sizer
	scores   *scoring.Store
	guard    *risk.Guard
	cache    *dedup.Cache
	clusters *dedup.Clusterer
	state    *storage.FileStore
	archive  *storage.Archive
	notifier ports.Notifier
	poller   Kicker
	exec     ports.OrderExecutor // nil en paper; live espeja las órdenes

	in chan domain.Signal

	open    map[string]*domain.Position // by position ID
	byKey   map[string]string           // market slot -> position ID
	closed  []domain.Position           // recent history, newest last
	pending map[string]pendingExit

	lastPrice map[string]pricePoint // token ID -> last feed print
	wasHalted bool
	dirty     bool
	counters  Counters
	nowFn     func() time.Time
}

type pricePoint struct {
	price float64
	at    time.Time
}

const closedHistory = 500

// New crea el engine con todas las dependencias inyectadas. poller puede
// ser nil cuando no hay fallback de polling (tests).
func New(
	cfg Config,
	markets ports.MarketProvider,
	simulator *sim.Simulator,
	sizer *sizing.Sizer,
	scores *scoring.Store,
	guard *risk.Guard,
	cache *dedup.Cache,
	clusters *dedup.Clusterer,
	state *storage.FileStore,
	archive *storage.Archive,
	notifier ports.Notifier,
	poller Kicker,
) *Engine {
	return &Engine{
		cfg:       cfg,
		markets:   markets,
		sim:       simulator,
		sizer:     sizer,
		scores:    scores,
		guard:     guard,
		cache:     cache,
		clusters:  clusters,
		state:     state,
		archive:   archive,
		notifier:  notifier,
		poller:    poller,
		in:        make(chan domain.Signal, cfg.SignalBuffer),
		open:      make(map[string]*domain.Position),
		byKey:     make(map[string]string),
		pending:   make(map[string]pendingExit),
		lastPrice: make(map[string]pricePoint),
		nowFn:     time.Now,
	}
}

// In devuelve el canal donde los watchers publican señales. El canal
// tiene buffer; si se llena, el watcher decide si bloquear o descartar.
func (e *Engine) In() chan<- domain.Signal { return e.in }

// SetExecutor activa el modo live: cada fill aceptado por el simulador se
// espeja como orden real. La contabilidad sigue siendo la simulada; el
// ejecutor es el brazo, no el juez. Llamar antes de Run.
func (e *Engine) SetExecutor(exec ports.OrderExecutor) { e.exec = exec }

// Restore carga el estado persistido del disco. ErrNotFound en cualquiera
// de los ficheros significa arranque en frío para ese componente.
func (e *Engine) Restore() error {
	if e.state == nil {
		return nil
	}

	if snap, err := e.state.LoadRisk(); err == nil {
		e.guard.Restore(snap)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("engine.Restore: risk: %w", err)
	}

	if scores, err := e.state.LoadScores(); err == nil {
		e.scores.Restore(scores)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("engine.Restore: scores: %w", err)
	}

	positions, err := e.state.LoadPositions()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("engine.Restore: positions: %w", err)
	}

	var openLedger []domain.Position
	for _, p := range positions {
		p := p
		if p.Status == domain.PositionOpen {
			e.open[p.ID] = &p
			e.byKey[p.Key()] = p.ID
			openLedger = append(openLedger, p)
			continue
		}
		e.closed = append(e.closed, p)
	}

	// El ledger de posiciones manda sobre los escalares persistidos.
	e.guard.Reconcile(openLedger)

	slog.Info("engine: state restored",
		"open", len(openLedger),
		"closed", len(e.closed),
		"bankroll", e.guard.Bankroll(),
	)
	return nil
}

// Run ejecuta el loop principal hasta que el contexto se cancele.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting",
		"interval", e.cfg.CycleInterval,
		"open_positions", len(e.open),
	)

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.persist()
			e.mu.Unlock()
			slog.Info("engine stopped")
			return nil
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// runCycle drena el canal, procesa las señales en orden y gestiona las
// posiciones abiertas. Cada ciclo deja una fila de resumen en el archivo.
func (e *Engine) runCycle(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.nowFn()
	summary := storage.CycleSummary{At: start}

	batch := e.drain()
	summary.SignalsSeen = len(batch)

	for i := range batch {
		e.processSignal(ctx, batch[i], &summary)
	}

	e.manageOpen(ctx, &summary)

	summary.OpenPositions = len(e.open)
	summary.Exposure = e.guard.Exposure()
	summary.Bankroll = e.guard.Bankroll()
	summary.DailyPnL = e.guard.Snapshot().DailyPnL

	e.checkHalt()

	if e.dirty {
		e.persist()
		e.dirty = false
	}

	if e.archive != nil {
		if err := e.archive.RecordCycle(ctx, summary); err != nil {
			slog.Warn("engine: archive cycle", "err", err)
		}
	}

	e.counters.Cycles++
	if d := time.Since(start); d > e.cfg.CycleInterval {
		slog.Warn("engine: slow cycle", "duration", d.Round(time.Millisecond))
	}
}

// drain vacía el canal de entrada y ordena el lote: timestamps de trade
// ascendentes, y a igual timestamp las compras antes que las ventas de la
// misma cuenta y mercado. Así una salida nunca adelanta a la entrada que
// la justifica.
func (e *Engine) drain() []domain.Signal {
	var batch []domain.Signal
	for {
		select {
		case sig := <-e.in:
			batch = append(batch, sig)
		default:
			sort.SliceStable(batch, func(i, j int) bool {
				a, b := batch[i], batch[j]
				if !a.TradeTime.Equal(b.TradeTime) {
					return a.TradeTime.Before(b.TradeTime)
				}
				if a.Account == b.Account && a.Market == b.Market && a.Side != b.Side {
					return a.Side == domain.SideBuy
				}
				return false
			})
			return batch
		}
	}
}

// processSignal enruta una señal: los prints anónimos del feed solo
// actualizan precios, el resto pasa por dedup y se convierte en entrada
// o salida copiada.
func (e *Engine) processSignal(ctx context.Context, sig domain.Signal, summary *storage.CycleSummary) {
	now := e.nowFn()

	// El canal público del CLOB no identifica al trader. Esos prints valen
	// como precio fresco y como aviso para acelerar el poller, nada más.
	if sig.Origin == domain.OriginFeed && sig.Account == "" {
		if sig.TokenID != "" && sig.Price > 0 {
			e.lastPrice[sig.TokenID] = pricePoint{price: sig.Price, at: now}
		}
		if e.poller != nil {
			e.poller.Kick()
		}
		return
	}

	if err := sig.Validate(); err != nil {
		slog.Debug("engine: invalid signal", "err", err)
		return
	}

	if !e.cache.Admit(sig, now) {
		summary.Duplicates++
		return
	}

	if e.archive != nil {
		if err := e.archive.RecordSignal(ctx, sig); err != nil {
			slog.Warn("engine: archive signal", "err", err)
		}
	}

	if !e.scores.Tracked(sig.Account) {
		return
	}

	cluster := e.clusters.Observe(sig, now)

	switch sig.Side {
	case domain.SideBuy:
		e.handleEntry(ctx, sig, cluster, summary)
	case domain.SideSell:
		e.handleCopyExit(sig, summary)
	}
}

// handleEntry corre el pipeline de entrada: metadata → calidad de precio
// → anti-hedge → sizing → riesgo → simulación. Cualquier rechazo libera
// lo reservado y queda contabilizado.
func (e *Engine) handleEntry(ctx context.Context, sig domain.Signal, cluster int, summary *storage.CycleSummary) {
	now := e.nowFn()

	info, err := e.resolveMarket(ctx, sig)
	if err != nil {
		slog.Debug("engine: market lookup failed", "token", sig.TokenID, "err", err)
		return
	}
	sig.Market = info.ConditionID
	sig.Question = info.Question
	sig.Category = info.Category
	if sig.Outcome == "" {
		sig.Outcome = info.OutcomeOf(sig.TokenID)
	}

	if info.Closed || info.Resolved {
		return
	}

	if sig.Price > e.cfg.MaxEntryPrice {
		e.recordReject(domain.RejectPriceQuality, summary)
		return
	}

	// Nunca las dos caras del mismo mercado, ni doblar el mismo token.
	if e.slotTaken(sig.Market) {
		e.recordReject(domain.RejectHedgeBlocked, summary)
		return
	}

	size, reject := e.sizer.Size(sig, cluster, e.guard.Bankroll())
	if reject != domain.RejectNone {
		e.recordReject(reject, summary)
		return
	}

	if reject := e.guard.TryReserve(sig.Market, size, now); reject != domain.RejectNone {
		e.recordReject(reject, summary)
		return
	}

	price, err := e.price(ctx, sig.TokenID)
	if err != nil {
		e.guard.Release(sig.Market, size)
		slog.Debug("engine: price lookup failed", "token", sig.TokenID, "err", err)
		return
	}

	fill := e.sim.ExecuteEntry(sim.EntryRequest{
		Signal:       sig,
		CurrentPrice: price,
		SizeUSDC:     size,
		EndDate:      info.EndDate,
	}, now)
	if !fill.Filled() {
		e.guard.Release(sig.Market, size)
		e.recordReject(fill.Reject, summary)
		return
	}

	// La reserva se hizo por el tamaño pedido; el coste real difiere con
	// fills parciales (menos) y con fees y gas (más). Se ajusta al coste
	// real, que es lo que finalize liberará al cerrar.
	e.guard.Settle(sig.Market, size, fill.CostUSDC)

	regime := e.regimeFor(sig.Category)
	tp, sl := domain.ExitTriggers(fill.Price, regime)

	pos := &domain.Position{
		ID:          uuid.NewString(),
		Account:     sig.Account,
		Market:      sig.Market,
		TokenID:     sig.TokenID,
		Outcome:     sig.Outcome,
		Category:    sig.Category,
		Question:    sig.Question,
		Status:      domain.PositionOpen,
		SignalPrice: sig.Price,
		EntryPrice:  fill.Price,
		Shares:      fill.Shares,
		CostUSDC:    fill.CostUSDC,
		FeesUSDC:    fill.FeesUSDC,
		TakeProfit:  tp,
		StopLoss:    sl,
		OpenedAt:    now,
		SignalID:    sig.ID,
		EndDate:     info.EndDate,
	}
	e.open[pos.ID] = pos
	e.byKey[pos.Key()] = pos.ID
	e.mirrorOrder(ctx, sig.TokenID, domain.SideBuy, fill)
	e.scores.RecordOpen(sig.Account, sig.SizeUSDC, sig.TradeTime)
	e.dirty = true
	summary.Entries++
	e.counters.Entries++

	if e.archive != nil {
		if err := e.archive.RecordFill(ctx, pos.ID, "entry", fill); err != nil {
			slog.Warn("engine: archive fill", "err", err)
		}
	}
	if e.notifier != nil {
		e.notifier.NotifyEntry(*pos, fill)
	}

	slog.Info("engine: position opened",
		"account", shortAddr(sig.Account),
		"market", sig.Question,
		"outcome", sig.Outcome,
		"entry", fill.Price,
		"cost", fill.CostUSDC,
		"cluster", cluster,
	)
}

// handleCopyExit marca para salida la posición que copia a esta cuenta en
// este mercado. La ejecución ocurre en manageOpen, respetando la
// precedencia con la resolución del mercado.
func (e *Engine) handleCopyExit(sig domain.Signal, summary *storage.CycleSummary) {
	for id, pos := range e.open {
		if pos.Account != sig.Account {
			continue
		}
		if pos.Market != sig.Market && pos.TokenID != sig.TokenID {
			continue
		}
		if _, ok := e.pending[id]; !ok {
			e.pending[id] = pendingExit{reason: domain.CloseCopyExit, since: e.nowFn()}
			slog.Info("engine: copy exit queued",
				"account", shortAddr(sig.Account),
				"market", pos.Question,
			)
		}
		return
	}
}

// slotTaken reporta si ya hay una posición abierta en el mercado. Cubrir
// cualquier token del mercado basta: jamás se abren las dos caras.
func (e *Engine) slotTaken(market string) bool {
	_, ok := e.byKey[market]
	return ok
}

// resolveMarket completa la metadata de la señal. Las señales on-chain
// solo traen el token; las demás traen el condition ID.
func (e *Engine) resolveMarket(ctx context.Context, sig domain.Signal) (domain.MarketInfo, error) {
	if sig.Market != "" {
		return e.markets.MarketInfo(ctx, sig.Market)
	}
	return e.markets.MarketByToken(ctx, sig.TokenID)
}

// price devuelve el precio de referencia del token: el último print del
// feed si es fresco, y si no el midpoint del CLOB.
func (e *Engine) price(ctx context.Context, tokenID string) (float64, error) {
	if p, ok := e.lastPrice[tokenID]; ok && e.nowFn().Sub(p.at) <= e.cfg.PriceFreshness {
		return p.price, nil
	}
	return e.markets.Price(ctx, tokenID)
}

func (e *Engine) regimeFor(cat domain.Category) domain.Regime {
	if r, ok := e.cfg.Regimes[cat]; ok {
		return r
	}
	return e.cfg.Regimes[domain.CategoryOther]
}

func (e *Engine) recordReject(reason domain.RejectReason, summary *storage.CycleSummary) {
	summary.Rejections++
	e.counters.Rejections++
	slog.Debug("engine: entry rejected", "reason", reason)
}

// checkHalt notifica la transición a Halted una sola vez por episodio.
func (e *Engine) checkHalt() {
	halted := e.guard.CurrentState(e.nowFn()) == risk.StateHalted
	if halted && !e.wasHalted && e.notifier != nil {
		e.notifier.NotifyHalt("daily loss limit reached, entries suspended")
	}
	e.wasHalted = halted
}

// persist escribe posiciones, riesgo y scores. Cualquier fallo se loggea
// y se reintenta al siguiente ciclo; el archivo SQLite es independiente.
func (e *Engine) persist() {
	if e.state == nil {
		return
	}

	ledger := make([]domain.Position, 0, len(e.open)+len(e.closed))
	for _, p := range e.open {
		ledger = append(ledger, *p)
	}
	ledger = append(ledger, e.closed...)

	// Orden estable: el statefile compara bytes para saltarse escrituras
	// idénticas, y el orden de iteración del map las rompería.
	sort.Slice(ledger, func(i, j int) bool {
		if !ledger[i].OpenedAt.Equal(ledger[j].OpenedAt) {
			return ledger[i].OpenedAt.Before(ledger[j].OpenedAt)
		}
		return ledger[i].ID < ledger[j].ID
	})

	if err := e.state.SavePositions(ledger); err != nil {
		slog.Warn("engine: persist positions", "err", err)
	}
	if err := e.state.SaveRisk(e.guard.Snapshot()); err != nil {
		slog.Warn("engine: persist risk", "err", err)
	}
	if err := e.state.SaveScores(e.scores.Snapshot()); err != nil {
		slog.Warn("engine: persist scores", "err", err)
	}
}

// mirrorOrder envía la orden real en modo live, con un 2% de margen de
// persecución sobre el precio simulado. Un fallo aquí no toca la
// contabilidad: se loggea y el operador reconcilia a mano.
func (e *Engine) mirrorOrder(ctx context.Context, tokenID string, side domain.TradeSide, fill domain.Fill) {
	if e.exec == nil {
		return
	}

	limit := fill.Price * 1.02
	if side == domain.SideSell {
		limit = fill.Price * 0.98
	}
	if limit > 0.999 {
		limit = 0.999
	}

	size := fill.CostUSDC
	if side == domain.SideSell {
		size = fill.Shares * fill.Price
	}

	orderID, err := e.exec.PlaceMarketOrder(ctx, tokenID, side, size, limit)
	if err != nil {
		slog.Error("engine: live order failed, books diverge", "side", side, "err", err)
		return
	}
	slog.Info("engine: live order placed", "side", side, "order_id", orderID, "size", size)
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
