// Package sim prices the frictions a real copy order would pay: rejection,
// partial fills, slippage, staleness, crowding, book depletion, fees and
// gas. Every constant is deliberately pessimistic; a strategy that survives
// this model has margin in production.
package sim

import (
	"math/rand"
	"sync"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// Config are the friction layers. Zeroing a probability disables that layer.
type Config struct {
	BaseSlippage   float64 // always paid
	RandomSlippage float64 // extra uniform [0, x)

	StalenessPerSec float64 // slippage added per second of signal age
	StalenessCap    float64
	MaxSignalAge    time.Duration // older signals are rejected outright

	RejectionBase float64 // probability the book moved away
	RejectionCap  float64

	PartialChance float64 // probability of a partial fill
	PartialMin    float64 // fill ratio range when partial
	PartialMax    float64

	CrowdSlippage float64 // per recent simulated participant on the market
	CrowdCap      float64
	CrowdWindow   time.Duration

	DepletionPerTrade float64 // book depth eaten per simulated trade
	DepletionCap      float64
	DepletionDecay    time.Duration // linear refill time

	FeeBps float64

	OffHoursMult float64 // friction multiplier outside peak hours
	PeakStartUTC int
	PeakEndUTC   int

	NoEntryWindow     time.Duration // no new entries this close to resolution
	MaxPriceDeviation float64       // winner's-curse guard

	GasMinUSDC float64
	GasMaxUSDC float64
}

// DefaultConfig returns the stress-calibrated production constants.
func DefaultConfig() Config {
	return Config{
		BaseSlippage:      0.015,
		RandomSlippage:    0.005,
		StalenessPerSec:   0.001,
		StalenessCap:      0.05,
		MaxSignalAge:      2 * time.Minute,
		RejectionBase:     0.08,
		RejectionCap:      0.40,
		PartialChance:     0.12,
		PartialMin:        0.35,
		PartialMax:        0.85,
		CrowdSlippage:     0.02,
		CrowdCap:          0.06,
		CrowdWindow:       30 * time.Second,
		DepletionPerTrade: 0.01,
		DepletionCap:      0.05,
		DepletionDecay:    30 * time.Second,
		FeeBps:            domain.DefaultFeeBps,
		OffHoursMult:      1.4,
		PeakStartUTC:      14,
		PeakEndUTC:        21,
		NoEntryWindow:     5 * time.Minute,
		MaxPriceDeviation: 0.08,
		GasMinUSDC:        0.001,
		GasMaxUSDC:        0.008,
	}
}

// Simulator applies the friction model. Safe for use from the engine
// goroutine plus status readers.
type Simulator struct {
	mu    sync.Mutex
	cfg   Config
	rng   *rand.Rand
	books map[string]*bookState
	stats Stats
}

// New creates a simulator. rng may be shared-seeded for reproducible runs;
// pass rand.New(rand.NewSource(time.Now().UnixNano())) in production.
func New(cfg Config, rng *rand.Rand) *Simulator {
	return &Simulator{
		cfg:   cfg,
		rng:   rng,
		books: make(map[string]*bookState),
		stats: Stats{ByReason: make(map[domain.RejectReason]int)},
	}
}

// EntryRequest describes an entry order to simulate.
type EntryRequest struct {
	Signal       domain.Signal
	CurrentPrice float64 // live reference price at copy time
	SizeUSDC     float64
	EndDate      time.Time // zero when unknown
}

// ExecuteEntry corre la orden de entrada por todas las capas de fricción.
// Devuelve el fill (posiblemente parcial) o el motivo de rechazo.
func (s *Simulator) ExecuteEntry(req EntryRequest, now time.Time) domain.Fill {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig := req.Signal

	if age := sig.Age(now); age > s.cfg.MaxSignalAge {
		return s.reject(domain.RejectStale, now)
	}

	// Winner's curse: si el precio ya corrió más que la desviación máxima,
	// no perseguimos.
	if sig.Price > 0 {
		dev := (req.CurrentPrice - sig.Price) / sig.Price
		if dev < 0 {
			dev = -dev
		}
		if dev > s.cfg.MaxPriceDeviation {
			return s.reject(domain.RejectPriceDeviation, now)
		}
	}

	if !req.EndDate.IsZero() && req.EndDate.Sub(now) <= s.cfg.NoEntryWindow {
		return s.reject(domain.RejectNearExpiry, now)
	}

	mult := s.frictionMultiplier(req.EndDate, now)

	pReject := s.cfg.RejectionBase * mult
	if pReject > s.cfg.RejectionCap {
		pReject = s.cfg.RejectionCap
	}
	if pReject > 0 && s.rng.Float64() < pReject {
		return s.reject(domain.RejectRandomFill, now)
	}

	ratio := 1.0
	partial := false
	if s.cfg.PartialChance > 0 && s.rng.Float64() < s.cfg.PartialChance {
		partial = true
		ratio = s.cfg.PartialMin + s.rng.Float64()*(s.cfg.PartialMax-s.cfg.PartialMin)
	}

	slip := s.slippage(sig, req.Signal.Market, now) * mult
	fillPrice := req.CurrentPrice * (1 + slip)
	if fillPrice > 0.999 {
		fillPrice = 0.999
	}

	sizeUSDC := req.SizeUSDC * ratio
	shares := sizeUSDC / fillPrice
	fees := domain.FeeUSDC(s.cfg.FeeBps, fillPrice, shares)
	gas := s.gasDraw()

	s.touchBook(sig.Market, sig.Account, now)

	s.stats.Entries++
	if partial {
		s.stats.Partials++
	}
	s.stats.FeesUSDC += fees
	s.stats.GasUSDC += gas
	s.stats.SlippageUSDC += sizeUSDC * slip

	return domain.Fill{
		Price:     fillPrice,
		Shares:    shares,
		CostUSDC:  sizeUSDC + fees + gas,
		FeesUSDC:  fees,
		GasUSDC:   gas,
		Partial:   partial,
		FillRatio: ratio,
		At:        now,
	}
}

// ExitRequest describes an exit order to simulate.
type ExitRequest struct {
	Position     domain.Position
	CurrentPrice float64
	EndDate      time.Time
}

// ExecuteExit corre la orden de salida. Mismas capas que la entrada, con
// el slippage aplicado en contra (precio a la baja) y sin los filtros que
// solo aplican a entradas. Un rechazo aquí significa reintentar en el
// siguiente ciclo.
func (s *Simulator) ExecuteExit(req ExitRequest, now time.Time) domain.Fill {
	s.mu.Lock()
	defer s.mu.Unlock()

	mult := s.frictionMultiplier(req.EndDate, now)

	pReject := s.cfg.RejectionBase * mult
	if pReject > s.cfg.RejectionCap {
		pReject = s.cfg.RejectionCap
	}
	if pReject > 0 && s.rng.Float64() < pReject {
		return s.reject(domain.RejectRandomFill, now)
	}

	slip := (s.cfg.BaseSlippage + s.rng.Float64()*s.cfg.RandomSlippage +
		s.bookPenalty(req.Position.Market, now)) * mult
	fillPrice := req.CurrentPrice * (1 - slip)
	if fillPrice < 0.001 {
		fillPrice = 0.001
	}

	shares := req.Position.Shares
	proceeds := shares * fillPrice
	fees := domain.FeeUSDC(s.cfg.FeeBps, fillPrice, shares)
	gas := s.gasDraw()

	s.touchBook(req.Position.Market, req.Position.Account, now)

	s.stats.Exits++
	s.stats.FeesUSDC += fees
	s.stats.GasUSDC += gas

	return domain.Fill{
		Price:     fillPrice,
		Shares:    shares,
		CostUSDC:  proceeds - fees - gas,
		FeesUSDC:  fees,
		GasUSDC:   gas,
		FillRatio: 1,
		At:        now,
	}
}

// slippage suma las capas dependientes de la señal y del libro. Caller
// holds the lock.
func (s *Simulator) slippage(sig domain.Signal, market string, now time.Time) float64 {
	slip := s.cfg.BaseSlippage + s.rng.Float64()*s.cfg.RandomSlippage

	// Staleness: usa SIEMPRE el timestamp del trade, no el de detección.
	stale := sig.Age(now).Seconds() * s.cfg.StalenessPerSec
	if stale > s.cfg.StalenessCap {
		stale = s.cfg.StalenessCap
	}
	if stale > 0 {
		slip += stale
	}

	slip += s.bookPenalty(market, now)
	return slip
}

// frictionMultiplier combina el recargo fuera de horas pico y el de
// proximidad al vencimiento.
func (s *Simulator) frictionMultiplier(endDate time.Time, now time.Time) float64 {
	mult := 1.0
	h := now.UTC().Hour()
	if h < s.cfg.PeakStartUTC || h >= s.cfg.PeakEndUTC {
		mult = s.cfg.OffHoursMult
	}
	if !endDate.IsZero() {
		mult *= domain.ExpiryDecay(endDate.Sub(now).Minutes())
	}
	return mult
}

func (s *Simulator) gasDraw() float64 {
	if s.cfg.GasMaxUSDC <= s.cfg.GasMinUSDC {
		return s.cfg.GasMinUSDC
	}
	return s.cfg.GasMinUSDC + s.rng.Float64()*(s.cfg.GasMaxUSDC-s.cfg.GasMinUSDC)
}

func (s *Simulator) reject(reason domain.RejectReason, now time.Time) domain.Fill {
	s.stats.Rejections++
	s.stats.ByReason[reason]++
	return domain.Fill{Reject: reason, At: now}
}
