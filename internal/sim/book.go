package sim

import (
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// bookState tracks our own simulated pressure on one market's book:
// who traded it recently (crowding) and how much depth we've eaten
// (depletion, refilling linearly over DepletionDecay).
type bookState struct {
	participants map[string]time.Time
	depletion    float64
	lastTouch    time.Time
}

// bookPenalty devuelve el slippage extra por presión propia sobre el
// libro: crowding + depleción vigente. Caller holds the lock.
func (s *Simulator) bookPenalty(market string, now time.Time) float64 {
	b, ok := s.books[market]
	if !ok {
		return 0
	}

	crowd := 0.0
	for acct, at := range b.participants {
		if now.Sub(at) > s.cfg.CrowdWindow {
			delete(b.participants, acct)
			continue
		}
		crowd += s.cfg.CrowdSlippage
	}
	if crowd > s.cfg.CrowdCap {
		crowd = s.cfg.CrowdCap
	}

	return crowd + s.currentDepletion(b, now)
}

// currentDepletion aplica el refill lineal desde el último toque.
func (s *Simulator) currentDepletion(b *bookState, now time.Time) float64 {
	if s.cfg.DepletionDecay <= 0 {
		return b.depletion
	}
	elapsed := now.Sub(b.lastTouch)
	refill := s.cfg.DepletionCap * elapsed.Seconds() / s.cfg.DepletionDecay.Seconds()
	d := b.depletion - refill
	if d < 0 {
		d = 0
	}
	return d
}

// touchBook registra una operación simulada en el mercado. Caller holds
// the lock.
func (s *Simulator) touchBook(market, account string, now time.Time) {
	b, ok := s.books[market]
	if !ok {
		b = &bookState{participants: make(map[string]time.Time)}
		s.books[market] = b
	}
	b.depletion = s.currentDepletion(b, now) + s.cfg.DepletionPerTrade
	if b.depletion > s.cfg.DepletionCap {
		b.depletion = s.cfg.DepletionCap
	}
	b.participants[account] = now
	b.lastTouch = now
}

// Stats are the simulator's running counters for the status report.
type Stats struct {
	Entries      int
	Exits        int
	Partials     int
	Rejections   int
	ByReason     map[domain.RejectReason]int
	FeesUSDC     float64
	GasUSDC      float64
	SlippageUSDC float64
}

// Stats returns a copy of the counters.
func (s *Simulator) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.stats
	cp.ByReason = make(map[domain.RejectReason]int, len(s.stats.ByReason))
	for k, v := range s.stats.ByReason {
		cp.ByReason[k] = v
	}
	return cp
}
