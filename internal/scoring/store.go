// Package scoring keeps the per-account performance record that decides
// which tracked accounts get copied and how much confidence they carry.
package scoring

import (
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// Store is the mutable score book. Safe for concurrent use: the engine
// cycle updates it while the notifier and status endpoint read it.
type Store struct {
	mu     sync.RWMutex
	scores map[string]*domain.AccountScore
	volRef float64 // staked-volume normalization reference, USDC
}

// NewStore creates an empty store. volRef normalizes the volume component
// of the composite score (accounts staking volRef or more max it out).
func NewStore(volRef float64) *Store {
	if volRef <= 0 {
		volRef = 10000
	}
	return &Store{
		scores: make(map[string]*domain.AccountScore),
		volRef: volRef,
	}
}

func (s *Store) get(account string) *domain.AccountScore {
	sc, ok := s.scores[account]
	if !ok {
		sc = &domain.AccountScore{
			Account:    account,
			ByCategory: make(map[domain.Category]domain.CategoryStat),
		}
		s.scores[account] = sc
	}
	return sc
}

// RecordOpen registra una copia abierta siguiendo a la cuenta.
func (s *Store) RecordOpen(account string, stakeUSDC float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.get(account)
	sc.Open++
	sc.StakedUSDC += stakeUSDC
	sc.LastSeen = at
}

// RecordResult registra el cierre de una copia y actualiza el resultado
// global y por categoría. pnl > 0 cuenta como win.
func (s *Store) RecordResult(account string, cat domain.Category, pnlUSDC float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.get(account)
	if sc.Open > 0 {
		sc.Open--
	}
	sc.PnLUSDC += pnlUSDC
	st := sc.ByCategory[cat]
	if pnlUSDC > 0 {
		sc.Wins++
		st.Wins++
	} else {
		sc.Losses++
		st.Losses++
	}
	st.PnLUSDC += pnlUSDC
	sc.ByCategory[cat] = st
	sc.LastSeen = at

	if sc.BelowCutoff(s.volRef) {
		sc.Deactivated = true
	}
}

// Tracked reports whether the account is still worth copying.
func (s *Store) Tracked(account string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scores[account]
	if !ok {
		return true // unknown accounts start with the prior
	}
	return !sc.Deactivated
}

// WinRate devuelve el winrate posterior y el número de copias resueltas.
func (s *Store) WinRate(account string) (rate float64, settled int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scores[account]
	if !ok {
		return domain.AccountScore{}.PosteriorWinRate(), 0
	}
	return sc.PosteriorWinRate(), sc.Settled()
}

// Confidence calcula el factor de confianza [0,1.1] para copiar a la
// cuenta en la categoría dada: score compuesto normalizado, con un 10%
// extra si el mercado cae en su mejor categoría.
func (s *Store) Confidence(account string, cat domain.Category) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scores[account]
	if !ok {
		return domain.AccountScore{}.Composite(s.volRef) / 3.0
	}
	conf := sc.Composite(s.volRef) / 3.0
	if cat != domain.CategoryOther && sc.BestCategory() == cat {
		conf *= 1.1
	}
	return conf
}

// Ranking is one row of the account leaderboard.
type Ranking struct {
	Account  string
	Score    float64 // composite 0–3
	WinRate  float64
	Settled  int
	Open     int
	PnLUSDC  float64
	Best     domain.Category
	LastSeen time.Time
}

// Rankings returns accounts ordered by composite score, best first.
func (s *Store) Rankings() []Ranking {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Ranking, 0, len(s.scores))
	for _, sc := range s.scores {
		out = append(out, Ranking{
			Account:  sc.Account,
			Score:    sc.Composite(s.volRef),
			WinRate:  sc.PosteriorWinRate(),
			Settled:  sc.Settled(),
			Open:     sc.Open,
			PnLUSDC:  sc.PnLUSDC,
			Best:     sc.BestCategory(),
			LastSeen: sc.LastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Snapshot returns a deep copy of the score book for persistence.
func (s *Store) Snapshot() map[string]domain.AccountScore {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.AccountScore, len(s.scores))
	for k, sc := range s.scores {
		cp := *sc
		cp.ByCategory = make(map[domain.Category]domain.CategoryStat, len(sc.ByCategory))
		for c, st := range sc.ByCategory {
			cp.ByCategory[c] = st
		}
		out[k] = cp
	}
	return out
}

// Restore replaces the score book, typically at startup.
func (s *Store) Restore(scores map[string]domain.AccountScore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = make(map[string]*domain.AccountScore, len(scores))
	for k, sc := range scores {
		cp := sc
		if cp.ByCategory == nil {
			cp.ByCategory = make(map[domain.Category]domain.CategoryStat)
		}
		s.scores[k] = &cp
	}
}
