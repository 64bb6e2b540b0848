package domain

import (
	"math"
	"time"
)

// Beta(2,2) prior: arranca en 50% de winrate y exige evidencia para moverse.
const (
	PriorAlpha = 2.0
	PriorBeta  = 2.0

	// Minimum settled copies before the posterior feeds position sizing.
	MinSettledForSizing = 5

	// Below this composite score an account stops being copied.
	ScoreCutoff = 0.3
)

// AccountScore is the running performance record of one tracked account,
// overall and per market category.
type AccountScore struct {
	Account     string                    `json:"account"`
	Wins        int                       `json:"wins"`
	Losses      int                       `json:"losses"`
	Open        int                       `json:"open"`
	PnLUSDC     float64                   `json:"pnl_usdc"`
	StakedUSDC  float64                   `json:"staked_usdc"`
	ByCategory  map[Category]CategoryStat `json:"by_category,omitempty"`
	LastSeen    time.Time                 `json:"last_seen"`
	Deactivated bool                      `json:"deactivated"`
}

// CategoryStat is the per-category slice of an account's record.
type CategoryStat struct {
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	PnLUSDC float64 `json:"pnl_usdc"`
}

// Settled returns the number of resolved copies.
func (a AccountScore) Settled() int { return a.Wins + a.Losses }

// PosteriorWinRate calcula la media de la posterior Beta del winrate.
//
// Fórmula: (wins + α) / (wins + losses + α + β), con prior Beta(2,2).
// Sin datos devuelve 0.5; cada resultado mueve la media gradualmente.
func (a AccountScore) PosteriorWinRate() float64 {
	return (float64(a.Wins) + PriorAlpha) / (float64(a.Settled()) + PriorAlpha + PriorBeta)
}

// ROI returns realized profit over total staked. 0 until something settles.
func (a AccountScore) ROI() float64 {
	if a.StakedUSDC <= 0 {
		return 0
	}
	return a.PnLUSDC / a.StakedUSDC
}

// Composite calcula el score compuesto 0–3 de la cuenta:
//
//	50% winrate posterior + 35% ROI normalizado + 15% volumen normalizado
//
// ROI se normaliza a [0,1] con saturación en ±50%; volumen con saturación
// en volRef USDC. El resultado escala a [0,3].
func (a AccountScore) Composite(volRef float64) float64 {
	wr := a.PosteriorWinRate()

	roi := a.ROI()
	roiNorm := clamp01((roi + 0.5) / 1.0)

	volNorm := 0.0
	if volRef > 0 {
		volNorm = clamp01(a.StakedUSDC / volRef)
	}

	return 3.0 * (0.50*wr + 0.35*roiNorm + 0.15*volNorm)
}

// BelowCutoff reports whether the account has enough history to be judged
// and has fallen under the copy threshold.
func (a AccountScore) BelowCutoff(volRef float64) bool {
	return a.Settled() >= MinSettledForSizing && a.Composite(volRef)/3.0 < ScoreCutoff
}

// BestCategory returns the category with the highest settled PnL, or
// CategoryOther when nothing has settled.
func (a AccountScore) BestCategory() Category {
	best := CategoryOther
	bestPnL := math.Inf(-1)
	for c, st := range a.ByCategory {
		if st.Wins+st.Losses == 0 {
			continue
		}
		if st.PnLUSDC > bestPnL {
			best, bestPnL = c, st.PnLUSDC
		}
	}
	return best
}

// HalfKelly calcula la fracción de banca a apostar según Kelly fraccionado.
//
// Con precio p del token, el payout neto por unidad es b = 1/p − 1.
// Kelly completo: f* = (q·b − (1−q)) / b, con q = winrate estimado.
// Se devuelve f*/2, acotado a [0, maxFraction]. Negativo → 0 (no edge).
func HalfKelly(winRate, price, maxFraction float64) float64 {
	if price <= 0 || price >= 1 {
		return 0
	}
	b := 1/price - 1
	if b <= 0 {
		return 0
	}
	f := (winRate*b - (1 - winRate)) / b
	f /= 2
	if f < 0 {
		return 0
	}
	if f > maxFraction {
		return maxFraction
	}
	return f
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
