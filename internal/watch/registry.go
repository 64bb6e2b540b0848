package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/ports"
)

// RegistryConfig son los filtros forenses del descubrimiento de cuentas.
// La idea: del leaderboard salen candidatos con buen PnL, pero muchos son
// imposibles de copiar (HFT) o directamente tramposos (wash trading).
type RegistryConfig struct {
	MaxAccounts int

	MinPnLUSDC float64 // banda de PnL del leaderboard
	MaxPnLUSDC float64 // los monstruos mueven mercados: fuera

	InactiveAfter time.Duration // sin operar esto → fuera
	MinAvgHold    time.Duration // hold medio menor → HFT, incopiable
	MaxWashRatio  float64       // compra+venta del mismo token en minutos
	MaxSlowRatio  float64       // fracción de mercados lentos tolerada
	HistoryDepth  int           // trades de histórico por candidato
}

// DefaultRegistryConfig returns the discovery filters used in production.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MaxAccounts:   20,
		MinPnLUSDC:    5000,
		MaxPnLUSDC:    500000,
		InactiveAfter: 7 * 24 * time.Hour,
		MinAvgHold:    15 * time.Minute,
		MaxWashRatio:  0.20,
		MaxSlowRatio:  0.80,
		HistoryDepth:  200,
	}
}

// Registry descubre y filtra las cuentas a copiar.
type Registry struct {
	cfg      RegistryConfig
	provider ports.AccountProvider
}

// NewRegistry creates the account registry.
func NewRegistry(cfg RegistryConfig, provider ports.AccountProvider) *Registry {
	return &Registry{cfg: cfg, provider: provider}
}

// Discover saca candidatos del leaderboard, aplica los filtros forenses
// sobre su histórico y devuelve las direcciones que pasan.
func (r *Registry) Discover(ctx context.Context, now time.Time) ([]string, error) {
	candidates, err := r.provider.TopAccounts(ctx, r.cfg.MaxAccounts*3)
	if err != nil {
		return nil, fmt.Errorf("watch.Discover: leaderboard: %w", err)
	}

	var out []string
	for _, c := range candidates {
		if len(out) >= r.cfg.MaxAccounts {
			break
		}
		if c.PnLUSDC < r.cfg.MinPnLUSDC || c.PnLUSDC > r.cfg.MaxPnLUSDC {
			continue
		}

		history, err := r.provider.AccountHistory(ctx, c.Address, r.cfg.HistoryDepth)
		if err != nil {
			slog.Warn("registry: history fetch failed", "account", c.Address, "err", err)
			continue
		}

		if reason := r.vet(history, now); reason != "" {
			slog.Debug("registry: candidate filtered", "account", c.Address, "reason", reason)
			continue
		}
		out = append(out, c.Address)
	}

	slog.Info("registry: discovery complete", "candidates", len(candidates), "accepted", len(out))
	return out, nil
}

// vet aplica los filtros forenses. Devuelve el motivo de rechazo, o ""
// si la cuenta pasa.
func (r *Registry) vet(history []domain.Signal, now time.Time) string {
	if len(history) == 0 {
		return "no history"
	}

	newest := history[0].TradeTime
	for _, s := range history {
		if s.TradeTime.After(newest) {
			newest = s.TradeTime
		}
	}
	if now.Sub(newest) > r.cfg.InactiveAfter {
		return "inactive"
	}

	if hold, ok := avgHold(history); ok && hold < r.cfg.MinAvgHold {
		return "hft hold time"
	}

	if washRatio(history) > r.cfg.MaxWashRatio {
		return "wash trading"
	}

	if slowRatio(history) > r.cfg.MaxSlowRatio {
		return "slow markets only"
	}
	return ""
}

// avgHold estima el tiempo medio de retención emparejando la primera
// compra y la primera venta de cada token. ok=false si no hay pares.
func avgHold(history []domain.Signal) (time.Duration, bool) {
	firstBuy := make(map[string]time.Time)
	firstSell := make(map[string]time.Time)
	for _, s := range history {
		switch s.Side {
		case domain.SideBuy:
			if t, ok := firstBuy[s.TokenID]; !ok || s.TradeTime.Before(t) {
				firstBuy[s.TokenID] = s.TradeTime
			}
		case domain.SideSell:
			if t, ok := firstSell[s.TokenID]; !ok || s.TradeTime.Before(t) {
				firstSell[s.TokenID] = s.TradeTime
			}
		}
	}

	var total time.Duration
	n := 0
	for token, buy := range firstBuy {
		sell, ok := firstSell[token]
		if !ok || sell.Before(buy) {
			continue
		}
		total += sell.Sub(buy)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return total / time.Duration(n), true
}

// washRatio devuelve la fracción de tokens con compra y venta a menos de
// cinco minutos: el patrón clásico de inflar volumen.
func washRatio(history []domain.Signal) float64 {
	const washWindow = 5 * time.Minute

	firstBuy := make(map[string]time.Time)
	firstSell := make(map[string]time.Time)
	for _, s := range history {
		switch s.Side {
		case domain.SideBuy:
			if t, ok := firstBuy[s.TokenID]; !ok || s.TradeTime.Before(t) {
				firstBuy[s.TokenID] = s.TradeTime
			}
		case domain.SideSell:
			if t, ok := firstSell[s.TokenID]; !ok || s.TradeTime.Before(t) {
				firstSell[s.TokenID] = s.TradeTime
			}
		}
	}

	washy, paired := 0, 0
	for token, buy := range firstBuy {
		sell, ok := firstSell[token]
		if !ok {
			continue
		}
		paired++
		gap := sell.Sub(buy)
		if gap < 0 {
			gap = -gap
		}
		if gap < washWindow {
			washy++
		}
	}
	if paired == 0 {
		return 0
	}
	return float64(washy) / float64(paired)
}

// slowRatio devuelve la fracción de trades en mercados lentos. Una cuenta
// que solo opera política acierta por paciencia, no por señal: copiarla
// con salidas rápidas no replica su ventaja.
func slowRatio(history []domain.Signal) float64 {
	if len(history) == 0 {
		return 0
	}
	slow := 0
	for _, s := range history {
		if !s.Category.Fast() {
			slow++
		}
	}
	return float64(slow) / float64(len(history))
}
