// Package sizing turns an admitted signal into a dollar amount to copy,
// or zero when confidence doesn't clear the bar.
package sizing

import (
	"log/slog"

	"github.com/alejandrodnm/polycopy/internal/dedup"
	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/scoring"
)

// Config are the sizing knobs.
type Config struct {
	MaxFraction         float64 // Kelly clip, fraction of bankroll
	FallbackFraction    float64 // used below the minimum settled sample
	ConfidenceThreshold float64 // below this the copy is skipped
	MinSizeUSDC         float64 // dust floor
	MaxSizeUSDC         float64 // absolute per-position cap
	MinCluster          int     // distinct accounts before conviction kicks in

	// Gas conviction: ledger signals paid for urgency. Above HighGasGwei
	// the copy scales up, below LowGasGwei it scales down.
	HighGasGwei   float64
	LowGasGwei    float64
	HighGasFactor float64
	LowGasFactor  float64
}

// DefaultConfig returns conservative production defaults.
func DefaultConfig() Config {
	return Config{
		MaxFraction:         0.05,
		FallbackFraction:    0.01,
		ConfidenceThreshold: 0.30,
		MinSizeUSDC:         1,
		MaxSizeUSDC:         500,
		MinCluster:          3,
		HighGasGwei:         200,
		LowGasGwei:          50,
		HighGasFactor:       1.5,
		LowGasFactor:        0.75,
	}
}

// Sizer computes copy sizes from the score book.
type Sizer struct {
	cfg    Config
	scores *scoring.Store
}

// New creates a Sizer backed by the given score store.
func New(cfg Config, scores *scoring.Store) *Sizer {
	return &Sizer{cfg: cfg, scores: scores}
}

// Size calcula el tamaño en USDC para copiar la señal.
//
//	base      = bankroll × (half-Kelly ó fracción fija si la muestra es corta)
//	tamaño    = base × confianza × convicción de clúster × convicción de gas
//
// Devuelve 0 (sin error) cuando la confianza no llega al umbral o el
// resultado queda por debajo del mínimo.
func (s *Sizer) Size(sig domain.Signal, clusterSize int, bankroll float64) (usdc float64, reject domain.RejectReason) {
	if bankroll <= 0 {
		return 0, domain.RejectRiskBlocked
	}

	conf := s.scores.Confidence(sig.Account, sig.Category)
	if conf < s.cfg.ConfidenceThreshold {
		slog.Debug("sizing: below confidence threshold",
			"account", sig.Account, "confidence", conf)
		return 0, domain.RejectLowConfidence
	}

	rate, settled := s.scores.WinRate(sig.Account)

	var fraction float64
	if settled >= domain.MinSettledForSizing {
		fraction = domain.HalfKelly(rate, sig.Price, s.cfg.MaxFraction)
		if fraction == 0 {
			// posterior says no edge at this price
			return 0, domain.RejectLowConfidence
		}
	} else {
		fraction = s.cfg.FallbackFraction
	}

	size := bankroll * fraction
	size *= conf
	size *= dedup.SizeMultiplier(clusterSize, s.cfg.MinCluster)
	size *= s.gasFactor(sig)

	if size > s.cfg.MaxSizeUSDC {
		size = s.cfg.MaxSizeUSDC
	}
	if size < s.cfg.MinSizeUSDC {
		return 0, domain.RejectLowConfidence
	}
	return size, domain.RejectNone
}

// gasFactor devuelve el multiplicador de convicción por gas. Solo aplica a
// señales del ledger; las demás fuentes no traen precio de gas.
func (s *Sizer) gasFactor(sig domain.Signal) float64 {
	if sig.Origin != domain.OriginOnchain || sig.GasPriceGwei <= 0 {
		return 1
	}
	switch {
	case sig.GasPriceGwei > s.cfg.HighGasGwei:
		return s.cfg.HighGasFactor
	case sig.GasPriceGwei < s.cfg.LowGasGwei:
		return s.cfg.LowGasFactor
	default:
		return 1
	}
}
