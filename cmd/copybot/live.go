package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/polycopy/config"
	"github.com/alejandrodnm/polycopy/internal/adapters/polymarket"
	"github.com/alejandrodnm/polycopy/internal/engine"
)

// runLive arma el ejecutor real y lo conecta al engine. El simulador
// sigue siendo el libro contable; el ejecutor solo espeja las órdenes.
// Devuelve false si el arranque se aborta.
func runLive(ctx context.Context, eng *engine.Engine, cfg *config.Config) bool {
	slog.Info("=== LIVE MIRRORING MODE (REAL MONEY) ===",
		"bankroll", cfg.Risk.InitialBankroll,
		"max_exposure", cfg.Risk.MaxExposure,
		"max_size", cfg.Sizing.MaxSizeUSDC,
	)

	fmt.Printf("\n⚠️  LIVE MIRRORING MODE — REAL MONEY WILL BE SPENT\n")
	fmt.Printf("   Max exposure: $%.2f | Max copy size: $%.2f | Daily loss halt: $%.2f\n",
		cfg.Risk.MaxExposure, cfg.Sizing.MaxSizeUSDC, cfg.Risk.MaxDailyLoss)
	fmt.Printf("   Press Ctrl+C within 5 seconds to abort...\n\n")

	abortTimer := time.NewTimer(5 * time.Second)
	select {
	case <-abortTimer.C:
	case <-ctx.Done():
		slog.Info("live mirroring aborted by user")
		return false
	}

	privateKey := os.Getenv("POLY_PRIVATE_KEY")
	if privateKey == "" {
		slog.Error("POLY_PRIVATE_KEY not set, cannot trade live")
		os.Exit(1)
	}

	auth, err := polymarket.NewAuthClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.API.DataBase, privateKey)
	if err != nil {
		slog.Error("failed to create auth client", "err", err)
		os.Exit(1)
	}

	if err := auth.EnsureCreds(ctx); err != nil {
		slog.Error("failed to derive API credentials, check POLY_PRIVATE_KEY", "err", err)
		os.Exit(1)
	}
	slog.Info("live: authenticated with Polymarket CLOB", "address", auth.Address())

	trader := polymarket.NewTrader(auth)

	// Órdenes colgadas de una sesión anterior distorsionan el balance.
	if err := trader.CancelAll(ctx); err != nil {
		slog.Warn("live: failed to cancel resting orders", "err", err)
	}

	balance, err := trader.Balance(ctx)
	if err != nil {
		slog.Error("failed to get CLOB balance", "err", err)
		os.Exit(1)
	}
	slog.Info("live: CLOB balance", "usdc", fmt.Sprintf("$%.2f", balance))

	if balance < cfg.Sizing.MaxSizeUSDC*2 {
		slog.Error("insufficient CLOB balance",
			"balance", fmt.Sprintf("$%.2f", balance),
			"required", fmt.Sprintf("$%.2f", cfg.Sizing.MaxSizeUSDC*2))
		os.Exit(1)
	}

	eng.SetExecutor(trader)
	slog.Info("live mirroring armed, simulated fills will be mirrored as FAK orders")
	return true
}
