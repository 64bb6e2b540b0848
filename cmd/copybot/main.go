package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/polycopy/config"
	"github.com/alejandrodnm/polycopy/internal/adapters/notify"
	"github.com/alejandrodnm/polycopy/internal/adapters/onchain"
	"github.com/alejandrodnm/polycopy/internal/adapters/polymarket"
	"github.com/alejandrodnm/polycopy/internal/adapters/storage"
	"github.com/alejandrodnm/polycopy/internal/dedup"
	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/engine"
	"github.com/alejandrodnm/polycopy/internal/risk"
	"github.com/alejandrodnm/polycopy/internal/scoring"
	"github.com/alejandrodnm/polycopy/internal/sim"
	"github.com/alejandrodnm/polycopy/internal/sizing"
	"github.com/alejandrodnm/polycopy/internal/watch"
)

// volRefUSDC satura la componente de volumen del score compuesto.
const volRefUSDC = 10_000

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	live := flag.Bool("live", false, "mirror simulated fills as real CLOB orders (REAL MONEY)")
	statusEvery := flag.Duration("status-every", time.Minute, "interval between status lines")
	reportEvery := flag.Duration("report-every", 15*time.Minute, "interval between full reports")
	discoverEvery := flag.Duration("discover-every", 30*time.Minute, "interval between account discovery runs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("copybot starting",
		"config", *configPath,
		"cycle", cfg.CycleInterval(),
		"live", *live,
		"accounts", len(cfg.Watch.Accounts),
		"discover", cfg.Watch.Discover,
	)

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.API.DataBase)
	markets := polymarket.NewMarkets(client)

	archive, err := storage.NewArchive(cfg.Storage.ArchiveDSN)
	if err != nil {
		slog.Error("failed to open archive", "err", err, "dsn", cfg.Storage.ArchiveDSN)
		os.Exit(1)
	}
	defer archive.Close()

	state, err := storage.NewFileStore(cfg.Storage.StateDir, cfg.Storage.Generations)
	if err != nil {
		slog.Error("failed to open state dir", "err", err, "dir", cfg.Storage.StateDir)
		os.Exit(1)
	}

	scores := scoring.NewStore(volRefUSDC)
	guard := risk.New(risk.Config{
		InitialBankroll:   cfg.Risk.InitialBankroll,
		MaxExposure:       cfg.Risk.MaxExposure,
		MaxMarketExposure: cfg.Risk.MaxMarketExposure,
		MaxDailyLoss:      cfg.Risk.MaxDailyLoss,
		KillSwitchFile:    cfg.Risk.KillSwitchFile,
	})

	sizerCfg := sizing.DefaultConfig()
	sizerCfg.MaxFraction = cfg.Sizing.MaxFraction
	sizerCfg.FallbackFraction = cfg.Sizing.FallbackFraction
	sizerCfg.ConfidenceThreshold = cfg.Sizing.ConfidenceThreshold
	sizerCfg.MinSizeUSDC = cfg.Sizing.MinSizeUSDC
	sizerCfg.MaxSizeUSDC = cfg.Sizing.MaxSizeUSDC
	sizerCfg.MinCluster = cfg.Engine.MinClusterSize

	notifier := notify.NewConsole()
	poller := watch.NewPoller(client, cfg.PollInterval())
	simulator := sim.New(sim.DefaultConfig(), rand.New(rand.NewSource(time.Now().UnixNano())))

	engCfg := engine.DefaultConfig()
	engCfg.CycleInterval = cfg.CycleInterval()
	engCfg.MaxEntryPrice = cfg.Engine.MaxEntryPrice
	engCfg.ExpiryWindow = time.Duration(cfg.Engine.ExpiryExitMinutes) * time.Minute
	engCfg.Regimes = regimes(cfg)

	eng := engine.New(
		engCfg,
		markets,
		simulator,
		sizing.New(sizerCfg, scores),
		scores,
		guard,
		dedup.NewCache(time.Duration(cfg.Engine.DedupTTLMinutes)*time.Minute, 10_000),
		dedup.NewClusterer(time.Duration(cfg.Engine.ClusterSeconds)*time.Second, cfg.Engine.MinClusterSize),
		state,
		archive,
		notifier,
		poller,
	)

	if err := eng.Restore(); err != nil {
		slog.Error("failed to restore state", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *live {
		if !runLive(ctx, eng, cfg) {
			return
		}
	}

	feed := polymarket.NewFeed(cfg.API.FeedWSURL)
	go func() {
		if err := feed.Run(ctx, eng.In()); err != nil {
			slog.Error("feed exited", "err", err)
		}
	}()

	var watcher *onchain.Watcher
	if cfg.Chain.WSURL != "" {
		cursor, err := state.LoadCursor()
		if err != nil {
			cursor = onchain.Cursor{}
		}
		watcher = onchain.NewWatcher(cfg.Chain.WSURL, cursor)
		watcher.SetBackfillDepth(cfg.Chain.BackfillBlocks)
		go func() {
			if err := watcher.Run(ctx, eng.In()); err != nil {
				slog.Error("onchain watcher exited", "err", err)
			}
		}()
		go cursorLoop(ctx, watcher, state)
	} else {
		slog.Warn("no polygon ws url configured, running without the on-chain ledger watcher")
	}

	go func() {
		if err := poller.Run(ctx, eng.In()); err != nil {
			slog.Error("poller exited", "err", err)
		}
	}()

	registry := watch.NewRegistry(registryConfig(cfg), client)
	go discoveryLoop(ctx, cfg, registry, poller, watcher, *discoverEvery)
	go statusLoop(ctx, eng, notifier, feed, *statusEvery, *reportEvery)

	if err := eng.Run(ctx); err != nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}

	notifier.PrintReport(eng.Status())
	slog.Info("copybot stopped cleanly")
}

// cursorLoop persiste el cursor del watcher para que un reinicio haga
// backfill solo desde el último bloque procesado.
func cursorLoop(ctx context.Context, watcher *onchain.Watcher, state *storage.FileStore) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := state.SaveCursor(watcher.Cursor()); err != nil {
				slog.Warn("failed to save chain cursor", "err", err)
			}
			return
		case <-ticker.C:
			if err := state.SaveCursor(watcher.Cursor()); err != nil {
				slog.Warn("failed to save chain cursor", "err", err)
			}
		}
	}
}

// discoveryLoop refresca la lista de cuentas seguidas: las fijas de la
// config más las que pasan el filtro forense del registry.
func discoveryLoop(
	ctx context.Context,
	cfg *config.Config,
	registry *watch.Registry,
	poller *watch.Poller,
	watcher *onchain.Watcher,
	every time.Duration,
) {
	refresh := func() {
		accounts := append([]string(nil), cfg.Watch.Accounts...)
		if cfg.Watch.Discover {
			found, err := registry.Discover(ctx, time.Now())
			if err != nil {
				slog.Warn("account discovery failed", "err", err)
			} else {
				accounts = mergeAccounts(accounts, found, cfg.Watch.MaxAccounts)
			}
		}
		if len(accounts) == 0 {
			slog.Warn("no accounts to follow, waiting for discovery")
			return
		}
		poller.SetAccounts(accounts)
		if watcher != nil {
			watcher.SetAccounts(accounts)
		}
		slog.Info("following accounts", "count", len(accounts))
	}

	refresh()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// statusLoop imprime el estado periódicamente y mantiene el feed suscrito
// a los tokens de las posiciones abiertas para tener precios frescos.
func statusLoop(
	ctx context.Context,
	eng *engine.Engine,
	notifier *notify.Console,
	feed *polymarket.Feed,
	statusEvery, reportEvery time.Duration,
) {
	statusTicker := time.NewTicker(statusEvery)
	reportTicker := time.NewTicker(reportEvery)
	defer statusTicker.Stop()
	defer reportTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-statusTicker.C:
			st := eng.Status()
			notifier.PrintStatus(st)

			tokens := make([]string, 0, len(st.Open))
			for _, p := range st.Open {
				tokens = append(tokens, p.TokenID)
			}
			feed.SetTokens(tokens)
		case <-reportTicker.C:
			st := eng.Status()
			notifier.PrintRankings(st)
			notifier.PrintReport(st)
		}
	}
}

func mergeAccounts(fixed, found []string, max int) []string {
	seen := make(map[string]bool, len(fixed))
	out := append([]string(nil), fixed...)
	for _, a := range fixed {
		seen[a] = true
	}
	for _, a := range found {
		if len(out) >= max {
			break
		}
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

func regimes(cfg *config.Config) map[domain.Category]domain.Regime {
	fast := domain.Regime{
		TakeProfitPct: cfg.Engine.Fast.TakeProfitPct,
		StopLossPct:   cfg.Engine.Fast.StopLossPct,
		MaxHold:       time.Duration(cfg.Engine.Fast.MaxHoldHours * float64(time.Hour)),
	}
	slow := domain.Regime{
		TakeProfitPct: cfg.Engine.Slow.TakeProfitPct,
		StopLossPct:   cfg.Engine.Slow.StopLossPct,
		MaxHold:       time.Duration(cfg.Engine.Slow.MaxHoldHours * float64(time.Hour)),
	}
	return map[domain.Category]domain.Regime{
		domain.CategoryCrypto:   fast,
		domain.CategorySports:   fast,
		domain.CategoryPolitics: slow,
		domain.CategoryOther:    slow,
	}
}

func registryConfig(cfg *config.Config) watch.RegistryConfig {
	rc := watch.DefaultRegistryConfig()
	rc.MaxAccounts = cfg.Watch.MaxAccounts
	rc.MinPnLUSDC = cfg.Watch.MinPnLUSDC
	rc.MaxPnLUSDC = cfg.Watch.MaxPnLUSDC
	return rc
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
