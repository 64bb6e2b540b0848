package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del copybot.
type Config struct {
	Watch   WatchConfig   `yaml:"watch"`
	Engine  EngineConfig  `yaml:"engine"`
	Risk    RiskConfig    `yaml:"risk"`
	Sizing  SizingConfig  `yaml:"sizing"`
	Chain   ChainConfig   `yaml:"chain"`
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// WatchConfig controla el descubrimiento y seguimiento de cuentas.
type WatchConfig struct {
	Accounts            []string `yaml:"accounts"` // direcciones fijas; vacío = solo discovery
	Discover            bool     `yaml:"discover"`
	MaxAccounts         int      `yaml:"max_accounts"`
	MinPnLUSDC          float64  `yaml:"min_pnl_usdc"`
	MaxPnLUSDC          float64  `yaml:"max_pnl_usdc"`
	PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
}

// EngineConfig controla el loop principal y los regímenes de salida.
type EngineConfig struct {
	CycleSeconds      int          `yaml:"cycle_seconds"`
	MaxEntryPrice     float64      `yaml:"max_entry_price"`
	ExpiryExitMinutes int          `yaml:"expiry_exit_minutes"`
	DedupTTLMinutes   int          `yaml:"dedup_ttl_minutes"`
	ClusterSeconds    int          `yaml:"cluster_seconds"`
	MinClusterSize    int          `yaml:"min_cluster_size"`
	Fast              RegimeConfig `yaml:"fast"`
	Slow              RegimeConfig `yaml:"slow"`
}

// RegimeConfig son los umbrales de salida de una familia de mercados.
type RegimeConfig struct {
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	MaxHoldHours  float64 `yaml:"max_hold_hours"`
}

// RiskConfig son los techos de exposición.
type RiskConfig struct {
	InitialBankroll   float64 `yaml:"initial_bankroll"`
	MaxExposure       float64 `yaml:"max_exposure"`
	MaxMarketExposure float64 `yaml:"max_market_exposure"`
	MaxDailyLoss      float64 `yaml:"max_daily_loss"`
	KillSwitchFile    string  `yaml:"kill_switch_file"`
}

// SizingConfig controla el tamaño de las copias.
type SizingConfig struct {
	MaxFraction         float64 `yaml:"max_fraction"`
	FallbackFraction    float64 `yaml:"fallback_fraction"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MinSizeUSDC         float64 `yaml:"min_size_usdc"`
	MaxSizeUSDC         float64 `yaml:"max_size_usdc"`
}

// ChainConfig es la conexión al nodo Polygon para el watcher on-chain.
type ChainConfig struct {
	WSURL          string `yaml:"ws_url"` // websocket endpoint; vacío desactiva el watcher
	BackfillBlocks uint64 `yaml:"backfill_blocks"`
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	DataBase  string `yaml:"data_base"`
	FeedWSURL string `yaml:"feed_ws_url"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	StateDir    string `yaml:"state_dir"`   // statefiles con rotación de backups
	ArchiveDSN  string `yaml:"archive_dsn"` // SQLite del archivo de señales, o ":memory:"
	Generations int    `yaml:"generations"` // backups por statefile
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si
// existe. Las variables de entorno sobreescriben el YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// CycleInterval devuelve el intervalo del engine como time.Duration.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Engine.CycleSeconds) * time.Second
}

// PollInterval devuelve el intervalo del poller como time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watch.PollIntervalSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("POLYGON_WS_URL"); v != "" {
		cfg.Chain.WSURL = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Watch.MaxAccounts <= 0 {
		cfg.Watch.MaxAccounts = 20
	}
	if cfg.Watch.MinPnLUSDC <= 0 {
		cfg.Watch.MinPnLUSDC = 5_000
	}
	if cfg.Watch.MaxPnLUSDC <= 0 {
		cfg.Watch.MaxPnLUSDC = 500_000
	}
	if cfg.Watch.PollIntervalSeconds <= 0 {
		cfg.Watch.PollIntervalSeconds = 15
	}
	if cfg.Engine.CycleSeconds <= 0 {
		cfg.Engine.CycleSeconds = 2
	}
	if cfg.Engine.MaxEntryPrice <= 0 {
		cfg.Engine.MaxEntryPrice = 0.90
	}
	if cfg.Engine.ExpiryExitMinutes <= 0 {
		cfg.Engine.ExpiryExitMinutes = 10
	}
	if cfg.Engine.DedupTTLMinutes <= 0 {
		cfg.Engine.DedupTTLMinutes = 30
	}
	if cfg.Engine.ClusterSeconds <= 0 {
		cfg.Engine.ClusterSeconds = 30
	}
	if cfg.Engine.MinClusterSize <= 0 {
		cfg.Engine.MinClusterSize = 3
	}
	if cfg.Engine.Fast.TakeProfitPct == 0 {
		cfg.Engine.Fast = RegimeConfig{TakeProfitPct: 0.20, StopLossPct: 0.12, MaxHoldHours: 6}
	}
	if cfg.Engine.Slow.TakeProfitPct == 0 {
		cfg.Engine.Slow = RegimeConfig{TakeProfitPct: 0.30, StopLossPct: 0.15, MaxHoldHours: 48}
	}
	if cfg.Risk.InitialBankroll <= 0 {
		cfg.Risk.InitialBankroll = 1000
	}
	if cfg.Risk.MaxExposure <= 0 {
		cfg.Risk.MaxExposure = 300
	}
	if cfg.Risk.MaxMarketExposure <= 0 {
		cfg.Risk.MaxMarketExposure = 100
	}
	if cfg.Risk.MaxDailyLoss <= 0 {
		cfg.Risk.MaxDailyLoss = 50
	}
	if cfg.Sizing.MaxFraction <= 0 {
		cfg.Sizing.MaxFraction = 0.05
	}
	if cfg.Sizing.FallbackFraction <= 0 {
		cfg.Sizing.FallbackFraction = 0.01
	}
	if cfg.Sizing.ConfidenceThreshold <= 0 {
		cfg.Sizing.ConfidenceThreshold = 0.30
	}
	if cfg.Sizing.MinSizeUSDC <= 0 {
		cfg.Sizing.MinSizeUSDC = 1
	}
	if cfg.Sizing.MaxSizeUSDC <= 0 {
		cfg.Sizing.MaxSizeUSDC = 500
	}
	if cfg.Chain.BackfillBlocks == 0 {
		cfg.Chain.BackfillBlocks = 3000
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.DataBase == "" {
		cfg.API.DataBase = "https://data-api.polymarket.com"
	}
	if cfg.API.FeedWSURL == "" {
		cfg.API.FeedWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = "state"
	}
	if cfg.Storage.ArchiveDSN == "" {
		cfg.Storage.ArchiveDSN = "copybot.db"
	}
	if cfg.Storage.Generations <= 0 {
		cfg.Storage.Generations = 3
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// validate rechaza configuraciones incoherentes en el arranque, no a
// mitad de una posición.
func (c *Config) validate() error {
	for name, r := range map[string]RegimeConfig{"fast": c.Engine.Fast, "slow": c.Engine.Slow} {
		if r.TakeProfitPct <= r.StopLossPct {
			return fmt.Errorf("regime %s: take_profit_pct %.2f must exceed stop_loss_pct %.2f",
				name, r.TakeProfitPct, r.StopLossPct)
		}
		if r.StopLossPct <= 0 || r.TakeProfitPct >= 1 {
			return fmt.Errorf("regime %s: thresholds out of range", name)
		}
	}
	if c.Watch.MinPnLUSDC >= c.Watch.MaxPnLUSDC {
		return fmt.Errorf("watch: min_pnl_usdc must be below max_pnl_usdc")
	}
	if c.Risk.MaxMarketExposure > c.Risk.MaxExposure {
		return fmt.Errorf("risk: max_market_exposure cannot exceed max_exposure")
	}
	return nil
}
