package storage

// sqlite.go — archivo histórico append-only.
//
// Estrategia:
//   - `signals`: una fila por señal admitida (la huella es PRIMARY KEY,
//     los duplicados tardíos se ignoran).
//   - `fills`: cada entrada/salida ejecutada o rechazada, con su motivo.
//   - `cycles`: resumen ligero por ciclo del engine. Siempre 1 fila.
//   - Prune automático al arrancar: signals > 14d, cycles > 30d. Los fills
//     se conservan: son el histórico de PnL.
//
// El estado crítico NO vive aquí (ver statefile.go); esta base es solo
// para análisis posterior y puede borrarse sin perder el estado del bot.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
    fingerprint  TEXT PRIMARY KEY,
    account      TEXT NOT NULL,
    market       TEXT NOT NULL,
    token_id     TEXT NOT NULL,
    side         TEXT NOT NULL,
    origin       TEXT NOT NULL,
    price        REAL NOT NULL,
    size_usdc    REAL NOT NULL,
    trade_time   DATETIME NOT NULL,
    observed_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id  TEXT NOT NULL,
    kind         TEXT NOT NULL, -- ENTRY | EXIT
    price        REAL NOT NULL DEFAULT 0,
    shares       REAL NOT NULL DEFAULT 0,
    usdc         REAL NOT NULL DEFAULT 0,
    fees         REAL NOT NULL DEFAULT 0,
    gas          REAL NOT NULL DEFAULT 0,
    partial      INTEGER NOT NULL DEFAULT 0,
    reject       TEXT NOT NULL DEFAULT '',
    at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cycles (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    at             DATETIME NOT NULL,
    signals_seen   INTEGER NOT NULL DEFAULT 0,
    duplicates     INTEGER NOT NULL DEFAULT 0,
    entries        INTEGER NOT NULL DEFAULT 0,
    exits          INTEGER NOT NULL DEFAULT 0,
    rejections     INTEGER NOT NULL DEFAULT 0,
    open_positions INTEGER NOT NULL DEFAULT 0,
    exposure       REAL    NOT NULL DEFAULT 0,
    bankroll       REAL    NOT NULL DEFAULT 0,
    daily_pnl      REAL    NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_signals_account ON signals(account, trade_time DESC);
CREATE INDEX IF NOT EXISTS idx_fills_position  ON fills(position_id);
CREATE INDEX IF NOT EXISTS idx_cycles_at       ON cycles(at DESC);
`

const (
	retentionSignals = 14 * 24 * time.Hour
	retentionCycles  = 30 * 24 * time.Hour
)

// Archive guarda el histórico en SQLite (pure Go, sin CGo).
type Archive struct {
	db *sql.DB
}

// NewArchive abre (o crea) la base de datos y aplica el schema.
func NewArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewArchive: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewArchive: apply schema: %w", err)
	}

	a := &Archive{db: db}
	a.pruneOld(context.Background())
	return a, nil
}

// RecordSignal archiva una señal admitida. Volver a ver la misma huella
// es un no-op.
func (a *Archive) RecordSignal(ctx context.Context, s domain.Signal) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO signals
			(fingerprint, account, market, token_id, side, origin, price, size_usdc, trade_time, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Fingerprint(), s.Account, s.Market, s.TokenID, string(s.Side), string(s.Origin),
		s.Price, s.SizeUSDC, s.TradeTime.UTC(), s.ObservedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordSignal: %w", err)
	}
	return nil
}

// RecordFill archiva el resultado de una orden, ejecutada o rechazada.
func (a *Archive) RecordFill(ctx context.Context, positionID, kind string, f domain.Fill) error {
	partial := 0
	if f.Partial {
		partial = 1
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO fills (position_id, kind, price, shares, usdc, fees, gas, partial, reject, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		positionID, kind, f.Price, f.Shares, f.CostUSDC, f.FeesUSDC, f.GasUSDC,
		partial, string(f.Reject), f.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordFill: %w", err)
	}
	return nil
}

// CycleSummary es la fila de resumen que el engine escribe por ciclo.
type CycleSummary struct {
	At            time.Time
	SignalsSeen   int
	Duplicates    int
	Entries       int
	Exits         int
	Rejections    int
	OpenPositions int
	Exposure      float64
	Bankroll      float64
	DailyPnL      float64
}

// RecordCycle persiste el resumen del ciclo: siempre una fila, ~60 bytes.
func (a *Archive) RecordCycle(ctx context.Context, c CycleSummary) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO cycles (at, signals_seen, duplicates, entries, exits, rejections, open_positions, exposure, bankroll, daily_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.At.UTC(), c.SignalsSeen, c.Duplicates, c.Entries, c.Exits, c.Rejections,
		c.OpenPositions, c.Exposure, c.Bankroll, c.DailyPnL,
	)
	if err != nil {
		return fmt.Errorf("storage.RecordCycle: %w", err)
	}
	return nil
}

// SignalCount devuelve cuántas señales archivadas tiene una cuenta.
func (a *Archive) SignalCount(ctx context.Context, account string) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signals WHERE account = ?`, account).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage.SignalCount: %w", err)
	}
	return n, nil
}

// pruneOld borra histórico viejo. Errores solo se registran: el prune
// nunca impide arrancar.
func (a *Archive) pruneOld(ctx context.Context) {
	cutSignals := time.Now().UTC().Add(-retentionSignals)
	cutCycles := time.Now().UTC().Add(-retentionCycles)

	a.db.ExecContext(ctx, `DELETE FROM signals WHERE trade_time < ?`, cutSignals)
	a.db.ExecContext(ctx, `DELETE FROM cycles WHERE at < ?`, cutCycles)
}

// Close cierra la base de datos.
func (a *Archive) Close() error { return a.db.Close() }
