package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// MarketProvider resuelve metadata y precios de mercados desde las APIs
// públicas de Polymarket (gamma + CLOB).
type MarketProvider interface {
	// MarketInfo devuelve la metadata de un mercado por condition ID.
	// Las respuestas se cachean: la metadata apenas cambia.
	MarketInfo(ctx context.Context, conditionID string) (domain.MarketInfo, error)

	// MarketByToken resuelve el mercado al que pertenece un outcome token.
	MarketByToken(ctx context.Context, tokenID string) (domain.MarketInfo, error)

	// Price devuelve el precio mid actual de un outcome token.
	Price(ctx context.Context, tokenID string) (float64, error)
}

// ActivityProvider pagina la actividad reciente de una cuenta desde la
// data-api. Es la fuente de respaldo cuando las fuentes push caen.
type ActivityProvider interface {
	// RecentTrades devuelve los trades de la cuenta posteriores a since,
	// más recientes primero.
	RecentTrades(ctx context.Context, account string, since time.Time) ([]domain.Signal, error)
}

// AccountProvider descubre cuentas candidatas a copiar.
type AccountProvider interface {
	// TopAccounts devuelve direcciones del leaderboard con PnL dentro de
	// la banda configurada.
	TopAccounts(ctx context.Context, limit int) ([]domain.AccountActivity, error)

	// AccountHistory devuelve el histórico reciente de la cuenta para los
	// filtros forenses.
	AccountHistory(ctx context.Context, account string, limit int) ([]domain.Signal, error)
}
