package domain

import (
	"strings"
	"time"
)

// Category groups markets by how fast their prices move. It drives the
// exit regime: fast markets take profit earlier and cut losses tighter.
type Category string

const (
	CategoryCrypto   Category = "crypto"
	CategorySports   Category = "sports"
	CategoryPolitics Category = "politics"
	CategoryOther    Category = "other"
)

// Regime selecciona los umbrales de salida según la categoría.
// Invariante: en todo régimen TakeProfit > StopLoss (en magnitud).
type Regime struct {
	TakeProfitPct float64       // fractional gain over entry, e.g. 0.20
	StopLossPct   float64       // fractional loss under entry, e.g. 0.12
	MaxHold       time.Duration // forced exit after this holding time
}

// Fast returns true for categories whose markets reprice within minutes.
func (c Category) Fast() bool {
	return c == CategoryCrypto || c == CategorySports
}

var categoryKeywords = map[Category][]string{
	CategoryCrypto:   {"bitcoin", "btc", "ethereum", "eth", "solana", "crypto", "token", "price of"},
	CategorySports:   {"nba", "nfl", "mlb", "nhl", "ufc", "premier league", "champions league", " vs ", "win the", "game", "match"},
	CategoryPolitics: {"election", "president", "senate", "congress", "nominee", "impeach", "governor", "parliament"},
}

// Classify infiere la categoría a partir de la pregunta del mercado.
// Crypto gana sobre sports cuando ambas coinciden (los mercados de precio
// de tokens suelen mencionar "win").
func Classify(question string) Category {
	q := strings.ToLower(question)
	for _, c := range []Category{CategoryCrypto, CategorySports, CategoryPolitics} {
		for _, kw := range categoryKeywords[c] {
			if strings.Contains(q, kw) {
				return c
			}
		}
	}
	return CategoryOther
}
