package domain

import "time"

// MarketInfo es la metadata de un mercado de predicción binario,
// enriquecida desde Gamma.
type MarketInfo struct {
	ConditionID string
	Question    string
	Slug        string
	EndDate     time.Time // fecha de resolución; zero si Gamma no la trae
	Category    Category
	FeeBps      float64 // fee real del mercado (0 = usar default)
	Tokens      [2]Token
	Active      bool
	Closed      bool
	Resolved    bool
	WinnerToken string // token ganador cuando Resolved
}

// Token es uno de los dos lados del mercado (YES/NO).
type Token struct {
	TokenID string
	Outcome string  // "Yes" | "No"
	Price   float64 // último precio mid del CLOB
}

// OutcomeOf devuelve la etiqueta del outcome para un token del mercado.
func (m MarketInfo) OutcomeOf(tokenID string) string {
	for _, t := range m.Tokens {
		if t.TokenID == tokenID {
			return t.Outcome
		}
	}
	return ""
}

// AccountActivity is one leaderboard candidate before forensic filtering.
type AccountActivity struct {
	Address    string
	PnLUSDC    float64
	VolumeUSDC float64
	TradeCount int
	LastActive time.Time
}
