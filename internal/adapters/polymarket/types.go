package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- CLOB API ---

// clobMarket es la respuesta de GET /markets/{condition_id}.
type clobMarket struct {
	ConditionID  string      `json:"condition_id"`
	QuestionID   string      `json:"question_id"`
	Question     string      `json:"question"`
	Tokens       []clobToken `json:"tokens"`
	MakerBaseFee float64     `json:"maker_base_fee"`
	TakerBaseFee float64     `json:"taker_base_fee"`
	Active       bool        `json:"active"`
	Closed       bool        `json:"closed"`
	EndDateISO   string      `json:"end_date_iso"`
}

// clobToken representa un token (YES/NO) en el CLOB.
type clobToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// midpointResponse es la respuesta de GET /midpoint.
type midpointResponse struct {
	Mid json.Number `json:"mid"`
}

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket contiene la metadata enriquecida de un mercado.
// Gamma devuelve algunos campos numéricos como strings JSON, usamos json.Number.
type gammaMarket struct {
	ConditionID  string      `json:"conditionId"`
	Question     string      `json:"question"`
	Slug         string      `json:"slug"`
	EndDateISO   string      `json:"endDateIso"`
	Volume24h    json.Number `json:"volume24hr"`
	MakerBaseFee json.Number `json:"makerBaseFee"`
	Active       bool        `json:"active"`
	Closed       bool        `json:"closed"`
}

// --- Data API ---

// rawActivity es una fila de GET /activity.
type rawActivity struct {
	ProxyWallet     string      `json:"proxyWallet"`
	ConditionID     string      `json:"conditionId"`
	Asset           string      `json:"asset"`
	Type            string      `json:"type"` // TRADE, SPLIT, MERGE, REDEEM...
	Side            string      `json:"side"`
	Price           json.Number `json:"price"`
	Size            json.Number `json:"size"`
	UsdcSize        json.Number `json:"usdcSize"`
	Timestamp       json.Number `json:"timestamp"`
	TransactionHash string      `json:"transactionHash"`
	Title           string      `json:"title"`
	Outcome         string      `json:"outcome"`
}

// rawLeaderboardEntry es una fila de GET /leaderboard.
type rawLeaderboardEntry struct {
	ProxyWallet string      `json:"proxyWallet"`
	Amount      json.Number `json:"amount"` // PnL en la ventana pedida
	Volume      json.Number `json:"vol"`
}

// --- Websocket market channel ---

// wsSubscribe es el mensaje de suscripción al canal market.
type wsSubscribe struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"` // "market"
}

// wsEvent es el sobre común de los eventos del canal market.
type wsEvent struct {
	EventType string      `json:"event_type"` // last_trade_price, book, price_change...
	AssetID   string      `json:"asset_id"`
	Market    string      `json:"market"` // condition ID
	Price     json.Number `json:"price"`
	Size      json.Number `json:"size"`
	Side      string      `json:"side"`
	Timestamp json.Number `json:"timestamp"` // ms desde epoch
}
