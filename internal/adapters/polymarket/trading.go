package polymarket

// trading.go — real order execution via the Polymarket CLOB API.
//
// Implements ports.OrderExecutor using AuthClient for L1/L2 auth. Copy
// orders chase a moving print, so everything goes out as FAK marketable
// limits: fill what the book gives within the limit price, kill the rest.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

type clobBalanceResponse struct {
	Balance string `json:"balance"`
}

type clobNegRiskResponse struct {
	NegRisk bool `json:"neg_risk"`
}

// Trader implements ports.OrderExecutor against the real CLOB.
type Trader struct {
	auth *AuthClient
}

// NewTrader crea el ejecutor real. Solo lo cablea el modo live.
func NewTrader(auth *AuthClient) *Trader {
	return &Trader{auth: auth}
}

// PlaceMarketOrder firma y envía una orden marketable limit FAK: cruza el
// libro hasta limitPrice y cancela lo que no se llene.
func (t *Trader) PlaceMarketOrder(ctx context.Context, tokenID string, side domain.TradeSide, sizeUSDC, limitPrice float64) (string, error) {
	if err := t.auth.EnsureCreds(ctx); err != nil {
		return "", fmt.Errorf("polymarket.PlaceMarketOrder: creds: %w", err)
	}

	negRisk, err := t.isNegRisk(ctx, tokenID)
	if err != nil {
		return "", fmt.Errorf("polymarket.PlaceMarketOrder: %w", err)
	}

	signed, err := t.auth.buildSignedOrder(tokenID, side, sizeUSDC, limitPrice, negRisk)
	if err != nil {
		return "", fmt.Errorf("polymarket.PlaceMarketOrder: sign: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       tokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          string(side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     t.auth.creds.APIKey,
		OrderType: "FAK",
	}

	var resp clobOrderResponse
	if err := t.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return "", fmt.Errorf("polymarket.PlaceMarketOrder: post: %w", err)
	}

	if !resp.Success || resp.ErrorMsg != "" {
		return "", fmt.Errorf("polymarket.PlaceMarketOrder: clob error: %s", resp.ErrorMsg)
	}
	return resp.OrderID, nil
}

// CancelAll cancela todas las órdenes abiertas del wallet.
func (t *Trader) CancelAll(ctx context.Context) error {
	if err := t.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("polymarket.CancelAll: creds: %w", err)
	}

	if err := t.auth.doL2(ctx, http.MethodDelete, "/orders", nil, nil); err != nil {
		return fmt.Errorf("polymarket.CancelAll: %w", err)
	}
	return nil
}

// Balance devuelve el colateral USDC.e disponible en el CLOB.
func (t *Trader) Balance(ctx context.Context) (float64, error) {
	if err := t.auth.EnsureCreds(ctx); err != nil {
		return 0, fmt.Errorf("polymarket.Balance: creds: %w", err)
	}

	var resp clobBalanceResponse
	if err := t.auth.doL2(ctx, http.MethodGet, "/balance-allowance?asset_type=COLLATERAL", nil, &resp); err != nil {
		return 0, fmt.Errorf("polymarket.Balance: %w", err)
	}
	return parseMicroUSDC(resp.Balance), nil
}

// isNegRisk queries the CLOB to determine if a token uses the NegRisk adapter.
func (t *Trader) isNegRisk(ctx context.Context, tokenID string) (bool, error) {
	url := fmt.Sprintf("%s/neg-risk?token_id=%s", t.auth.clobBase, tokenID)

	var resp clobNegRiskResponse
	if err := t.auth.get(ctx, t.auth.clobLimiter, url, &resp); err != nil {
		return false, fmt.Errorf("neg-risk check: %w", err)
	}
	return resp.NegRisk, nil
}

// parseMicroUSDC converts a micro-USDC string (e.g., "1000000") to USDC.
func parseMicroUSDC(s string) float64 {
	if s == "" {
		return 0
	}
	n := new(big.Int)
	n.SetString(s, 10)
	f, _ := new(big.Float).SetInt(n).Float64()
	return f / 1_000_000
}
