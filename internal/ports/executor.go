package ports

import (
	"context"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// OrderExecutor places real orders on the Polymarket CLOB. Only the live
// runner wires one; paper mode never touches it.
type OrderExecutor interface {
	// PlaceMarketOrder signs and submits a marketable limit order.
	// limitPrice caps how far we chase; the fill may improve on it.
	PlaceMarketOrder(ctx context.Context, tokenID string, side domain.TradeSide, sizeUSDC, limitPrice float64) (orderID string, err error)

	// CancelAll cancels every open order for this wallet.
	CancelAll(ctx context.Context) error

	// Balance returns the available USDC.e balance in the CLOB.
	Balance(ctx context.Context) (float64, error)
}
