package polymarket

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	activityPerPage  = 100
	activityMaxPages = 5
	leaderboardPath  = "/leaderboard"
)

// RecentTrades obtiene los trades de una cuenta desde la data-api,
// paginando hasta cubrir la ventana pedida. Más recientes primero.
func (c *Client) RecentTrades(ctx context.Context, account string, since time.Time) ([]domain.Signal, error) {
	var all []domain.Signal

	for page := 0; page < activityMaxPages; page++ {
		offset := page * activityPerPage
		url := fmt.Sprintf("%s/activity?user=%s&type=TRADE&limit=%d&offset=%d",
			c.dataBase, account, activityPerPage, offset)

		var resp []rawActivity
		if err := c.get(ctx, c.dataLimiter, url, &resp); err != nil {
			return nil, fmt.Errorf("polymarket.RecentTrades: %s: %w", account, err)
		}
		if len(resp) == 0 {
			break
		}

		reachedWindow := false
		for _, r := range resp {
			sig, ok := mapActivity(r)
			if !ok {
				continue
			}
			if sig.TradeTime.Before(since) {
				reachedWindow = true
				break
			}
			all = append(all, sig)
		}

		if reachedWindow || len(resp) < activityPerPage {
			break
		}
	}
	return all, nil
}

// AccountHistory devuelve los últimos trades de la cuenta sin filtro
// temporal, para los filtros forenses del registro.
func (c *Client) AccountHistory(ctx context.Context, account string, limit int) ([]domain.Signal, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	url := fmt.Sprintf("%s/activity?user=%s&type=TRADE&limit=%d", c.dataBase, account, limit)

	var resp []rawActivity
	if err := c.get(ctx, c.dataLimiter, url, &resp); err != nil {
		return nil, fmt.Errorf("polymarket.AccountHistory: %s: %w", account, err)
	}

	out := make([]domain.Signal, 0, len(resp))
	for _, r := range resp {
		if sig, ok := mapActivity(r); ok {
			out = append(out, sig)
		}
	}
	return out, nil
}

// TopAccounts devuelve las direcciones mejor posicionadas del leaderboard
// mensual por PnL.
func (c *Client) TopAccounts(ctx context.Context, limit int) ([]domain.AccountActivity, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	url := fmt.Sprintf("%s%s?window=30d&rankType=pnl&limit=%d", c.dataBase, leaderboardPath, limit)

	var resp []rawLeaderboardEntry
	if err := c.get(ctx, c.dataLimiter, url, &resp); err != nil {
		return nil, fmt.Errorf("polymarket.TopAccounts: %w", err)
	}

	out := make([]domain.AccountActivity, 0, len(resp))
	for _, r := range resp {
		if r.ProxyWallet == "" {
			continue
		}
		pnl, _ := r.Amount.Float64()
		vol, _ := r.Volume.Float64()
		out = append(out, domain.AccountActivity{
			Address:    strings.ToLower(r.ProxyWallet),
			PnLUSDC:    pnl,
			VolumeUSDC: vol,
		})
	}
	return out, nil
}
