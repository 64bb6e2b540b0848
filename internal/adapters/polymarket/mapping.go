package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// mapClobMarket convierte el DTO del CLOB a domain.MarketInfo.
func mapClobMarket(r clobMarket) domain.MarketInfo {
	info := domain.MarketInfo{
		ConditionID: r.ConditionID,
		Question:    r.Question,
		FeeBps:      r.TakerBaseFee,
		Active:      r.Active,
		Closed:      r.Closed,
	}

	for i, t := range r.Tokens {
		if i >= 2 {
			break
		}
		info.Tokens[i] = domain.Token{
			TokenID: t.TokenID,
			Outcome: t.Outcome,
			Price:   t.Price,
		}
		if t.Winner {
			info.Resolved = true
			info.WinnerToken = t.TokenID
		}
	}

	if r.EndDateISO != "" {
		if t, ok := parseISODate(r.EndDateISO); ok {
			info.EndDate = t
		}
	}
	return info
}

// mapActivity convierte una fila de /activity a domain.Signal. Devuelve
// false para actividad que no es un trade o viene incompleta.
func mapActivity(r rawActivity) (domain.Signal, bool) {
	if r.Type != "TRADE" {
		return domain.Signal{}, false
	}

	price, _ := r.Price.Float64()
	usdc, _ := r.UsdcSize.Float64()
	if usdc == 0 {
		if size, err := r.Size.Float64(); err == nil {
			usdc = size * price
		}
	}
	ts := parseTimestamp(r.Timestamp)
	if price <= 0 || price >= 1 || usdc <= 0 || ts.IsZero() {
		return domain.Signal{}, false
	}

	side := domain.SideBuy
	if strings.EqualFold(r.Side, "SELL") {
		side = domain.SideSell
	}

	return domain.Signal{
		Origin:    domain.OriginPoll,
		Account:   strings.ToLower(r.ProxyWallet),
		Market:    r.ConditionID,
		TokenID:   r.Asset,
		Outcome:   r.Outcome,
		Side:      side,
		Price:     price,
		SizeUSDC:  usdc,
		TradeTime: ts,
		TxHash:    r.TransactionHash,
		Question:  r.Title,
		Category:  domain.Classify(r.Title),
	}, true
}

// parseTimestamp acepta unix (segundos o milisegundos), decimal o ISO.
func parseTimestamp(n json.Number) time.Time {
	s := n.String()
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		if sec > 1e12 {
			return time.Unix(sec/1000, (sec%1000)*int64(time.Millisecond))
		}
		return time.Unix(sec, 0)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec)
	}
	for _, layout := range []string{
		time.RFC3339Nano, time.RFC3339,
		"2006-01-02T15:04:05.000Z", "2006-01-02T15:04:05Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseISODate intenta los formatos de fecha que usa Polymarket.
func parseISODate(s string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
