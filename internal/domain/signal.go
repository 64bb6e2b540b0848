package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SignalOrigin identifies which watcher produced a signal.
type SignalOrigin string

const (
	OriginOnchain SignalOrigin = "ONCHAIN" // OrderFilled event from the exchange contract
	OriginFeed    SignalOrigin = "FEED"    // CLOB websocket trade feed
	OriginPoll    SignalOrigin = "POLL"    // data-api activity polling fallback
)

// TradeSide is the direction of the tracked account's trade.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// Signal is a single observed trade by a tracked account, normalized
// across sources. Fields that feed the fingerprint are source-independent
// so the same trade seen on-chain and on the feed collapses to one entry.
type Signal struct {
	ID           string
	Origin       SignalOrigin
	Account      string // trader address, lowercase 0x
	Market       string // condition ID
	TokenID      string // outcome token (ERC-1155 position ID)
	Outcome      string // "YES" / "NO" or market-specific label
	Side         TradeSide
	Price        float64 // execution price in [0,1]
	SizeUSDC     float64
	TradeTime    time.Time // block timestamp (on-chain) or exchange match time. Authoritative.
	ObservedAt   time.Time // when this process first saw the trade. Never used for staleness.
	TxHash       string
	BlockNumber  uint64
	LogIndex     uint
	GasPriceGwei float64 // 0 when the source doesn't carry it (feed, poll)
	Question     string
	Category     Category
}

// Fingerprint devuelve la huella estable del trade, independiente del origen.
// Dos señales del mismo trade (onchain + poll) producen la misma huella.
// Con tx hash la huella sale de ahí; sin él, de los campos de identidad
// que todas las fuentes traen. Market queda fuera a propósito: las
// señales on-chain llegan sin condition ID y el engine lo resuelve
// después del dedup.
func (s Signal) Fingerprint() string {
	var raw string
	if s.TxHash != "" {
		raw = fmt.Sprintf("%s|%s|%s|%s", s.TxHash, s.Account, s.TokenID, s.Side)
	} else {
		raw = fmt.Sprintf("%s|%s|%s|%.4f|%.2f|%d",
			s.Account, s.TokenID, s.Side, s.Price, s.SizeUSDC, s.TradeTime.Unix())
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}

// Age returns how old the trade is relative to now, using the trade's
// own timestamp. Detection latency is not part of staleness.
func (s Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.TradeTime)
}

// Validate rejects signals that cannot be acted on.
func (s Signal) Validate() error {
	// Market puede faltar: las señales on-chain solo traen el token y el
	// engine resuelve el condition ID después.
	if s.Account == "" || s.TokenID == "" {
		return fmt.Errorf("domain.Signal: missing identity fields (account=%q token=%q)", s.Account, s.TokenID)
	}
	if s.Price <= 0 || s.Price >= 1 {
		return fmt.Errorf("domain.Signal: price %.4f out of (0,1)", s.Price)
	}
	if s.SizeUSDC <= 0 {
		return fmt.Errorf("domain.Signal: non-positive size %.2f", s.SizeUSDC)
	}
	if s.TradeTime.IsZero() {
		return fmt.Errorf("domain.Signal: zero trade time")
	}
	return nil
}
