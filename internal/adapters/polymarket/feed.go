package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	defaultWSBase    = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	wsPingInterval   = 10 * time.Second
	wsReadTimeout    = 30 * time.Second
	wsReconnectBase  = 2 * time.Second
	wsReconnectMax   = time.Minute
	wsHandshakeLimit = 15 * time.Second
)

// Feed es el watcher del canal market del CLOB. Emite una señal por cada
// last_trade_price de los tokens suscritos; el engine filtra después por
// cuenta, porque el canal público no trae el trader.
//
// Se reconecta solo, con backoff. Cambiar el set de tokens fuerza una
// reconexión con la suscripción nueva.
type Feed struct {
	url string

	mu      sync.Mutex
	tokens  []string
	dirty   bool // el set de tokens cambió desde la última suscripción
	dropped int  // payloads malformados descartados
}

// NewFeed crea el watcher. url vacío usa el endpoint de producción.
func NewFeed(url string) *Feed {
	if url == "" {
		url = defaultWSBase
	}
	return &Feed{url: url}
}

// SetTokens reemplaza el set de outcome tokens suscritos. Surte efecto en
// la siguiente (re)conexión, que se fuerza si ya hay una viva.
func (f *Feed) SetTokens(tokens []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append([]string(nil), tokens...)
	f.dirty = true
}

// Dropped devuelve cuántos payloads malformados se descartaron.
func (f *Feed) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Run mantiene la conexión viva hasta que el contexto muera, publicando
// señales en out. Nunca cierra out.
func (f *Feed) Run(ctx context.Context, out chan<- domain.Signal) error {
	delay := wsReconnectBase
	for {
		err := f.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("feed: session ended, reconnecting", "err", err, "delay", delay)

		select {
		case <-time.After(jitter(delay)):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > wsReconnectMax {
			delay = wsReconnectMax
		}
	}
}

// session abre una conexión, se suscribe y lee hasta el primer error.
func (f *Feed) session(ctx context.Context, out chan<- domain.Signal) error {
	f.mu.Lock()
	tokens := append([]string(nil), f.tokens...)
	f.dirty = false
	f.mu.Unlock()

	if len(tokens) == 0 {
		// sin tokens no hay nada que suscribir: esperar a SetTokens
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeLimit}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.url, err)
	}
	defer conn.Close()

	sub := wsSubscribe{AssetIDs: tokens, Type: "market"}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	slog.Info("feed: subscribed", "tokens", len(tokens))

	// cerrar la conexión cuando el contexto muera desbloquea ReadMessage
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	go func() {
		for {
			select {
			case <-ping.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		if f.tokensDirty() {
			return fmt.Errorf("feed: token set changed")
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(msg, out)
	}
}

func (f *Feed) tokensDirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty
}

// handleMessage parsea un frame del canal market. El servidor manda tanto
// eventos sueltos como arrays; los PONG y los tipos que no interesan se
// ignoran en silencio.
func (f *Feed) handleMessage(msg []byte, out chan<- domain.Signal) {
	trimmed := strings.TrimSpace(string(msg))
	if trimmed == "" || trimmed == "PONG" {
		return
	}

	var events []wsEvent
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(msg, &events); err != nil {
			f.countDrop()
			return
		}
	} else {
		var ev wsEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			f.countDrop()
			return
		}
		events = []wsEvent{ev}
	}

	for _, ev := range events {
		if ev.EventType != "last_trade_price" {
			continue
		}
		sig, ok := f.mapEvent(ev)
		if !ok {
			f.countDrop()
			continue
		}
		select {
		case out <- sig:
		default:
			slog.Warn("feed: signal channel full, dropping", "market", sig.Market)
		}
	}
}

// mapEvent convierte un last_trade_price en señal. El canal público no
// identifica al trader: Account queda vacío y el engine lo resuelve
// cruzando con la actividad de las cuentas seguidas.
func (f *Feed) mapEvent(ev wsEvent) (domain.Signal, bool) {
	price, err := ev.Price.Float64()
	if err != nil || price <= 0 || price >= 1 {
		return domain.Signal{}, false
	}
	size, _ := ev.Size.Float64()
	ts := parseTimestamp(ev.Timestamp)
	if ts.IsZero() {
		return domain.Signal{}, false
	}

	side := domain.SideBuy
	if strings.EqualFold(ev.Side, "SELL") {
		side = domain.SideSell
	}

	return domain.Signal{
		Origin:    domain.OriginFeed,
		Market:    ev.Market,
		TokenID:   ev.AssetID,
		Side:      side,
		Price:     price,
		SizeUSDC:  size * price,
		TradeTime: ts,
	}, true
}

func (f *Feed) countDrop() {
	f.mu.Lock()
	f.dropped++
	f.mu.Unlock()
}
