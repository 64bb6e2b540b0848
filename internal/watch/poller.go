// Package watch contains the signal sources that don't push: the data-api
// poller and the account registry that decides who is worth following.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/ports"
)

// Poller es la fuente de respaldo: recorre las cuentas seguidas en
// round-robin contra la data-api. Detecta lo que las fuentes push se
// pierdan, con la latencia del intervalo de polling.
type Poller struct {
	provider ports.ActivityProvider
	interval time.Duration

	mu       sync.Mutex
	accounts []string
	next     int
	lastSeen map[string]time.Time
	kick     chan struct{}
}

// NewPoller crea el poller. interval es el tiempo entre cuentas
// consecutivas, no entre vueltas completas.
func NewPoller(provider ports.ActivityProvider, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		provider: provider,
		interval: interval,
		lastSeen: make(map[string]time.Time),
		kick:     make(chan struct{}, 1),
	}
}

// SetAccounts reemplaza el set de cuentas a recorrer.
func (p *Poller) SetAccounts(accounts []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = append([]string(nil), accounts...)
	if p.next >= len(p.accounts) {
		p.next = 0
	}
}

// Kick adelanta el siguiente poll. Lo usa el engine cuando el feed ve
// actividad en un mercado que seguimos: el websocket detecta, la data-api
// atribuye.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run recorre las cuentas hasta que el contexto muera, publicando en out
// las señales nuevas de cada cuenta.
func (p *Poller) Run(ctx context.Context, out chan<- domain.Signal) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-p.kick:
		case <-ctx.Done():
			return ctx.Err()
		}
		p.pollNext(ctx, out)
	}
}

// pollNext consulta la siguiente cuenta del round-robin.
func (p *Poller) pollNext(ctx context.Context, out chan<- domain.Signal) {
	p.mu.Lock()
	if len(p.accounts) == 0 {
		p.mu.Unlock()
		return
	}
	account := p.accounts[p.next%len(p.accounts)]
	p.next++
	since, ok := p.lastSeen[account]
	p.mu.Unlock()

	if !ok {
		// primera vuelta: solo lo muy reciente, no el histórico entero
		since = time.Now().Add(-5 * time.Minute)
	}

	sigs, err := p.provider.RecentTrades(ctx, account, since)
	if err != nil {
		slog.Warn("poller: fetch failed", "account", account, "err", err)
		return
	}

	now := time.Now()
	newest := since
	for _, sig := range sigs {
		if sig.TradeTime.After(newest) {
			newest = sig.TradeTime
		}
		sig.ObservedAt = now
		select {
		case out <- sig:
		default:
			slog.Warn("poller: signal channel full, dropping", "account", account)
		}
	}

	p.mu.Lock()
	p.lastSeen[account] = newest
	p.mu.Unlock()
}
