package dedup

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// Clusterer groups trades on the same (market, token, side) from distinct
// accounts inside a rolling time window. Several tracked accounts piling
// into the same outcome is a stronger signal than one acting alone.
type Clusterer struct {
	mu      sync.Mutex
	window  time.Duration
	minSize int
	// key → accounts seen in the current window, with last activity time
	groups map[string]*group
}

type group struct {
	accounts map[string]struct{}
	lastSeen time.Time
}

// NewClusterer creates a clusterer with the given rolling window. A group
// counts as a cluster once minSize distinct accounts have joined it.
func NewClusterer(window time.Duration, minSize int) *Clusterer {
	if minSize < 2 {
		minSize = 2
	}
	return &Clusterer{
		window:  window,
		minSize: minSize,
		groups:  make(map[string]*group),
	}
}

// MinSize is the distinct-account threshold for a group to count.
func (c *Clusterer) MinSize() int { return c.minSize }

func clusterKey(s domain.Signal) string {
	return s.Market + "/" + s.TokenID + "/" + string(s.Side)
}

// Observe registra la señal y devuelve cuántas cuentas distintas han
// operado el mismo (mercado, token, lado) dentro de la ventana, incluida
// esta. Los grupos vencidos se reinician.
func (c *Clusterer) Observe(s domain.Signal, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gc(now)

	key := clusterKey(s)
	g, ok := c.groups[key]
	if !ok || now.Sub(g.lastSeen) > c.window {
		g = &group{accounts: make(map[string]struct{})}
		c.groups[key] = g
	}
	g.accounts[s.Account] = struct{}{}
	g.lastSeen = now
	return len(g.accounts)
}

// Flow es un clúster activo: varios seguidos entrando al mismo lado.
type Flow struct {
	Market   string
	TokenID  string
	Side     domain.TradeSide
	Accounts int
	LastSeen time.Time
}

// Hot devuelve los clústeres vigentes que alcanzan el mínimo de cuentas
// distintas, los más concurridos primero.
func (c *Clusterer) Hot(now time.Time) []Flow {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gc(now)

	var flows []Flow
	for key, g := range c.groups {
		if len(g.accounts) < c.minSize {
			continue
		}
		market, token, side := splitClusterKey(key)
		flows = append(flows, Flow{
			Market:   market,
			TokenID:  token,
			Side:     side,
			Accounts: len(g.accounts),
			LastSeen: g.lastSeen,
		})
	}
	sort.Slice(flows, func(i, j int) bool {
		if flows[i].Accounts != flows[j].Accounts {
			return flows[i].Accounts > flows[j].Accounts
		}
		return flows[i].LastSeen.After(flows[j].LastSeen)
	})
	return flows
}

func splitClusterKey(key string) (market, token string, side domain.TradeSide) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 {
		return key, "", ""
	}
	return parts[0], parts[1], domain.TradeSide(parts[2])
}

func (c *Clusterer) gc(now time.Time) {
	for key, g := range c.groups {
		if now.Sub(g.lastSeen) > c.window {
			delete(c.groups, key)
		}
	}
}

// Conviction convierte el tamaño del clúster en convicción [0,1]. Por
// debajo del mínimo configurado no hay clúster; a partir de ahí crece
// 0.25 por cuenta extra: min(1, (n−minSize+1)·0.25).
func Conviction(clusterSize, minSize int) float64 {
	if minSize < 2 {
		minSize = 2
	}
	if clusterSize < minSize {
		return 0
	}
	conv := float64(clusterSize-minSize+1) * 0.25
	if conv > 1 {
		conv = 1
	}
	return conv
}

// SizeMultiplier escala el tamaño de posición con la convicción:
// 1 + 0.5·conviction, acotado a [1.0, 1.5].
func SizeMultiplier(clusterSize, minSize int) float64 {
	return 1 + 0.5*Conviction(clusterSize, minSize)
}
