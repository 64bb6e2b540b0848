package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

const marketCacheTTL = 5 * time.Minute

// cachedMarket es un MarketInfo con su momento de carga.
type cachedMarket struct {
	info domain.MarketInfo
	at   time.Time
}

// Markets implementa ports.MarketProvider sobre el CLOB + Gamma, con una
// caché corta: la metadata de un mercado apenas cambia y el engine la
// pide en cada ciclo.
type Markets struct {
	client *Client
	mu     sync.Mutex
	cache  map[string]cachedMarket
}

// NewMarkets crea el provider de mercados.
func NewMarkets(client *Client) *Markets {
	return &Markets{
		client: client,
		cache:  make(map[string]cachedMarket),
	}
}

// MarketInfo devuelve la metadata del mercado, cacheada hasta 5 minutos.
// Los mercados resueltos se cachean para siempre: ya no cambian.
func (m *Markets) MarketInfo(ctx context.Context, conditionID string) (domain.MarketInfo, error) {
	m.mu.Lock()
	if c, ok := m.cache[conditionID]; ok {
		if c.info.Resolved || time.Since(c.at) < marketCacheTTL {
			m.mu.Unlock()
			return c.info, nil
		}
	}
	m.mu.Unlock()

	var raw clobMarket
	url := fmt.Sprintf("%s/markets/%s", m.client.clobBase, conditionID)
	if err := m.client.get(ctx, m.client.clobLimiter, url, &raw); err != nil {
		return domain.MarketInfo{}, fmt.Errorf("polymarket.MarketInfo: %s: %w", conditionID, err)
	}

	info := mapClobMarket(raw)
	m.enrichFromGamma(ctx, &info)
	info.Category = domain.Classify(info.Question)

	m.mu.Lock()
	m.cache[conditionID] = cachedMarket{info: info, at: time.Now()}
	m.mu.Unlock()
	return info, nil
}

// MarketByToken resuelve el mercado de un outcome token vía Gamma. Lo
// necesitan las señales del ledger, que solo traen el token ID.
func (m *Markets) MarketByToken(ctx context.Context, tokenID string) (domain.MarketInfo, error) {
	m.mu.Lock()
	for _, c := range m.cache {
		for _, t := range c.info.Tokens {
			if t.TokenID == tokenID {
				m.mu.Unlock()
				return m.MarketInfo(ctx, c.info.ConditionID)
			}
		}
	}
	m.mu.Unlock()

	url := fmt.Sprintf("%s/markets?clob_token_ids=%s&limit=1", m.client.gammaBase, tokenID)
	var resp gammaMarketsResponse
	if err := m.client.get(ctx, m.client.gammaLimiter, url, &resp); err != nil {
		return domain.MarketInfo{}, fmt.Errorf("polymarket.MarketByToken: %w", err)
	}
	if len(resp) == 0 || resp[0].ConditionID == "" {
		return domain.MarketInfo{}, fmt.Errorf("polymarket.MarketByToken: no market for token %s", tokenID)
	}
	return m.MarketInfo(ctx, resp[0].ConditionID)
}

// Price devuelve el precio mid actual de un token desde el CLOB.
func (m *Markets) Price(ctx context.Context, tokenID string) (float64, error) {
	var resp midpointResponse
	url := fmt.Sprintf("%s/midpoint?token_id=%s", m.client.clobBase, tokenID)
	if err := m.client.get(ctx, m.client.pricesLimiter, url, &resp); err != nil {
		return 0, fmt.Errorf("polymarket.Price: %w", err)
	}
	p, err := resp.Mid.Float64()
	if err != nil || p <= 0 || p >= 1 {
		return 0, fmt.Errorf("polymarket.Price: bad midpoint %q for token %s", resp.Mid, tokenID)
	}
	return p, nil
}

// enrichFromGamma añade slug y end date. Un fallo de Gamma no es fatal:
// el mercado queda sin enriquecer.
func (m *Markets) enrichFromGamma(ctx context.Context, info *domain.MarketInfo) {
	url := fmt.Sprintf("%s/markets?condition_ids=%s&limit=1", m.client.gammaBase, info.ConditionID)

	var resp gammaMarketsResponse
	if err := m.client.get(ctx, m.client.gammaLimiter, url, &resp); err != nil {
		slog.Debug("gamma enrichment failed, skipping", "market", info.ConditionID, "err", err)
		return
	}
	for _, gm := range resp {
		if gm.ConditionID != info.ConditionID {
			continue
		}
		if gm.Question != "" {
			info.Question = gm.Question
		}
		info.Slug = gm.Slug
		if gm.EndDateISO != "" {
			if t, ok := parseISODate(gm.EndDateISO); ok {
				info.EndDate = t
			}
		}
		if fee, err := gm.MakerBaseFee.Float64(); err == nil && fee > 0 && info.FeeBps == 0 {
			info.FeeBps = fee * 10000
		}
	}
}
