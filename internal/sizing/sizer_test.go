package sizing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/scoring"
)

func newSizer(cfg Config) (*Sizer, *scoring.Store) {
	scores := scoring.NewStore(10000)
	return New(cfg, scores), scores
}

func buySignal(account string) domain.Signal {
	return domain.Signal{
		Account: account, Market: "0xcond", TokenID: "123",
		Side: domain.SideBuy, Price: 0.50, SizeUSDC: 1000,
		TradeTime: time.Now(), Category: domain.CategoryCrypto,
	}
}

func TestSize_ShortSampleUsesFallbackFraction(t *testing.T) {
	cfg := DefaultConfig()
	s, scores := newSizer(cfg)
	now := time.Now()

	// solo 2 copias resueltas: Kelly todavía no se fía
	for i := 0; i < 2; i++ {
		scores.RecordOpen("0xabc", 100, now)
		scores.RecordResult("0xabc", domain.CategoryCrypto, 50, now)
	}

	size, reject := s.Size(buySignal("0xabc"), 1, 10000)
	assert.Equal(t, domain.RejectNone, reject)

	conf := scores.Confidence("0xabc", domain.CategoryCrypto)
	assert.InDelta(t, 10000*cfg.FallbackFraction*conf, size, 1e-9)
}

func TestSize_LongSampleUsesHalfKelly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSizeUSDC = 100000
	s, scores := newSizer(cfg)
	now := time.Now()

	for i := 0; i < 8; i++ {
		scores.RecordOpen("0xabc", 500, now)
		scores.RecordResult("0xabc", domain.CategoryCrypto, 200, now)
	}

	rate, settled := scores.WinRate("0xabc")
	assert.GreaterOrEqual(t, settled, domain.MinSettledForSizing)

	sig := buySignal("0xabc")
	size, reject := s.Size(sig, 1, 10000)
	assert.Equal(t, domain.RejectNone, reject)

	wantFraction := domain.HalfKelly(rate, sig.Price, cfg.MaxFraction)
	conf := scores.Confidence("0xabc", domain.CategoryCrypto)
	assert.InDelta(t, 10000*wantFraction*conf, size, 1e-6)
}

func TestSize_ClusterConvictionScalesUp(t *testing.T) {
	s, _ := newSizer(DefaultConfig())

	alone, _ := s.Size(buySignal("0xabc"), 1, 10000)
	pair, _ := s.Size(buySignal("0xabc"), 2, 10000)
	crowd, _ := s.Size(buySignal("0xabc"), 3, 10000)

	assert.Equal(t, alone, pair, "below MinCluster there is no boost")
	assert.Greater(t, crowd, alone)
	assert.InDelta(t, alone*1.125, crowd, 1e-9) // 1 + 0.5·0.25
}

func TestSize_RejectsBelowConfidence(t *testing.T) {
	s, scores := newSizer(DefaultConfig())
	now := time.Now()

	for i := 0; i < 8; i++ {
		scores.RecordOpen("0xbad", 100, now)
		scores.RecordResult("0xbad", domain.CategoryCrypto, -90, now)
	}

	size, reject := s.Size(buySignal("0xbad"), 1, 10000)
	assert.Equal(t, 0.0, size)
	assert.Equal(t, domain.RejectLowConfidence, reject)
}

func TestSize_GasConviction(t *testing.T) {
	s, _ := newSizer(DefaultConfig())

	base := buySignal("0xabc")
	base.Origin = domain.OriginOnchain
	base.GasPriceGwei = 100
	normal, _ := s.Size(base, 1, 10000)

	urgent := base
	urgent.GasPriceGwei = 300
	big, _ := s.Size(urgent, 1, 10000)
	assert.InDelta(t, normal*1.5, big, 1e-9)

	lazy := base
	lazy.GasPriceGwei = 20
	small, _ := s.Size(lazy, 1, 10000)
	assert.InDelta(t, normal*0.75, small, 1e-9)

	// feed signals carry no gas: multiplier stays 1
	feed := buySignal("0xabc")
	feed.Origin = domain.OriginFeed
	fromFeed, _ := s.Size(feed, 1, 10000)
	assert.InDelta(t, normal, fromFeed, 1e-9)
}

func TestSize_CapAndDustFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSizeUSDC = 50
	s, _ := newSizer(cfg)

	size, _ := s.Size(buySignal("0xabc"), 9, 100000)
	assert.Equal(t, 50.0, size)

	size, reject := s.Size(buySignal("0xabc"), 1, 100)
	assert.Equal(t, 0.0, size)
	assert.Equal(t, domain.RejectLowConfidence, reject)
}

func TestSize_ZeroBankroll(t *testing.T) {
	s, _ := newSizer(DefaultConfig())
	size, reject := s.Size(buySignal("0xabc"), 1, 0)
	assert.Equal(t, 0.0, size)
	assert.Equal(t, domain.RejectRiskBlocked, reject)
}
