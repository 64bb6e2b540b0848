package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitTriggers_FastRegime(t *testing.T) {
	tp, sl := ExitTriggers(0.50, Regime{TakeProfitPct: 0.20, StopLossPct: 0.12})
	assert.InDelta(t, 0.60, tp, 1e-9)
	assert.InDelta(t, 0.44, sl, 1e-9)
}

func TestExitTriggers_ClampedNearBounds(t *testing.T) {
	tp, _ := ExitTriggers(0.95, Regime{TakeProfitPct: 0.30, StopLossPct: 0.15})
	assert.Equal(t, 0.99, tp)

	_, sl := ExitTriggers(0.02, Regime{TakeProfitPct: 0.30, StopLossPct: 0.15})
	assert.Equal(t, 0.01, sl)
}

func TestPosition_Close(t *testing.T) {
	now := time.Now()
	p := Position{ID: "p1", Status: PositionOpen, Shares: 100, CostUSDC: 50}

	err := p.Close(0.62, CloseTakeProfit, 0.5, now)
	require.NoError(t, err)
	assert.Equal(t, PositionClosed, p.Status)
	// 100×0.62 − 50 − 0.5 = 11.5
	assert.InDelta(t, 11.5, p.PnLUSDC, 1e-9)
	assert.Equal(t, CloseTakeProfit, p.CloseReason)
}

func TestPosition_CloseTwiceFails(t *testing.T) {
	p := Position{ID: "p1", Status: PositionOpen, Shares: 100, CostUSDC: 50}
	require.NoError(t, p.Close(0.40, CloseStopLoss, 0, time.Now()))
	assert.Error(t, p.Close(0.40, CloseStopLoss, 0, time.Now()))
}

func TestPosition_CloseResolvedSettles(t *testing.T) {
	p := Position{ID: "p1", Status: PositionOpen, Shares: 100, CostUSDC: 50}
	require.NoError(t, p.Close(1.0, CloseResolved, 0, time.Now()))
	assert.Equal(t, PositionSettled, p.Status)
}

func TestPosition_Triggers(t *testing.T) {
	p := Position{EntryPrice: 0.50, TakeProfit: 0.60, StopLoss: 0.44}
	assert.True(t, p.HitTakeProfit(0.61))
	assert.False(t, p.HitTakeProfit(0.59))
	assert.True(t, p.HitStopLoss(0.43))
	assert.False(t, p.HitStopLoss(0.45))
}

func TestPosition_NearExpiry(t *testing.T) {
	now := time.Now()
	p := Position{EndDate: now.Add(3 * time.Minute)}
	assert.True(t, p.NearExpiry(now, 5*time.Minute))
	assert.False(t, p.NearExpiry(now, 2*time.Minute))

	unknown := Position{}
	assert.False(t, unknown.NearExpiry(now, 5*time.Minute))
}

// --- Signal ---

func TestFingerprint_OriginIndependent(t *testing.T) {
	ts := time.Unix(1756600000, 0)
	onchain := Signal{Origin: OriginOnchain, Account: "0xabc", Market: "0xcond", TokenID: "123",
		Side: SideBuy, Price: 0.42, SizeUSDC: 500, TradeTime: ts, TxHash: "0xdead"}
	feed := Signal{Origin: OriginFeed, Account: "0xabc", Market: "0xcond", TokenID: "123",
		Side: SideBuy, Price: 0.42, SizeUSDC: 500, TradeTime: ts}

	assert.Equal(t, onchain.Fingerprint(), feed.Fingerprint())
}

func TestFingerprint_DistinctTrades(t *testing.T) {
	ts := time.Unix(1756600000, 0)
	a := Signal{Account: "0xabc", Market: "0xcond", TokenID: "123", Side: SideBuy, Price: 0.42, SizeUSDC: 500, TradeTime: ts}
	b := a
	b.TradeTime = ts.Add(time.Second)
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	c := a
	c.Side = SideSell
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestSignal_AgeUsesTradeTime(t *testing.T) {
	now := time.Now()
	s := Signal{TradeTime: now.Add(-90 * time.Second), ObservedAt: now}
	assert.InDelta(t, 90.0, s.Age(now).Seconds(), 0.01)
}

func TestSignal_Validate(t *testing.T) {
	valid := Signal{Account: "0xabc", Market: "0xcond", TokenID: "1", Price: 0.5, SizeUSDC: 10, TradeTime: time.Now()}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.Price = 1.0
	assert.Error(t, bad.Validate())

	bad = valid
	bad.SizeUSDC = 0
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Account = ""
	assert.Error(t, bad.Validate())

	// market alone may be empty: on-chain signals carry only the token
	bad = valid
	bad.Market = ""
	assert.NoError(t, bad.Validate())
}

// --- Fees ---

func TestFeeUSDC_SymmetricCurve(t *testing.T) {
	// 200 bps a p=0.5: 0.02×0.25×100 = 0.5 USDC por 100 shares
	assert.InDelta(t, 0.5, FeeUSDC(200, 0.5, 100), 1e-9)
	assert.InDelta(t, FeeUSDC(200, 0.3, 100), FeeUSDC(200, 0.7, 100), 1e-9)
	assert.Equal(t, 0.0, FeeUSDC(0, 0.5, 100))
}

func TestExpiryDecay(t *testing.T) {
	// a 0 minutos la fricción triplica
	assert.InDelta(t, 3.0, ExpiryDecay(0), 1e-9)
	// a 5 minutos ya casi no queda recargo
	assert.Less(t, ExpiryDecay(5), 1.2)
	// vencido = máximo
	assert.InDelta(t, 3.0, ExpiryDecay(-10), 1e-9)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, CategoryCrypto, Classify("Will Bitcoin hit $200k in 2026?"))
	assert.Equal(t, CategorySports, Classify("Lakers vs Celtics: who wins?"))
	assert.Equal(t, CategoryPolitics, Classify("Will the senate pass the bill?"))
	assert.Equal(t, CategoryOther, Classify("Will it rain in Madrid tomorrow?"))
}
