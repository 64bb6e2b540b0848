package sim

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// peak is a fixed instant inside peak hours (15:00 UTC) so the off-hours
// multiplier stays out of the way unless a test wants it.
var peak = time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)

// quietConfig disables every random layer: only base slippage remains.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.RandomSlippage = 0
	cfg.RejectionBase = 0
	cfg.PartialChance = 0
	cfg.CrowdSlippage = 0
	cfg.DepletionPerTrade = 0
	cfg.FeeBps = 0
	cfg.GasMinUSDC = 0
	cfg.GasMaxUSDC = 0
	cfg.OffHoursMult = 1
	return cfg
}

func newSim(cfg Config) *Simulator {
	return New(cfg, rand.New(rand.NewSource(1)))
}

func entryReq(sigPrice, current float64, age time.Duration) EntryRequest {
	return EntryRequest{
		Signal: domain.Signal{
			Account: "0xabc", Market: "0xcond", TokenID: "123",
			Side: domain.SideBuy, Price: sigPrice, SizeUSDC: 1000,
			TradeTime: peak.Add(-age), ObservedAt: peak,
		},
		CurrentPrice: current,
		SizeUSDC:     100,
	}
}

func TestEntry_WinnersCurseAccepted(t *testing.T) {
	s := newSim(quietConfig())

	// 0.428 → 0.455 en 3s: 6.3% de desviación, bajo el máximo de 8%
	req := entryReq(0.428, 0.455, 3*time.Second)
	fill := s.ExecuteEntry(req, peak)

	assert.True(t, fill.Filled())
	// el fill siempre incluye al menos el slippage base
	assert.GreaterOrEqual(t, fill.Price, 0.455*(1+quietConfig().BaseSlippage))
}

func TestEntry_WinnersCurseRejected(t *testing.T) {
	s := newSim(quietConfig())

	// 0.428 → 0.470: 9.8% > 8%
	fill := s.ExecuteEntry(entryReq(0.428, 0.470, 3*time.Second), peak)
	assert.Equal(t, domain.RejectPriceDeviation, fill.Reject)
	assert.False(t, fill.Filled())
}

func TestEntry_StalenessUsesTradeTime(t *testing.T) {
	s := newSim(quietConfig())

	// el trade ocurrió hace 40s aunque lo acabamos de ver: la penalización
	// sale del timestamp del trade, nunca del momento de detección
	req := entryReq(0.50, 0.50, 40*time.Second)
	req.Signal.ObservedAt = peak

	fill := s.ExecuteEntry(req, peak)
	assert.True(t, fill.Filled())
	// base 0.015 + 40×0.001 = 0.055
	assert.InDelta(t, 0.50*(1+0.055), fill.Price, 1e-9)
}

func TestEntry_StalenessCapped(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxSignalAge = 5 * time.Minute
	s := newSim(cfg)

	fill := s.ExecuteEntry(entryReq(0.50, 0.50, 2*time.Minute), peak)
	assert.True(t, fill.Filled())
	// staleness clava en 0.05 aunque hayan pasado 120s
	assert.InDelta(t, 0.50*(1+0.015+0.05), fill.Price, 1e-9)
}

func TestEntry_TooOldRejected(t *testing.T) {
	s := newSim(quietConfig())
	fill := s.ExecuteEntry(entryReq(0.50, 0.50, 3*time.Minute), peak)
	assert.Equal(t, domain.RejectStale, fill.Reject)
}

func TestEntry_NoEntryWindowBeforeResolution(t *testing.T) {
	s := newSim(quietConfig())

	req := entryReq(0.50, 0.50, time.Second)
	req.EndDate = peak.Add(4 * time.Minute)
	fill := s.ExecuteEntry(req, peak)
	assert.Equal(t, domain.RejectNearExpiry, fill.Reject)

	req.EndDate = peak.Add(30 * time.Minute)
	fill = s.ExecuteEntry(req, peak)
	assert.True(t, fill.Filled())
}

func TestEntry_RandomRejection(t *testing.T) {
	cfg := quietConfig()
	cfg.RejectionBase = 1.0
	cfg.RejectionCap = 1.0
	s := newSim(cfg)

	fill := s.ExecuteEntry(entryReq(0.50, 0.50, time.Second), peak)
	assert.Equal(t, domain.RejectRandomFill, fill.Reject)
	assert.Equal(t, 1, s.Stats().ByReason[domain.RejectRandomFill])
}

func TestEntry_PartialFill(t *testing.T) {
	cfg := quietConfig()
	cfg.PartialChance = 1.0
	s := newSim(cfg)

	fill := s.ExecuteEntry(entryReq(0.50, 0.50, time.Second), peak)
	assert.True(t, fill.Partial)
	assert.GreaterOrEqual(t, fill.FillRatio, cfg.PartialMin)
	assert.LessOrEqual(t, fill.FillRatio, cfg.PartialMax)
	assert.InDelta(t, 100*fill.FillRatio, fill.CostUSDC, 1e-9)
}

func TestEntry_CrowdEffect(t *testing.T) {
	cfg := quietConfig()
	cfg.CrowdSlippage = 0.02
	s := newSim(cfg)

	first := s.ExecuteEntry(entryReq(0.50, 0.50, time.Second), peak)

	second := entryReq(0.50, 0.50, time.Second)
	second.Signal.Account = "0xdef"
	later := s.ExecuteEntry(second, peak.Add(5*time.Second))

	// el segundo paga el crowding del primero
	assert.Greater(t, later.Price, first.Price)
}

func TestEntry_BookDepletionDecays(t *testing.T) {
	cfg := quietConfig()
	cfg.DepletionPerTrade = 0.01
	s := newSim(cfg)

	s.ExecuteEntry(entryReq(0.50, 0.50, time.Second), peak)

	soon := entryReq(0.50, 0.50, time.Second)
	soon.Signal.Account = "0xdef"
	soon.Signal.TradeTime = peak.Add(5 * time.Second).Add(-time.Second)
	hit := s.ExecuteEntry(soon, peak.Add(5*time.Second))

	late := entryReq(0.50, 0.50, time.Second)
	late.Signal.Account = "0xghi"
	late.Signal.TradeTime = peak.Add(2 * time.Minute).Add(-time.Second)
	recovered := s.ExecuteEntry(late, peak.Add(2*time.Minute))

	assert.Greater(t, hit.Price, recovered.Price, "depletion refills after the decay window")
}

func TestEntry_OffHoursMultiplier(t *testing.T) {
	cfg := quietConfig()
	cfg.OffHoursMult = 1.4
	s := newSim(cfg)

	night := time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)
	req := entryReq(0.50, 0.50, time.Second)
	req.Signal.TradeTime = night.Add(-time.Second)
	dark := s.ExecuteEntry(req, night)

	s2 := newSim(cfg)
	bright := s2.ExecuteEntry(entryReq(0.50, 0.50, time.Second), peak)

	assert.Greater(t, dark.Price, bright.Price)
}

func TestEntry_ExpiryDecayRaisesFriction(t *testing.T) {
	s := newSim(quietConfig())

	near := entryReq(0.50, 0.50, time.Second)
	near.EndDate = peak.Add(8 * time.Minute) // past the no-entry window
	closeFill := s.ExecuteEntry(near, peak)

	s2 := newSim(quietConfig())
	far := entryReq(0.50, 0.50, time.Second)
	far.EndDate = peak.Add(24 * time.Hour)
	farFill := s2.ExecuteEntry(far, peak)

	assert.Greater(t, closeFill.Price, farFill.Price)
}

func TestRoundTrip_ZeroFrictionZeroPnL(t *testing.T) {
	cfg := quietConfig()
	cfg.BaseSlippage = 0
	cfg.StalenessPerSec = 0
	s := newSim(cfg)

	entry := s.ExecuteEntry(entryReq(0.50, 0.50, time.Second), peak)
	assert.Equal(t, 0.50, entry.Price)

	pos := domain.Position{
		Status: domain.PositionOpen, Market: "0xcond",
		Shares: entry.Shares, CostUSDC: entry.CostUSDC,
	}
	exit := s.ExecuteExit(ExitRequest{Position: pos, CurrentPrice: 0.50}, peak.Add(time.Minute))

	// misma salida que entrada y sin fricción: PnL exactamente cero
	assert.InDelta(t, 0.0, exit.CostUSDC-pos.CostUSDC, 1e-9)
}

func TestExit_SlippageWorksAgainstUs(t *testing.T) {
	s := newSim(quietConfig())

	pos := domain.Position{Status: domain.PositionOpen, Market: "0xcond", Shares: 200, CostUSDC: 100}
	exit := s.ExecuteExit(ExitRequest{Position: pos, CurrentPrice: 0.60}, peak)

	assert.True(t, exit.Filled())
	assert.InDelta(t, 0.60*(1-0.015), exit.Price, 1e-9)
	assert.Less(t, exit.CostUSDC, 200*0.60)
}

func TestStats_CountersAccumulate(t *testing.T) {
	s := newSim(quietConfig())

	s.ExecuteEntry(entryReq(0.50, 0.50, time.Second), peak)
	s.ExecuteEntry(entryReq(0.428, 0.470, time.Second), peak) // deviation reject

	st := s.Stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, 1, st.Rejections)
	assert.Equal(t, 1, st.ByReason[domain.RejectPriceDeviation])
}
