package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polycopy/internal/adapters/storage"
	"github.com/alejandrodnm/polycopy/internal/domain"
)

func makeSignal(account string, ts time.Time) domain.Signal {
	return domain.Signal{
		Origin: domain.OriginOnchain, Account: account, Market: "0xcond",
		TokenID: "123", Side: domain.SideBuy, Price: 0.42, SizeUSDC: 500,
		TradeTime: ts, ObservedAt: ts.Add(2 * time.Second),
	}
}

func TestArchive_RecordSignalIgnoresDuplicates(t *testing.T) {
	a, err := storage.NewArchive(":memory:")
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, a.RecordSignal(ctx, makeSignal("0xabc", ts)))
	// misma huella otra vez: no-op, no error
	require.NoError(t, a.RecordSignal(ctx, makeSignal("0xabc", ts)))

	n, err := a.SignalCount(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestArchive_SignalCountPerAccount(t *testing.T) {
	a, err := storage.NewArchive(":memory:")
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, a.RecordSignal(ctx, makeSignal("0xabc", ts)))
	require.NoError(t, a.RecordSignal(ctx, makeSignal("0xabc", ts.Add(time.Minute))))
	require.NoError(t, a.RecordSignal(ctx, makeSignal("0xdef", ts)))

	n, err := a.SignalCount(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = a.SignalCount(ctx, "0xnobody")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestArchive_RecordFillAndCycle(t *testing.T) {
	a, err := storage.NewArchive(":memory:")
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	fill := domain.Fill{Price: 0.46, Shares: 100, CostUSDC: 46.5, FeesUSDC: 0.4, GasUSDC: 0.005, FillRatio: 1, At: now}
	require.NoError(t, a.RecordFill(ctx, "pos-1", "ENTRY", fill))

	reject := domain.Fill{Reject: domain.RejectStale, At: now}
	require.NoError(t, a.RecordFill(ctx, "pos-2", "ENTRY", reject))

	require.NoError(t, a.RecordCycle(ctx, storage.CycleSummary{
		At: now, SignalsSeen: 3, Duplicates: 1, Entries: 1, Rejections: 1,
		OpenPositions: 1, Exposure: 46.5, Bankroll: 1000, DailyPnL: -2,
	}))
}
