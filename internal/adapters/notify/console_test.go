package notify_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/polycopy/internal/adapters/notify"
	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/engine"
	"github.com/alejandrodnm/polycopy/internal/risk"
)

func makePosition(question string, pnl float64) domain.Position {
	return domain.Position{
		ID:         "p1",
		Account:    "0x1234567890abcdef1234567890abcdef12345678",
		Market:     "0xcond",
		TokenID:    "111",
		Outcome:    "YES",
		Question:   question,
		Status:     domain.PositionOpen,
		EntryPrice: 0.52,
		Shares:     10,
		CostUSDC:   5.20,
		TakeProfit: 0.624,
		StopLoss:   0.458,
		OpenedAt:   time.Now().Add(-30 * time.Minute),
		PnLUSDC:    pnl,
	}
}

func TestConsole_NotifyEntry(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	pos := makePosition("Will BTC hit 100k?", 0)
	n.NotifyEntry(pos, domain.Fill{Price: 0.52, FillRatio: 1})

	out := buf.String()
	assert.Contains(t, out, "ENTRY")
	assert.Contains(t, out, "Will BTC hit 100k?")
	assert.Contains(t, out, "0x1234..5678")
	assert.NotContains(t, out, "partial")
}

func TestConsole_NotifyEntry_Partial(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	n.NotifyEntry(makePosition("Will BTC hit 100k?", 0),
		domain.Fill{Price: 0.52, Partial: true, FillRatio: 0.60})

	assert.Contains(t, buf.String(), "partial 60%")
}

func TestConsole_NotifyExit_ShowsReasonAndPnL(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	pos := makePosition("Will BTC hit 100k?", -1.25)
	pos.Status = domain.PositionClosed
	pos.ExitPrice = 0.43
	pos.CloseReason = domain.CloseStopLoss
	n.NotifyExit(pos)

	out := buf.String()
	assert.Contains(t, out, "EXIT")
	assert.Contains(t, out, "STOP_LOSS")
	assert.Contains(t, out, "-$1.25")
}

func TestConsole_NotifyHalt(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	n.NotifyHalt("daily loss limit reached")
	assert.Contains(t, buf.String(), "ENTRIES HALTED")
}

func TestConsole_PrintStatus_LongQuestionTruncated(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	longQ := strings.Repeat("A", 60)
	st := engine.Status{
		At:       time.Now(),
		State:    risk.StateNormal,
		Bankroll: 1000,
		Open:     []domain.Position{makePosition(longQ, 0)},
	}
	n.PrintStatus(st)

	out := buf.String()
	assert.Contains(t, out, "1 open")
	assert.Contains(t, out, "...")
	assert.NotContains(t, out, longQ)
}

func TestConsole_PrintReport_Verdict(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	st := engine.Status{At: time.Now(), State: risk.StateNormal, Bankroll: 1000}
	n.PrintReport(st)

	// con poca muestra el veredicto pide más datos
	assert.Contains(t, buf.String(), "Need more settled copies")
}
