package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/engine"
)

// PrintStatus imprime el resumen compacto del ciclo: una línea siempre y
// la tabla de posiciones abiertas cuando las hay.
func (c *Console) PrintStatus(st engine.Status) {
	now := st.At.Format("15:04:05")

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s][%s] %d open | bank $%.2f | exp $%.2f | day %+.2f | total %+.2f",
		now, st.State, len(st.Open), st.Bankroll, st.Exposure, st.DailyPnL, st.TotalPnL)
	if st.Unrealized != 0 {
		fmt.Fprintf(&sb, " | unrlz %+.2f", st.Unrealized)
	}
	fmt.Fprintln(c.out, sb.String())

	if len(st.Open) == 0 {
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Side", "Entry", "TP", "SL", "Cost$", "Age", "Copying")
	for _, p := range st.Open {
		table.Append(
			truncate(p.Question, 38),
			p.Outcome,
			fmt.Sprintf("%.3f", p.EntryPrice),
			fmt.Sprintf("%.3f", p.TakeProfit),
			fmt.Sprintf("%.3f", p.StopLoss),
			fmt.Sprintf("%.2f", p.CostUSDC),
			st.At.Sub(p.OpenedAt).Truncate(time.Minute).String(),
			shortAddr(p.Account),
		)
	}
	table.Render()
}

// PrintRankings imprime el leaderboard de cuentas copiadas.
func (c *Console) PrintRankings(st engine.Status) {
	if len(st.Rankings) == 0 {
		fmt.Fprintln(c.out, "  (no accounts tracked yet)")
		return
	}

	fmt.Fprintf(c.out, "\n── TRACKED ACCOUNTS (%d) ──\n", len(st.Rankings))
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Account", "Score", "WinRate", "Settled", "Open", "PnL$", "Best")
	for i, r := range st.Rankings {
		table.Append(
			fmt.Sprintf("%d", i+1),
			shortAddr(r.Account),
			fmt.Sprintf("%.2f", r.Score),
			fmt.Sprintf("%.0f%%", r.WinRate*100),
			fmt.Sprintf("%d", r.Settled),
			fmt.Sprintf("%d", r.Open),
			fmt.Sprintf("%+.2f", r.PnLUSDC),
			string(r.Best),
		)
	}
	table.Render()
	fmt.Fprintln(c.out, "  Score = compuesto 0-3 | WinRate = posterior Beta(2,2)")

	if len(st.HotFlows) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n── HOT FLOWS ──\n")
	for _, f := range st.HotFlows {
		fmt.Fprintf(c.out, "  %d accounts %s %s (last %s)\n",
			f.Accounts, f.Side, truncate(f.Market, 44),
			st.At.Sub(f.LastSeen).Truncate(time.Second))
	}
}

// exitOrder fija el orden de los motivos en el desglose del reporte.
var exitOrder = []domain.CloseReason{
	domain.CloseTakeProfit,
	domain.CloseStopLoss,
	domain.CloseCopyExit,
	domain.CloseMaxHold,
	domain.CloseExpiry,
	domain.CloseResolved,
}

// PrintReport imprime el informe de sesión completo: pnl realizado,
// desglose por motivo de cierre, fricciones pagadas y veredicto.
func (c *Console) PrintReport(st engine.Status) {
	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║                    COPY TRADING REPORT                       ║\n")
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════╝\n\n")

	fmt.Fprintf(c.out, "  Cycles:         %d\n", st.Counters.Cycles)
	fmt.Fprintf(c.out, "  Entries:        %d | Exits: %d | Rejections: %d\n",
		st.Counters.Entries, st.Counters.Exits, st.Counters.Rejections)
	fmt.Fprintf(c.out, "  Open now:       %d ($%.2f exposure)\n", len(st.Open), st.Exposure)
	fmt.Fprintf(c.out, "  Bankroll:       $%.2f\n", st.Bankroll)
	fmt.Fprintf(c.out, "  Realized PnL:   %+.2f\n", st.TotalPnL)
	fmt.Fprintf(c.out, "  Unrealized:     %+.2f\n", st.Unrealized)

	byReason := make(map[domain.CloseReason]int)
	byReasonPnL := make(map[domain.CloseReason]float64)
	wins := 0
	for _, p := range st.Closed {
		byReason[p.CloseReason]++
		byReasonPnL[p.CloseReason] += p.PnLUSDC
		if p.PnLUSDC > 0 {
			wins++
		}
	}

	if len(st.Closed) > 0 {
		fmt.Fprintf(c.out, "\n  --- CLOSED (%d, %d winners) ---\n", len(st.Closed), wins)
		for _, reason := range exitOrder {
			if n := byReason[reason]; n > 0 {
				fmt.Fprintf(c.out, "  %-12s %4d  %+.2f\n", reason, n, byReasonPnL[reason])
			}
		}
	}

	sim := st.SimStats
	fmt.Fprintf(c.out, "\n  --- FRICTION PAID ---\n")
	fmt.Fprintf(c.out, "  Fees:           $%.4f\n", sim.FeesUSDC)
	fmt.Fprintf(c.out, "  Gas:            $%.4f\n", sim.GasUSDC)
	fmt.Fprintf(c.out, "  Slippage:       $%.4f\n", sim.SlippageUSDC)
	fmt.Fprintf(c.out, "  Partials:       %d of %d entries\n", sim.Partials, sim.Entries)
	if sim.Rejections > 0 {
		fmt.Fprintf(c.out, "  Sim rejections: %d\n", sim.Rejections)
		for reason, n := range sim.ByReason {
			fmt.Fprintf(c.out, "    %-16s %d\n", reason, n)
		}
	}

	fmt.Fprintf(c.out, "\n  --- VERDICT ---\n")
	switch {
	case len(st.Closed) < 20:
		fmt.Fprintf(c.out, "  Need more settled copies to judge (%d so far).\n", len(st.Closed))
		fmt.Fprintf(c.out, "  Keep the paper run going.\n")
	case st.TotalPnL > 0:
		fmt.Fprintf(c.out, "  POSITIVE: copying is net profitable after frictions.\n")
	default:
		fmt.Fprintf(c.out, "  NEGATIVE: the tracked accounts don't survive the friction\n")
		fmt.Fprintf(c.out, "  model. Do NOT use real money. Review the account filters.\n")
	}
	fmt.Fprintln(c.out)
}
