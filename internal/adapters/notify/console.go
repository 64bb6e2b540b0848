package notify

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// Console implementa ports.Notifier escribiendo los eventos del engine a
// stdout. Los eventos son líneas compactas; los reportes periódicos van
// aparte (PrintStatus, PrintReport).
type Console struct {
	out io.Writer
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// NotifyEntry imprime la apertura de una posición copiada.
func (c *Console) NotifyEntry(pos domain.Position, fill domain.Fill) {
	now := time.Now().Format("15:04:05")
	partial := ""
	if fill.Partial {
		partial = fmt.Sprintf(" (partial %.0f%%)", fill.FillRatio*100)
	}
	fmt.Fprintf(c.out, "[%s] ENTRY  %s %s @ %.3f  $%.2f  copying %s%s\n",
		now, truncate(pos.Question, 40), pos.Outcome,
		pos.EntryPrice, pos.CostUSDC, shortAddr(pos.Account), partial)
}

// NotifyExit imprime el cierre con su motivo y PnL realizado.
func (c *Console) NotifyExit(pos domain.Position) {
	now := time.Now().Format("15:04:05")
	sign := "+"
	if pos.PnLUSDC < 0 {
		sign = "-"
	}
	fmt.Fprintf(c.out, "[%s] EXIT   %s %s  %.3f → %.3f  %s$%.2f  [%s]\n",
		now, truncate(pos.Question, 40), pos.Outcome,
		pos.EntryPrice, pos.ExitPrice, sign, abs(pos.PnLUSDC), pos.CloseReason)
}

// NotifyHalt imprime el banner de suspensión de entradas.
func (c *Console) NotifyHalt(reason string) {
	now := time.Now().Format("15:04:05")
	fmt.Fprintf(c.out, "\n[%s] *** ENTRIES HALTED: %s ***\n\n", now, reason)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + ".." + addr[len(addr)-4:]
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
