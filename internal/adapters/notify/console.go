package notify

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// Console imprime el reporte de operaciones del journal.
type Console struct {
	out io.Writer
}

// NewConsole crea un Console que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un Console sobre w (tests).
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// ReportInput agrupa lo necesario para el reporte.
type ReportInput struct {
	From   time.Time
	To     time.Time
	Trades []domain.TradeRecord
	Daily  []domain.DailyTotal
}

// PrintReport imprime el resumen, el desglose diario y las últimas operaciones.
func (c *Console) PrintReport(in ReportInput) {
	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║                     HAMMERBOT REPORT                         ║\n")
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════╝\n\n")

	fmt.Fprintf(c.out, "  Period:   %s → %s\n", in.From.UTC().Format("2006-01-02 15:04"), in.To.UTC().Format("2006-01-02 15:04"))

	var total domain.DailyTotal
	for _, d := range in.Daily {
		total.Intents += d.Intents
		total.Fills += d.Fills
		total.Settled += d.Settled
		total.Wins += d.Wins
		total.Notional += d.Notional
		total.PnL += d.PnL
	}
	fmt.Fprintf(c.out, "  Intents:  %d | Fills: %d | Settled: %d (win rate %.1f%%)\n",
		total.Intents, total.Fills, total.Settled, total.WinRate()*100)
	fmt.Fprintf(c.out, "  Notional: $%.2f\n", total.Notional)
	fmt.Fprintf(c.out, "  Net P&L:  $%.4f\n", total.PnL)

	c.PrintDaily(in.Daily)
	c.PrintTrades(in.Trades)
	fmt.Fprintln(c.out)
}

// PrintDaily imprime una fila por día UTC.
func (c *Console) PrintDaily(days []domain.DailyTotal) {
	fmt.Fprintf(c.out, "\n── DAILY BREAKDOWN ──\n")
	if len(days) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}

	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Date", "Intents", "Fills", "Settled", "Win%", "Notional", "PnL")
	for _, d := range days {
		tbl.Append(
			d.Day,
			fmt.Sprintf("%d", d.Intents),
			fmt.Sprintf("%d", d.Fills),
			fmt.Sprintf("%d", d.Settled),
			fmt.Sprintf("%.0f%%", d.WinRate()*100),
			fmt.Sprintf("$%.2f", d.Notional),
			fmt.Sprintf("$%.4f", d.PnL),
		)
	}
	tbl.Render()
}

// PrintTrades imprime las operaciones, más recientes primero.
func (c *Console) PrintTrades(trades []domain.TradeRecord) {
	fmt.Fprintf(c.out, "\n── TRADES (%d) ──\n", len(trades))
	if len(trades) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}

	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Time", "Contract", "Side", "Limit", "Size", "EV", "Status", "Fill", "Result", "PnL")
	for _, t := range trades {
		tbl.Append(
			t.CreatedAt.UTC().Format("01-02 15:04:05"),
			truncate(t.ContractID, 28),
			string(t.Side),
			fmt.Sprintf("%.3f", t.LimitPrice),
			fmt.Sprintf("%.1f", t.Size),
			fmt.Sprintf("%.4f", t.EV),
			statusLabel(t),
			fillLabel(t),
			resultLabel(t),
			pnlLabel(t),
		)
	}
	tbl.Render()
}

func statusLabel(t domain.TradeRecord) string {
	s := string(t.Status)
	if s == "" {
		s = "PENDING"
	}
	if t.DryRun {
		s += " (dry)"
	}
	return s
}

func fillLabel(t domain.TradeRecord) string {
	if !t.Status.Filled() {
		return "-"
	}
	return fmt.Sprintf("%.1f@%.3f", t.FilledSize, t.AvgPrice)
}

func resultLabel(t domain.TradeRecord) string {
	switch {
	case !t.Settled:
		return "open"
	case !t.Status.Filled():
		return "-"
	case t.Winner == t.Side:
		return "WIN"
	default:
		return "LOSS"
	}
}

func pnlLabel(t domain.TradeRecord) string {
	if !t.Settled || !t.Status.Filled() {
		return "-"
	}
	return fmt.Sprintf("$%.4f", t.PnL)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
