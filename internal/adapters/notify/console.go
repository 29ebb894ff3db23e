package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console es un Sink que imprime una línea por evento.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	metrics bool // imprime también pool_metrics_update (muy ruidoso)
}

// NewConsole crea un sink que escribe a stdout.
func NewConsole(metrics bool) *Console {
	return &Console{out: os.Stdout, metrics: metrics}
}

// NewConsoleWriter crea un sink para tests.
func NewConsoleWriter(w io.Writer, metrics bool) *Console {
	return &Console{out: w, metrics: metrics}
}

func (c *Console) Name() string { return "console" }

// Handle imprime el evento en formato compacto.
func (c *Console) Handle(_ context.Context, ev domain.Event) error {
	line := c.format(ev)
	if line == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "[%s] %s\n", ev.At().Local().Format("15:04:05"), line)
	return err
}

func (c *Console) format(ev domain.Event) string {
	switch e := ev.(type) {
	case domain.PoolReadyEvent:
		return fmt.Sprintf("READY    %s base=%s", shortID(e.PoolID), shortID(e.BaseToken))
	case domain.PoolMetricsUpdate:
		if !c.metrics {
			return ""
		}
		return fmt.Sprintf("TICK     %s price=%.10f (%+.2f%%) tvl=%.2f (%+.2f%%)",
			shortID(e.PoolID), e.Price, e.PriceChangePct, e.TVL, e.TVLChangePct)
	case domain.RugDetected:
		return fmt.Sprintf("RUG      %s tvl %.2f → %.2f price %.10f → %.10f",
			shortID(e.PoolID), e.BaselineTVL, e.LastTVL, e.BaselinePrice, e.LastPrice)
	case domain.PositionEnteredEvent:
		kind := "ENTER   "
		if e.IsReEntry {
			kind = "REENTER "
		}
		return fmt.Sprintf("%s %s price=%.10f amount=%.4f", kind, shortID(e.PoolID), e.EntryPrice, e.Amount)
	case domain.PositionExitedEvent:
		return fmt.Sprintf("EXIT     %s price=%.10f pnl=%+.2f%% reason=%s",
			shortID(e.PoolID), e.ExitPrice, e.PnLPct, e.Reason)
	case domain.PoolClosed:
		return fmt.Sprintf("%-8s %s %s", strings.ToUpper(string(e.State)), shortID(e.PoolID), e.Reason)
	}
	return fmt.Sprintf("%s %s", ev.Type(), shortID(ev.Pool()))
}

// PrintPools imprime el estado de los pools activos con su posición abierta si la hay.
func (c *Console) PrintPools(pools []domain.PoolRecord, positions []domain.Position, now time.Time) {
	byPool := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		byPool[p.PoolID] = p
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].DiscoveredAt.Before(pools[j].DiscoveredAt) })

	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n[%s] %d pools | %d open positions\n", now.Local().Format("15:04:05"), len(pools), len(positions))
	if len(pools) == 0 {
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Pool", "State", "Tier", "Age", "Price", "TVL", "Δ TVL", "Every", "Position")
	for _, p := range pools {
		tvlChange := "-"
		if p.BaselineTVL != nil && p.LastTVL > 0 {
			tvlChange = fmt.Sprintf("%+.1f%%", domain.PercentChange(*p.BaselineTVL, p.LastTVL))
		}
		pos := "-"
		if open, ok := byPool[p.PoolID]; ok {
			pos = fmt.Sprintf("%+.1f%%", open.ChangePct(p.LastPrice))
			if open.TrailingStopActive {
				pos += " (trail)"
			}
		}
		table.Append(
			shortID(p.PoolID),
			string(p.State),
			string(p.PriorityTier),
			p.Age(now).Truncate(time.Second).String(),
			fmt.Sprintf("%.10f", p.LastPrice),
			fmt.Sprintf("%.2f", p.LastTVL),
			tvlChange,
			p.PollInterval.String(),
			pos,
		)
	}
	table.Render()
}

// PrintReport imprime las estadísticas agregadas y los últimos trades.
func (c *Console) PrintReport(stats domain.TradeStats, trades []domain.PositionExitRecord, last int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.out, "\n=== PAPER TRADING REPORT ===")
	if stats.Trades == 0 {
		fmt.Fprintln(c.out, "  No trades recorded yet.")
		return
	}
	fmt.Fprintf(c.out, "  Trades: %d | Wins: %d | Win rate: %.1f%%\n", stats.Trades, stats.Wins, stats.WinRate())
	fmt.Fprintf(c.out, "  Avg PnL: %+.2f%% | Best: %+.2f%% | Worst: %+.2f%%\n", stats.AvgPnLPct, stats.BestPct, stats.WorstPct)

	reasons := make([]string, 0, len(stats.ByReason))
	for r := range stats.ByReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)

	byReason := tablewriter.NewWriter(c.out)
	byReason.Header("Exit reason", "Trades", "Share")
	for _, r := range reasons {
		n := stats.ByReason[domain.ExitReason(r)]
		byReason.Append(r, fmt.Sprintf("%d", n), fmt.Sprintf("%.1f%%", float64(n)/float64(stats.Trades)*100))
	}
	byReason.Render()

	if last <= 0 || len(trades) == 0 {
		return
	}
	if len(trades) > last {
		trades = trades[:last]
	}
	fmt.Fprintf(c.out, "\n  Last %d trades:\n", len(trades))
	table := tablewriter.NewWriter(c.out)
	table.Header("Exit", "Pool", "Entry", "Exit price", "Held", "PnL", "Reason", "Re-entry")
	for _, t := range trades {
		reEntry := ""
		if t.IsReEntry {
			reEntry = "yes"
		}
		table.Append(
			t.ExitTime.Local().Format("01-02 15:04:05"),
			shortID(t.PoolID),
			fmt.Sprintf("%.10f", t.EntryPrice),
			fmt.Sprintf("%.10f", t.ExitPrice),
			t.HoldDuration().Truncate(time.Second).String(),
			fmt.Sprintf("%+.2f%%", t.PnLPct),
			string(t.Reason),
			reEntry,
		)
	}
	table.Render()
}

// shortID acorta direcciones base58 para que quepan en una línea.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:5] + "..." + id[len(id)-4:]
}
