// Package summary renders a human-readable overview of every build artifact:
// schemas, row counts, ranges, per-year breakdowns and sampled rows, so a
// glance shows whether the data looks reasonable.
package summary

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/avelline/marketmill/internal/artifact"
)

var titleStyle = lipgloss.NewStyle().Bold(true)

// Querier is the slice of the query engine the summary reads with.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (cols []string, rows [][]string, err error)
	Count(ctx context.Context, query string, args ...any) (int64, error)
}

// Session is a closeable Querier. One session serves a whole summary run.
type Session interface {
	Querier
	Close() error
}

// Runner writes the artifact overview to Out. It implements the executor's
// Reporter seam, so a build can finish with a summary.
type Runner struct {
	Store *artifact.Store
	Open  func(ctx context.Context) (Session, error)
	Out   io.Writer
	// Tables restricts the run; empty means all tables.
	Tables []string
}

var tableOrder = []string{
	"tickers",
	"prices",
	"daily_aggs",
	"hundred_day_aggs",
	"market_cap",
	"insider_trades",
}

// AllTables returns the summarizable table names in build order.
func AllTables() []string {
	return append([]string(nil), tableOrder...)
}

// Summarize renders the overview for the configured tables.
func (r *Runner) Summarize(ctx context.Context) error {
	tables := r.Tables
	if len(tables) == 0 {
		tables = tableOrder
	}
	for _, table := range tables {
		if !knownTable(table) {
			return fmt.Errorf("unknown table %q, choices: %s", table, strings.Join(tableOrder, ", "))
		}
	}

	session, err := r.Open(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Fprintf(r.Out, "Database directory: %s\n", r.Store.Root())
	fmt.Fprintf(r.Out, "Total DB size: %s\n", fileSize(r.Store.Root()))

	for _, table := range tables {
		if err := r.renderTable(ctx, session, table); err != nil {
			return fmt.Errorf("summarizing %s: %w", table, err)
		}
	}
	fmt.Fprintln(r.Out)
	return nil
}

func knownTable(name string) bool {
	for _, table := range tableOrder {
		if table == name {
			return true
		}
	}
	return false
}

func (r *Runner) renderTable(ctx context.Context, s Session, name string) error {
	switch name {
	case "tickers":
		return r.renderTickers(ctx, s)
	case "prices":
		return r.renderPrices(ctx, s)
	case "daily_aggs":
		return r.renderDailyAggs(ctx, s)
	case "hundred_day_aggs":
		return r.renderHundredDayAggs(ctx, s)
	case "market_cap":
		return r.renderMarketCap(ctx, s)
	case "insider_trades":
		return r.renderInsiderTrades(ctx, s)
	default:
		return fmt.Errorf("unknown table %q", name)
	}
}

func (r *Runner) section(title string) {
	bar := strings.Repeat("=", 60)
	fmt.Fprintf(r.Out, "\n%s\n  %s\n%s\n", bar, titleStyle.Render(title), bar)
}

// schema prints the column list of a parquet expression via DESCRIBE.
func (r *Runner) schema(ctx context.Context, s Session, expr string) error {
	_, rows, err := s.Query(ctx, "DESCRIBE SELECT * FROM "+expr)
	if err != nil {
		return err
	}
	parts := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) >= 2 {
			parts = append(parts, fmt.Sprintf("%s (%s)", row[0], row[1]))
		}
	}
	fmt.Fprintf(r.Out, "  Schema: %s\n", strings.Join(parts, ", "))
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// sqlQuote renders s as a single-quoted SQL string literal.
func sqlQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// commas inserts thousands separators into a plain integer string. Anything
// else comes back unchanged.
func commas(s string) string {
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(s, "-")
	for _, c := range digits {
		if c < '0' || c > '9' {
			return s
		}
	}
	if len(digits) <= 3 {
		return s
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > btoi(neg) {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

func commasInt(n int64) string {
	return commas(strconv.FormatInt(n, 10))
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// fileSize reports the size of a file or directory tree, humanized.
func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "N/A"
	}

	var total float64
	if info.IsDir() {
		filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if fi, err := d.Info(); err == nil {
				total += float64(fi.Size())
			}
			return nil
		})
	} else {
		total = float64(info.Size())
	}

	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if total < 1024 {
			if unit == "B" {
				return fmt.Sprintf("%.0f%s", total, unit)
			}
			return fmt.Sprintf("%.1f%s", total, unit)
		}
		total /= 1024
	}
	return fmt.Sprintf("%.1fTB", total)
}
